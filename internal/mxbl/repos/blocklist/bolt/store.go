package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

var (
	bucketRules    = []byte("rules")
	bucketSettings = []byte("settings")
)

// ruleRecord is the persisted form of a rule, keyed by its big-endian id.
type ruleRecord struct {
	Pattern string     `json:"pattern"`
	Kind    uint8      `json:"pattern_type"`
	Reason  string     `json:"reason"`
	Active  bool       `json:"active"`
	Added   time.Time  `json:"added"`
	AddedBy string     `json:"added_by"`
	Hits    int64      `json:"hits"`
	LastHit *time.Time `json:"last_hit,omitempty"`
}

// boltStore implements blocklist.Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (blocklist.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	s := &boltStore{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *boltStore) Migrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRules); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSettings); err != nil {
			return err
		}
		return nil
	})
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) ListRules(ctx context.Context, includeInactive bool) ([]domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rules []domain.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRules).ForEach(func(k, v []byte) error {
			r, err := decodeRule(k, v)
			if err != nil {
				return err
			}
			if r.Active || includeInactive {
				rules = append(rules, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	domain.SortRules(rules)
	return rules, nil
}

func (s *boltStore) ListPage(ctx context.Context, limit, offset int) ([]domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	var rules []domain.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRules).Cursor()
		skipped := 0
		for k, v := c.First(); k != nil && len(rules) < limit; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			r, err := decodeRule(k, v)
			if err != nil {
				return err
			}
			rules = append(rules, r)
		}
		return nil
	})
	return rules, err
}

func (s *boltStore) GetRule(ctx context.Context, id int64) (domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rule{}, err
	}
	var r domain.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRules).Get(idKey(id))
		if v == nil {
			return blocklist.ErrRuleNotFound
		}
		var err error
		r, err = decodeRule(idKey(id), v)
		return err
	})
	return r, err
}

func (s *boltStore) AddRule(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rule{}, err
	}
	if r.Pattern == nil {
		return domain.Rule{}, errors.New("rule pattern must be set")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		r.ID = int64(seq)
		v, err := encodeRule(r)
		if err != nil {
			return err
		}
		return b.Put(idKey(r.ID), v)
	})
	if err != nil {
		return domain.Rule{}, err
	}
	return r, nil
}

func (s *boltStore) DeleteRule(ctx context.Context, id int64) (domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rule{}, err
	}
	var r domain.Rule
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		v := b.Get(idKey(id))
		if v == nil {
			return blocklist.ErrRuleNotFound
		}
		var err error
		if r, err = decodeRule(idKey(id), v); err != nil {
			return err
		}
		return b.Delete(idKey(id))
	})
	return r, err
}

func (s *boltStore) EditPattern(ctx context.Context, id int64, p domain.Pattern) (domain.Rule, error) {
	if p == nil {
		return domain.Rule{}, errors.New("rule pattern must be set")
	}
	return s.update(ctx, id, func(r *domain.Rule) { r.Pattern = p })
}

func (s *boltStore) EditReason(ctx context.Context, id int64, reason string) (domain.Rule, error) {
	return s.update(ctx, id, func(r *domain.Rule) { r.Reason = reason })
}

func (s *boltStore) ToggleRule(ctx context.Context, id int64) (domain.Rule, error) {
	return s.update(ctx, id, func(r *domain.Rule) { r.Active = !r.Active })
}

func (s *boltStore) IncrementHit(ctx context.Context, id int64, at time.Time) (int64, error) {
	r, err := s.update(ctx, id, func(r *domain.Rule) {
		r.Hits++
		stamp := at.UTC()
		r.LastHit = &stamp
	})
	if err != nil {
		return 0, err
	}
	return r.Hits, nil
}

// update applies mutate to rule id inside one read-write transaction.
func (s *boltStore) update(ctx context.Context, id int64, mutate func(*domain.Rule)) (domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rule{}, err
	}
	var r domain.Rule
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		v := b.Get(idKey(id))
		if v == nil {
			return blocklist.ErrRuleNotFound
		}
		var err error
		if r, err = decodeRule(idKey(id), v); err != nil {
			return err
		}
		mutate(&r)
		out, err := encodeRule(r)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), out)
	})
	return r, err
}

func (s *boltStore) Settings(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[string]string{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

func (s *boltStore) SetSetting(ctx context.Context, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(name), []byte(value))
	})
}

func idKey(id int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func encodeRule(r domain.Rule) ([]byte, error) {
	rec := ruleRecord{
		Pattern: r.Pattern.Raw(),
		Kind:    uint8(r.Pattern.Kind()),
		Reason:  r.Reason,
		Active:  r.Active,
		Added:   r.AddedAt.UTC(),
		AddedBy: r.AddedBy,
		Hits:    r.Hits,
		LastHit: r.LastHit,
	}
	return json.Marshal(rec)
}

func decodeRule(k, v []byte) (domain.Rule, error) {
	if len(k) != 8 {
		return domain.Rule{}, fmt.Errorf("malformed rule key %x", k)
	}
	id := int64(binary.BigEndian.Uint64(k))
	var rec ruleRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule %d: %w", id, err)
	}
	p, err := domain.NewPattern(rec.Pattern, domain.PatternKind(rec.Kind))
	if err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule %d: %w", id, err)
	}
	return domain.Rule{
		ID:      id,
		Pattern: p,
		Reason:  rec.Reason,
		Active:  rec.Active,
		AddedAt: rec.Added,
		AddedBy: rec.AddedBy,
		Hits:    rec.Hits,
		LastHit: rec.LastHit,
	}, nil
}

var _ blocklist.Store = (*boltStore)(nil)
