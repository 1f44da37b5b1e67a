package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/services/checker"
)

var (
	// ErrNXDomain reports that the queried name does not exist. It is final:
	// other servers are not asked.
	ErrNXDomain = errors.New("name does not exist")
	// ErrServerFailure reports a non-success, non-NXDOMAIN response code.
	ErrServerFailure = errors.New("upstream server failure")
	// ErrNoServers is returned by NewResolver when no servers are configured.
	ErrNoServers = errors.New("no upstream DNS servers provided")
)

const (
	errServerFailed     = "server %s: %w"
	errAllServersFailed = "all %d upstream servers failed"
	errUnsupportedType  = "unsupported record type %s"
)

// ExchangeFunc sends m to server over network ("udp" or "tcp").
type ExchangeFunc func(ctx context.Context, m *dns.Msg, network, server string) (*dns.Msg, error)

// Resolver implements checker.Resolver by querying recursive DNS servers with miekg/dns.
type Resolver struct {
	servers  []string
	timeout  time.Duration
	parallel bool
	limiter  *rate.Limiter
	exchange ExchangeFunc
	logger   log.Logger
}

// Options configures a Resolver.
type Options struct {
	// Servers are ip:port addresses tried in order (or all at once when Parallel).
	Servers []string
	// Timeout bounds one Lookup when the context carries no deadline.
	Timeout  time.Duration
	Parallel bool
	// Rate caps queries per second across all lookups; zero means unlimited.
	Rate  float64
	Burst int
	// options to inject for testing purposes
	Exchange ExchangeFunc
	Logger   log.Logger
}

// NewResolver creates an upstream resolver. The timeout defaults to five seconds.
func NewResolver(opts Options) (*Resolver, error) {
	if len(opts.Servers) == 0 {
		return nil, ErrNoServers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Exchange == nil {
		opts.Exchange = exchange
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	var limiter *rate.Limiter
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(opts.Rate))
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return &Resolver{
		servers:  append([]string(nil), opts.Servers...),
		timeout:  opts.Timeout,
		parallel: opts.Parallel,
		limiter:  limiter,
		exchange: opts.Exchange,
		logger:   opts.Logger.Named("upstream"),
	}, nil
}

// exchange is the production ExchangeFunc.
func exchange(ctx context.Context, m *dns.Msg, network, server string) (*dns.Msg, error) {
	c := &dns.Client{Net: network}
	resp, _, err := c.ExchangeContext(ctx, m, server)
	return resp, err
}

// ensureContextDeadline adds the resolver's timeout when ctx has no deadline.
func (r *Resolver) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, r.timeout)
	}
	return ctx, nil
}

// Lookup queries the configured servers for name/rt.
func (r *Resolver) Lookup(ctx context.Context, name string, rt domain.RecordType) ([]domain.Record, error) {
	if !rt.IsLookup() {
		return nil, fmt.Errorf(errUnsupportedType, rt)
	}
	ctx, cancel := r.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), uint16(rt))

	var (
		resp *dns.Msg
		err  error
	)
	if r.parallel {
		resp, err = r.resolveParallel(ctx, m)
	} else {
		resp, err = r.resolveSerial(ctx, m)
	}
	if err != nil {
		r.logger.Debug(map[string]any{"name": name, "type": rt.String(), "error": err}, "lookup failed")
		return nil, err
	}
	return answers(resp, rt), nil
}

// resolveSerial asks each server in order until one gives a final answer.
func (r *Resolver) resolveSerial(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.servers {
		resp, err := r.queryServer(ctx, server, m)
		if err == nil || errors.Is(err, ErrNXDomain) {
			return resp, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = fmt.Errorf(errServerFailed, server, err)
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(r.servers), lastErr)
}

// resolveParallel asks every server at once and takes the first final answer.
func (r *Resolver) resolveParallel(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		resp *dns.Msg
		err  error
	}
	results := make(chan result, len(r.servers))
	for _, server := range r.servers {
		go func(srv string) {
			resp, err := r.queryServer(ctx, srv, m.Copy())
			if err != nil && !errors.Is(err, ErrNXDomain) {
				err = fmt.Errorf(errServerFailed, srv, err)
			}
			results <- result{resp: resp, err: err}
		}(server)
	}

	var errs []error
	for i := 0; i < len(r.servers); i++ {
		select {
		case res := <-results:
			if res.err == nil || errors.Is(res.err, ErrNXDomain) {
				return res.resp, res.err
			}
			errs = append(errs, res.err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(r.servers), errors.Join(errs...))
}

// queryServer performs one exchange, retrying over TCP when the UDP answer was truncated.
func (r *Resolver) queryServer(ctx context.Context, server string, m *dns.Msg) (*dns.Msg, error) {
	resp, err := r.exchange(ctx, m, "udp", server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		if resp, err = r.exchange(ctx, m, "tcp", server); err != nil {
			return nil, err
		}
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
		return resp, nil
	case dns.RcodeNameError:
		return nil, ErrNXDomain
	default:
		return nil, fmt.Errorf("%w: %s", ErrServerFailure, dns.RcodeToString[resp.Rcode])
	}
}

// answers extracts records of type rt from the answer section, in order.
// MX exchanges are returned without the root dot; the null MX "." becomes "".
func answers(resp *dns.Msg, rt domain.RecordType) []domain.Record {
	out := make([]domain.Record, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		var value string
		switch v := rr.(type) {
		case *dns.MX:
			if rt != domain.RecordMX {
				continue
			}
			value = strings.TrimSuffix(v.Mx, ".")
		case *dns.A:
			if rt != domain.RecordA {
				continue
			}
			value = v.A.String()
		case *dns.AAAA:
			if rt != domain.RecordAAAA {
				continue
			}
			value = v.AAAA.String()
		default:
			continue
		}
		out = append(out, domain.Record{Type: rt, Value: value, TTL: rr.Header().Ttl})
	}
	return out
}

var _ checker.Resolver = (*Resolver)(nil)
