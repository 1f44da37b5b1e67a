package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/mxbl/internal/mxbl/common/utils"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/services/checker"
)

// ErrEnforcement wraps failures reported by the Enforcer.
var ErrEnforcement = errors.New("enforcement failed")

// Action is what an event handler did about an account.
type Action string

const (
	ActionNone   Action = "none"
	ActionWarn   Action = "warn"
	ActionDrop   Action = "drop"
	ActionFreeze Action = "freeze"
)

// EventResult reports the outcome of one handler for one event.
type EventResult struct {
	Kind    domain.EventKind
	Account string
	Domain  string
	Verdict domain.Verdict
	Action  Action
}

// EventHandler reacts to an account event.
type EventHandler func(ctx context.Context, ev domain.RegistrationEvent) (EventResult, error)

// buildHandlers returns the static event table.
func (s *Service) buildHandlers() map[domain.EventKind][]EventHandler {
	return map[domain.EventKind][]EventHandler{
		domain.EventRegister:    {s.enforceHandler(ActionDrop)},
		domain.EventEmailChange: {s.enforceHandler(ActionFreeze)},
	}
}

// HandleEvent validates ev and runs every handler registered for its kind.
func (s *Service) HandleEvent(ctx context.Context, ev domain.RegistrationEvent) ([]EventResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, invalid("%v", err)
	}
	handlers := s.handlers[ev.Kind]
	results := make([]EventResult, 0, len(handlers))
	for _, h := range handlers {
		res, err := h(ctx, ev)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// enforceHandler checks the event's email domain. An ACTIVE match while not
// paused bans the domain and applies action to the account; any other match
// is only logged.
func (s *Service) enforceHandler(action Action) EventHandler {
	return func(ctx context.Context, ev domain.RegistrationEvent) (EventResult, error) {
		name := utils.CanonicalDNSName(ev.Domain())
		res := EventResult{Kind: ev.Kind, Account: ev.Account, Domain: name, Action: ActionNone}

		v, err := s.checker.Check(ctx, name)
		switch {
		case errors.Is(err, checker.ErrHitRecord):
			// the verdict still stands
		case err != nil:
			return res, err
		}
		res.Verdict = v
		if !v.Matched {
			return res, nil
		}

		fields := map[string]any{
			"event":   ev.Kind.String(),
			"account": ev.Account,
			"mask":    "*@" + name,
			"reason":  v.Rule.FullReason(),
		}
		if !v.Rule.Active || s.Settings().Paused() {
			res.Action = ActionWarn
			s.logger.Warn(fields, "WARN")
			return res, nil
		}

		if err := s.enforcer.BadmailAdd(ctx, "*@"+name, v.Rule.FullReason()); err != nil {
			return res, fmt.Errorf("%w: badmail add: %w", ErrEnforcement, err)
		}
		switch action {
		case ActionDrop:
			err = s.enforcer.Drop(ctx, ev.Account)
		case ActionFreeze:
			err = s.enforcer.Freeze(ctx, ev.Account, fmt.Sprintf("changed email to *@%s (%s)", name, v.Rule.FullReason()))
		}
		if err != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrEnforcement, action, err)
		}
		res.Action = action
		s.logger.Warn(fields, "BAD")
		return res, nil
	}
}
