package domain

import (
	"fmt"
	"strings"

	"github.com/haukened/mxbl/internal/mxbl/common/utils"
)

// EventKind identifies an account event that carries an email address.
type EventKind uint8

const (
	// EventRegister is a new account registration.
	EventRegister EventKind = iota
	// EventEmailChange is a verified email address change on an existing account.
	EventEmailChange
)

func (k EventKind) String() string {
	switch k {
	case EventRegister:
		return "register"
	case EventEmailChange:
		return "email_change"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// ParseEventKind accepts "register" and "email_change" (any case).
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "register":
		return EventRegister, nil
	case "email_change", "emailchange":
		return EventEmailChange, nil
	default:
		return 0, fmt.Errorf("unsupported event kind: %q", s)
	}
}

// RegistrationEvent reports that Account registered with, or changed to, Email.
type RegistrationEvent struct {
	Kind    EventKind
	Account string
	Email   string
}

// Domain returns the domain part of the event's email address.
func (e RegistrationEvent) Domain() string {
	return utils.DomainFromEmail(e.Email)
}

// Validate checks that the event carries an account and a usable address.
func (e RegistrationEvent) Validate() error {
	if strings.TrimSpace(e.Account) == "" {
		return fmt.Errorf("event account must not be empty")
	}
	if e.Domain() == "" {
		return fmt.Errorf("event email %q has no domain", e.Email)
	}
	switch e.Kind {
	case EventRegister, EventEmailChange:
	default:
		return fmt.Errorf("unsupported event kind: %d", e.Kind)
	}
	return nil
}
