package admin

import (
	"context"

	"github.com/haukened/mxbl/internal/mxbl/domain"
)

// Checker is the part of checker.Checker the admin service drives.
type Checker interface {
	Check(ctx context.Context, name string) (domain.Verdict, error)
	CheckPattern(ctx context.Context, name string, p domain.Pattern) (domain.Verdict, error)
	Test(ctx context.Context, name string) (domain.Verdict, error)
	InvalidateIfAffected(ctx context.Context, patterns ...domain.Pattern) ([]string, error)
}

// Enforcer carries out actions against accounts whose email matched an
// active rule.
type Enforcer interface {
	// BadmailAdd bans an address mask such as "*@example.com".
	BadmailAdd(ctx context.Context, mask, reason string) error
	// Drop removes a freshly registered account.
	Drop(ctx context.Context, account string) error
	// Freeze suspends an existing account.
	Freeze(ctx context.Context, account, reason string) error
}
