// Package enforcer holds the Enforcer implementations available to the daemon.
package enforcer

import (
	"context"
	"strings"
	"sync"

	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/services/admin"
)

// Command is one enforcement action, rendered the way services expect it.
type Command struct {
	Verb string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Verb + " " + strings.Join(c.Args, " "))
}

// LogEnforcer records the actions it is asked to take and logs each one
// instead of sending it anywhere.
type LogEnforcer struct {
	logger log.Logger

	mu      sync.Mutex
	history []Command
}

// NewLogEnforcer returns an Enforcer that only logs.
func NewLogEnforcer(logger log.Logger) *LogEnforcer {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &LogEnforcer{logger: logger.Named("enforcer")}
}

func (e *LogEnforcer) BadmailAdd(ctx context.Context, mask, reason string) error {
	return e.emit(ctx, Command{Verb: "BADMAIL ADD", Args: []string{mask, reason}})
}

func (e *LogEnforcer) Drop(ctx context.Context, account string) error {
	return e.emit(ctx, Command{Verb: "FDROP", Args: []string{account}})
}

func (e *LogEnforcer) Freeze(ctx context.Context, account, reason string) error {
	return e.emit(ctx, Command{Verb: "FREEZE", Args: []string{account, "ON", reason}})
}

// History returns a copy of every command emitted so far.
func (e *LogEnforcer) History() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.history...)
}

func (e *LogEnforcer) emit(ctx context.Context, c Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.history = append(e.history, c)
	e.mu.Unlock()
	e.logger.Info(map[string]any{"command": c.String()}, "enforcement")
	return nil
}

var _ admin.Enforcer = (*LogEnforcer)(nil)
