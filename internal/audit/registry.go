package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/graphsync/internal/ir"
)

// Sink persists a batch of change log entries atomically.
type Sink interface {
	AppendChanges(ctx context.Context, entries []ir.AuditEntry) error
}

// Pass identifies the logical write a batch belongs to.
type Pass struct {
	ID      string
	Actor   string
	Context string
	Policy  Policy
}

// Validate checks the pass metadata every entry will carry.
func (p Pass) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("pass id is required")
	}
	if strings.TrimSpace(p.Actor) == "" {
		return errors.New("actor is required")
	}
	if strings.TrimSpace(p.Context) == "" {
		return errors.New("context is required")
	}
	return p.Policy.Validate()
}

// Registry builds and appends change log entries.
type Registry struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry returns a Registry using the wall clock.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Build converts changes into entries, in order, all sharing one timestamp.
// Sequence numbers and hashes are left for the Sink to assign.
func (r *Registry) Build(pass Pass, changes []ir.ChangeRecord) ([]ir.AuditEntry, error) {
	if err := pass.Validate(); err != nil {
		return nil, fmt.Errorf("build audit entries: %w", err)
	}

	at := r.now().UTC()
	actor := pass.Actor
	if pass.Policy.Mode == PayloadSuppress {
		// suppressed entries keep only action, object, key, and context
		actor = ""
	}
	entries := make([]ir.AuditEntry, 0, len(changes))
	for i, c := range changes {
		if !c.Action.Valid() {
			return nil, fmt.Errorf("build audit entries: change %d: invalid action %q", i, c.Action)
		}
		if c.ObjectType == "" || c.PrimaryKey <= 0 {
			return nil, fmt.Errorf("build audit entries: change %d: needs object type and a real primary key", i)
		}
		old, next, redacted, err := pass.Policy.apply(c)
		if err != nil {
			return nil, fmt.Errorf("build audit entries: change %d: %w", i, err)
		}
		entries = append(entries, ir.AuditEntry{
			PassID:     pass.ID,
			Action:     c.Action,
			ObjectType: c.ObjectType,
			PrimaryKey: c.PrimaryKey,
			OldValues:  old,
			NewValues:  next,
			Context:    pass.Context,
			Actor:      actor,
			RecordedAt: at,
			Redacted:   redacted,
		})
	}
	return entries, nil
}

// Append builds the entries for changes and writes them to sink in one call.
// An empty change list writes nothing.
func (r *Registry) Append(ctx context.Context, sink Sink, pass Pass, changes []ir.ChangeRecord) ([]ir.AuditEntry, error) {
	entries, err := r.Build(pass, changes)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}
	if err := sink.AppendChanges(ctx, entries); err != nil {
		return nil, fmt.Errorf("append audit entries: %w", err)
	}

	r.logger.Debug("audit entries appended",
		"pass_id", pass.ID, "entries", len(entries), "context", pass.Context, "actor", pass.Actor)
	return entries, nil
}
