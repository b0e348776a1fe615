package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/graphsync/internal/audit"
	"github.com/roach88/graphsync/internal/guard"
	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/plan"
	"github.com/roach88/graphsync/internal/syncer"
)

// DryRunPassID is the pass ID stamped on entries built by Plan.
const DryRunPassID = "dry-run"

// Request is one reconciliation pass.
type Request struct {
	Schema *ir.GraphSchema

	// Scope names the slice of the graph being reconciled, usually the root
	// record's natural key. Passes with equal Schema.Name and Scope are
	// serialized.
	Scope string

	// Existing is the persisted graph as loaded by the caller. Every record
	// must carry a positive identity.
	Existing Snapshot

	// Desired is the target graph. A collection missing from Desired is left
	// untouched; a present but empty collection deletes every existing record
	// (unless the collection forbids deletions).
	Desired Snapshot

	Context string
	Actor   string

	// WithTransaction makes every write of the pass, plus its change log
	// batch, commit atomically.
	WithTransaction bool

	// Policy controls change log payloads. The zero value means
	// audit.DefaultPolicy().
	Policy audit.Policy
}

// Outcome is what a pass did.
type Outcome struct {
	PassID string

	// State is the desired graph with every identity and reference resolved.
	State Snapshot

	// Mappings lists every created record's original and assigned identity,
	// in creation order across levels.
	Mappings []ir.Mapping

	// Changes lists every applied write, level by level.
	Changes []ir.ChangeRecord

	// Entries is the change log batch as written, with Seq filled in by the
	// sink. Plan leaves Seq zero.
	Entries []ir.AuditEntry

	// Planned holds each synchronized collection's plan partition sizes.
	Planned map[string]plan.Counts
}

// RealID returns the identity assigned to the record created from
// placeholder in objectType.
func (o *Outcome) RealID(objectType string, placeholder int64) (int64, bool) {
	for _, m := range o.Mappings {
		if m.ObjectType == objectType && m.PlaceholderID == placeholder {
			return m.RealID, true
		}
	}
	return 0, false
}

// Reconciler runs reconciliation passes against a Backend.
//
// Thread-safety: Reconciler is safe for concurrent use. Concurrent passes
// over the same schema and scope wait for each other.
type Reconciler struct {
	backend Backend
	guard   *guard.Keyed
	passIDs PassIDGenerator
	now     func() time.Time
	logger  *slog.Logger
	strict  bool

	lockTimeout time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithGuard shares a lock table between Reconcilers.
func WithGuard(g *guard.Keyed) Option {
	return func(r *Reconciler) {
		r.guard = g
	}
}

// WithPassIDs sets the pass ID generator.
func WithPassIDs(gen PassIDGenerator) Option {
	return func(r *Reconciler) {
		r.passIDs = gen
	}
}

// WithClock sets the change log clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithLogger sets the logger. Collection-level detail goes to Debug.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// WithLockTimeout bounds how long Apply waits for a concurrent pass on the
// same scope. Zero waits as long as ctx allows. The pass itself is not
// bounded.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.lockTimeout = d
	}
}

// WithStrictReferences fails a pass when a reference field still holds a
// placeholder identity after rewriting.
func WithStrictReferences(strict bool) Option {
	return func(r *Reconciler) {
		r.strict = strict
	}
}

// New returns a Reconciler writing through backend.
func New(backend Backend, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		guard:   guard.New(),
		passIDs: UUIDv7Generator{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply runs one pass.
//
// Requests are validated before the guard is taken, so a malformed request
// never waits for a lock or touches the backend. In transactional mode a
// failed pass returns a nil Outcome: nothing was committed. In best-effort
// mode the Outcome holds what was applied before the failure, and those
// changes are in the change log.
func (r *Reconciler) Apply(ctx context.Context, req Request) (*Outcome, error) {
	passID := r.passIDs.Generate()
	req, err := r.prepare(passID, req)
	if err != nil {
		return nil, err
	}

	key := req.Schema.Name + "/" + req.Scope
	release, err := r.lock(ctx, key)
	if err != nil {
		return nil, &PassError{Code: CodeLockFailed, PassID: passID, Err: fmt.Errorf("lock %s: %w", key, err)}
	}
	defer release()

	log := r.logger.With("pass_id", passID, "graph", req.Schema.Name, "scope", req.Scope)
	log.Debug("pass started", "transaction", req.WithTransaction, "actor", req.Actor, "context", req.Context)

	registry := audit.NewRegistry(audit.WithClock(r.now), audit.WithLogger(r.logger))
	pass := audit.Pass{ID: passID, Actor: req.Actor, Context: req.Context, Policy: req.Policy}

	var out *Outcome
	if req.WithTransaction {
		err = r.backend.Atomic(ctx, func(sess Session) error {
			out = newOutcome(passID)
			if err := r.run(ctx, log, sess, req, out); err != nil {
				return err
			}
			return r.appendAudit(ctx, registry, sess, pass, out)
		})
		if err != nil {
			log.Warn("pass rolled back", "error", err)
			return nil, asPassError(passID, CodePersistence, err)
		}
	} else {
		sess := r.backend.Session(ctx)
		out = newOutcome(passID)
		runErr := r.run(ctx, log, sess, req, out)
		// Writes that reached the store must reach the change log even when
		// ctx ended the pass.
		auditErr := r.appendAudit(context.WithoutCancel(ctx), registry, sess, pass, out)
		switch {
		case runErr != nil && auditErr != nil:
			log.Error("partial pass not recorded", "error", auditErr, "changes", len(out.Changes))
			return out, runErr
		case runErr != nil:
			log.Warn("pass failed after partial writes", "error", runErr, "changes", len(out.Changes))
			return out, runErr
		case auditErr != nil:
			return out, auditErr
		}
	}

	log.Info("pass applied",
		"changes", len(out.Changes), "mappings", len(out.Mappings), "entries", len(out.Entries))
	return out, nil
}

func (r *Reconciler) lock(ctx context.Context, key string) (func(), error) {
	if release, ok := r.guard.TryLock(key); ok {
		return release, nil
	}
	if r.lockTimeout <= 0 {
		return r.guard.Lock(ctx, key)
	}
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()
	return r.guard.Lock(lockCtx, key)
}

// Plan computes what Apply would do without touching the backend.
//
// The pass runs against an in-memory copy of req.Existing, so created
// records receive synthetic identities past the largest existing one.
// No lock is taken.
func (r *Reconciler) Plan(ctx context.Context, req Request) (*Outcome, error) {
	req, err := r.prepare(DryRunPassID, req)
	if err != nil {
		return nil, err
	}
	db, err := seedMemory(req.Existing)
	if err != nil {
		return nil, &PassError{Code: CodeInvalidRequest, PassID: DryRunPassID, Err: err}
	}

	log := r.logger.With("pass_id", DryRunPassID, "graph", req.Schema.Name, "scope", req.Scope)
	out := newOutcome(DryRunPassID)
	if err := r.run(ctx, log, NewMemoryBackend(db).Session(ctx), req, out); err != nil {
		return nil, err
	}

	registry := audit.NewRegistry(audit.WithClock(r.now), audit.WithLogger(r.logger))
	entries, err := registry.Build(audit.Pass{
		ID: DryRunPassID, Actor: req.Actor, Context: req.Context, Policy: req.Policy,
	}, out.Changes)
	if err != nil {
		return nil, &PassError{Code: CodeAudit, PassID: DryRunPassID, Err: err}
	}
	out.Entries = entries
	return out, nil
}

func newOutcome(passID string) *Outcome {
	return &Outcome{
		PassID:  passID,
		State:   make(Snapshot),
		Planned: make(map[string]plan.Counts),
	}
}

// run synchronizes every collection parents-first, rewriting references to
// records created at shallower levels.
func (r *Reconciler) run(ctx context.Context, log *slog.Logger, sess Session, req Request, out *Outcome) error {
	ids := make(idMap)
	for _, name := range req.Schema.Order {
		c, _ := req.Schema.Collection(name)
		desired, ok := req.Desired[name]
		if !ok {
			continue
		}

		desired, n := rewriteRefs(c, desired, ids)
		if n > 0 {
			log.Debug("references rewritten", "object_type", name, "fields", n)
		}
		if bad := findUnresolved(c, desired); len(bad) > 0 {
			if r.strict {
				return &PassError{
					Code:       CodeUnresolvedReference,
					PassID:     out.PassID,
					Collection: name,
					Err:        fmt.Errorf("%w: %s", ErrUnresolvedReference, bad[0]),
				}
			}
			for _, u := range bad {
				log.Warn("placeholder reference persisted", "object_type", name, "ref", u.String())
			}
		}

		res, err := syncer.New(sess.Ops(name), syncer.WithLogger(r.logger)).
			Sync(ctx, syncer.FromSchema(c), req.Existing[name], desired)
		if res != nil {
			out.Changes = append(out.Changes, res.Changes...)
			out.Mappings = append(out.Mappings, res.Mappings...)
			out.Planned[name] = res.Planned
		}
		if err != nil {
			return &PassError{Code: CodePersistence, PassID: out.PassID, Collection: name, Err: err}
		}
		out.State[name] = res.State
		ids.resolve(name, desired, res.State)
	}
	return nil
}

func (r *Reconciler) appendAudit(ctx context.Context, registry *audit.Registry, sess Session, pass audit.Pass, out *Outcome) error {
	entries, err := registry.Append(ctx, sess, pass, out.Changes)
	if err != nil {
		return &PassError{Code: CodeAudit, PassID: pass.ID, Err: err}
	}
	out.Entries = entries
	return nil
}

// prepare validates req and fills in defaults. It never touches the backend.
func (r *Reconciler) prepare(passID string, req Request) (Request, error) {
	invalid := func(collection string, err error) error {
		return &PassError{Code: CodeInvalidRequest, PassID: passID, Collection: collection, Err: err}
	}

	if req.Policy == (audit.Policy{}) {
		req.Policy = audit.DefaultPolicy()
	}
	if err := (audit.Pass{ID: passID, Actor: req.Actor, Context: req.Context, Policy: req.Policy}).Validate(); err != nil {
		return req, invalid("", err)
	}

	g := req.Schema
	if g == nil {
		return req, invalid("", errors.New("schema is required"))
	}
	if len(g.Order) != len(g.Collections) {
		return req, invalid("", fmt.Errorf("schema %s: order lists %d of %d collections", g.Name, len(g.Order), len(g.Collections)))
	}
	for _, name := range g.Order {
		if _, ok := g.Collection(name); !ok {
			return req, invalid(name, fmt.Errorf("schema %s: ordered collection is not declared", g.Name))
		}
	}

	for name, recs := range req.Existing {
		if _, ok := g.Collection(name); !ok {
			return req, invalid(name, errors.New("existing graph names an unknown collection"))
		}
		for i, rec := range recs {
			if rec.IsPlaceholder() {
				return req, invalid(name, fmt.Errorf("existing record %d has no persisted identity", i))
			}
		}
	}

	targets := make(map[string]bool)
	for _, c := range g.Collections {
		for _, target := range c.Refs {
			targets[target] = true
		}
	}
	for name, recs := range req.Desired {
		c, ok := g.Collection(name)
		if !ok {
			return req, invalid(name, errors.New("desired graph names an unknown collection"))
		}
		if c.Singleton && len(recs) > 1 {
			return req, &PassError{
				Code:       CodeSingletonViolation,
				PassID:     passID,
				Collection: name,
				Err:        fmt.Errorf("%w: %d desired records", ErrSingletonViolation, len(recs)),
			}
		}
		if targets[name] {
			if err := checkPlaceholders(recs); err != nil {
				return req, invalid(name, err)
			}
		}
	}
	return req, nil
}

// checkPlaceholders rejects referenced records sharing a placeholder, since
// a child reference to it could not say which record it means.
func checkPlaceholders(recs []ir.Record) error {
	seen := make(map[int64]bool)
	for _, rec := range recs {
		id, ok := rec.IntField(ir.IDField)
		if !ok || id > 0 {
			continue
		}
		if seen[id] {
			return fmt.Errorf("%w: id %d", ErrAmbiguousPlaceholder, id)
		}
		seen[id] = true
	}
	return nil
}

func asPassError(passID string, code ErrorCode, err error) error {
	var pe *PassError
	if errors.As(err, &pe) {
		return err
	}
	return &PassError{Code: code, PassID: passID, Err: err}
}
