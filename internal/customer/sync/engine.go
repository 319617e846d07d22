package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mschirtzinger/custcache/internal/customer/db"
	"github.com/mschirtzinger/custcache/internal/customer/remote"
	"github.com/mschirtzinger/custcache/internal/customer/schema"
)

// Store is the subset of *db.DB the Engine writes through.
type Store interface {
	GetAll(ctx context.Context) ([]schema.Customer, error)
	GetByID(ctx context.Context, id string) (*schema.Customer, error)
	Insert(ctx context.Context, c *schema.Customer) error
	Update(ctx context.Context, c *schema.Customer) error
	Delete(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, customers []schema.Customer) (db.ReplaceResult, error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, filter db.Filter) ([]schema.Customer, error)
	Stats(ctx context.Context) (db.Stats, error)
}

var _ Store = (*db.DB)(nil)

// Result summarizes one resync.
type Result struct {
	// Fetched is the number of records the remote returned.
	Fetched int `json:"fetched"`
	// Stored is the number of customers in the cache after the replace.
	Stored int `json:"stored"`
	// Skipped lists remote records dropped as duplicates or for lacking an id.
	Skipped []schema.Customer `json:"skipped,omitempty"`
	// RolesCoerced counts non-empty remote roles that were not recognized
	// and were stored as Admin.
	RolesCoerced int `json:"roles_coerced"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Shared is true when this call joined a resync started by another caller.
	Shared bool `json:"shared,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. If nil, a default logger writing to stderr is used.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver adds an observer. Observers are called in registration order.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithClock overrides the time source used for event and result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine coordinates local mutations and remote resyncs over one store.
// It is safe for concurrent use.
type Engine struct {
	store     Store
	fetcher   remote.Fetcher
	logger    *log.Logger
	observers []Observer
	now       func() time.Time

	// mu serializes every store mutation with the read that validates it.
	mu    stdsync.Mutex
	group singleflight.Group

	// bootMu is held for the whole bootstrap so later callers see its result.
	bootMu stdsync.Mutex
	booted bool

	lastMu   stdsync.RWMutex
	lastSync *Result
}

// New creates an Engine writing to store and resyncing from fetcher.
//
// The store must be open with its schema initialized. The engine never closes it.
func New(store Store, fetcher remote.Fetcher, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		fetcher: fetcher,
		logger:  log.New(os.Stderr, "[sync] ", log.LstdFlags),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadLocal returns every cached customer ordered by name.
func (e *Engine) LoadLocal(ctx context.Context) ([]schema.Customer, error) {
	customers, err := e.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load local customers: %w", err)
	}
	return customers, nil
}

// FilterOption narrows a Filter query.
type FilterOption func(*db.Filter)

// UpdatedSince keeps customers updated at or after t.
func UpdatedSince(t time.Time) FilterOption {
	return func(f *db.Filter) { f.UpdatedSince = t }
}

// Limit caps the number of customers returned. 0 means no limit.
func Limit(n int) FilterOption {
	return func(f *db.Filter) { f.Limit = n }
}

// Filter returns cached customers whose normalized name contains query and
// whose role matches role, ordered by name. role is "All", "Admin" or
// "Manager" (case-insensitive); "" means All.
func (e *Engine) Filter(ctx context.Context, query, role string, opts ...FilterOption) ([]schema.Customer, error) {
	r, ok := schema.ParseRoleFilter(role)
	if !ok {
		return nil, fmt.Errorf("unknown role filter %q (want %s, %s or %s)",
			role, schema.RoleAll, schema.RoleAdmin, schema.RoleManager)
	}

	filter := db.Filter{Search: query, Role: r}
	for _, opt := range opts {
		opt(&filter)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", filter.Limit)
	}

	customers, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to filter customers: %w", err)
	}
	return customers, nil
}

// Stats returns cache counts by role.
func (e *Engine) Stats(ctx context.Context) (db.Stats, error) {
	return e.store.Stats(ctx)
}

// LastSync returns the result of the most recent successful resync made by
// this engine, if any.
func (e *Engine) LastSync() (Result, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()

	if e.lastSync == nil {
		return Result{}, false
	}
	return *e.lastSync, true
}

// CreateOrUpdate validates c against the current record set and writes it.
//
// With isEdit false, c is inserted; an empty ID is replaced by a new UUID.
// With isEdit true, the record with c.ID is replaced and that record is
// excluded from the name uniqueness check. c is validated as submitted,
// then name and email are trimmed for storage and an unrecognized role
// becomes Admin.
//
// On a validation failure the returned error is a *schema.ValidationError
// and nothing is written.
func (e *Engine) CreateOrUpdate(ctx context.Context, c schema.Customer, isEdit bool) (schema.Customer, error) {
	excludeID := ""
	if isEdit {
		if c.ID == "" {
			return schema.Customer{}, &db.NotFoundError{ID: c.ID}
		}
		excludeID = c.ID
	} else if c.ID == "" {
		c.ID = schema.NewID()
	}

	e.mu.Lock()
	existing, err := e.store.GetAll(ctx)
	if err != nil {
		e.mu.Unlock()
		return schema.Customer{}, fmt.Errorf("failed to load customers for validation: %w", err)
	}

	if fe := schema.Validate(c, existing, excludeID); !fe.OK() {
		e.mu.Unlock()
		return schema.Customer{}, fe.Err()
	}
	c = c.Normalized()

	if isEdit {
		err = e.store.Update(ctx, &c)
	} else {
		err = e.store.Insert(ctx, &c)
	}
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, db.ErrDuplicateName) {
			return schema.Customer{}, schema.NewDuplicateNameError()
		}
		return schema.Customer{}, err
	}

	typ := EventCreated
	if isEdit {
		typ = EventUpdated
	}
	e.logger.Printf("%s customer: %s", typ, c)
	e.emit(Event{Type: typ, Customer: &c})

	return c, nil
}

// Remove deletes the customer with id. Removing an absent id is not an error.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	current, err := e.store.GetByID(ctx, id)
	if err == nil {
		err = e.store.Delete(ctx, id)
	}
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to remove customer %s: %w", id, err)
	}

	if current != nil {
		e.logger.Printf("deleted customer: %s", current)
		e.emit(Event{Type: EventDeleted, ID: id})
	}
	return nil
}

// SyncFromRemote replaces the local set with the remote set.
//
// Remote roles are normalized and duplicates (by normalized name, then by
// id) are dropped first occurrence wins. If the fetch fails the store is
// left exactly as it was and the remote error is returned.
//
// Concurrent calls share one resync. If ctx is cancelled the call returns
// ctx.Err() but the resync runs to completion.
func (e *Engine) SyncFromRemote(ctx context.Context) (Result, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan("sync", func() (any, error) {
		return e.runSync(detached)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(Result)
		res.Shared = r.Shared
		return res, r.Err
	}
}

func (e *Engine) runSync(ctx context.Context) (Result, error) {
	result := Result{StartedAt: e.now()}
	e.logger.Printf("Starting resync")

	raw, err := e.fetcher.FetchAll(ctx)
	if err != nil {
		e.logger.Printf("WARNING: resync failed, keeping local data: %v", err)
		return Result{}, fmt.Errorf("failed to fetch remote customers: %w", err)
	}
	result.Fetched = len(raw)

	var coerced []Event
	customers := make([]schema.Customer, 0, len(raw))
	for _, r := range raw {
		c, wasCoerced := r.ToCustomer()
		if wasCoerced {
			result.RolesCoerced++
			cc := c
			coerced = append(coerced, Event{Type: EventRoleCoerced, Customer: &cc, RawRole: *r.Role})
		}
		customers = append(customers, c)
	}

	kept, dropped := Dedupe(customers)

	e.mu.Lock()
	rr, err := e.store.ReplaceAll(ctx, kept)
	e.mu.Unlock()
	if err != nil {
		e.logger.Printf("WARNING: resync failed, keeping local data: %v", err)
		return Result{}, fmt.Errorf("failed to replace local customers: %w", err)
	}

	result.Stored = rr.Inserted
	result.Skipped = append(dropped, rr.Skipped...)
	result.Duration = e.now().Sub(result.StartedAt)

	for _, c := range result.Skipped {
		e.logger.Printf("WARNING: skipped remote customer %s: %s", c, skipReason(c))
	}
	for _, ev := range coerced {
		e.logger.Printf("WARNING: unrecognized role %q for %s, stored as %s", ev.RawRole, ev.Customer.ID, ev.Customer.Role)
	}
	e.logger.Printf("Resync complete: fetched=%d stored=%d skipped=%d coerced=%d",
		result.Fetched, result.Stored, len(result.Skipped), result.RolesCoerced)

	e.lastMu.Lock()
	last := result
	e.lastSync = &last
	e.lastMu.Unlock()

	for _, ev := range coerced {
		e.emit(ev)
	}
	e.emit(Event{Type: EventSynced, Result: &last})

	return result, nil
}

// Activate returns the local set, bootstrapping it first if needed.
// It is Bootstrap followed by LoadLocal.
func (e *Engine) Activate(ctx context.Context) ([]schema.Customer, error) {
	if err := e.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return e.LoadLocal(ctx)
}

// Bootstrap fills an empty cache from the remote, once per engine.
//
// The first successful call counts the local set and, if it is empty,
// attempts one resync. A failed resync is logged, not returned. Concurrent
// callers wait for the first one to finish. If counting fails the error is
// returned and the next call tries again.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.bootMu.Lock()
	defer e.bootMu.Unlock()

	if e.booted {
		return nil
	}

	n, err := e.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count local customers: %w", err)
	}
	e.booted = true

	if n == 0 {
		e.logger.Printf("Local cache is empty, bootstrapping from remote")
		if _, err := e.SyncFromRemote(ctx); err != nil {
			e.logger.Printf("WARNING: bootstrap failed, using local data: %v", err)
		}
	}
	return nil
}

// Dedupe keeps the first customer for each normalized name and each id, in
// input order, and returns the rest as dropped. Customers without an id are
// dropped.
func Dedupe(customers []schema.Customer) (kept, dropped []schema.Customer) {
	names := make(map[string]bool, len(customers))
	ids := make(map[string]bool, len(customers))
	kept = make([]schema.Customer, 0, len(customers))

	for _, c := range customers {
		key := c.NameKey()
		if c.ID == "" || names[key] || ids[c.ID] {
			dropped = append(dropped, c)
			continue
		}
		names[key] = true
		ids[c.ID] = true
		kept = append(kept, c)
	}
	return kept, dropped
}

func skipReason(c schema.Customer) string {
	if c.ID == "" {
		return "missing id"
	}
	return "duplicate name or id"
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	for _, o := range e.observers {
		o(ev)
	}
}
