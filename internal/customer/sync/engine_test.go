package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/db"
	"github.com/mschirtzinger/custcache/internal/customer/remote"
	"github.com/mschirtzinger/custcache/internal/customer/schema"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "customers.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return store
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func strPtr(s string) *string {
	return &s
}

// staticFetcher returns the same remote set on every call.
func staticFetcher(raw ...schema.RawCustomer) remote.Fetcher {
	return remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		out := make([]schema.RawCustomer, len(raw))
		copy(out, raw)
		return out, nil
	})
}

func failingFetcher() remote.Fetcher {
	return remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		return nil, &remote.RemoteError{Source: "test", StatusCode: 503, Err: errors.New("unavailable")}
	})
}

func newTestEngine(t *testing.T, fetcher remote.Fetcher, opts ...Option) (*Engine, *db.DB) {
	t.Helper()
	store := setupTestDB(t)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(store, fetcher, opts...), store
}

func mustCreate(t *testing.T, e *Engine, name string, role schema.Role) schema.Customer {
	t.Helper()
	c, err := e.CreateOrUpdate(context.Background(), schema.Customer{Name: name, Role: role}, false)
	if err != nil {
		t.Fatalf("CreateOrUpdate(%q) failed: %v", name, err)
	}
	return c
}

func fieldError(t *testing.T, err error, field string) string {
	t.Helper()
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *schema.ValidationError", err)
	}
	return verr.Fields[field]
}

func TestCreateOrUpdate_Create(t *testing.T) {
	e, store := newTestEngine(t, staticFetcher())

	c, err := e.CreateOrUpdate(context.Background(), schema.Customer{
		Name:  "  Jane Doe ",
		Email: "jane@example.com",
		Role:  "manager",
	}, false)
	if err != nil {
		t.Fatalf("CreateOrUpdate() failed: %v", err)
	}

	if c.ID == "" {
		t.Error("expected a generated id")
	}
	if c.Name != "Jane Doe" || c.Email != "jane@example.com" {
		t.Errorf("fields not trimmed: %+v", c)
	}
	if c.Role != schema.RoleManager {
		t.Errorf("Role = %q, want Manager", c.Role)
	}

	got, err := store.GetByID(context.Background(), c.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID() = %v, %v", got, err)
	}
	if got.Name != "Jane Doe" {
		t.Errorf("stored name = %q", got.Name)
	}
}

func TestCreateOrUpdate_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		input   schema.Customer
		field   string
		message string
	}{
		{"empty name", schema.Customer{Name: "   "}, schema.FieldName, schema.MsgNameRequired},
		{"too long", schema.Customer{Name: strings.Repeat("a", 51)}, schema.FieldName, schema.MsgNameTooLong},
		{"padded past limit", schema.Customer{Name: "   " + strings.Repeat("a", 50)}, schema.FieldName, schema.MsgNameTooLong},
		{"padded email", schema.Customer{Name: "Bob", Email: " bob@example.com"}, schema.FieldEmail, schema.MsgEmailInvalid},
		{"symbols", schema.Customer{Name: "John@Doe"}, schema.FieldName, schema.MsgNamePattern},
		{"duplicate", schema.Customer{Name: " ann "}, schema.FieldName, schema.MsgNameDuplicate},
		{"bad email", schema.Customer{Name: "Bob", Email: "bob@"}, schema.FieldEmail, schema.MsgEmailInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEngine(t, staticFetcher())
			mustCreate(t, e, "Ann", schema.RoleAdmin)

			_, err := e.CreateOrUpdate(context.Background(), tt.input, false)
			if got := fieldError(t, err, tt.field); got != tt.message {
				t.Errorf("%s error = %q, want %q", tt.field, got, tt.message)
			}

			if n, _ := store.Count(context.Background()); n != 1 {
				t.Errorf("Count() = %d after rejected write, want 1", n)
			}
		})
	}
}

func TestCreateOrUpdate_EditExcludesSelf(t *testing.T) {
	e, _ := newTestEngine(t, staticFetcher())
	ann := mustCreate(t, e, "Ann", schema.RoleAdmin)
	mustCreate(t, e, "Bob", schema.RoleAdmin)

	ann.Role = schema.RoleManager
	ann.Email = "ann@example.com"
	updated, err := e.CreateOrUpdate(context.Background(), ann, true)
	if err != nil {
		t.Fatalf("editing without renaming failed: %v", err)
	}
	if updated.Role != schema.RoleManager || updated.ID != ann.ID {
		t.Errorf("updated = %+v", updated)
	}

	ann.Name = "ANN"
	if _, err := e.CreateOrUpdate(context.Background(), ann, true); err != nil {
		t.Errorf("changing only case of own name failed: %v", err)
	}

	ann.Name = "bob"
	_, err = e.CreateOrUpdate(context.Background(), ann, true)
	if got := fieldError(t, err, schema.FieldName); got != schema.MsgNameDuplicate {
		t.Errorf("rename to taken name: error = %q", got)
	}
}

func TestCreateOrUpdate_EditMissing(t *testing.T) {
	e, store := newTestEngine(t, staticFetcher())

	_, err := e.CreateOrUpdate(context.Background(), schema.Customer{ID: "ghost", Name: "Ghost"}, true)
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("edit of missing id created a record")
	}
}

func TestCreateOrUpdate_ConcurrentSameName(t *testing.T) {
	e, store := newTestEngine(t, staticFetcher())

	const writers = 16
	var wg stdsync.WaitGroup
	var successes, duplicates atomic.Int32
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		name := "Ann"
		if i%2 == 1 {
			name = " ann"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.CreateOrUpdate(context.Background(), schema.Customer{Name: name}, false)
			var verr *schema.ValidationError
			switch {
			case err == nil:
				successes.Add(1)
			case errors.As(err, &verr) && verr.Fields[schema.FieldName] == schema.MsgNameDuplicate:
				duplicates.Add(1)
			default:
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	if successes.Load() != 1 {
		t.Errorf("successes = %d, want exactly 1", successes.Load())
	}
	if duplicates.Load() != writers-1 {
		t.Errorf("duplicates = %d, want %d", duplicates.Load(), writers-1)
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestSyncFromRemote_FirstOccurrenceWins(t *testing.T) {
	e, _ := newTestEngine(t, staticFetcher(
		schema.RawCustomer{ID: "1", Name: "Ann", Role: strPtr("ADMIN")},
		schema.RawCustomer{ID: "2", Name: "ann", Role: strPtr("Manager")},
	))

	res, err := e.SyncFromRemote(context.Background())
	if err != nil {
		t.Fatalf("SyncFromRemote() failed: %v", err)
	}
	if res.Fetched != 2 || res.Stored != 1 || len(res.Skipped) != 1 {
		t.Errorf("Result = %+v, want fetched=2 stored=1 skipped=1", res)
	}

	local, err := e.LoadLocal(context.Background())
	if err != nil {
		t.Fatalf("LoadLocal() failed: %v", err)
	}
	if len(local) != 1 {
		t.Fatalf("LoadLocal() returned %d customers, want 1", len(local))
	}
	if local[0].ID != "1" || local[0].Name != "Ann" || local[0].Role != schema.RoleAdmin {
		t.Errorf("kept = %+v, want id 1, Ann, Admin", local[0])
	}
}

func TestSyncFromRemote_ReplacesLocalState(t *testing.T) {
	e, _ := newTestEngine(t, staticFetcher(
		schema.RawCustomer{ID: "r1", Name: "Remote One", Email: strPtr("one@example.com"), Role: strPtr("manager")},
	))
	mustCreate(t, e, "Local Only", schema.RoleAdmin)

	if _, err := e.SyncFromRemote(context.Background()); err != nil {
		t.Fatalf("SyncFromRemote() failed: %v", err)
	}

	local, _ := e.LoadLocal(context.Background())
	if len(local) != 1 || local[0].ID != "r1" {
		t.Fatalf("LoadLocal() = %+v, want only r1", local)
	}
	if local[0].Email != "one@example.com" || local[0].Role != schema.RoleManager {
		t.Errorf("r1 = %+v", local[0])
	}
}

func TestSyncFromRemote_FailurePreservesState(t *testing.T) {
	e, _ := newTestEngine(t, failingFetcher())
	mustCreate(t, e, "Ann", schema.RoleAdmin)
	mustCreate(t, e, "Bob", schema.RoleManager)

	before, _ := e.LoadLocal(context.Background())

	_, err := e.SyncFromRemote(context.Background())
	if !errors.Is(err, remote.ErrRemote) {
		t.Fatalf("error = %v, want remote error", err)
	}

	after, _ := e.LoadLocal(context.Background())
	if len(after) != len(before) {
		t.Fatalf("local set changed: before=%d after=%d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Name != after[i].Name {
			t.Errorf("record %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if _, ok := e.LastSync(); ok {
		t.Error("LastSync() reported a result after a failed sync")
	}
}

func TestSyncFromRemote_RoleCoercion(t *testing.T) {
	var mu stdsync.Mutex
	var events []Event
	observer := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	e, _ := newTestEngine(t, staticFetcher(
		schema.RawCustomer{ID: "1", Name: "Ann", Role: strPtr("superuser")},
		schema.RawCustomer{ID: "2", Name: "Bob", Role: nil},
		schema.RawCustomer{ID: "3", Name: "Cy", Role: strPtr("mAnAgEr")},
	), WithObserver(observer))

	res, err := e.SyncFromRemote(context.Background())
	if err != nil {
		t.Fatalf("SyncFromRemote() failed: %v", err)
	}
	if res.RolesCoerced != 1 {
		t.Errorf("RolesCoerced = %d, want 1", res.RolesCoerced)
	}

	local, _ := e.LoadLocal(context.Background())
	want := map[string]schema.Role{"Ann": schema.RoleAdmin, "Bob": schema.RoleAdmin, "Cy": schema.RoleManager}
	for _, c := range local {
		if c.Role != want[c.Name] {
			t.Errorf("%s role = %q, want %q", c.Name, c.Role, want[c.Name])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var coerced, synced int
	for _, ev := range events {
		switch ev.Type {
		case EventRoleCoerced:
			coerced++
			if ev.RawRole != "superuser" || ev.Customer.ID != "1" {
				t.Errorf("coerced event = %+v", ev)
			}
		case EventSynced:
			synced++
			if ev.Result == nil || ev.Result.Stored != 3 {
				t.Errorf("synced event result = %+v", ev.Result)
			}
		}
	}
	if coerced != 1 || synced != 1 {
		t.Errorf("events: coerced=%d synced=%d, want 1 and 1", coerced, synced)
	}
}

func TestSyncFromRemote_RestoresDeletedID(t *testing.T) {
	e, store := newTestEngine(t, staticFetcher(
		schema.RawCustomer{ID: "1", Name: "Ann"},
	))
	ctx := context.Background()

	if _, err := e.SyncFromRemote(ctx); err != nil {
		t.Fatalf("SyncFromRemote() failed: %v", err)
	}
	if err := e.Remove(ctx, "1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	_, err := e.CreateOrUpdate(ctx, schema.Customer{ID: "1", Name: "Ann"}, false)
	if !errors.Is(err, db.ErrDeletedID) {
		t.Errorf("recreating deleted id: error = %v, want ErrDeletedID", err)
	}

	if _, err := e.SyncFromRemote(ctx); err != nil {
		t.Fatalf("second SyncFromRemote() failed: %v", err)
	}
	if got, _ := store.GetByID(ctx, "1"); got == nil {
		t.Error("resync did not restore deleted id")
	}
}

// blockingFetcher blocks every call until release is closed.
type blockingFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    stdsync.Once
	raw     []schema.RawCustomer
}

func newBlockingFetcher(raw ...schema.RawCustomer) *blockingFetcher {
	return &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		raw:     raw,
	}
}

func (f *blockingFetcher) FetchAll(ctx context.Context) ([]schema.RawCustomer, error) {
	f.calls.Add(1)
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
		return f.raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSyncFromRemote_CoalescesConcurrentCalls(t *testing.T) {
	fetcher := newBlockingFetcher(schema.RawCustomer{ID: "1", Name: "Ann"})
	e, _ := newTestEngine(t, fetcher)

	const callers = 5
	results := make(chan Result, callers)
	errs := make(chan error, callers)
	var wg stdsync.WaitGroup

	call := func() {
		defer wg.Done()
		res, err := e.SyncFromRemote(context.Background())
		if err != nil {
			errs <- err
			return
		}
		results <- res
	}

	wg.Add(1)
	go call()
	<-fetcher.started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go call()
	}
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("SyncFromRemote() failed: %v", err)
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}

	shared := 0
	for res := range results {
		if res.Stored != 1 {
			t.Errorf("Stored = %d, want 1", res.Stored)
		}
		if res.Shared {
			shared++
		}
	}
	if shared == 0 {
		t.Error("no caller reported a shared result")
	}
}

func TestSyncFromRemote_CallerCancelDoesNotAbort(t *testing.T) {
	fetcher := newBlockingFetcher(schema.RawCustomer{ID: "1", Name: "Ann"})
	e, store := newTestEngine(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.SyncFromRemote(ctx)
		done <- err
	}()

	<-fetcher.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	close(fetcher.release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := e.LastSync(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned resync never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	var deletes atomic.Int32
	e, store := newTestEngine(t, staticFetcher(), WithObserver(func(ev Event) {
		if ev.Type == EventDeleted {
			deletes.Add(1)
		}
	}))
	ann := mustCreate(t, e, "Ann", schema.RoleAdmin)

	for i := 0; i < 2; i++ {
		if err := e.Remove(context.Background(), ann.ID); err != nil {
			t.Fatalf("Remove() #%d failed: %v", i+1, err)
		}
	}
	if err := e.Remove(context.Background(), "never-existed"); err != nil {
		t.Errorf("Remove() of unknown id failed: %v", err)
	}

	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
	if deletes.Load() != 1 {
		t.Errorf("deleted events = %d, want 1", deletes.Load())
	}
}

func TestActivate_BootstrapsEmptyCache(t *testing.T) {
	var calls atomic.Int32
	fetcher := remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		calls.Add(1)
		return []schema.RawCustomer{{ID: "1", Name: "Ann"}}, nil
	})
	e, store := newTestEngine(t, fetcher)
	ctx := context.Background()

	got, err := e.Activate(ctx)
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Activate() returned %d customers, want 1", len(got))
	}

	// Emptying the cache does not re-trigger the bootstrap.
	if err := e.Remove(ctx, "1"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, err := e.Activate(ctx); err != nil {
		t.Fatalf("second Activate() failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestActivate_ConcurrentCallersWaitForBootstrap(t *testing.T) {
	fetcher := newBlockingFetcher(schema.RawCustomer{ID: "1", Name: "Ann"})
	e, _ := newTestEngine(t, fetcher)

	const callers = 4
	sizes := make(chan int, callers)
	errs := make(chan error, callers)
	var wg stdsync.WaitGroup

	call := func() {
		defer wg.Done()
		got, err := e.Activate(context.Background())
		if err != nil {
			errs <- err
			return
		}
		sizes <- len(got)
	}

	wg.Add(1)
	go call()
	<-fetcher.started

	wg.Add(callers - 1)
	for i := 1; i < callers; i++ {
		go call()
	}
	// Give the late callers time to reach the bootstrap.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(sizes)
	close(errs)

	for err := range errs {
		t.Errorf("Activate() failed: %v", err)
	}
	for n := range sizes {
		if n != 1 {
			t.Errorf("Activate() returned %d customers, want 1 for every caller", n)
		}
	}
	if calls := fetcher.calls.Load(); calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
}

// countFailStore fails Count until fail is cleared.
type countFailStore struct {
	*db.DB
	fail atomic.Bool
}

func (s *countFailStore) Count(ctx context.Context) (int, error) {
	if s.fail.Load() {
		return 0, errors.New("disk I/O error")
	}
	return s.DB.Count(ctx)
}

func TestBootstrap_RetriesAfterCountError(t *testing.T) {
	var calls atomic.Int32
	fetcher := remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		calls.Add(1)
		return []schema.RawCustomer{{ID: "1", Name: "Ann"}}, nil
	})
	store := &countFailStore{DB: setupTestDB(t)}
	store.fail.Store(true)
	e := New(store, fetcher, WithLogger(quietLogger()))

	if _, err := e.Activate(context.Background()); err == nil {
		t.Fatal("Activate() expected error when Count fails")
	}
	if calls.Load() != 0 {
		t.Errorf("fetch calls = %d after a failed count, want 0", calls.Load())
	}

	store.fail.Store(false)
	got, err := e.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if len(got) != 1 || calls.Load() != 1 {
		t.Errorf("Activate() = %d customers with %d fetches, want 1 and 1", len(got), calls.Load())
	}
}

func TestActivate_BootstrapFailureFallsBack(t *testing.T) {
	e, _ := newTestEngine(t, failingFetcher())

	got, err := e.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Activate() = %+v, want empty local set", got)
	}
}

func TestActivate_SkipsSyncWhenPopulated(t *testing.T) {
	var calls atomic.Int32
	fetcher := remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		calls.Add(1)
		return nil, nil
	})
	e, _ := newTestEngine(t, fetcher)
	mustCreate(t, e, "Ann", schema.RoleAdmin)

	got, err := e.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate() failed: %v", err)
	}
	if len(got) != 1 || calls.Load() != 0 {
		t.Errorf("Activate() = %d customers with %d fetches, want 1 and 0", len(got), calls.Load())
	}
}

func TestFilter(t *testing.T) {
	e, _ := newTestEngine(t, staticFetcher())
	mustCreate(t, e, "Ann Smith", schema.RoleAdmin)
	mustCreate(t, e, "Annabel", schema.RoleManager)
	mustCreate(t, e, "Bob", schema.RoleManager)

	tests := []struct {
		query string
		role  string
		want  []string
	}{
		{"", "All", []string{"Ann Smith", "Annabel", "Bob"}},
		{"", "", []string{"Ann Smith", "Annabel", "Bob"}},
		{"ANN", "All", []string{"Ann Smith", "Annabel"}},
		{"ann", "Manager", []string{"Annabel"}},
		{"", "admin", []string{"Ann Smith"}},
		{"zzz", "All", nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q/%s", tt.query, tt.role), func(t *testing.T) {
			got, err := e.Filter(context.Background(), tt.query, tt.role)
			if err != nil {
				t.Fatalf("Filter() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Filter() returned %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i].Name, tt.want[i])
				}
			}
		})
	}

	if _, err := e.Filter(context.Background(), "", "Owner"); err == nil {
		t.Error("Filter() expected error for unknown role")
	}
}

func TestFilter_Options(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Pointer[time.Time]
	clock.Store(&now)

	store, err := db.Open(filepath.Join(t.TempDir(), "customers.db"),
		db.WithClock(func() time.Time { return *clock.Load() }))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	e := New(store, staticFetcher(), WithLogger(quietLogger()))

	mustCreate(t, e, "Ann", schema.RoleAdmin)
	later := now.Add(48 * time.Hour)
	clock.Store(&later)
	mustCreate(t, e, "Bob", schema.RoleAdmin)
	mustCreate(t, e, "Cara", schema.RoleManager)

	ctx := context.Background()

	recent, err := e.Filter(ctx, "", "All", UpdatedSince(now.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Name != "Bob" || recent[1].Name != "Cara" {
		t.Errorf("Filter(since) = %v", recent)
	}

	limited, err := e.Filter(ctx, "", "All", Limit(1))
	if err != nil {
		t.Fatalf("Filter() failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Name != "Ann" {
		t.Errorf("Filter(limit 1) = %v", limited)
	}

	if _, err := e.Filter(ctx, "", "All", Limit(-1)); err == nil {
		t.Error("Filter() expected error for a negative limit")
	}
}

func TestDedupe(t *testing.T) {
	in := []schema.Customer{
		{ID: "1", Name: "Ann"},
		{ID: "2", Name: " ANN "},
		{ID: "1", Name: "Other"},
		{ID: "", Name: "Nobody"},
		{ID: "3", Name: "Bob"},
	}

	kept, dropped := Dedupe(in)
	if len(kept) != 2 || kept[0].ID != "1" || kept[1].ID != "3" {
		t.Errorf("kept = %+v, want ids 1 and 3", kept)
	}
	if len(dropped) != 3 {
		t.Errorf("dropped = %+v, want 3", dropped)
	}
}
