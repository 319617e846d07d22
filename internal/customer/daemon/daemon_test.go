package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	custsync "github.com/mschirtzinger/custcache/internal/customer/sync"
)

// countingSyncer records resync calls.
type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (s *countingSyncer) SyncFromRemote(ctx context.Context) (custsync.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return custsync.Result{}, s.err
	}
	return custsync.Result{Stored: 3}, nil
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 50 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// runDaemon starts d in the background and returns a function that stops it.
func runDaemon(t *testing.T, d *Daemon) func() {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	}
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		syncer  Syncer
		config  *Config
		wantErr bool
	}{
		{"valid", &countingSyncer{}, testConfig(), false},
		{"nil config uses defaults", &countingSyncer{}, nil, false},
		{"nil syncer", nil, testConfig(), true},
		{"bad schedule", &countingSyncer{}, &Config{Schedule: "every now and then"}, true},
		{"missing watch dir", &countingSyncer{}, &Config{WatchPath: "/does/not/exist/customers.json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.syncer, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				_ = d.Stop()
			}
		})
	}
}

func TestDaemon_SyncOnStart(t *testing.T) {
	s := &countingSyncer{}
	cfg := testConfig()
	cfg.SyncOnStart = true

	d, err := New(s, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := runDaemon(t, d)
	defer stop()

	if !waitFor(t, 2*time.Second, func() bool { return s.calls.Load() == 1 }) {
		t.Fatalf("calls = %d, want 1", s.calls.Load())
	}
	if st := d.Stats(); st.LastTrigger != "start" || st.LastResult.Stored != 3 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDaemon_ScheduleTriggersSync(t *testing.T) {
	s := &countingSyncer{}
	cfg := testConfig()
	cfg.Schedule = "@every 1s"

	d, err := New(s, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := runDaemon(t, d)
	defer stop()

	if !waitFor(t, 3*time.Second, func() bool { return s.calls.Load() >= 1 }) {
		t.Fatal("scheduled resync never ran")
	}
	if st := d.Stats(); st.LastTrigger != "schedule" {
		t.Errorf("LastTrigger = %q, want schedule", st.LastTrigger)
	}
}

func TestDaemon_WatchedFileTriggersSync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "customers.json")
	if err := os.WriteFile(path, []byte("[]"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	s := &countingSyncer{}
	cfg := testConfig()
	cfg.WatchPath = path

	d, err := New(s, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := runDaemon(t, d)
	defer stop()

	// A burst of writes is debounced into one resync.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(`[{"id":"1","name":"Ann"}]`), 0644); err != nil {
			t.Fatalf("failed to update fixture: %v", err)
		}
	}

	if !waitFor(t, 3*time.Second, func() bool { return s.calls.Load() >= 1 }) {
		t.Fatal("file change did not trigger a resync")
	}
	time.Sleep(200 * time.Millisecond)
	if n := s.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 after debounced burst", n)
	}
	if st := d.Stats(); st.LastTrigger != "file change" {
		t.Errorf("LastTrigger = %q, want file change", st.LastTrigger)
	}
}

func TestDaemon_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "customers.json")

	s := &countingSyncer{}
	cfg := testConfig()
	cfg.WatchPath = path

	d, err := New(s, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	stop := runDaemon(t, d)
	defer stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := s.calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestDaemon_RecordsFailures(t *testing.T) {
	s := &countingSyncer{err: errors.New("remote down")}
	d, err := New(s, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer d.Stop()

	d.Trigger("manual")
	d.Trigger("manual")

	st := d.Stats()
	if st.Runs != 2 || st.Failures != 2 || st.LastError != "remote down" {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDaemon_StopTwice(t *testing.T) {
	d, err := New(&countingSyncer{}, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("first Stop() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}

	// No resync after stop.
	d.Trigger("late")
	if d.Stats().Runs != 0 {
		t.Error("Trigger() ran after Stop()")
	}
}
