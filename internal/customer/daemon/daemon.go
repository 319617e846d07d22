// Package daemon keeps the customer cache fresh in the background.
//
// The daemon:
//  1. Resyncs from the remote on a cron schedule
//  2. Watches a file source, if configured, and resyncs when it changes
//  3. Optionally resyncs once on start
//  4. Handles graceful shutdown
//
// Every trigger goes through the engine's SyncFromRemote, so overlapping
// triggers share one resync.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	custsync "github.com/mschirtzinger/custcache/internal/customer/sync"
)

// Syncer performs a full resync. *sync.Engine implements it.
type Syncer interface {
	SyncFromRemote(ctx context.Context) (custsync.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a cron spec ("@every 15m", "0 */6 * * *").
	// Empty disables scheduled resyncs.
	Schedule string

	// WatchPath is a file source to watch. Empty disables watching.
	WatchPath string

	// DebounceInterval is how long the watched file must be quiet before
	// a resync runs. This batches editor save bursts together.
	DebounceInterval time.Duration

	// SyncOnStart runs one resync before the schedule starts.
	SyncOnStart bool

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         "@every 15m",
		DebounceInterval: 250 * time.Millisecond,
		SyncOnStart:      true,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats reports what the daemon has done so far.
type Stats struct {
	Runs        int
	Failures    int
	LastRun     time.Time
	LastTrigger string
	LastError   string
	LastResult  custsync.Result
}

// Daemon schedules resyncs.
type Daemon struct {
	syncer Syncer
	config *Config

	cron      *cron.Cron
	watcher   *fsnotify.Watcher
	watchPath string

	pendingMu sync.Mutex
	pendingAt time.Time // zero when nothing is queued

	statsMu sync.Mutex
	stats   Stats

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. The watch, if any, is registered immediately so
// changes made between New and Start are not lost.
//
// Use Start() to begin scheduling.
func New(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		syncer: syncer,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}

	logger := cron.PrintfLogger(config.Logger)
	d.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if config.Schedule != "" {
		if _, err := d.cron.AddFunc(config.Schedule, func() { d.runSync("schedule") }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
		}
	}

	if config.WatchPath != "" {
		abs, err := filepath.Abs(config.WatchPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to resolve watch path: %w", err)
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		// Watch the directory: editors replace files by rename, which
		// drops a watch on the file itself.
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			_ = watcher.Close()
			cancel()
			return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
		}
		d.watcher = watcher
		d.watchPath = abs
	}

	return d, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.config.SyncOnStart {
		d.runSync("start")
	}

	d.cron.Start()
	if d.config.Schedule != "" {
		d.config.Logger.Printf("Resync schedule: %s", d.config.Schedule)
	}

	if d.watcher != nil {
		d.config.Logger.Printf("Watching: %s", d.watchPath)
		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processPending()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon, waiting for a running resync.
// Safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		<-d.cron.Stop().Done()

		if d.watcher != nil {
			if cerr := d.watcher.Close(); cerr != nil {
				err = fmt.Errorf("failed to close watcher: %w", cerr)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// Trigger runs a resync now, outside the schedule.
func (d *Daemon) Trigger(reason string) {
	d.runSync(reason)
}

// Stats returns a snapshot of the daemon's counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Daemon) runSync(trigger string) {
	if d.ctx.Err() != nil {
		return
	}

	res, err := d.syncer.SyncFromRemote(d.ctx)

	d.statsMu.Lock()
	d.stats.Runs++
	d.stats.LastRun = time.Now()
	d.stats.LastTrigger = trigger
	if err != nil {
		d.stats.Failures++
		d.stats.LastError = err.Error()
	} else {
		d.stats.LastError = ""
		d.stats.LastResult = res
	}
	d.statsMu.Unlock()

	if err != nil {
		d.config.Logger.Printf("Resync (%s) failed: %v", trigger, err)
		return
	}
	d.config.Logger.Printf("Resync (%s): stored=%d skipped=%d", trigger, res.Stored, len(res.Skipped))
}

// watchFileEvents monitors filesystem events for the watched file.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != d.watchPath {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a change; the debounce window restarts.
func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.pendingAt = time.Now()
}

// processPending runs a resync once the watched file has been quiet
// for DebounceInterval.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.pendingMu.Lock()
			ready := !d.pendingAt.IsZero() && time.Since(d.pendingAt) >= d.config.DebounceInterval
			if ready {
				d.pendingAt = time.Time{}
			}
			d.pendingMu.Unlock()

			if ready {
				d.runSync("file change")
			}
		}
	}
}
