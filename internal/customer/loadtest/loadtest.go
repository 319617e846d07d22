// Package loadtest stress-tests the customer cache under concurrent writers.
//
// It drives many goroutines submitting overlapping names (varying case and
// surrounding whitespace) through the sync engine, optionally with readers
// and resyncs running alongside, and then checks that the cache still holds
// at most one customer per normalized name.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/db"
	"github.com/mschirtzinger/custcache/internal/customer/remote"
	"github.com/mschirtzinger/custcache/internal/customer/schema"
	custsync "github.com/mschirtzinger/custcache/internal/customer/sync"
)

// Harness is a populated cache ready for load testing.
type Harness struct {
	DB     *db.DB
	Engine *custsync.Engine

	// Remote is the customer set served to resyncs.
	Remote []schema.RawCustomer
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	Operations int
	Durations  []time.Duration
}

// Config controls a load test run.
type Config struct {
	// Writers is the number of concurrent CreateOrUpdate goroutines.
	Writers int
	// OpsPerWriter is the number of submissions per writer.
	OpsPerWriter int
	// Names is the size of the name pool writers draw from. Smaller pools
	// mean more collisions.
	Names int
	// Readers is the number of concurrent LoadLocal goroutines.
	Readers int
	// Syncs is the number of resyncs run while writers are active.
	Syncs int
	// Seed makes name choice reproducible.
	Seed int64
}

// DefaultConfig returns a moderate contention workload.
func DefaultConfig() Config {
	return Config{
		Writers:      50,
		OpsPerWriter: 20,
		Names:        25,
		Readers:      4,
		Seed:         42,
	}
}

// Report summarizes a run.
type Report struct {
	Writes LatencyStats
	Reads  LatencyStats

	Created    int
	Duplicates int
	Rejected   int // other validation failures
	Errors     []error
	SyncsRun   int
	FinalCount int

	// Violations lists invariant breaches seen by readers or in the final state.
	Violations []string
}

// NewHarness opens a cache at dbPath, seeded by one resync with remoteSize
// generated customers. logger may be nil to discard engine logging.
func NewHarness(dbPath string, remoteSize int, logger *log.Logger) (*Harness, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.RawDB().SetMaxOpenConns(64)
	database.RawDB().SetMaxIdleConns(16)

	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	h := &Harness{
		DB:     database,
		Remote: generateRemote(remoteSize),
	}
	fetcher := remote.FetcherFunc(func(ctx context.Context) ([]schema.RawCustomer, error) {
		out := make([]schema.RawCustomer, len(h.Remote))
		copy(out, h.Remote)
		return out, nil
	})
	h.Engine = custsync.New(database, fetcher, custsync.WithLogger(logger))

	if _, err := h.Engine.SyncFromRemote(context.Background()); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to seed cache: %w", err)
	}

	return h, nil
}

// Close closes the harness database.
func (h *Harness) Close() error {
	if h.DB != nil {
		return h.DB.Close()
	}
	return nil
}

// Run executes the workload described by cfg.
func (h *Harness) Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Writers <= 0 || cfg.OpsPerWriter <= 0 || cfg.Names <= 0 {
		return nil, fmt.Errorf("writers, ops per writer and names must be positive")
	}

	pool := namePool(cfg.Names)
	report := &Report{}
	var mu sync.Mutex
	var writeDurations, readDurations []time.Duration

	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	var writers sync.WaitGroup
	for i := 0; i < cfg.Writers; i++ {
		writers.Add(1)
		go func(writerID int) {
			defer writers.Done()

			rng := rand.New(rand.NewSource(cfg.Seed + int64(writerID)))
			durations := make([]time.Duration, 0, cfg.OpsPerWriter)

			for j := 0; j < cfg.OpsPerWriter; j++ {
				if ctx.Err() != nil {
					break
				}
				c := schema.Customer{
					Name: vary(rng, pool[rng.Intn(len(pool))]),
					Role: schema.Roles[rng.Intn(len(schema.Roles))],
				}

				start := time.Now()
				_, err := h.Engine.CreateOrUpdate(ctx, c, false)
				durations = append(durations, time.Since(start))

				var verr *schema.ValidationError
				record(func() {
					switch {
					case err == nil:
						report.Created++
					case errors.As(err, &verr) && verr.Fields[schema.FieldName] == schema.MsgNameDuplicate:
						report.Duplicates++
					case errors.As(err, &verr):
						report.Rejected++
					default:
						report.Errors = append(report.Errors, fmt.Errorf("writer %d op %d: %w", writerID, j, err))
					}
				})
			}

			record(func() { writeDurations = append(writeDurations, durations...) })
		}(i)
	}

	done := make(chan struct{})
	var background sync.WaitGroup

	for i := 0; i < cfg.Readers; i++ {
		background.Add(1)
		go func(readerID int) {
			defer background.Done()
			var durations []time.Duration

			for {
				select {
				case <-done:
					record(func() { readDurations = append(readDurations, durations...) })
					return
				default:
				}

				start := time.Now()
				customers, err := h.Engine.LoadLocal(ctx)
				durations = append(durations, time.Since(start))

				if err != nil {
					if ctx.Err() == nil {
						record(func() { report.Errors = append(report.Errors, fmt.Errorf("reader %d: %w", readerID, err)) })
					}
					continue
				}
				if v := CheckInvariants(customers); len(v) > 0 {
					record(func() { report.Violations = append(report.Violations, v...) })
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	if cfg.Syncs > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			for i := 0; i < cfg.Syncs; i++ {
				select {
				case <-done:
					return
				default:
				}
				_, err := h.Engine.SyncFromRemote(ctx)
				record(func() {
					if err != nil {
						report.Errors = append(report.Errors, fmt.Errorf("sync %d: %w", i, err))
						return
					}
					report.SyncsRun++
				})
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}

	writers.Wait()
	close(done)
	background.Wait()

	final, err := h.Engine.LoadLocal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load final state: %w", err)
	}
	report.FinalCount = len(final)
	report.Violations = append(report.Violations, CheckInvariants(final)...)
	report.Writes = *computeLatencyStats(writeDurations)
	report.Reads = *computeLatencyStats(readDurations)

	return report, nil
}

// CheckInvariants reports every normalized name held by more than one
// customer and every customer with a role outside the vocabulary.
func CheckInvariants(customers []schema.Customer) []string {
	var violations []string
	byKey := make(map[string][]string)

	for _, c := range customers {
		byKey[c.NameKey()] = append(byKey[c.NameKey()], c.ID)
		if !c.Role.Valid() {
			violations = append(violations, fmt.Sprintf("customer %s has invalid role %q", c.ID, c.Role))
		}
	}

	keys := make([]string, 0, len(byKey))
	for k, ids := range byKey {
		if len(ids) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		violations = append(violations, fmt.Sprintf("name %q held by %d customers: %s",
			k, len(byKey[k]), strings.Join(byKey[k], ", ")))
	}

	return violations
}

// generateRemote creates a remote set with a realistic role mix: mostly
// Admin, some Manager in varying case, a few missing or unknown roles.
func generateRemote(count int) []schema.RawCustomer {
	roles := []*string{strPtr("ADMIN"), strPtr("Manager"), strPtr("admin"), strPtr("MANAGER"), nil, strPtr("Owner")}

	out := make([]schema.RawCustomer, count)
	for i := 0; i < count; i++ {
		name := "Remote Customer " + letters(i)
		var email *string
		if i%3 != 0 {
			email = strPtr(fmt.Sprintf("remote%d@example.com", i))
		}
		out[i] = schema.RawCustomer{
			ID:    fmt.Sprintf("remote-%05d", i),
			Name:  name,
			Email: email,
			Role:  roles[i%len(roles)],
		}
	}
	return out
}

// namePool returns n distinct valid names.
func namePool(n int) []string {
	pool := make([]string, n)
	for i := range pool {
		pool[i] = "Writer " + letters(i)
	}
	return pool
}

// vary changes case and surrounding whitespace without changing the
// normalized name.
func vary(rng *rand.Rand, name string) string {
	switch rng.Intn(4) {
	case 0:
		return strings.ToUpper(name)
	case 1:
		return strings.ToLower(name)
	case 2:
		return "  " + name + " "
	default:
		return name
	}
}

// letters encodes i as a letters-only suffix (0 -> "A", 26 -> "BA").
func letters(i int) string {
	if i == 0 {
		return "A"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('A' + i%26)}, b...)
		i /= 26
	}
	return string(b)
}

func strPtr(s string) *string {
	return &s
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
		Durations:  sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
