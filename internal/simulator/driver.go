// Package simulator stands in for the fiscal driver during local
// development: it consumes inbox artifacts and answers through the outboxes
// the same way the real driver does.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/mailbox"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const errorTimestampLayout = "01/02/2006 03:04:05 PM"

// Result is what the simulator did with one artifact.
type Result string

const (
	ResultPrinted Result = "printed"
	ResultFailed  Result = "failed"
	ResultIgnored Result = "ignored"
)

type Driver struct {
	store       *mailbox.Store
	inbox       string
	successDir  string
	errorDir    string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0
	interval    time.Duration
	message     string
	rng         *rand.Rand
	now         func() time.Time
	logger      zerolog.Logger

	mu   sync.Mutex
	seen map[string]Result
}

type Option func(*Driver)

func WithFailureRate(rate float64) Option {
	return func(d *Driver) { d.failureRate = rate }
}

func WithLatency(l time.Duration) Option {
	return func(d *Driver) { d.latency = l }
}

// WithTimeoutRate sets the share of artifacts left unanswered in the inbox.
func WithTimeoutRate(rate float64) Option {
	return func(d *Driver) { d.timeoutRate = rate }
}

func WithPollInterval(i time.Duration) Option {
	return func(d *Driver) { d.interval = i }
}

// WithFailureMessage sets the text reported in error artifacts.
func WithFailureMessage(msg string) Option {
	return func(d *Driver) { d.message = msg }
}

// WithSeed makes the failure and timeout draws reproducible.
func WithSeed(seed uint64) Option {
	return func(d *Driver) { d.rng = rand.New(rand.NewPCG(seed, seed)) }
}

func NewDriver(store *mailbox.Store, inbox, successDir, errorDir string, logger zerolog.Logger, opts ...Option) *Driver {
	d := &Driver{
		store:      store,
		inbox:      inbox,
		successDir: successDir,
		errorDir:   errorDir,
		latency:    100 * time.Millisecond,
		interval:   50 * time.Millisecond,
		message:    "Simulated printer failure",
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:        time.Now,
		logger:     observability.Component(logger, "driver_simulator"),
		seen:       make(map[string]Result),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run sweeps the inbox every poll interval until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	for _, dir := range []string{d.inbox, d.successDir, d.errorDir} {
		if err := d.store.EnsureDir(dir); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil {
				d.logger.Error().Err(err).Msg("Inbox sweep failed")
			}
		}
	}
}

// Sweep answers every artifact in the inbox it has not handled yet.
func (d *Driver) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(d.inbox)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".txt") || d.handled(name) {
			continue
		}
		res, err := d.handle(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn().Err(err).Str("artifact", name).Msg("Failed to answer artifact")
			continue
		}
		d.mu.Lock()
		d.seen[name] = res
		d.mu.Unlock()
		d.logger.Info().Str("artifact", name).Str("result", string(res)).Msg("Artifact handled")
	}
	return nil
}

// Results returns what happened to each artifact so far.
func (d *Driver) Results() map[string]Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]Result, len(d.seen))
	for k, v := range d.seen {
		out[k] = v
	}
	return out
}

func (d *Driver) handled(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[name]
	return ok
}

func (d *Driver) handle(ctx context.Context, name string) (Result, error) {
	select {
	case <-time.After(d.latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	src := filepath.Join(d.inbox, name)
	command, ok := d.store.Read(src)
	if !ok {
		return "", fmt.Errorf("read %s", src)
	}

	if d.rng.Float64() < d.timeoutRate {
		return ResultIgnored, nil
	}

	if d.rng.Float64() < d.failureRate {
		if _, err := d.store.Write(d.errorDir, name, d.errorArtifact(string(command))); err != nil {
			return "", err
		}
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("remove %s: %w", src, err)
		}
		return ResultFailed, nil
	}

	if err := os.Rename(src, filepath.Join(d.successDir, name)); err != nil {
		return "", fmt.Errorf("move %s: %w", src, err)
	}
	return ResultPrinted, nil
}

// errorArtifact echoes the last command line and appends an execution log
// in the driver's format.
func (d *Driver) errorArtifact(command string) []byte {
	lines := strings.Split(strings.TrimSpace(command), "\n")
	echo := strings.TrimSpace(lines[len(lines)-1])

	var b strings.Builder
	b.WriteString(echo)
	b.WriteString("\n-----------------\nExecution Log\n-----------------\n")
	fmt.Fprintf(&b, "%s - ERROR: %s\n", d.now().Format(errorTimestampLayout), d.message)
	return []byte(b.String())
}
