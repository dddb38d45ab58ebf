package correlation

import (
	"context"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the delay between two probes of the outboxes.
const DefaultPollInterval = 200 * time.Millisecond

// Store is the subset of the mailbox store the correlator probes with.
type Store interface {
	EnsureDir(dir string) error
	Find(dir, name string) (string, bool)
	Read(path string) ([]byte, bool)
}

// Correlator waits for the driver to move a command artifact into the
// success or error outbox. It holds no per-request state, so one instance
// serves any number of concurrent Await calls.
type Correlator struct {
	store      Store
	successDir string
	errorDir   string
	interval   time.Duration
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithMetrics records decode tiers, echo mismatches and in-flight counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewCorrelator creates a Correlator over the two outbox directories.
func NewCorrelator(store Store, successDir, errorDir string, logger zerolog.Logger, opts ...Option) *Correlator {
	c := &Correlator{
		store:      store,
		successDir: successDir,
		errorDir:   errorDir,
		interval:   DefaultPollInterval,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Await polls both outboxes for name until a result appears or timeout
// elapses, and returns exactly one Outcome. The error outbox is always
// probed first. When the deadline or ctx ends the wait, a last probe is
// made before reporting TimedOut. echo may be empty to skip the advisory
// cross-check against the command repeated in an error artifact.
func (c *Correlator) Await(ctx context.Context, name, echo string, timeout time.Duration) Outcome {
	if c.metrics != nil {
		c.metrics.InflightCorrelations.Inc()
		defer c.metrics.InflightCorrelations.Dec()
	}

	log := c.logger.With().Str("artifact", name).Logger()
	start := time.Now()
	c.ensureDirs(log)

	if timeout <= 0 {
		return c.finish(log, start, c.settle(log, name, echo))
	}
	if o, ok := c.probe(log, name, echo, false); ok {
		return c.finish(log, start, o)
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if o, ok := c.probe(log, name, echo, false); ok {
				return c.finish(log, start, o)
			}
		case <-deadline.C:
			return c.finish(log, start, c.settle(log, name, echo))
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Msg("correlation interrupted before deadline")
			return c.finish(log, start, c.settle(log, name, echo))
		}
	}
}

// AwaitAsync runs Await in its own goroutine. The channel receives exactly
// one Outcome and is then closed.
func (c *Correlator) AwaitAsync(ctx context.Context, name, echo string, timeout time.Duration) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		ch <- c.Await(ctx, name, echo, timeout)
	}()
	return ch
}

// Probe checks both outboxes once without waiting. It reports false when no
// result artifact is present yet.
func (c *Correlator) Probe(name, echo string) (Outcome, bool) {
	log := c.logger.With().Str("artifact", name).Logger()
	return c.probe(log, name, echo, false)
}

func (c *Correlator) settle(log zerolog.Logger, name, echo string) Outcome {
	if o, ok := c.probe(log, name, echo, true); ok {
		return o
	}
	return TimedOut{ArtifactName: name}
}

// probe looks in the error outbox, then the success outbox. An error
// artifact that cannot be read is retried on the next cycle, except on the
// final probe where it resolves as a failure with an unknown message.
func (c *Correlator) probe(log zerolog.Logger, name, echo string, final bool) (Outcome, bool) {
	if path, found := c.store.Find(c.errorDir, name); found {
		data, ok := c.store.Read(path)
		if !ok && !final {
			log.Debug().Str("path", path).Msg("error artifact not readable yet")
			return nil, false
		}
		return c.failed(log, name, echo, string(data)), true
	}

	if _, found := c.store.Find(c.successDir, name); found {
		return Succeeded{ArtifactName: name}, true
	}
	return nil, false
}

func (c *Correlator) failed(log zerolog.Logger, name, echo, content string) Failed {
	parsed := Decode(content)
	mismatch := echo != "" && !EchoMatches(parsed.OriginalCommand, echo)

	if c.metrics != nil {
		c.metrics.DecodeTiers.WithLabelValues(string(parsed.Tier)).Inc()
		if mismatch {
			c.metrics.EchoMismatches.Inc()
		}
	}
	if parsed.Tier.Degraded() {
		log.Debug().Str("tier", string(parsed.Tier)).Msg("error artifact did not match the timestamped format")
	}
	if mismatch {
		log.Warn().
			Str("expected", echo).
			Str("echoed", parsed.OriginalCommand).
			Msg("error artifact echoes a different command")
	}

	return Failed{
		ArtifactName: name,
		Details:      parsed.Message,
		Timestamp:    parsed.Timestamp,
		EchoMismatch: mismatch,
		Tier:         parsed.Tier,
	}
}

func (c *Correlator) ensureDirs(log zerolog.Logger) {
	for _, dir := range []string{c.successDir, c.errorDir} {
		if err := c.store.EnsureDir(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to create outbox directory")
		}
	}
}

func (c *Correlator) finish(log zerolog.Logger, start time.Time, o Outcome) Outcome {
	ev := log.Info()
	if o.State() == StateTimedOut {
		ev = log.Warn()
	}
	ev.Str("outcome", o.State().String()).
		Dur("elapsed", time.Since(start)).
		Msg("correlation resolved")
	return o
}
