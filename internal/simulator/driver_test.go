package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/mailbox"
	"github.com/cassiomorais/fiscalbridge/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	artifact = "bon_20250101120000.txt"
	command  = "FISCAL\nI;Coffee ();1;5.00;1\nP;0;0"
)

func newTestDriver(t *testing.T, opts ...Option) (*Driver, testutil.Mailbox) {
	t.Helper()
	box := testutil.NewMailbox(t)
	opts = append([]Option{WithLatency(0), WithPollInterval(5 * time.Millisecond), WithSeed(1)}, opts...)
	d := NewDriver(mailbox.NewStore(), box.Inbox, box.Success, box.Error, zerolog.Nop(), opts...)
	d.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 1, 0, time.UTC) }
	return d, box
}

func drop(t *testing.T, box testutil.Mailbox, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(box.Inbox, name), []byte(content), 0o644))
}

func TestDriver_PrintsByDefault(t *testing.T) {
	d, box := newTestDriver(t)
	drop(t, box, artifact, command)

	require.NoError(t, d.Sweep(context.Background()))

	assert.Equal(t, ResultPrinted, d.Results()[artifact])
	assert.FileExists(t, filepath.Join(box.Success, artifact))
	assert.NoFileExists(t, filepath.Join(box.Inbox, artifact))
}

func TestDriver_FailureWritesDecodableErrorArtifact(t *testing.T) {
	d, box := newTestDriver(t, WithFailureRate(1), WithFailureMessage("Paper out"))
	drop(t, box, artifact, command)

	require.NoError(t, d.Sweep(context.Background()))

	assert.Equal(t, ResultFailed, d.Results()[artifact])
	assert.NoFileExists(t, filepath.Join(box.Inbox, artifact))

	data, err := os.ReadFile(filepath.Join(box.Error, artifact))
	require.NoError(t, err)
	parsed := correlation.Decode(string(data))
	assert.Equal(t, "Paper out", parsed.Message)
	assert.Equal(t, "01/01/2025 12:00:01 PM", parsed.Timestamp)
	assert.Equal(t, correlation.TierStrict, parsed.Tier)
	assert.True(t, correlation.EchoMatches(parsed.OriginalCommand, command))
}

func TestDriver_TimeoutLeavesArtifactInInbox(t *testing.T) {
	d, box := newTestDriver(t, WithTimeoutRate(1))
	drop(t, box, artifact, command)

	require.NoError(t, d.Sweep(context.Background()))
	require.NoError(t, d.Sweep(context.Background()))

	assert.Equal(t, ResultIgnored, d.Results()[artifact])
	assert.FileExists(t, filepath.Join(box.Inbox, artifact))
	assert.NoFileExists(t, filepath.Join(box.Success, artifact))
}

func TestDriver_SkipsNonCommandFiles(t *testing.T) {
	d, box := newTestDriver(t)
	drop(t, box, "notes.md", "x")
	drop(t, box, artifact+".tmp.123", "partial")

	require.NoError(t, d.Sweep(context.Background()))

	assert.Empty(t, d.Results())
	assert.FileExists(t, filepath.Join(box.Inbox, "notes.md"))
}

func TestDriver_AnswersCorrelator(t *testing.T) {
	d, box := newTestDriver(t, WithFailureRate(1), WithFailureMessage("Cover open"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	store := mailbox.NewStore()
	_, err := store.Write(box.Inbox, artifact, []byte(command))
	require.NoError(t, err)

	corr := correlation.NewCorrelator(store, box.Success, box.Error, zerolog.Nop(),
		correlation.WithPollInterval(5*time.Millisecond))
	outcome := corr.Await(context.Background(), artifact, command, 2*time.Second)

	failed, ok := outcome.(correlation.Failed)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, "Cover open", failed.Details)
	assert.False(t, failed.EchoMismatch)
}
