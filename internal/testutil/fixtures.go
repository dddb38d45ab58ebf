package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewTestReceipt returns a pending live sale receipt created at createdAt.
func NewTestReceipt(artifact string, createdAt time.Time) *receipt.Receipt {
	return &receipt.Receipt{
		ID:           uuid.New(),
		Kind:         receipt.KindSale,
		Mode:         receipt.ModeLive,
		ArtifactName: artifact,
		Command:      "FISCAL\nI;Coffee ();1;5.00;1\nP;0;0",
		TotalCents:   500,
		Status:       receipt.StatusPending,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// NewTimedOutReceipt returns a receipt already in timed_out.
func NewTimedOutReceipt(artifact string, createdAt time.Time) *receipt.Receipt {
	r := NewTestReceipt(artifact, createdAt)
	r.Status = receipt.StatusTimedOut
	resolved := createdAt.Add(time.Second)
	r.ResolvedAt = &resolved
	return r
}

// Mailbox is a set of temporary inbox/outbox directories.
type Mailbox struct {
	Inbox   string
	Success string
	Error   string
}

// NewMailbox creates the three directories under t.TempDir().
func NewMailbox(t *testing.T) Mailbox {
	t.Helper()
	root := t.TempDir()
	m := Mailbox{
		Inbox:   filepath.Join(root, "inbox"),
		Success: filepath.Join(root, "success"),
		Error:   filepath.Join(root, "error"),
	}
	for _, d := range []string{m.Inbox, m.Success, m.Error} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	return m
}

// DriverReply tells the fake driver what to do with a command. An empty
// Error moves the command to the success outbox; otherwise Error is written
// to the error outbox as the artifact's content. Ignore leaves the command
// in the inbox.
type DriverReply struct {
	Error  string
	Ignore bool
}

// FakeDriver imitates the fiscal driver: it watches the inbox and moves each
// command into one of the outboxes.
type FakeDriver struct {
	box     Mailbox
	reply   func(name, command string) DriverReply
	mu      sync.Mutex
	seen    map[string]string
	cancel  context.CancelFunc
	stopped chan struct{}
}

// StartFakeDriver runs a FakeDriver until the test ends.
func StartFakeDriver(t *testing.T, box Mailbox, reply func(name, command string) DriverReply) *FakeDriver {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := &FakeDriver{
		box:     box,
		reply:   reply,
		seen:    make(map[string]string),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go d.run(ctx)
	t.Cleanup(d.Stop)
	return d
}

// Stop halts the driver and waits for it to exit.
func (d *FakeDriver) Stop() {
	d.cancel()
	<-d.stopped
}

// Commands returns every command the driver picked up, keyed by file name.
func (d *FakeDriver) Commands() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.seen))
	for k, v := range d.seen {
		out[k] = v
	}
	return out
}

func (d *FakeDriver) run(ctx context.Context) {
	defer close(d.stopped)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *FakeDriver) sweep() {
	entries, err := os.ReadDir(d.box.Inbox)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".txt") {
			continue
		}
		d.mu.Lock()
		_, done := d.seen[name]
		d.mu.Unlock()
		if done {
			continue
		}

		src := filepath.Join(d.box.Inbox, name)
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.seen[name] = string(data)
		d.mu.Unlock()

		r := d.reply(name, string(data))
		switch {
		case r.Ignore:
		case r.Error != "":
			_ = os.WriteFile(filepath.Join(d.box.Error, name), []byte(r.Error), 0o644)
			_ = os.Remove(src)
		default:
			_ = os.Rename(src, filepath.Join(d.box.Success, name))
		}
	}
}

// DriverError formats an error artifact the way the driver does.
func DriverError(echo, message string) string {
	return echo + "\n-----------------\nExecution Log\n-----------------\n01/01/2025 12:00:01 PM - ERROR: " + message
}
