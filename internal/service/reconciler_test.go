package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/cassiomorais/fiscalbridge/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clockBase = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func setupReconciler(t *testing.T) (*Reconciler, *serviceFixture, *testutil.MockLocker) {
	t.Helper()
	f := setupReceiptService(t, 5)
	locker := testutil.NewMockLocker()
	r := NewReconciler(f.svc, f.corr, locker, ReconcilerConfig{Window: time.Hour}, f.metrics, zerolog.Nop())
	return r, f, locker
}

func TestReconciler_SettlesLateSuccess(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTimedOutReceipt("bon_20250101115900.txt", clockBase.Add(-time.Minute))
	f.receipts.AddReceipt(rc)
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Success, rc.ArtifactName), []byte(rc.Command), 0o644))

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := f.receipts.Get(rc.ID)
	assert.Equal(t, receipt.StatusPrinted, stored.Status)
	assert.Equal(t, []string{outbox.EventReceiptReconciled}, f.outbox.EventTypes())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.ReconciledTotal.WithLabelValues("succeeded")))
}

func TestReconciler_SettlesLateFailure(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTimedOutReceipt("bon_20250101115900.txt", clockBase.Add(-time.Minute))
	f.receipts.AddReceipt(rc)
	content := testutil.DriverError("I;Coffee ();1;5.00;1", "Fiscal memory full")
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Error, rc.ArtifactName), []byte(content), 0o644))

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored := f.receipts.Get(rc.ID)
	assert.Equal(t, receipt.StatusFailed, stored.Status)
	require.NotNil(t, stored.Details)
	assert.Equal(t, "Fiscal memory full", *stored.Details)
	assert.Equal(t, []string{outbox.EventReceiptFailed}, f.outbox.EventTypes())
}

func TestReconciler_LeavesAbsentReceipts(t *testing.T) {
	r, f, locker := setupReconciler(t)
	rc := testutil.NewTimedOutReceipt("bon_20250101115900.txt", clockBase.Add(-time.Minute))
	f.receipts.AddReceipt(rc)

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Equal(t, receipt.StatusTimedOut, f.receipts.Get(rc.ID).Status)
	assert.Empty(t, f.outbox.Entries())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.ReconciledTotal.WithLabelValues("absent")))
	assert.False(t, locker.Held("receipt:"+rc.ID.String()))
}

func TestReconciler_SkipsLockedReceipts(t *testing.T) {
	r, f, locker := setupReconciler(t)
	rc := testutil.NewTimedOutReceipt("bon_20250101115900.txt", clockBase.Add(-time.Minute))
	f.receipts.AddReceipt(rc)
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Success, rc.ArtifactName), []byte(rc.Command), 0o644))

	_, err := locker.TryLock(context.Background(), "receipt:"+rc.ID.String())
	require.NoError(t, err)

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Equal(t, receipt.StatusTimedOut, f.receipts.Get(rc.ID).Status)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.ReconciledTotal.WithLabelValues("locked")))
}

func TestReconciler_IgnoresReceiptsOutsideWindow(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTimedOutReceipt("bon_20250101090000.txt", clockBase.Add(-3*time.Hour))
	f.receipts.AddReceipt(rc)
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Success, rc.ArtifactName), []byte(rc.Command), 0o644))

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Equal(t, receipt.StatusTimedOut, f.receipts.Get(rc.ID).Status)
}

func TestReconciler_DoesNotTouchInbox(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTimedOutReceipt("bon_20250101115900.txt", clockBase.Add(-time.Minute))
	f.receipts.AddReceipt(rc)
	inboxPath := filepath.Join(f.box.Inbox, rc.ArtifactName)
	require.NoError(t, os.WriteFile(inboxPath, []byte(rc.Command), 0o644))

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(inboxPath)
	require.NoError(t, err)
	assert.Equal(t, rc.Command, string(data))
	entries, _ := os.ReadDir(f.box.Inbox)
	assert.Len(t, entries, 1)
}

func TestReconciler_SettlesAbandonedPending(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTestReceipt("bon_20250101115000.txt", clockBase.Add(-10*time.Minute))
	f.receipts.AddReceipt(rc)
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Success, rc.ArtifactName), []byte(rc.Command), 0o644))

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	assert.Equal(t, receipt.StatusPrinted, f.receipts.Get(rc.ID).Status)
	assert.Equal(t, []string{outbox.EventReceiptReconciled}, f.outbox.EventTypes())
}

func TestReconciler_AbandonedPendingWithoutResultTimesOut(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTestReceipt("bon_20250101115000.txt", clockBase.Add(-10*time.Minute))
	f.receipts.AddReceipt(rc)

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, receipt.StatusTimedOut, f.receipts.Get(rc.ID).Status)
	assert.Equal(t, []string{outbox.EventReceiptTimedOut}, f.outbox.EventTypes())
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.ReconciledTotal.WithLabelValues("abandoned")))

	// the next pass treats it as an ordinary late result
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Success, rc.ArtifactName), []byte(rc.Command), 0o644))
	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, receipt.StatusPrinted, f.receipts.Get(rc.ID).Status)
}

func TestReconciler_LeavesInFlightPending(t *testing.T) {
	r, f, _ := setupReconciler(t)
	rc := testutil.NewTestReceipt("bon_20250101115900.txt", clockBase.Add(-time.Minute))
	f.receipts.AddReceipt(rc)
	require.NoError(t, os.WriteFile(filepath.Join(f.box.Success, rc.ArtifactName), []byte(rc.Command), 0o644))

	settled, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.Equal(t, receipt.StatusPending, f.receipts.Get(rc.ID).Status)
	assert.Empty(t, f.outbox.Entries())
}

func TestReconciler_RunStopsWithContext(t *testing.T) {
	r, _, _ := setupReconciler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
