package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/signdesk-backend/internal/models"
	"github.com/Ananth-NQI/signdesk-backend/internal/testutil"
)

func newSweeper(h *testutil.Harness, batch int) *ExpirationSweeper {
	s := NewExpirationSweeper(h.Store, h.Gateway, h.Notifier, SweeperConfig{Hour: 2, BatchSize: batch, GatewayTimeout: time.Second})
	s.Now = h.Clock.Now
	return s
}

func TestSweepExpiresOnlyPastDeadline(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	session := h.Session(t, created.SessionID)
	sweeper := newSweeper(h, 10)

	h.Clock.Set(session.ExpiresAt.Add(-time.Second))
	report, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Equal(t, models.SessionStatusPending, h.Session(t, created.SessionID).Status)

	h.Clock.Set(session.ExpiresAt.Add(time.Second))
	report, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	expired := h.Session(t, created.SessionID)
	assert.Equal(t, models.SessionStatusExpired, expired.Status)
	require.NotNil(t, expired.ExpiredAt)
	assert.Equal(t, []string{created.EnvelopeID}, h.Gateway.Cancelled())
	assert.Equal(t, 1, h.NotificationsOfType(created.SessionID, models.NotificationSessionExpired))
}

func TestSweepIsIdempotent(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	sweeper := newSweeper(h, 10)
	h.Clock.Advance(8 * 24 * time.Hour)

	first, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	second, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Expired)
	assert.Zero(t, second.Expired)
	assert.Zero(t, second.Scanned)
	assert.Equal(t, 1, h.NotificationsOfType(created.SessionID, models.NotificationSessionExpired))
}

func TestSweepWorksInBatches(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		h.CreateSession(t, fmt.Sprintf("txn-%d", i), "a@example.com")
	}
	completed := h.CreateSession(t, "txn-done", "a@example.com")
	_, err := h.Deliver(t, models.ProviderEvent{EnvelopeID: completed.EnvelopeID, Type: "envelope.completed"})
	require.NoError(t, err)

	h.Clock.Advance(8 * 24 * time.Hour)
	report, err := newSweeper(h, 3).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Expired)
	assert.Equal(t, 7, report.Scanned)
	assert.Equal(t, models.SessionStatusCompleted, h.Session(t, completed.SessionID).Status)
}

func TestSweepCancelFailureStillExpires(t *testing.T) {
	h := testutil.NewHarness(t)
	ctx := context.Background()
	created := h.CreateSession(t, "txn-1", "a@example.com")
	h.Gateway.CancelErr = assert.AnError
	h.Clock.Advance(8 * 24 * time.Hour)

	report, err := newSweeper(h, 10).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.CancelFailures)
	assert.Equal(t, models.SessionStatusExpired, h.Session(t, created.SessionID).Status)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	h := testutil.NewHarness(t)
	h.CreateSession(t, "txn-1", "a@example.com")
	h.Clock.Advance(8 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSweeper(h, 10).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 1, 1, 30, 0, 0, loc), time.Date(2024, 3, 1, 2, 0, 0, 0, loc)},
		{time.Date(2024, 3, 1, 2, 0, 0, 0, loc), time.Date(2024, 3, 2, 2, 0, 0, 0, loc)},
		{time.Date(2024, 3, 31, 23, 0, 0, 0, loc), time.Date(2024, 4, 1, 2, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextRun(tt.now, 2))
	}
}

func TestStartStop(t *testing.T) {
	h := testutil.NewHarness(t)
	sweeper := newSweeper(h, 10)

	sweeper.Start(context.Background())
	sweeper.Start(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	sweeper.Stop()
}
