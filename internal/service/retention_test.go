package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/projtrack/config"
	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/internal/testutil"
	"github.com/d60-Lab/projtrack/pkg/id"
)

func seed(t *testing.T, h *harness, recipient string, n int, start time.Time) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		nt := &model.Notification{
			ID:               id.At(at),
			RecipientID:      recipient,
			Fingerprint:      strPtr(fmt.Sprintf("%s-%d", recipient, i)),
			Kind:             model.KindCommentMention,
			CreatedAt:        at,
			DispatchRecordID: id.At(at),
		}
		require.NoError(t, h.db.Create(nt).Error)
		ids = append(ids, nt.ID)
	}
	return ids
}

func strPtr(s string) *string { return &s }

func TestSweepKeepsNewestPerRecipient(t *testing.T) {
	h := newHarness(t, config.DefaultDispatchConfig())
	ctx := context.Background()
	const maxPerUser = 10

	ids := seed(t, h, "u1", maxPerUser+5, t0)
	seed(t, h, "u2", 3, t0)

	s := NewRetentionSweeper(h.notifications, config.RetentionConfig{MaxPerUser: maxPerUser}).WithClock(h.clock.Now)
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Trimmed)
	assert.Equal(t, 1, res.RecipientsTrimmed)

	left, err := h.notifications.ListByRecipient(ctx, "u1", 100)
	require.NoError(t, err)
	require.Len(t, left, maxPerUser)
	assert.Equal(t, ids[len(ids)-1], left[0].ID)
	assert.Equal(t, ids[5], left[len(left)-1].ID)

	cnt, err := h.notifications.CountByRecipient(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, cnt)
}

func TestSweepMaxAge(t *testing.T) {
	h := newHarness(t, config.DefaultDispatchConfig())
	ctx := context.Background()

	seed(t, h, "u1", 10, t0)
	h.clock.Advance(24*time.Hour + 5*time.Minute)

	s := NewRetentionSweeper(h.notifications, config.RetentionConfig{MaxAge: 24 * time.Hour}).WithClock(h.clock.Now)
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Expired)

	cnt, err := h.notifications.CountByRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, cnt)
}

func TestSweepWithoutThresholdsDeletesNothing(t *testing.T) {
	h := newHarness(t, config.DefaultDispatchConfig())
	ctx := context.Background()

	seed(t, h, "u1", 4, t0)
	h.clock.Advance(365 * 24 * time.Hour)

	s := NewRetentionSweeper(h.notifications, config.RetentionConfig{}).WithClock(h.clock.Now)
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)

	cnt, err := h.notifications.CountByRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, cnt)
}

func TestSweepNeverTouchesOutbox(t *testing.T) {
	h := newHarness(t, config.DefaultDispatchConfig())
	ctx := context.Background()

	h.publish(t, model.KindRoleChanged, []string{"u1"}, Metadata{})
	_, err := h.dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	h.clock.Advance(48 * time.Hour)

	s := NewRetentionSweeper(h.notifications, config.RetentionConfig{MaxAge: time.Hour, MaxPerUser: 1}).WithClock(h.clock.Now)
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Expired)

	st, err := h.outbox.Stats(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Dispatched)
}

type failingNotifications struct {
	repository.NotificationRepository
	calls chan struct{}
}

func (f failingNotifications) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return 0, fmt.Errorf("table locked")
}

func TestSweeperRunUsesRetryIntervalAfterError(t *testing.T) {
	calls := make(chan struct{}, 16)
	repo := failingNotifications{NotificationRepository: repository.NewNotificationRepository(testutil.NewDB(t)), calls: calls}
	s := NewRetentionSweeper(repo, config.RetentionConfig{
		SweepInterval: time.Hour,
		RetryInterval: 10 * time.Millisecond,
		MaxAge:        time.Hour,
	})

	stop := s.Start()
	for i := 0; i < 3; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("sweep %d did not retry", i+1)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, stop(ctx))
}
