package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/push"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/memory"
)

type recordingPusher struct {
	mu    sync.Mutex
	sent  []push.Message
	users []string
	err   error
	delay time.Duration
}

func (p *recordingPusher) Send(ctx context.Context, userID string, msg push.Message) (push.Result, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return push.Result{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return push.Result{Failed: 1}, p.err
	}
	p.sent = append(p.sent, msg)
	p.users = append(p.users, userID)
	return push.Result{Sent: 1}, nil
}

func (p *recordingPusher) messages() []push.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]push.Message(nil), p.sent...)
}

type failingRepo struct {
	*memory.Store
}

func (failingRepo) InsertNotification(context.Context, *shared.Notification) error {
	return errors.New("connection reset")
}

var (
	alice = shared.Identity{ID: "student-alice", Role: shared.RoleStudent, Name: "Alice"}
	bob   = shared.Identity{ID: "student-bob", Role: shared.RoleStudent, Name: "Bob"}
)

func input(studentID, relatedID string) shared.NotificationInput {
	return shared.NotificationInput{
		StudentID: studentID,
		Type:      shared.NotifyRequestStatus,
		Title:     "Request update",
		Message:   "Your request is now processing.",
		RelatedID: relatedID,
	}
}

func TestNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("persists unread and pushes with a time-unique tag", func(t *testing.T) {
		store := memory.NewStore()
		pusher := &recordingPusher{}
		svc := NewService(store, pusher, metrics.New(false), zap.NewNop(), time.Second)

		n1, err := svc.Notify(ctx, input(alice.ID, "REQ-2025-0001"))
		require.NoError(t, err)
		n2, err := svc.Notify(ctx, input(alice.ID, "REQ-2025-0001"))
		require.NoError(t, err)
		require.NoError(t, svc.Flush(ctx))

		assert.False(t, n1.IsRead)
		assert.Equal(t, shared.PriorityNormal, n1.Priority)
		assert.NotEqual(t, n1.ID, n2.ID)

		msgs := pusher.messages()
		require.Len(t, msgs, 2)
		assert.NotEqual(t, msgs[0].Tag, msgs[1].Tag)
		for _, m := range msgs {
			assert.True(t, strings.HasPrefix(m.Tag, "request_status-REQ-2025-0001-"), m.Tag)
		}

		count, err := svc.UnreadCount(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("push failure does not fail notify", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewService(store, &recordingPusher{err: errors.New("gone")}, metrics.New(false), zap.NewNop(), time.Second)

		n, err := svc.Notify(ctx, input(alice.ID, "r1"))
		require.NoError(t, err)
		require.NoError(t, svc.Flush(ctx))

		list, err := svc.List(ctx, alice, false, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, n.ID, list[0].ID)
	})

	t.Run("notify does not wait for the push transport", func(t *testing.T) {
		pusher := &recordingPusher{delay: 300 * time.Millisecond}
		svc := NewService(memory.NewStore(), pusher, nil, zap.NewNop(), time.Second)

		start := time.Now()
		_, err := svc.Notify(ctx, input(alice.ID, "r1"))
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 200*time.Millisecond)
		assert.Empty(t, pusher.messages())

		require.NoError(t, svc.Flush(ctx))
		assert.Len(t, pusher.messages(), 1)
	})

	t.Run("flush honours its context", func(t *testing.T) {
		svc := NewService(memory.NewStore(), &recordingPusher{delay: time.Second}, nil, zap.NewNop(), 2*time.Second)
		_, err := svc.Notify(ctx, input(alice.ID, "r1"))
		require.NoError(t, err)

		fctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, svc.Flush(fctx), context.DeadlineExceeded)
		require.NoError(t, svc.Flush(ctx))
	})

	t.Run("skip push persists only", func(t *testing.T) {
		pusher := &recordingPusher{}
		svc := NewService(memory.NewStore(), pusher, nil, zap.NewNop(), time.Second)
		in := input(alice.ID, "r1")
		in.SkipPush = true

		_, err := svc.Notify(ctx, in)
		require.NoError(t, err)
		require.NoError(t, svc.Flush(ctx))
		assert.Empty(t, pusher.messages())
	})

	t.Run("persistence failure propagates as unavailable", func(t *testing.T) {
		pusher := &recordingPusher{}
		svc := NewService(failingRepo{memory.NewStore()}, pusher, nil, zap.NewNop(), time.Second)

		_, err := svc.Notify(ctx, input(alice.ID, "r1"))
		assert.True(t, errors.Is(err, shared.ErrUnavailable))
		require.NoError(t, svc.Flush(ctx))
		assert.Empty(t, pusher.messages())
	})

	t.Run("invalid input is a validation error", func(t *testing.T) {
		svc := NewService(memory.NewStore(), nil, nil, zap.NewNop(), time.Second)
		in := input("", "r1")
		in.Priority = "urgent"

		_, err := svc.Notify(ctx, in)
		var e *shared.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, shared.KindValidation, e.Kind)
		assert.Len(t, e.Fields, 2)
	})
}

func TestReadState(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewStore(), nil, nil, zap.NewNop(), time.Second)

	a1, err := svc.Notify(ctx, input(alice.ID, "r1"))
	require.NoError(t, err)
	a2, err := svc.Notify(ctx, input(alice.ID, "r2"))
	require.NoError(t, err)
	b1, err := svc.Notify(ctx, input(bob.ID, "r3"))
	require.NoError(t, err)

	t.Run("another student's notification is not found", func(t *testing.T) {
		assert.True(t, errors.Is(svc.MarkRead(ctx, alice, b1.ID), shared.ErrNotFound))
		_, err := svc.BulkMarkRead(ctx, alice, []string{b1.ID})
		assert.True(t, errors.Is(err, shared.ErrNotFound))
		_, err = svc.BulkDelete(ctx, alice, []string{b1.ID})
		assert.True(t, errors.Is(err, shared.ErrNotFound))

		count, err := svc.UnreadCount(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("mark read and unread", func(t *testing.T) {
		require.NoError(t, svc.MarkRead(ctx, alice, a1.ID))
		unread, err := svc.List(ctx, alice, true, 0)
		require.NoError(t, err)
		require.Len(t, unread, 1)
		assert.Equal(t, a2.ID, unread[0].ID)

		require.NoError(t, svc.MarkUnread(ctx, alice, a1.ID))
		count, err := svc.UnreadCount(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("bulk read ignores foreign and repeated ids", func(t *testing.T) {
		n, err := svc.BulkMarkRead(ctx, alice, []string{a1.ID, a1.ID, b1.ID, a1.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("mark all read", func(t *testing.T) {
		n, err := svc.MarkAllRead(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		count, err := svc.UnreadCount(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("bulk delete", func(t *testing.T) {
		_, err := svc.BulkDelete(ctx, alice, nil)
		assert.True(t, errors.Is(err, shared.ErrValidation))
		_, err = svc.BulkDelete(ctx, alice, []string{"", ""})
		assert.True(t, errors.Is(err, shared.ErrValidation))

		n, err := svc.BulkDelete(ctx, alice, []string{a1.ID, a2.ID, a2.ID, b1.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		list, err := svc.List(ctx, alice, false, 0)
		require.NoError(t, err)
		assert.Empty(t, list)

		list, err = svc.List(ctx, bob, false, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
