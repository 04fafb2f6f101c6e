// Package notification persists in-app notifications and fans them out to
// the push transport.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/push"
	"school_portal/backend/internal/shared"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBulkIDs       = 500
)

// Repository is the notification document store. Every mutation is
// scoped to studentID and returns the number of documents it touched.
type Repository interface {
	InsertNotification(ctx context.Context, n *shared.Notification) error
	SetNotificationsRead(ctx context.Context, studentID string, ids []string, read bool, at time.Time) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, studentID string, at time.Time) (int64, error)
	DeleteNotifications(ctx context.Context, studentID string, ids []string) (int64, error)
	ListNotifications(ctx context.Context, studentID string, unreadOnly bool, limit int64) ([]shared.Notification, error)
	CountUnreadNotifications(ctx context.Context, studentID string) (int64, error)
}

// Service is the notification fan-out.
type Service struct {
	repo        Repository
	pusher      push.Pusher
	metrics     *metrics.Metrics
	log         *zap.Logger
	pushTimeout time.Duration

	inflight sync.WaitGroup
	now      func() time.Time
}

// NewService creates a new notification Service instance. A nil pusher
// disables push delivery.
func NewService(repo Repository, pusher push.Pusher, m *metrics.Metrics, logger *zap.Logger, pushTimeout time.Duration) *Service {
	if pushTimeout <= 0 {
		pushTimeout = 5 * time.Second
	}
	return &Service{
		repo:        repo,
		pusher:      pusher,
		metrics:     m,
		log:         logger,
		pushTimeout: pushTimeout,
		now:         time.Now,
	}
}

// Notify persists an unread notification and then pushes it in the
// background. Persistence errors are returned; push errors never are.
func (s *Service) Notify(ctx context.Context, in shared.NotificationInput) (*shared.Notification, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = shared.PriorityNormal
	}

	now := s.now().UTC()
	n := &shared.Notification{
		ID:        shared.GenerateID(""),
		StudentID: in.StudentID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Priority:  in.Priority,
		IsRead:    false,
		RelatedID: in.RelatedID,
		CreatedAt: now,
	}

	// 1. Persist
	insertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.repo.InsertNotification(insertCtx, n); err != nil {
		return nil, shared.Unavailable("failed to store notification", err)
	}
	s.metrics.NotificationStored(n.Type)

	// 2. Push, detached from the caller
	if in.SkipPush || s.pusher == nil {
		s.metrics.Push("skipped", 1)
		return n, nil
	}

	msg := push.Message{
		Title: n.Title,
		Body:  n.Message,
		// Time-unique so clients do not collapse repeated notifications.
		Tag: fmt.Sprintf("%s-%s-%d", n.Type, n.RelatedID, now.UnixNano()),
		Data: map[string]string{
			"notificationId": n.ID,
			"type":           n.Type,
			"relatedId":      n.RelatedID,
			"priority":       n.Priority,
		},
	}

	s.inflight.Add(1)
	go s.deliver(n.StudentID, msg)

	return n, nil
}

func (s *Service) deliver(userID string, msg push.Message) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Push("error", 1)
			s.log.Error("push transport panicked", zap.String("user_id", userID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
	defer cancel()

	res, err := s.pusher.Send(ctx, userID, msg)
	s.metrics.Push("sent", res.Sent)
	s.metrics.Push("failed", res.Failed)
	if err != nil {
		s.metrics.Push("error", 1)
		s.log.Warn("push delivery failed",
			zap.String("user_id", userID),
			zap.String("tag", msg.Tag),
			zap.Error(err))
		return
	}
	if res.Failed > 0 {
		s.log.Info("push partially delivered",
			zap.String("user_id", userID),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed))
	}
}

// Flush waits for in-flight push deliveries or for ctx to end.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Read State (scoped to the requesting student)
// ============================================================================

func notificationNotFound() error {
	return shared.NotFound("notification not found")
}

func (s *Service) setRead(ctx context.Context, actor shared.Identity, id string, read bool) error {
	if id == "" {
		return shared.FieldsError(map[string]string{"id": "this field is required"})
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	matched, err := s.repo.SetNotificationsRead(queryCtx, actor.ID, []string{id}, read, s.now().UTC())
	if err != nil {
		return shared.Unavailable("failed to update notification", err)
	}
	if matched == 0 {
		return notificationNotFound()
	}
	return nil
}

// MarkRead marks one of the actor's notifications as read.
func (s *Service) MarkRead(ctx context.Context, actor shared.Identity, id string) error {
	return s.setRead(ctx, actor, id, true)
}

// MarkUnread marks one of the actor's notifications as unread.
func (s *Service) MarkUnread(ctx context.Context, actor shared.Identity, id string) error {
	return s.setRead(ctx, actor, id, false)
}

// MarkAllRead marks every unread notification of the actor as read.
func (s *Service) MarkAllRead(ctx context.Context, actor shared.Identity) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := s.repo.MarkAllNotificationsRead(queryCtx, actor.ID, s.now().UTC())
	if err != nil {
		return 0, shared.Unavailable("failed to update notifications", err)
	}
	return n, nil
}

// checkIDs validates a bulk id list and drops repeated and empty ids.
func checkIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, shared.FieldsError(map[string]string{"ids": "this field is required"})
	}
	if len(unique) > maxBulkIDs {
		return nil, shared.FieldsError(map[string]string{"ids": fmt.Sprintf("must contain at most %d ids", maxBulkIDs)})
	}
	return unique, nil
}

// BulkMarkRead marks the given notifications of the actor as read. Ids of
// other students are ignored; NotFound when none matched.
func (s *Service) BulkMarkRead(ctx context.Context, actor shared.Identity, ids []string) (int64, error) {
	ids, err := checkIDs(ids)
	if err != nil {
		return 0, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	matched, err := s.repo.SetNotificationsRead(queryCtx, actor.ID, ids, true, s.now().UTC())
	if err != nil {
		return 0, shared.Unavailable("failed to update notifications", err)
	}
	if matched == 0 {
		return 0, notificationNotFound()
	}
	return matched, nil
}

// BulkDelete deletes the given notifications of the actor.
func (s *Service) BulkDelete(ctx context.Context, actor shared.Identity, ids []string) (int64, error) {
	ids, err := checkIDs(ids)
	if err != nil {
		return 0, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	deleted, err := s.repo.DeleteNotifications(queryCtx, actor.ID, ids)
	if err != nil {
		return 0, shared.Unavailable("failed to delete notifications", err)
	}
	if deleted == 0 {
		return 0, notificationNotFound()
	}
	return deleted, nil
}

// List returns the actor's notifications, newest first.
func (s *Service) List(ctx context.Context, actor shared.Identity, unreadOnly bool, limit int64) ([]shared.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := s.repo.ListNotifications(queryCtx, actor.ID, unreadOnly, limit)
	if err != nil {
		return nil, shared.Unavailable("failed to retrieve notifications", err)
	}
	if list == nil {
		list = []shared.Notification{}
	}
	return list, nil
}

// UnreadCount returns the number of unread notifications of the actor.
func (s *Service) UnreadCount(ctx context.Context, actor shared.Identity) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n, err := s.repo.CountUnreadNotifications(queryCtx, actor.ID)
	if err != nil {
		return 0, shared.Unavailable("failed to count notifications", err)
	}
	return n, nil
}
