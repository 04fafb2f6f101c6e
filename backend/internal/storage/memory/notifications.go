package memory

import (
	"context"
	"sort"
	"time"

	"school_portal/backend/internal/shared"
)

func (s *Store) InsertNotification(_ context.Context, n *shared.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[n.ID]; exists {
		return shared.ErrConflict
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (s *Store) SetNotificationsRead(_ context.Context, studentID string, ids []string, read bool, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched int64
	for _, id := range ids {
		n, ok := s.notifications[id]
		if !ok || n.StudentID != studentID {
			continue
		}
		matched++
		n.IsRead = read
		if read {
			n.ReadAt = copyTime(&at)
		} else {
			n.ReadAt = nil
		}
	}
	return matched, nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, studentID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modified int64
	for _, n := range s.notifications {
		if n.StudentID == studentID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = copyTime(&at)
			modified++
		}
	}
	return modified, nil
}

func (s *Store) DeleteNotifications(_ context.Context, studentID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if n, ok := s.notifications[id]; ok && n.StudentID == studentID {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) ListNotifications(_ context.Context, studentID string, unreadOnly bool, limit int64) ([]shared.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []shared.Notification
	for _, n := range s.notifications {
		if n.StudentID != studentID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *cloneNotification(n))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, studentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.notifications {
		if n.StudentID == studentID && !n.IsRead {
			count++
		}
	}
	return count, nil
}
