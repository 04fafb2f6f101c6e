package memory

import (
	"context"
	"sort"
	"time"

	"school_portal/backend/internal/shared"
)

// ============================================================================
// Users & Sessions
// ============================================================================

func (s *Store) InsertUser(_ context.Context, u *shared.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.ID == u.ID || existing.Email == u.Email {
			return shared.ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*shared.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) FindUserByIdentifier(_ context.Context, identifier string) (*shared.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == identifier || (u.StudentID != "" && u.StudentID == identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *Store) InsertSession(_ context.Context, sess *shared.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) FindSession(_ context.Context, id string) (*shared.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return 0, nil
	}
	delete(s.sessions, id)
	return 1, nil
}

// ============================================================================
// Login Attempts
// ============================================================================

func (s *Store) GetLoginAttempt(_ context.Context, identifier string) (*shared.LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[identifier]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) RecordLoginFailure(_ context.Context, identifier string, now time.Time, window time.Duration) (*shared.LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[identifier]
	if !ok || a.WindowStart.Before(now.Add(-window)) {
		a = &shared.LoginAttempt{Identifier: identifier, WindowStart: now}
		s.attempts[identifier] = a
	}
	a.Count++
	cp := *a
	return &cp, nil
}

func (s *Store) ClearLoginAttempts(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, identifier)
	return nil
}

// ============================================================================
// Settings & Audit
// ============================================================================

func (s *Store) GetSetting(_ context.Context, key string) (*shared.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListSettings(_ context.Context) ([]shared.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]shared.Setting, 0, len(s.settings))
	for _, st := range s.settings {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) PutSettings(_ context.Context, settings []shared.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range settings {
		s.settings[st.Key] = st
	}
	return nil
}

func (s *Store) InsertAuditLog(_ context.Context, entry shared.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, userID string, limit int64) ([]shared.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []shared.AuditLog
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		e := s.auditLogs[i]
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}
