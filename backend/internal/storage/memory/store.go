// Package memory implements every repository in process memory. It backs
// the tests and STORAGE_DRIVER=memory development runs.
package memory

import (
	"sync"
	"time"

	"school_portal/backend/internal/shared"
)

// Store is safe for concurrent use. Values are copied on the way in and
// out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	configs       map[shared.GradeConfigKey]*shared.GradeConfiguration
	records       map[shared.GradeRecordKey]*shared.GradeRecord
	requests      map[string]*shared.DocumentRequest
	counters      map[string]int64
	notifications map[string]*shared.Notification
	settings      map[string]shared.Setting
	users         map[string]*shared.User
	sessions      map[string]*shared.Session
	attempts      map[string]*shared.LoginAttempt
	auditLogs     []shared.AuditLog
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		configs:       make(map[shared.GradeConfigKey]*shared.GradeConfiguration),
		records:       make(map[shared.GradeRecordKey]*shared.GradeRecord),
		requests:      make(map[string]*shared.DocumentRequest),
		counters:      make(map[string]int64),
		notifications: make(map[string]*shared.Notification),
		settings:      make(map[string]shared.Setting),
		users:         make(map[string]*shared.User),
		sessions:      make(map[string]*shared.Session),
		attempts:      make(map[string]*shared.LoginAttempt),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyItems(in []shared.GradeItem) []shared.GradeItem {
	out := make([]shared.GradeItem, len(in))
	copy(out, in)
	return out
}

func cloneConfig(c *shared.GradeConfiguration) *shared.GradeConfiguration {
	cp := *c
	cp.WrittenWork = copyItems(c.WrittenWork)
	cp.PerformanceTasks = copyItems(c.PerformanceTasks)
	cp.QuarterlyAssessment = copyItems(c.QuarterlyAssessment)
	return &cp
}

func cloneRecord(r *shared.GradeRecord) *shared.GradeRecord {
	cp := *r
	cp.Scores = r.Scores.Clone()
	cp.VerifiedAt = copyTime(r.VerifiedAt)
	return &cp
}

func cloneRequest(r *shared.DocumentRequest) *shared.DocumentRequest {
	cp := *r
	cp.TentativeDate = copyTime(r.TentativeDate)
	cp.ProcessedBy = copyString(r.ProcessedBy)
	cp.ProcessedByID = copyString(r.ProcessedByID)
	return &cp
}

func cloneNotification(n *shared.Notification) *shared.Notification {
	cp := *n
	cp.ReadAt = copyTime(n.ReadAt)
	return &cp
}
