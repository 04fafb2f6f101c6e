// ============================================================================
// backend/internal/shared/models.go
// Shared data models and structs for MongoDB documents
// ============================================================================

package shared

import (
	"time"
)

// ============================================================================
// Identity & User Models
// ============================================================================

// Identity is the acting user as supplied by the auth collaborator.
// The core trusts it.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// IsStaff reports whether the identity may act on grades and requests.
func (i Identity) IsStaff() bool {
	return i.Role == RoleAdmin || i.Role == RoleTeacher
}

// User represents a user account (student, teacher, or admin)
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password_hash" json:"-"` // Never expose in JSON
	Role         string    `bson:"role" json:"role"`       // student, teacher, admin
	Name         string    `bson:"name" json:"name"`
	StudentID    string    `bson:"student_id,omitempty" json:"student_id,omitempty"` // LRN / school number
	IsActive     bool      `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Identity returns the acting identity for the user.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Role: u.Role, Name: u.Name}
}

// Session represents an active user session (for JWT tracking)
type Session struct {
	ID        string    `bson:"_id" json:"id"` // JWT jti
	UserID    string    `bson:"user_id" json:"user_id"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	IPAddress string    `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
}

// IsExpired checks if a session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// LoginAttempt is the per-identity failed login counter.
type LoginAttempt struct {
	Identifier  string    `bson:"_id" json:"identifier"`
	Count       int       `bson:"count" json:"count"`
	WindowStart time.Time `bson:"window_start" json:"window_start"`
}

// LockedUntil returns the end of the lockout, or the zero time when the
// identity is not locked at now.
func (a *LoginAttempt) LockedUntil(now time.Time, maxAttempts int, window time.Duration) time.Time {
	if a == nil || maxAttempts <= 0 || a.Count < maxAttempts {
		return time.Time{}
	}
	until := a.WindowStart.Add(window)
	if !until.After(now) {
		return time.Time{}
	}
	return until
}

// ============================================================================
// Grade Models
// ============================================================================

// GradeItem is a single scored item definition.
type GradeItem struct {
	ID       string  `bson:"id" json:"id"`
	Name     string  `bson:"name" json:"name"`
	MaxScore float64 `bson:"max_score" json:"maxScore"`
}

// GradeConfigKey identifies a grade configuration.
type GradeConfigKey struct {
	SectionID string `json:"sectionId" validate:"required"`
	SubjectID string `json:"subjectId" validate:"required"`
	Quarter   int    `json:"quarter" validate:"min=1,max=4"`
	TeacherID string `json:"teacherId" validate:"required"`
}

// GradeConfiguration holds the item definitions of one
// (section, subject, quarter, teacher).
type GradeConfiguration struct {
	ID                  string      `bson:"_id" json:"id"`
	SectionID           string      `bson:"section_id" json:"sectionId"`
	SubjectID           string      `bson:"subject_id" json:"subjectId"`
	Quarter             int         `bson:"quarter" json:"quarter"`
	TeacherID           string      `bson:"teacher_id" json:"teacherId"`
	WrittenWork         []GradeItem `bson:"written_work" json:"writtenWork"`
	PerformanceTasks    []GradeItem `bson:"performance_tasks" json:"performanceTasks"`
	QuarterlyAssessment []GradeItem `bson:"quarterly_assessment" json:"quarterlyAssessment"`
	CreatedAt           time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt           time.Time   `bson:"updated_at" json:"updatedAt"`
}

// Key returns the identifying key of the configuration.
func (c *GradeConfiguration) Key() GradeConfigKey {
	return GradeConfigKey{SectionID: c.SectionID, SubjectID: c.SubjectID, Quarter: c.Quarter, TeacherID: c.TeacherID}
}

// Items returns the item definitions of a category.
func (c *GradeConfiguration) Items(category string) []GradeItem {
	switch category {
	case CategoryWrittenWork:
		return c.WrittenWork
	case CategoryPerformanceTasks:
		return c.PerformanceTasks
	case CategoryQuarterlyAssessment:
		return c.QuarterlyAssessment
	}
	return nil
}

// SetItems replaces the item definitions of a category.
func (c *GradeConfiguration) SetItems(category string, items []GradeItem) {
	switch category {
	case CategoryWrittenWork:
		c.WrittenWork = items
	case CategoryPerformanceTasks:
		c.PerformanceTasks = items
	case CategoryQuarterlyAssessment:
		c.QuarterlyAssessment = items
	}
}

// GradeRecordKey identifies a grade record.
type GradeRecordKey struct {
	StudentID  string `json:"studentId" validate:"required"`
	SectionID  string `json:"sectionId" validate:"required"`
	SubjectID  string `json:"subjectId" validate:"required"`
	SchoolYear string `json:"schoolYear" validate:"required"`
	Quarter    int    `json:"quarter" validate:"min=1,max=4"`
}

// Scores are raw item scores, index-aligned with the configuration items.
// A nil entry is an unscored item.
type Scores struct {
	WrittenWork         []*float64 `bson:"written_work" json:"writtenWork"`
	PerformanceTasks    []*float64 `bson:"performance_tasks" json:"performanceTasks"`
	QuarterlyAssessment []*float64 `bson:"quarterly_assessment" json:"quarterlyAssessment"`
}

// Category returns the score array of a category.
func (s *Scores) Category(category string) []*float64 {
	switch category {
	case CategoryWrittenWork:
		return s.WrittenWork
	case CategoryPerformanceTasks:
		return s.PerformanceTasks
	case CategoryQuarterlyAssessment:
		return s.QuarterlyAssessment
	}
	return nil
}

// SetCategory replaces the score array of a category.
func (s *Scores) SetCategory(category string, scores []*float64) {
	switch category {
	case CategoryWrittenWork:
		s.WrittenWork = scores
	case CategoryPerformanceTasks:
		s.PerformanceTasks = scores
	case CategoryQuarterlyAssessment:
		s.QuarterlyAssessment = scores
	}
}

// Clone returns a deep copy of the scores.
func (s Scores) Clone() Scores {
	cp := func(in []*float64) []*float64 {
		if in == nil {
			return nil
		}
		out := make([]*float64, len(in))
		for i, v := range in {
			if v != nil {
				f := *v
				out[i] = &f
			}
		}
		return out
	}
	return Scores{
		WrittenWork:         cp(s.WrittenWork),
		PerformanceTasks:    cp(s.PerformanceTasks),
		QuarterlyAssessment: cp(s.QuarterlyAssessment),
	}
}

// Averages are derived category percentages and the weighted final grade.
type Averages struct {
	WrittenWork         float64 `bson:"written_work" json:"writtenWork"`
	PerformanceTasks    float64 `bson:"performance_tasks" json:"performanceTasks"`
	QuarterlyAssessment float64 `bson:"quarterly_assessment" json:"quarterlyAssessment"`
	FinalGrade          float64 `bson:"final_grade" json:"finalGrade"`
}

// GradeRecord is one student's scores for a subject in a quarter.
type GradeRecord struct {
	ID         string     `bson:"_id" json:"id"`
	StudentID  string     `bson:"student_id" json:"studentId"`
	SectionID  string     `bson:"section_id" json:"sectionId"`
	SubjectID  string     `bson:"subject_id" json:"subjectId"`
	SchoolYear string     `bson:"school_year" json:"schoolYear"`
	Quarter    int        `bson:"quarter" json:"quarter"`
	TeacherID  string     `bson:"teacher_id,omitempty" json:"teacherId,omitempty"`
	Scores     Scores     `bson:"scores" json:"scores"`
	Averages   Averages   `bson:"averages" json:"averages"`
	Verified   bool       `bson:"verified" json:"verified"`
	VerifiedBy string     `bson:"verified_by,omitempty" json:"verifiedBy,omitempty"`
	VerifiedAt *time.Time `bson:"verified_at,omitempty" json:"verifiedAt,omitempty"`
	Version    int64      `bson:"version" json:"version"`
	UpdatedBy  string     `bson:"updated_by,omitempty" json:"updatedBy,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updatedAt"`
}

// Key returns the identifying key of the record.
func (r *GradeRecord) Key() GradeRecordKey {
	return GradeRecordKey{
		StudentID:  r.StudentID,
		SectionID:  r.SectionID,
		SubjectID:  r.SubjectID,
		SchoolYear: r.SchoolYear,
		Quarter:    r.Quarter,
	}
}

// GradeRecordFilter selects grade records. Empty fields match anything.
type GradeRecordFilter struct {
	StudentID    string
	SectionID    string
	SubjectID    string
	SchoolYear   string
	Quarter      int
	TeacherID    string
	VerifiedOnly bool
}

// ============================================================================
// Document Request Models
// ============================================================================

// DocumentRequest is a student's request for a school document.
type DocumentRequest struct {
	ID              string     `bson:"_id" json:"id"`
	RequestID       string     `bson:"request_id" json:"requestId"` // REQ-<year>-<seq>
	StudentID       string     `bson:"student_id" json:"studentId"`
	DocumentType    string     `bson:"document_type" json:"documentType"`
	Purpose         string     `bson:"purpose" json:"purpose"`
	SubmittedDate   time.Time  `bson:"submitted_date" json:"submittedDate"`
	PaymentAmount   float64    `bson:"payment_amount" json:"paymentAmount"`
	PaymentStatus   string     `bson:"payment_status" json:"paymentStatus"`
	Status          string     `bson:"status" json:"status"`
	TentativeDate   *time.Time `bson:"tentative_date" json:"tentativeDate"`
	IsUrgent        bool       `bson:"is_urgent" json:"isUrgent"`
	ProcessedBy     *string    `bson:"processed_by" json:"processedBy"`
	ProcessedByID   *string    `bson:"processed_by_id" json:"processedById"`
	RejectionReason string     `bson:"rejection_reason,omitempty" json:"rejectionReason,omitempty"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updatedAt"`
}

// IsTerminal reports whether the request can no longer change status.
func (r *DocumentRequest) IsTerminal() bool {
	return r.Status == RequestReleased || r.Status == RequestRejected
}

// RequestUpdate is a status write applied conditionally on the status read.
type RequestUpdate struct {
	Status          string
	TentativeDate   *time.Time
	PaymentStatus   string // empty keeps the current value
	RejectionReason string
	ClaimBy         string // processed_by, only if unset
	ClaimByID       string // processed_by_id, only if unset
	UpdatedAt       time.Time
}

// RequestFilter selects document requests. Empty fields match anything.
type RequestFilter struct {
	StudentID string
	Status    string
	Limit     int64
}

// ============================================================================
// Notification Models
// ============================================================================

// Notification is a persisted in-app notification.
type Notification struct {
	ID        string     `bson:"_id" json:"id"`
	StudentID string     `bson:"student_id" json:"studentId"`
	Type      string     `bson:"type" json:"type"`
	Title     string     `bson:"title" json:"title"`
	Message   string     `bson:"message" json:"message"`
	Priority  string     `bson:"priority" json:"priority"`
	IsRead    bool       `bson:"is_read" json:"isRead"`
	RelatedID string     `bson:"related_id,omitempty" json:"relatedId,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	ReadAt    *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
}

// NotificationInput is a notification to fan out to one student.
type NotificationInput struct {
	StudentID string `json:"studentId" validate:"required"`
	Type      string `json:"type" validate:"required"`
	Title     string `json:"title" validate:"notblank,max=200"`
	Message   string `json:"message" validate:"notblank,max=2000"`
	Priority  string `json:"priority" validate:"omitempty,oneof=low normal high"`
	RelatedID string `json:"relatedId"`
	SkipPush  bool   `json:"-"`
}

// ============================================================================
// System Settings & Audit Models
// ============================================================================

// Setting is a stored settings value in its string form.
type Setting struct {
	Key       string    `bson:"_id" json:"key"`
	Value     string    `bson:"value" json:"value"`
	UpdatedBy string    `bson:"updated_by,omitempty" json:"updatedBy,omitempty"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        string                 `bson:"_id" json:"id"`
	Timestamp time.Time              `bson:"timestamp" json:"timestamp"`
	UserID    string                 `bson:"user_id" json:"user_id"`
	Role      string                 `bson:"role,omitempty" json:"role,omitempty"`
	Action    string                 `bson:"action" json:"action"`
	Details   map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
}

// ============================================================================
// Validation Constants
// ============================================================================

const (
	// User roles
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"

	// Grade categories
	CategoryWrittenWork         = "written_work"
	CategoryPerformanceTasks    = "performance_tasks"
	CategoryQuarterlyAssessment = "quarterly_assessment"

	// Document request statuses
	RequestOnHold     = "on_hold"
	RequestVerifying  = "verifying"
	RequestProcessing = "processing"
	RequestForPickup  = "for_pickup"
	RequestReleased   = "released"
	RequestRejected   = "rejected"

	// Payment statuses
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentWaived  = "waived"

	// Notification priorities
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"

	// Notification types
	NotifyGradeRelease     = "grade_release"
	NotifyRequestSubmitted = "request_submitted"
	NotifyRequestStatus    = "request_status"
	NotifyRequestRejected  = "request_rejected"

	// Audit actions
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionLoginLocked      = "login_locked"
	ActionGradeVerify      = "grade_verify"
	ActionRequestCreate    = "request_create"
	ActionRequestTransit   = "request_transition"
	ActionRequestReject    = "request_reject"
	ActionConfigChange     = "config_change"
	ActionGradeItemChange  = "grade_item_change"
	ActionNotificationsDel = "notifications_delete"
)

// Categories lists the grade categories in weight order.
var Categories = []string{CategoryWrittenWork, CategoryPerformanceTasks, CategoryQuarterlyAssessment}

// IsValidCategory checks if category is a known grade category
func IsValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// IsValidRole checks if user role is valid
func IsValidRole(role string) bool {
	validRoles := map[string]bool{
		RoleStudent: true, RoleTeacher: true, RoleAdmin: true,
	}
	return validRoles[role]
}

// IsValidPaymentStatus checks if payment status is valid
func IsValidPaymentStatus(s string) bool {
	return s == PaymentPending || s == PaymentPaid || s == PaymentWaived
}
