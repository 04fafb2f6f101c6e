// Package seed loads demo accounts and sample data.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/auth"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/shared"
)

// Demo account ids
const (
	AdminID    = "admin-001"
	TeacherID1 = "teacher-001"
	TeacherID2 = "teacher-002"
	StudentID1 = "student-001"
	StudentID2 = "student-002"
	StudentID3 = "student-003"

	// CommonPassword is the password of every demo account.
	CommonPassword = "password"

	SectionID = "grade10-rizal"
)

// UserStore persists user accounts.
type UserStore interface {
	InsertUser(ctx context.Context, u *shared.User) error
}

// DemoUsers returns the demo accounts without password hashes.
func DemoUsers(now time.Time) []shared.User {
	return []shared.User{
		{ID: AdminID, Name: "Registrar", Email: "admin@example.com", Role: shared.RoleAdmin, IsActive: true, CreatedAt: now},
		{ID: TeacherID1, Name: "Ms. Maria Santos", Email: "teacher@example.com", Role: shared.RoleTeacher, IsActive: true, CreatedAt: now},
		{ID: TeacherID2, Name: "Mr. Jose Reyes", Email: "teacher2@example.com", Role: shared.RoleTeacher, IsActive: true, CreatedAt: now},
		{ID: StudentID1, Name: "Juan Dela Cruz", Email: "student@example.com", Role: shared.RoleStudent, StudentID: "2024-00001", IsActive: true, CreatedAt: now},
		{ID: StudentID2, Name: "Ana Villanueva", Email: "student2@example.com", Role: shared.RoleStudent, StudentID: "2024-00002", IsActive: true, CreatedAt: now},
		{ID: StudentID3, Name: "Carlo Mendoza", Email: "student3@example.com", Role: shared.RoleStudent, StudentID: "2024-00003", IsActive: true, CreatedAt: now},
	}
}

// Users inserts the demo accounts. Accounts that already exist are kept.
// It returns the number of accounts created.
func Users(ctx context.Context, store UserStore, cost int, logger *zap.Logger) (int, error) {
	hash, err := auth.HashPassword(CommonPassword, cost)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, u := range DemoUsers(time.Now().UTC()) {
		u := u
		u.PasswordHash = hash
		err := store.InsertUser(ctx, &u)
		switch {
		case err == nil:
			created++
			logger.Info("seeded user", zap.String("role", u.Role), zap.String("email", u.Email))
		case errors.Is(err, shared.ErrConflict):
			logger.Info("user already present", zap.String("email", u.Email))
		default:
			return created, fmt.Errorf("seeding user %s: %w", u.Email, err)
		}
	}
	return created, nil
}

// Workload holds the services the sample data is written through.
type Workload struct {
	Grades   *grade.Service
	Requests *request.Service
}

type itemSeed struct {
	category string
	name     string
	maxScore float64
}

// Sample writes a configured subject with scores for every demo student,
// verifies the first student's record, and files two document requests.
func Sample(ctx context.Context, w Workload, schoolYear string) error {
	admin := shared.Identity{ID: AdminID, Role: shared.RoleAdmin, Name: "Registrar"}
	teacher := shared.Identity{ID: TeacherID1, Role: shared.RoleTeacher, Name: "Ms. Maria Santos"}

	// --- 1. Grade configuration ---
	key := shared.GradeConfigKey{SectionID: SectionID, SubjectID: "math", Quarter: 1, TeacherID: TeacherID1}
	cfg, err := w.Grades.GetOrCreateConfiguration(ctx, teacher, key)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if len(cfg.WrittenWork)+len(cfg.PerformanceTasks)+len(cfg.QuarterlyAssessment) == 0 {
		items := []itemSeed{
			{shared.CategoryWrittenWork, "Quiz 1", 20},
			{shared.CategoryWrittenWork, "Quiz 2", 20},
			{shared.CategoryPerformanceTasks, "Project", 50},
			{shared.CategoryQuarterlyAssessment, "Quarterly Exam", 100},
		}
		for _, it := range items {
			if _, err := w.Grades.AddItem(ctx, teacher, key, grade.AddItemInput{
				Category: it.category, Name: it.name, MaxScore: it.maxScore,
			}); err != nil {
				return fmt.Errorf("grade item %s: %w", it.name, err)
			}
		}
	}

	// --- 2. Scores ---
	scores := map[string][]struct {
		category string
		index    int
		score    float64
	}{
		StudentID1: {{shared.CategoryWrittenWork, 0, 18}, {shared.CategoryWrittenWork, 1, 16}, {shared.CategoryPerformanceTasks, 0, 45}, {shared.CategoryQuarterlyAssessment, 0, 88}},
		StudentID2: {{shared.CategoryWrittenWork, 0, 15}, {shared.CategoryPerformanceTasks, 0, 40}, {shared.CategoryQuarterlyAssessment, 0, 79}},
		StudentID3: {{shared.CategoryWrittenWork, 0, 12}, {shared.CategoryWrittenWork, 1, 19}},
	}
	for studentID, entries := range scores {
		for _, e := range entries {
			v := e.score
			_, err := w.Grades.SetScore(ctx, teacher, grade.ScoreInput{
				StudentID: studentID, SectionID: SectionID, SubjectID: "math", SchoolYear: schoolYear, Quarter: 1,
				Category: e.category, ItemIndex: e.index, Score: &v,
			})
			if errors.Is(err, shared.ErrVerificationLocked) {
				break
			}
			if err != nil {
				return fmt.Errorf("score for %s: %w", studentID, err)
			}
		}
	}

	// --- 3. Release one record ---
	if _, err := w.Grades.Verify(ctx, admin, shared.GradeRecordKey{
		StudentID: StudentID1, SectionID: SectionID, SubjectID: "math", SchoolYear: schoolYear, Quarter: 1,
	}); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	// --- 4. Document requests ---
	student := shared.Identity{ID: StudentID1, Role: shared.RoleStudent, Name: "Juan Dela Cruz"}
	req, err := w.Requests.Create(ctx, student, request.NewRequest{
		DocumentType: request.DocForm137, Purpose: "College application",
	})
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	tentative := time.Now().UTC().AddDate(0, 0, 5).Truncate(24 * time.Hour)
	if _, err := w.Requests.Transition(ctx, admin, req.RequestID, request.Change{
		Status: shared.RequestProcessing, TentativeDate: &tentative,
	}); err != nil {
		return fmt.Errorf("request transition: %w", err)
	}

	if _, err := w.Requests.Create(ctx, admin, request.NewRequest{
		StudentID: StudentID2, DocumentType: request.DocGoodMoral, Purpose: "Scholarship", IsUrgent: true,
	}); err != nil {
		return fmt.Errorf("request: %w", err)
	}
	return nil
}
