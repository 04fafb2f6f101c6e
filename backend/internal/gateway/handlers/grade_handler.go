package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"school_portal/backend/internal/gateway/util"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/shared"
)

// GradeHandler exposes grade configurations, score entry and verification.
type GradeHandler struct {
	Grades *grade.Service
}

// configKey reads a configuration key from the query string. The teacher
// defaults to the caller for teachers.
func configKey(r *http.Request, user shared.Identity) (shared.GradeConfigKey, error) {
	q := r.URL.Query()
	quarter, err := util.QueryInt(r, "quarter", 0)
	if err != nil {
		return shared.GradeConfigKey{}, err
	}

	key := shared.GradeConfigKey{
		SectionID: q.Get("sectionId"),
		SubjectID: q.Get("subjectId"),
		Quarter:   quarter,
		TeacherID: q.Get("teacherId"),
	}
	if key.TeacherID == "" && user.Role == shared.RoleTeacher {
		key.TeacherID = user.ID
	}
	return key, nil
}

// recordKey reads a grade record key from the query string.
func recordKey(r *http.Request) (shared.GradeRecordKey, error) {
	q := r.URL.Query()
	quarter, err := util.QueryInt(r, "quarter", 0)
	if err != nil {
		return shared.GradeRecordKey{}, err
	}
	key := shared.GradeRecordKey{
		StudentID:  q.Get("studentId"),
		SectionID:  q.Get("sectionId"),
		SubjectID:  q.Get("subjectId"),
		SchoolYear: q.Get("schoolYear"),
		Quarter:    quarter,
	}
	return key, shared.ValidateStruct(key)
}

// GetConfiguration handles GET /grades/config
// Query Params: sectionId, subjectId, quarter, teacherId (optional for teachers)
func (h *GradeHandler) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, err := configKey(r, user)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	cfg, err := h.Grades.GetOrCreateConfiguration(r.Context(), user, key)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, cfg)
}

// AddItem handles POST /grades/config/items
func (h *GradeHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, err := configKey(r, user)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	var in grade.AddItemInput
	if err := util.DecodeJSON(r, &in); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	item, err := h.Grades.AddItem(r.Context(), user, key, in)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, item)
}

// UpdateItem handles PATCH /grades/config/items/{itemId}
func (h *GradeHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, err := configKey(r, user)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	var in grade.UpdateItemInput
	if err := util.DecodeJSON(r, &in); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	cfg, err := h.Grades.UpdateItem(r.Context(), user, key, chi.URLParam(r, "itemId"), in)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, cfg)
}

// RemoveItem handles DELETE /grades/config/items/{itemId}
func (h *GradeHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, err := configKey(r, user)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	if err := h.Grades.RemoveItem(r.Context(), user, key, chi.URLParam(r, "itemId")); err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteMessage(w, http.StatusOK, "Grade item removed")
}

// SetScore handles PUT /grades/scores
func (h *GradeHandler) SetScore(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in grade.ScoreInput
	if err := util.DecodeJSON(r, &in); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	rec, err := h.Grades.SetScore(r.Context(), user, in)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, rec)
}

// Verify handles POST /grades/verify
func (h *GradeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var key shared.GradeRecordKey
	if err := util.DecodeJSON(r, &key); err != nil {
		util.HandleServiceError(w, err)
		return
	}

	res, err := h.Grades.Verify(r.Context(), user, key)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, res)
}

// GetRecord handles GET /grades/record
// Query Params: studentId, sectionId, subjectId, schoolYear, quarter
func (h *GradeHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, err := recordKey(r)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	rec, err := h.Grades.GetRecord(r.Context(), user, key)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, rec)
}

// ListSection handles GET /grades/section
// Query Params: sectionId, subjectId, schoolYear, quarter (all but the first two optional)
func (h *GradeHandler) ListSection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	quarter, err := util.QueryInt(r, "quarter", 0)
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}

	records, err := h.Grades.ListSectionRecords(r.Context(), user, shared.GradeRecordFilter{
		SectionID:  q.Get("sectionId"),
		SubjectID:  q.Get("subjectId"),
		SchoolYear: q.Get("schoolYear"),
		Quarter:    quarter,
	})
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, records)
}

// ListStudent handles GET /grades
// Retrieves verified grades for the logged-in student, or for studentId
// when called by staff.
// Query Params: studentId (staff), schoolYear (optional)
func (h *GradeHandler) ListStudent(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	records, err := h.Grades.ListStudentRecords(r.Context(), user, q.Get("studentId"), q.Get("schoolYear"))
	if err != nil {
		util.HandleServiceError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, records)
}
