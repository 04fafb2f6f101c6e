package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/auth"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/memory"
)

const testPassword = "Passw0rd!"

// TestEnv holds the router and the tokens of the seeded users
type TestEnv struct {
	Router       http.Handler
	Store        *memory.Store
	StudentToken string
	TeacherToken string
	AdminToken   string
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

// setupGatewayTestEnv wires every service on an in-memory store
func setupGatewayTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	m := metrics.New(false)

	rec := audit.NewRecorder(store, logger)
	st := settings.NewService(store, rec, logger)
	notifier := notification.NewService(store, nil, m, logger, time.Second)
	t.Cleanup(func() { _ = notifier.Flush(context.Background()) })

	authSvc := auth.NewService(store, shared.SecurityConfig{
		JWTSecret:          "gateway-test-secret",
		JWTExpirationHours: 1,
		BCryptCost:         bcrypt.MinCost,
	}, st, rec, m, logger)

	svc := Services{
		Auth: authSvc,
		Grades: grade.NewService(grade.Deps{
			Repo: store, Notifier: notifier, Audit: rec, Settings: st, Metrics: m, Log: logger,
		}),
		Requests: request.NewService(request.Deps{
			Repo: store, Notifier: notifier, Audit: rec, Settings: st, Metrics: m, Log: logger,
		}),
		Notifications: notifier,
		Settings:      st,
		Audit:         rec,
		Metrics:       m,
		Logger:        logger,
	}

	hash, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	users := []shared.User{
		{ID: "u-student", Email: "juan@school.edu", StudentID: "2025-00123", Role: shared.RoleStudent, Name: "Juan Dela Cruz"},
		{ID: "u-teacher", Email: "cruz@school.edu", Role: shared.RoleTeacher, Name: "Ms. Cruz"},
		{ID: "u-admin", Email: "registrar@school.edu", Role: shared.RoleAdmin, Name: "Registrar"},
	}
	for i := range users {
		users[i].PasswordHash = hash
		users[i].IsActive = true
		users[i].CreatedAt = time.Now().UTC()
		require.NoError(t, store.InsertUser(context.Background(), &users[i]))
	}

	env := &TestEnv{
		Router: NewRouter(svc, Options{
			CORS: shared.CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
			},
			RequestTimeout: 10 * time.Second,
		}),
		Store: store,
	}
	env.StudentToken = env.login(t, "juan@school.edu")
	env.TeacherToken = env.login(t, "cruz@school.edu")
	env.AdminToken = env.login(t, "registrar@school.edu")
	return env
}

func (env *TestEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	env.Router.ServeHTTP(rr, req)

	var env2 envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env2))
	}
	return rr, env2
}

func (env *TestEnv) login(t *testing.T, identifier string) string {
	t.Helper()
	rr, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": identifier,
		"password":   testPassword,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func decode(t *testing.T, body envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body.Data, v))
}

func TestGateway_Auth(t *testing.T) {
	env := setupGatewayTestEnv(t)

	t.Run("wrong password", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
			"identifier": "2025-00123", "password": "nope",
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.False(t, body.Success)
	})

	t.Run("missing fields", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, body.Fields, "identifier")
		assert.Contains(t, body.Fields, "password")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		env.Router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("token required", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr, _ = env.do(t, http.MethodGet, "/api/auth/me", "not-a-token", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("me", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/auth/me", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var me shared.Identity
		decode(t, body, &me)
		assert.Equal(t, shared.Identity{ID: "u-student", Role: shared.RoleStudent, Name: "Juan Dela Cruz"}, me)
	})

	t.Run("logout revokes", func(t *testing.T) {
		token := env.login(t, "2025-00123")
		rr, _ := env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr, _ = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr, _ = env.do(t, http.MethodGet, "/api/auth/me", env.StudentToken, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestGateway_Grades(t *testing.T) {
	env := setupGatewayTestEnv(t)
	configQuery := "?sectionId=sec1&subjectId=math&quarter=1"
	key := map[string]interface{}{
		"studentId": "u-student", "sectionId": "sec1", "subjectId": "math", "schoolYear": "2025-2026", "quarter": 1,
	}
	scoreBody := func(v float64) map[string]interface{} {
		b := map[string]interface{}{"category": "written_work", "itemIndex": 0, "score": v}
		for k, val := range key {
			b[k] = val
		}
		return b
	}

	// --- Configuration ---
	rr, _ := env.do(t, http.MethodGet, "/api/grades/config"+configQuery, env.TeacherToken, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr, body := env.do(t, http.MethodPost, "/api/grades/config/items"+configQuery, env.TeacherToken, map[string]interface{}{
		"category": "written_work", "name": "Quiz 1", "maxScore": 50,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var item shared.GradeItem
	decode(t, body, &item)
	assert.Equal(t, "Quiz 1", item.Name)

	t.Run("student cannot configure", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodGet, "/api/grades/config"+configQuery+"&teacherId=u-teacher", env.StudentToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("bad quarter", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/grades/config?sectionId=sec1&subjectId=math&quarter=x", env.TeacherToken, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, body.Fields, "quarter")
	})

	// --- Scores ---
	rr, body = env.do(t, http.MethodPut, "/api/grades/scores", env.TeacherToken, scoreBody(40))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rec shared.GradeRecord
	decode(t, body, &rec)
	assert.Equal(t, 80.0, rec.Averages.WrittenWork)

	t.Run("score above max", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPut, "/api/grades/scores", env.TeacherToken, scoreBody(60))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, body.Fields, "score")
	})

	t.Run("invalid category", func(t *testing.T) {
		b := scoreBody(10)
		b["category"] = "homework"
		rr, body := env.do(t, http.MethodPut, "/api/grades/scores", env.TeacherToken, b)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, body.Fields, "category")
	})

	t.Run("unverified is hidden from the student", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/grades?schoolYear=2025-2026", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var records []shared.GradeRecord
		decode(t, body, &records)
		assert.Empty(t, records)

		rr, _ = env.do(t, http.MethodGet, "/api/grades/record?studentId=u-student&sectionId=sec1&subjectId=math&schoolYear=2025-2026&quarter=1", env.StudentToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	// --- Verification ---
	rr, body = env.do(t, http.MethodPost, "/api/grades/verify", env.AdminToken, key)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res grade.VerifyResult
	decode(t, body, &res)
	assert.True(t, res.Transitioned)
	assert.True(t, res.Record.Verified)

	t.Run("verified grade is locked", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPut, "/api/grades/scores", env.TeacherToken, scoreBody(45))
		assert.Equal(t, http.StatusLocked, rr.Code)
		assert.Equal(t, "grade already verified", body.Message)
	})

	t.Run("verify again is a no-op", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPost, "/api/grades/verify", env.AdminToken, key)
		require.Equal(t, http.StatusOK, rr.Code)
		var again grade.VerifyResult
		decode(t, body, &again)
		assert.False(t, again.Transitioned)
	})

	t.Run("student sees released grade", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/grades?schoolYear=2025-2026", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var records []shared.GradeRecord
		decode(t, body, &records)
		require.Len(t, records, 1)
		assert.Equal(t, 80.0, records[0].Averages.WrittenWork)

		rr, _ = env.do(t, http.MethodGet, "/api/grades?studentId=someone-else", env.StudentToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("release notification", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/notifications", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var items []shared.Notification
		decode(t, body, &items)
		require.Len(t, items, 1)
		assert.Equal(t, shared.NotifyGradeRelease, items[0].Type)
	})

	t.Run("section list is staff only", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/grades/section?sectionId=sec1&subjectId=math", env.TeacherToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var records []shared.GradeRecord
		decode(t, body, &records)
		assert.Len(t, records, 1)

		rr, _ = env.do(t, http.MethodGet, "/api/grades/section?sectionId=sec1&subjectId=math", env.StudentToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestGateway_Requests(t *testing.T) {
	env := setupGatewayTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/requests", env.StudentToken, map[string]interface{}{
		"documentType": "form_137", "purpose": "College application",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created shared.DocumentRequest
	decode(t, body, &created)
	assert.True(t, strings.HasPrefix(created.RequestID, "REQ-"))
	assert.True(t, strings.HasSuffix(created.RequestID, "-0001"))
	assert.Equal(t, shared.RequestOnHold, created.Status)
	path := "/api/requests/" + created.RequestID

	t.Run("student cannot transition", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodPatch, path, env.StudentToken, map[string]string{"status": "verifying"})
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	rr, body = env.do(t, http.MethodPatch, path, env.TeacherToken, map[string]interface{}{
		"status": "processing", "tentativeDate": "2025-09-20T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var processing shared.DocumentRequest
	decode(t, body, &processing)
	require.NotNil(t, processing.ProcessedBy)
	assert.Equal(t, "Ms. Cruz", *processing.ProcessedBy)
	require.NotNil(t, processing.TentativeDate)

	t.Run("backward transition conflicts", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodPatch, path, env.TeacherToken, map[string]string{"status": "on_hold"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPatch, path, env.TeacherToken, map[string]string{"status": "lost"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, body.Fields, "status")
	})

	t.Run("lists", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/requests", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var mine []shared.DocumentRequest
		decode(t, body, &mine)
		assert.Len(t, mine, 1)

		rr, body = env.do(t, http.MethodGet, "/api/requests?status=processing", env.AdminToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var all []shared.DocumentRequest
		decode(t, body, &all)
		assert.Len(t, all, 1)
	})

	t.Run("unknown request", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodGet, "/api/requests/REQ-1999-9999", env.AdminToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	rr, body = env.do(t, http.MethodPost, path+"/reject", env.AdminToken, map[string]string{"reason": "Incomplete requirements"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rejected shared.DocumentRequest
	decode(t, body, &rejected)
	assert.Equal(t, shared.RequestRejected, rejected.Status)

	t.Run("terminal request conflicts", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodPatch, path, env.TeacherToken, map[string]string{"status": "released"})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("student inbox", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/notifications/unread-count", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var count map[string]int64
		decode(t, body, &count)
		assert.Equal(t, int64(3), count["unread"])

		rr, body = env.do(t, http.MethodPost, "/api/notifications/read-all", env.StudentToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var updated map[string]int64
		decode(t, body, &updated)
		assert.Equal(t, int64(3), updated["updated"])
	})
}

func TestGateway_Notifications(t *testing.T) {
	env := setupGatewayTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"n1", "n2"} {
		require.NoError(t, env.Store.InsertNotification(ctx, &shared.Notification{
			ID: id, StudentID: "u-student", Type: shared.NotifyRequestStatus, Title: "t", Message: "m",
			Priority: shared.PriorityNormal, CreatedAt: time.Now().UTC(),
		}))
	}

	rr, _ := env.do(t, http.MethodPost, "/api/notifications/n1/read", env.StudentToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body := env.do(t, http.MethodGet, "/api/notifications?unread=true", env.StudentToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var unread []shared.Notification
	decode(t, body, &unread)
	require.Len(t, unread, 1)
	assert.Equal(t, "n2", unread[0].ID)

	rr, _ = env.do(t, http.MethodPost, "/api/notifications/n1/unread", env.StudentToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	t.Run("other student's notification", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodPost, "/api/notifications/n1/read", env.TeacherToken, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("bulk", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPost, "/api/notifications/bulk/read", env.StudentToken, map[string][]string{"ids": {"n1", "n2"}})
		require.Equal(t, http.StatusOK, rr.Code)
		var updated map[string]int64
		decode(t, body, &updated)
		assert.Equal(t, int64(2), updated["updated"])

		rr, body = env.do(t, http.MethodPost, "/api/notifications/bulk/delete", env.StudentToken, map[string][]string{"ids": {"n1"}})
		require.Equal(t, http.StatusOK, rr.Code)
		var deleted map[string]int64
		decode(t, body, &deleted)
		assert.Equal(t, int64(1), deleted["deleted"])

		rr, _ = env.do(t, http.MethodPost, "/api/notifications/bulk/delete", env.StudentToken, map[string][]string{"ids": {}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGateway_Admin(t *testing.T) {
	env := setupGatewayTestEnv(t)

	t.Run("admin only", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodGet, "/api/admin/config", env.TeacherToken, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	rr, body := env.do(t, http.MethodPut, "/api/admin/config/document_base_fee", env.AdminToken, map[string]interface{}{"value": 75})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var entry settings.Entry
	decode(t, body, &entry)
	assert.Equal(t, 75.0, entry.Value)
	assert.False(t, entry.IsDefault)

	t.Run("type enforced", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPut, "/api/admin/config/current_quarter", env.AdminToken, map[string]interface{}{"value": "second"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, body.Fields, "current_quarter")
	})

	t.Run("fee applies to new requests", func(t *testing.T) {
		rr, body := env.do(t, http.MethodPost, "/api/requests", env.StudentToken, map[string]interface{}{
			"documentType": "good_moral", "purpose": "Scholarship",
		})
		require.Equal(t, http.StatusCreated, rr.Code)
		var req shared.DocumentRequest
		decode(t, body, &req)
		assert.Equal(t, 75.0, req.PaymentAmount)
	})

	t.Run("audit trail", func(t *testing.T) {
		rr, body := env.do(t, http.MethodGet, "/api/admin/audit?userId=u-admin", env.AdminToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var logs []shared.AuditLog
		decode(t, body, &logs)
		actions := make([]string, 0, len(logs))
		for _, l := range logs {
			actions = append(actions, l.Action)
		}
		assert.Contains(t, actions, shared.ActionConfigChange)
		assert.Contains(t, actions, shared.ActionLogin)
	})
}

func TestGateway_Operational(t *testing.T) {
	env := setupGatewayTestEnv(t)

	rr, _ := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "school_portal_http_request_duration_seconds")

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/requests", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		env.Router.ServeHTTP(rr, req)
		assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no websocket without hub", func(t *testing.T) {
		rr, _ := env.do(t, http.MethodGet, "/ws", "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
