package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"school_portal/backend/internal/gateway/handlers"
	"school_portal/backend/internal/gateway/util"
	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/shared"
)

// TokenValidator resolves a bearer token to the acting identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (shared.Identity, error)
}

// NewRouter configures the Chi router, middleware, and route handlers.
func NewRouter(svc Services, opts Options) *chi.Mux {
	logger := svc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// 1. Global Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger, svc.Metrics))
	r.Use(middleware.Recoverer)

	// CORS Configuration (Allow React Frontend)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORS.AllowedOrigins,
		AllowedMethods:   opts.CORS.AllowedMethods,
		AllowedHeaders:   opts.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: opts.CORS.AllowCredentials,
		MaxAge:           opts.CORS.MaxAge,
	}))

	// 2. Initialize Handlers
	authHandler := &handlers.AuthHandler{Auth: svc.Auth}
	gradeHandler := &handlers.GradeHandler{Grades: svc.Grades}
	requestHandler := &handlers.RequestHandler{Requests: svc.Requests}
	notificationHandler := &handlers.NotificationHandler{Notifications: svc.Notifications}
	adminHandler := &handlers.AdminHandler{Settings: svc.Settings, Audit: svc.Audit}

	// 3. Operational endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		util.WriteMessage(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", svc.Metrics.Handler())

	// Long-lived, so outside the request timeout. Browsers cannot set
	// headers on upgrades, so the token may come in the query string.
	if svc.Hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			token, err := util.ExtractToken(r)
			if err != nil {
				token = r.URL.Query().Get("token")
			}
			user, err := svc.Auth.Validate(r.Context(), token)
			if err != nil {
				util.HandleServiceError(w, err)
				return
			}
			svc.Hub.Serve(w, r, user.ID)
		})
	}

	// 4. Define Routes (grouped by prefix)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Route("/api", func(r chi.Router) {

			// --- Public Routes ---
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout) // Logout handles its own token extraction

			// --- Protected Routes (Require Valid Token) ---
			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(svc.Auth))

				r.Get("/auth/me", authHandler.Me)

				// Grades
				r.Route("/grades", func(r chi.Router) {
					// Student (own) or staff (by studentId)
					r.Get("/", gradeHandler.ListStudent)
					r.Get("/record", gradeHandler.GetRecord)

					// Staff
					r.Get("/section", gradeHandler.ListSection)
					r.Get("/config", gradeHandler.GetConfiguration)
					r.Post("/config/items", gradeHandler.AddItem)
					r.Patch("/config/items/{itemId}", gradeHandler.UpdateItem)
					r.Delete("/config/items/{itemId}", gradeHandler.RemoveItem)
					r.Put("/scores", gradeHandler.SetScore)
					r.Post("/verify", gradeHandler.Verify)
				})

				// Document Requests
				r.Route("/requests", func(r chi.Router) {
					r.Post("/", requestHandler.Create)
					r.Get("/", requestHandler.List)
					r.Get("/{id}", requestHandler.Get)
					r.Patch("/{id}", requestHandler.Transition)
					r.Post("/{id}/reject", requestHandler.Reject)
				})

				// Notifications (Student inbox)
				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", notificationHandler.List)
					r.Get("/unread-count", notificationHandler.UnreadCount)
					r.Post("/read-all", notificationHandler.MarkAllRead)
					r.Post("/bulk/read", notificationHandler.BulkRead)
					r.Post("/bulk/delete", notificationHandler.BulkDelete)
					r.Post("/{id}/read", notificationHandler.MarkRead)
					r.Post("/{id}/unread", notificationHandler.MarkUnread)
				})

				// Admin Management
				r.Route("/admin", func(r chi.Router) {
					r.Get("/config", adminHandler.GetSystemConfig)
					r.Put("/config", adminHandler.UpdateSystemConfigBatch)
					r.Put("/config/{key}", adminHandler.UpdateSystemConfig)
					r.Get("/audit", adminHandler.GetAuditLogs)
				})
			})
		})
	})

	return r
}

// AuthMiddleware validates the bearer token and injects the caller's
// identity into the request context.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Extract Token
			tokenStr, err := util.ExtractToken(r)
			if err != nil {
				util.WriteJSONError(w, http.StatusUnauthorized, "Authorization token required")
				return
			}

			// 2. Validate
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			user, err := validator.Validate(ctx, tokenStr)
			if err != nil {
				util.HandleServiceError(w, err)
				return
			}

			// 3. Inject User into Context
			next.ServeHTTP(w, r.WithContext(util.WithIdentity(r.Context(), user)))
		})
	}
}

// RequestLogger logs each request with zap and records its latency under
// the matched route pattern.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed.Seconds())

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
