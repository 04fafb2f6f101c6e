package gateway

import (
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/auth"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/push"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
)

// Services holds the core services injected into the request handlers.
type Services struct {
	Auth          *auth.Service
	Grades        *grade.Service
	Requests      *request.Service
	Notifications *notification.Service
	Settings      *settings.Service
	Audit         *audit.Recorder

	// Hub serves the live push channel; nil disables /ws.
	Hub     *push.Hub
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Options configures the router.
type Options struct {
	CORS           shared.CORSConfig
	RequestTimeout time.Duration
}
