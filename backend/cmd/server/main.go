package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/auth"
	"school_portal/backend/internal/cache"
	"school_portal/backend/internal/gateway"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/metrics"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/push"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/seed"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/memory"
	"school_portal/backend/internal/storage/mongodb"
)

const healthService = "school_portal.Portal"

// portalStore is everything the services need from storage.
type portalStore interface {
	grade.Repository
	request.Repository
	notification.Repository
	settings.Repository
	auth.Repository
	audit.Repository
	seed.UserStore
}

func main() {
	envFile := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	// Load environment variables
	if err := shared.LoadEnv(*envFile); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	// 1. Load Configuration
	cfg, err := shared.LoadServiceConfig("school-portal")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := shared.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer closeStore()

	// 3. Collaborators
	m := metrics.New(true)
	views, closeCache := cache.New(ctx, cfg.Redis, logger)
	defer func() { _ = closeCache() }()

	var hub *push.Hub
	var pusher push.Pusher
	if cfg.Push.Transport == shared.PushWebsocket {
		hub = push.NewHub(logger.Named("push"), cfg.CORS.AllowedOrigins)
		pusher = hub
	} else {
		pusher = &push.LogPusher{Log: logger.Named("push")}
	}

	recorder := audit.NewRecorder(store, logger.Named("audit"))
	settingsSvc := settings.NewService(store, recorder, logger.Named("settings"))
	notifier := notification.NewService(store, pusher, m, logger.Named("notification"), cfg.Push.SendTimeout)

	// 4. Core Services
	gradeSvc := grade.NewService(grade.Deps{
		Repo:     store,
		Views:    views,
		Notifier: notifier,
		Audit:    recorder,
		Settings: settingsSvc,
		Metrics:  m,
		Log:      logger.Named("grade"),
	})
	requestSvc := request.NewService(request.Deps{
		Repo:     store,
		Notifier: notifier,
		Audit:    recorder,
		Settings: settingsSvc,
		Metrics:  m,
		Log:      logger.Named("request"),
	})
	authSvc := auth.NewService(store, cfg.Security, settingsSvc, recorder, m, logger.Named("auth"))

	if cfg.StorageDriver == shared.StorageMemory {
		seedMemory(ctx, store, cfg, seed.Workload{Grades: gradeSvc, Requests: requestSvc}, settingsSvc, logger)
	}

	// 5. HTTP Gateway
	router := gateway.NewRouter(gateway.Services{
		Auth:          authSvc,
		Grades:        gradeSvc,
		Requests:      requestSvc,
		Notifications: notifier,
		Settings:      settingsSvc,
		Audit:         recorder,
		Hub:           hub,
		Metrics:       m,
		Logger:        logger.Named("http"),
	}, gateway.Options{CORS: cfg.CORS, RequestTimeout: cfg.HTTP.RequestTimeout})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// 6. gRPC Health & Reflection
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	// 7. Run until a signal or a listener failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP gateway listening", zap.String("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.GRPC.Enabled {
		g.Go(func() error {
			listener, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
			if err != nil {
				return err
			}
			logger.Info("gRPC health server listening", zap.String("port", cfg.GRPC.Port))
			return grpcServer.Serve(listener)
		})
	}

	// 8. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if hub != nil {
			hub.Close()
		}
		err := server.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		if ferr := notifier.Flush(shutdownCtx); ferr != nil {
			logger.Warn("pending pushes abandoned", zap.Error(ferr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// openStore connects the configured storage driver.
func openStore(ctx context.Context, cfg *shared.ServiceConfig, logger *zap.Logger) (portalStore, func(), error) {
	if cfg.StorageDriver == shared.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	client, db, err := shared.ConnectMongoDB(&cfg.MongoDB, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := shared.DisconnectMongoDB(context.Background(), client); err != nil {
			logger.Error("error disconnecting from MongoDB", zap.Error(err))
		}
	}

	store := mongodb.NewStore(client, db)
	if err := store.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

// seedMemory loads the demo data so an in-memory server can be used at once.
func seedMemory(ctx context.Context, store portalStore, cfg *shared.ServiceConfig, w seed.Workload, st *settings.Service, logger *zap.Logger) {
	if _, err := seed.Users(ctx, store, cfg.Security.BCryptCost, logger.Named("seed")); err != nil {
		logger.Error("failed to seed demo users", zap.Error(err))
		return
	}
	if err := seed.Sample(ctx, w, st.Current(ctx).SchoolYear); err != nil {
		logger.Error("failed to seed sample data", zap.Error(err))
	}
}
