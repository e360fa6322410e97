package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/auth"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/cache"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/config"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/handler"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/lifecycle"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/notifier"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/planner"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/service"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const serviceName = "peer_review"

type App struct {
	cfg config.Config

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	db          *sql.DB
	redisClient *redis.Client
	kafkaWriter *kafka.Writer

	lifecycle lifecycle.Service
}

func New(cfg config.Config) (*App, error) {
	log.Println("Initializing review service...")

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	log.Println("Successfully connected to PostgreSQL")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Println("Successfully connected to Redis")

	kafkaProducer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.NotifyTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: int(kafka.RequireOne),
	})
	log.Println("Kafka producer initialized")

	appStore := store.NewStore(db)
	appNotifier := notifier.NewKafkaNotifier(kafkaProducer)
	userCache := cache.NewRedisUserStatusCache(redisClient, cfg.UserStatusTTL)

	appService := service.NewService(appStore, userCache, appNotifier, service.Options{
		ReviewsPerReviewer:     cfg.ReviewsPerReviewer,
		AssignmentDeadline:     cfg.AssignmentDeadline,
		PanelSize:              cfg.PanelSize,
		MinVerificationReviews: cfg.MinVerificationReviews,
		PassScore:              cfg.PassScore,
		Retry:                  cfg.RetryPolicy(),
		Selector:               planner.Random,
		Now:                    time.Now,
	})

	appLifecycle := lifecycle.NewService(appStore, appNotifier, appService, lifecycle.Options{
		AssignmentDeadline:     cfg.AssignmentDeadline,
		WarningLead:            cfg.WarningLead,
		ReminderLead:           cfg.ReminderLead,
		NoticeWindow:           cfg.NoticeWindow,
		VerificationMaxAge:     cfg.VerificationMaxAge,
		MinVerificationReviews: cfg.MinVerificationReviews,
		BlacklistThreshold:     cfg.BlacklistThreshold,
		BlacklistWindow:        cfg.BlacklistWindow,
		Retry:                  cfg.RetryPolicy(),
		Selector:               planner.Random,
		Now:                    time.Now,
	})

	httpHandler := handler.NewHandler(appService, appLifecycle, auth.NewJWTVerifier(cfg.JWTSecret))

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &App{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    ":" + cfg.HTTPPort,
			Handler: httpHandler.Routes(),
		},
		grpcServer:  grpcServer,
		health:      healthServer,
		db:          db,
		redisClient: redisClient,
		kafkaWriter: kafkaProducer,
		lifecycle:   appLifecycle,
	}, nil
}

func (a *App) Close() {
	if err := a.kafkaWriter.Close(); err != nil {
		log.Printf("failed to close kafka writer: %v", err)
	}
	a.redisClient.Close()
	a.db.Close()
}

// Run serves the HTTP API and the gRPC health endpoint until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer a.Close()

	lis, err := net.Listen("tcp", ":"+a.cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("gRPC health server started on port %s", a.cfg.GRPCPort)
		if err := a.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		log.Printf("HTTP server started on port %s", a.cfg.HTTPPort)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()
	a.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-errCh:
	}

	log.Println("Shutting down server...")
	a.health.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	a.grpcServer.GracefulStop()
	log.Println("Server gracefully stopped")

	return runErr
}

// RunJob runs one lifecycle job, or all of them for "all", bounded by the
// configured batch timeout.
func (a *App) RunJob(name string) ([]lifecycle.JobResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.BatchTimeout)
	defer cancel()

	if name == "all" {
		return a.lifecycle.RunAll(ctx), nil
	}

	job, err := lifecycle.ParseJob(name)
	if err != nil {
		return nil, err
	}
	res, err := a.lifecycle.Run(ctx, job)
	return []lifecycle.JobResult{{Job: job, Result: res, Err: err}}, err
}

// Schedule runs every lifecycle job on the configured cron schedule until
// SIGINT or SIGTERM. A run still in progress when the next tick fires is
// not overlapped.
func (a *App) Schedule() error {
	defer a.Close()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.VerbosePrintfLogger(log.Default()))))
	_, err := c.AddFunc(a.cfg.LifecycleCron, func() {
		results, _ := a.RunJob("all")
		for _, r := range results {
			log.Printf("Job %s: count=%d item_errors=%d", r.Job, r.Result.Count, len(r.Result.Errors))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule lifecycle jobs: %w", err)
	}

	log.Printf("Lifecycle scheduler started schedule=%q", a.cfg.LifecycleCron)
	c.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Stopping scheduler...")
	<-c.Stop().Done()
	return nil
}
