package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/DeadlyParkour777/peer-review/notification_service/internal/config"
	"github.com/DeadlyParkour777/peer-review/notification_service/internal/handler"
	"github.com/DeadlyParkour777/peer-review/notification_service/internal/mailer"
	"github.com/DeadlyParkour777/peer-review/notification_service/internal/service"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type App struct {
	grpcServer   *grpc.Server
	health       *health.Server
	kafkaReader  *kafka.Reader
	kafkaHandler *handler.KafkaConsumer
	cfg          config.Config
}

func New(cfg config.Config) (*App, error) {
	log.Println("Initializing notification service...")

	smtp := mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		User:          cfg.SMTPUser,
		Password:      cfg.SMTPPassword,
		From:          cfg.SMTPFrom,
		SkipTLSVerify: cfg.SMTPSkipTLSVerify,
	})
	appService, err := service.NewService(smtp, cfg.RetryPolicy())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	kafkaReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.NotifyTopic,
		GroupID: cfg.GroupID,
	})
	kafkaHandler := handler.NewKafkaConsumer(appService)

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &App{
		grpcServer:   grpcServer,
		health:       healthServer,
		kafkaReader:  kafkaReader,
		kafkaHandler: kafkaHandler,
		cfg:          cfg,
	}, nil
}

func (a *App) Run() error {
	defer a.kafkaReader.Close()

	listenAddr := fmt.Sprintf(":%s", a.cfg.GRPCPort)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("gRPC health server started on %s", listenAddr)
		if err := a.grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server failed: %v", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.kafkaHandler.Start(ctx, a.kafkaReader)
	}()

	log.Println("Notification service is running...")
	<-ctx.Done()

	log.Println("Notification service is shutting down...")
	a.health.Shutdown()
	a.grpcServer.GracefulStop()
	wg.Wait()
	return nil
}
