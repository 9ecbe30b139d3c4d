package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lead-relay/api"
	"lead-relay/config"
	"lead-relay/logging"
	"lead-relay/metrics"
	"lead-relay/middleware"
	"lead-relay/notification"
	"lead-relay/service"
)

type Server struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger
	relay  *service.RelayService
	server *http.Server
}

func NewServer(cfg *config.Config, transport notification.Transport, logger *zap.Logger) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	m := metrics.New(logger)

	relay := service.NewRelayService(transport, service.Options{
		Recipient: cfg.Mail.To,
		BodyMode:  cfg.Mail.BodyMode,
	}, logger, m)

	router := api.NewRouter(api.NewHandlers(relay, logger), api.RouterOptions{
		Logger:       logger,
		Metrics:      m,
		StaticDir:    cfg.Server.StaticDir,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	return &Server{
		router: router,
		config: cfg,
		logger: logger,
		relay:  relay,
	}
}

func (s *Server) Start() error {
	addr := s.config.ListenAddr()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      middleware.CORS(s.config.Server.CORSOrigins)(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.SMTP.Timeout.Std() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if stdlog, err := zap.NewStdLogAt(s.logger, zapcore.WarnLevel); err == nil {
		s.server.ErrorLog = stdlog
	}

	s.logger.Info("server starting",
		zap.String("addr", addr),
		zap.String("env", s.config.App.Env),
		zap.String("smtp_driver", s.config.SMTP.Driver),
		zap.String("smtp_addr", s.config.SMTPAddr()),
		zap.Bool("smtp_implicit_tls", s.config.SMTPSecure()),
		zap.String("mail_to", s.config.Mail.To),
		zap.String("body_mode", s.config.Mail.BodyMode),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func main() {
	configPath := pflag.String("config", config.DefaultPath, "path to the YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	pflag.Parse()

	boot := logging.BootstrapLogger()

	// Real environment variables win over the file.
	if err := godotenv.Load(*envFile); err == nil {
		boot.Info("loaded env file", zap.String("file", *envFile))
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.BuildLogger(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	transport, err := notification.NewTransport(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create mail transport", zap.Error(err))
	}

	server := NewServer(cfg, transport, logger)
	if err := server.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited properly")
}
