package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/attendsync/internal/attendance"
	"github.com/agentworkforce/attendsync/internal/httpapi"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type config struct {
	Addr            string        `validate:"required"`
	DurableDSN      string        `validate:"omitempty,contains=://"`
	KVRestURL       string        `validate:"omitempty,url"`
	KVRestToken     string
	DBPath          string        `validate:"required"`
	StoreTimeout    time.Duration `validate:"gt=0"`
	AdminSecret     string        `validate:"required"`
	EnforceAdmin    bool
	PublicURL       string        `validate:"required,url"`
	RateLimitMax    int           `validate:"gte=0"`
	RateLimitWindow time.Duration `validate:"gt=0"`
	MaxBodyBytes    int64         `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}
	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	durable, err := buildDurableStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize durable store: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := attendance.NewMetrics(registry)

	coordinator := attendance.NewCoordinator(attendance.CoordinatorOptions{
		Durable:  durable,
		Fallback: attendance.NewFileFallbackStore(cfg.DBPath),
		Timeout:  cfg.StoreTimeout,
		Logger:   log.Default(),
		Metrics:  metrics,
	})
	defer func() {
		if err := coordinator.Close(); err != nil {
			log.Printf("close durable store: %v", err)
		}
	}()

	service := attendance.NewService(coordinator, log.Default(), metrics)
	handler := httpapi.NewServerWithConfig(service, httpapi.ServerConfig{
		AdminSecret:     cfg.AdminSecret,
		EnforceAdmin:    cfg.EnforceAdmin,
		PublicURL:       cfg.PublicURL,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		MetricsGatherer: registry,
		Logger:          log.Default(),
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	log.Printf("attendsync listening on %s (%s)", cfg.Addr, describeMode(coordinator.Status()))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	case <-rootCtx.Done():
		log.Printf("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}
}

func loadConfig() config {
	return config{
		Addr:            envOrDefault("ATTENDSYNC_ADDR", ":3000"),
		DurableDSN:      strings.TrimSpace(os.Getenv("ATTENDSYNC_DURABLE_DSN")),
		KVRestURL:       strings.TrimSpace(os.Getenv("KV_REST_API_URL")),
		KVRestToken:     strings.TrimSpace(os.Getenv("KV_REST_API_TOKEN")),
		DBPath:          envOrDefault("ATTENDSYNC_DB_PATH", attendance.DefaultFallbackPath),
		StoreTimeout:    durationEnv("ATTENDSYNC_STORE_TIMEOUT", attendance.DefaultStoreTimeout),
		AdminSecret:     envOrDefault("ATTENDSYNC_ADMIN_SECRET", "admin123"),
		EnforceAdmin:    boolEnv("ATTENDSYNC_ENFORCE_ADMIN", false),
		PublicURL:       envOrDefault("ATTENDSYNC_PUBLIC_URL", "http://localhost:3000"),
		RateLimitMax:    intEnv("ATTENDSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("ATTENDSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("ATTENDSYNC_MAX_BODY_BYTES", 1<<20),
		ShutdownTimeout: durationEnv("ATTENDSYNC_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

var configValidator = validator.New()

func validateConfig(cfg config) error {
	if err := configValidator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return errors.New(strings.Join(parts, "; "))
		}
		return err
	}
	return nil
}

// durableDSN applies the mode switch: an explicit DSN wins over the REST KV URL.
func durableDSN(cfg config) string {
	if cfg.DurableDSN != "" {
		return cfg.DurableDSN
	}
	return cfg.KVRestURL
}

func buildDurableStore(cfg config) (attendance.DurableStore, error) {
	return attendance.BuildDurableStoreFromDSN(durableDSN(cfg), attendance.DurableStoreOptions{
		Token:      cfg.KVRestToken,
		HTTPClient: &http.Client{Timeout: cfg.StoreTimeout},
	})
}

func describeMode(status attendance.BackendStatus) string {
	if status.Mode == "durable" {
		return fmt.Sprintf("durable store %s, fallback %s", status.DurableStore, status.FallbackPath)
	}
	return "local file " + status.FallbackPath
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
