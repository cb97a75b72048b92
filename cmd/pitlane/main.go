package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/pitlane/internal/adapter/fsm"
	"github.com/neomorfeo/pitlane/internal/adapter/metrics"
	"github.com/neomorfeo/pitlane/internal/adapter/sqlite"
	"github.com/neomorfeo/pitlane/internal/app"
	"github.com/neomorfeo/pitlane/internal/config"

	handler "github.com/neomorfeo/pitlane/internal/adapter/http"
	telemetry "github.com/neomorfeo/pitlane/internal/adapter/otel"
	jobs "github.com/neomorfeo/pitlane/internal/adapter/river"
)

const serviceName = "pitlane"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run wires the service and blocks until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := telemetry.Setup(ctx, telemetry.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := telemetry.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	store := telemetry.NewTracingStore(repo)

	// The reconcile worker needs the service and the service needs the
	// client's publisher; the closure resolves bookings at job time.
	var bookings *app.BookingService
	recount := func(ctx context.Context, slotID string) error {
		_, err := bookings.Reconcile(ctx, slotID)
		return err
	}

	client, err := jobs.Setup(ctx, db, recount)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	queue := jobs.NewPublisher(client)
	recorder := metrics.NewRecorder()

	// --- Application ---
	validator := fsm.New()
	bookings = app.NewBookingService(store, telemetry.NewTracingPublisher(queue), validator,
		app.WithReconciler(queue),
		app.WithRecorder(recorder),
		app.WithLocation(cfg.Location),
		app.WithPricing(cfg.Pricing, cfg.Limits),
	)
	slots := app.NewSlotService(store, cfg.Schedule, cfg.Location)

	if err := client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware(serviceName, otelchi.WithChiRoutes(router)))
	if cfg.RateLimit.Enabled() {
		router.Use(handler.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Limit)
	}
	router.Handle("/metrics", recorder.Handler())

	api := humachi.New(router, huma.DefaultConfig(serviceName, "0.1.0"))
	handler.Register(api, bookings, slots)
	handler.RegisterWizard(api, handler.NewWizardSessions(bookings, validator))

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("%s listening on :%s (%s)", serviceName, cfg.Port, cfg.Location)
		log.Printf("API docs: http://localhost:%s/docs", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stopRiver(client)
			return fmt.Errorf("server: %w", err)
		}
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := client.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("river stop: %w", err))
	}

	log.Println("stopped")
	return errors.Join(errs...)
}

func stopRiver(client *jobs.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Stop(ctx); err != nil {
		log.Printf("river stop: %v", err)
	}
}
