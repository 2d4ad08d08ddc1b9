package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/gateway"
	"dispatch/internal/handler"
	"dispatch/internal/middleware"
	"dispatch/internal/presence"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/routing"
	"dispatch/internal/service"
	"dispatch/internal/spatial"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s", cfg.NewRelic.AppName)
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	// Wire dependencies.
	server := wireServer(ctx, db, redisClient, nrApp, cfg)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(ctx context.Context, db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) *http.Server {
	// Presence registry with a Redis GEO mirror.
	locationStore := internalRedis.NewLocationStore(redisClient)
	registry := presence.NewRegistry()
	registry.SetMirror(locationStore)

	// Candidate search over the Redis GEO index; the registry stays the
	// authority on eligibility.
	engine := spatial.NewRedisEngine(locationStore, registry)

	// Repositories.
	driverRepo := postgres.NewDriverRepository(db)
	rideRepo := postgres.NewRideRepository(db)

	// Routing and geocoding clients.
	router := routing.NewOSRMRouter(cfg.Routing.OSRMBaseURL, cfg.Routing.HTTPTimeout)
	geocoder := routing.NewNominatimGeocoder(cfg.Routing.NominatimBaseURL, cfg.Routing.UserAgent, cfg.Routing.HTTPTimeout)

	// Push gateway.
	hub := gateway.NewHub()

	// Services.
	estimateService := service.NewEstimateService(router, geocoder, cfg.Pricing)
	dispatchService := service.NewDispatchService(registry, engine, hub, rideRepo, driverRepo, estimateService, cfg.Dispatch)
	driverService := service.NewDriverService(registry, driverRepo)

	// Rehydrate presence records for stored drivers.
	if err := driverService.EnsurePresence(ctx); err != nil {
		log.Printf("failed to rehydrate driver presence: %v", err)
	}

	// Handlers.
	rideHandler := handler.NewRideHandler(dispatchService)
	driverHandler := handler.NewDriverHandler(driverService, dispatchService)
	placesHandler := handler.NewPlacesHandler(estimateService)
	wsHandler := handler.NewWSHandler(hub, dispatchService)

	// Token verification, when provisioned.
	var verifier middleware.Verifier
	if cfg.Auth.Enabled {
		verifier = middleware.NewStaticVerifier(cfg.Auth.StaticTokens)
	}

	// Create router.
	ginRouter := app.NewRouter(app.RouterDeps{
		RideHandler:   rideHandler,
		DriverHandler: driverHandler,
		PlacesHandler: placesHandler,
		WSHandler:     wsHandler,
		RedisClient:   redisClient,
		NewRelicApp:   nrApp,
		Verifier:      verifier,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      ginRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
