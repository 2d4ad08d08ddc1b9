package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/handler"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler   *handler.RideHandler
	DriverHandler *handler.DriverHandler
	PlacesHandler *handler.PlacesHandler
	WSHandler     *handler.WSHandler
	RedisClient   *redis.Client
	NewRelicApp   *newrelic.Application
	Verifier      middleware.Verifier
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	if deps.RedisClient != nil {
		router.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Verifier))
	{
		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/confirm", deps.RideHandler.ConfirmRide)
			rides.POST("/:id/offer-response", deps.RideHandler.OfferResponse)
			rides.POST("/:id/start", deps.RideHandler.StartRide)
			rides.POST("/:id/complete", deps.RideHandler.CompleteRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
		}

		// Rider history.
		v1.GET("/riders/:id/rides", deps.RideHandler.ListRiderRides)

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("", deps.DriverHandler.RegisterDriver)
			drivers.GET("/:id", deps.DriverHandler.GetDriver)
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.POST("/:id/offline", deps.DriverHandler.SetOffline)
		}

		// Fare estimates and place suggestions.
		v1.POST("/estimates", deps.PlacesHandler.Estimate)
		v1.GET("/places/suggest", deps.PlacesHandler.Suggest)

		// Push connections.
		ws := v1.Group("/ws")
		{
			ws.GET("/riders/:id", deps.WSHandler.RiderSocket)
			ws.GET("/drivers/:id", deps.WSHandler.DriverSocket)
		}
	}

	return router
}
