package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cleanmadurai/aggregator"
	"cleanmadurai/auth"
	"cleanmadurai/classifier"
	"cleanmadurai/config"
	"cleanmadurai/dailybrief"
	"cleanmadurai/database"
	"cleanmadurai/dispatch"
	"cleanmadurai/events"
	"cleanmadurai/handlers"
	"cleanmadurai/lifecycle"
	"cleanmadurai/metrics"
	"cleanmadurai/middleware"
	"cleanmadurai/notification"
	"cleanmadurai/rabbitmq"
	"cleanmadurai/triage"
	"cleanmadurai/wardindex"
)

const triageWorkers = 4

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env file")
	}

	// Load configuration
	cfg := config.Load()

	metrics.Register()

	// Create database connection
	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to create database connection:", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background()); err != nil {
		log.Fatal("Failed to ensure database schema:", err)
	}

	// Ward boundaries are required: without them every complaint would fall
	// back to nearest-ward guessing against an empty index.
	wards, err := wardindex.Load(cfg.WardsGeoJSON)
	if err != nil {
		log.Fatal("Failed to load ward boundaries:", err)
	}
	log.Printf("Loaded %d ward boundaries from %s", wards.Count(), cfg.WardsGeoJSON)

	// Websocket event hub
	hub := events.NewHub()
	go hub.Run()

	// Core pipeline
	engine := lifecycle.NewEngine(db.DB(), hub)
	notifier := notification.NewWhatsAppClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneID)
	dispatcher := dispatch.NewCoordinator(db.DB(), engine, notifier)
	gemini := classifier.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.ClassifyTimeout)
	triageService := triage.NewService(db.DB(), gemini, engine, dispatcher)

	// RabbitMQ: the service works without it, falling back to inline triage.
	var publisher *rabbitmq.Publisher
	var subscriber *rabbitmq.Subscriber
	amqpURL := cfg.GetAMQPURL()
	if p, err := rabbitmq.NewPublisher(amqpURL, cfg.RabbitMQExchange, cfg.RabbitMQTriageRoutingKey); err != nil {
		log.Printf("Warning: Failed to initialize RabbitMQ publisher: %v", err)
		log.Printf("Triage will run inline. Continuing without RabbitMQ...")
	} else {
		publisher = p
		log.Printf("RabbitMQ publisher initialized: exchange=%s, routing_key=%s",
			cfg.RabbitMQExchange, cfg.RabbitMQTriageRoutingKey)

		s, err := rabbitmq.NewSubscriber(amqpURL, cfg.RabbitMQExchange, cfg.RabbitMQTriageQueue,
			cfg.RabbitMQTriageRoutingKey, cfg.RabbitMQPrefetch)
		if err != nil {
			log.Printf("Warning: Failed to initialize RabbitMQ subscriber: %v", err)
		} else {
			subscriber = s
			subscriber.Start(triageWorkers, triageService.HandleMessage)
			log.Printf("Triage consumer started: queue=%s workers=%d", cfg.RabbitMQTriageQueue, triageWorkers)
		}
	}

	// Daily background loops
	agg := aggregator.NewAggregator(db.DB())
	if cfg.AggregatorEnabled {
		go agg.RunDaily()
	}
	brief := dailybrief.NewService(db.DB(), gemini)
	if cfg.DailyBriefEnabled {
		go brief.RunDaily()
	}

	// Auth client for protected routes
	authClient := auth.NewClient(cfg.AuthServiceURL)

	h := handlers.NewHandler(db, wards, publisherOrNil(publisher), triageService, engine, agg, brief, hub)

	router := setupRouter(h, authClient)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	agg.Stop()
	brief.Stop()
	if subscriber != nil {
		if err := subscriber.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ subscriber: %v", err)
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Printf("Failed to close RabbitMQ publisher: %v", err)
		}
	}

	log.Println("Server exited")
}

// publisherOrNil keeps the handler's publisher interface nil when no broker
// is connected, instead of a non-nil interface wrapping a nil pointer.
func publisherOrNil(p *rabbitmq.Publisher) handlers.TriagePublisher {
	if p == nil {
		return nil
	}
	return p
}

func setupRouter(h *handlers.Handler, authClient *auth.Client) *gin.Engine {
	router := gin.Default()

	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v3")
	{
		api.GET("/version", h.Version)

		// Public citizen routes
		api.POST("/complaints", h.SubmitComplaint)
		api.GET("/complaints/track", h.TrackComplaint)
		api.GET("/complaints/:id/timeline", h.GetTimeline)
		api.GET("/wards", h.ListWards)
		api.GET("/wards/:id", h.GetWard)
		api.GET("/leaderboard", h.Leaderboard)
		api.GET("/map/heatmap", h.Heatmap)
		api.GET("/analytics/daily", h.GetSnapshot)
		api.GET("/analytics/brief", h.GetBrief)
		api.GET("/events/listen", h.ListenEvents)

		// Protected routes (require authentication)
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(authClient))
		{
			protected.GET("/complaints", h.ListComplaints)
			protected.POST("/complaints/status", h.UpdateStatus)
			protected.GET("/responders/:id/tasks", h.ResponderTasks)
			protected.POST("/admin/aggregate", h.TriggerAggregate)
			protected.POST("/admin/brief", h.TriggerBrief)
		}
	}

	return router
}
