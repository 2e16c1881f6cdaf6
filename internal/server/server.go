package server

import (
	"backend-ridertrack/internal/auth"
	"backend-ridertrack/internal/config"
	"backend-ridertrack/internal/consent"
	"backend-ridertrack/internal/geoloc"
	"backend-ridertrack/internal/statestore"
	"backend-ridertrack/internal/stream"
	"backend-ridertrack/internal/tracker"
	"backend-ridertrack/internal/tracking"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Tracker *tracker.Tracker
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client,
	mqttClient mqtt.Client, state *statestore.Store) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)

	consentSvc := consent.NewService(db)
	trackingSvc := tracking.NewService(db, hub)
	trk := tracker.New(
		consentSvc,
		trackingSvc,
		trackingSvc,
		geoloc.NewPermissionGate(mqttClient),
		geoloc.NewWatcher(mqttClient),
		state,
	)

	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      db,
		Redis:   redisClient,
		Stream:  hub,
		Tracker: trk,
	}

	registerRoutes(s, consentSvc, trackingSvc)
	return s
}

func registerRoutes(s *Server, consentSvc *consent.Service, trackingSvc *tracking.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	consent.RegisterRoutes(s.App.Group("/settings"), consentSvc, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), trackingSvc, jwtMiddleware)
	tracker.RegisterRoutes(s.App.Group("/tracker"), s.Tracker, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
