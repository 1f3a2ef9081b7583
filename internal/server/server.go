package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashgame/internal/cache"
	"crashgame/internal/database"
	"crashgame/internal/game"
	"crashgame/internal/metrics"
)

const (
	RATE_LIMIT_MAX    = 300
	RATE_LIMIT_WINDOW = time.Minute
	REQUEST_TIMEOUT   = 10 * time.Second
)

// Deps are the long-lived components the HTTP surface reads from. DB and Cache
// are nil when the process runs without them.
type Deps struct {
	DB      database.Service
	Cache   cache.Service
	Hub     *game.Hub
	State   *game.SharedState
	Gateway *game.Gateway
	Metrics *metrics.Metrics

	// RateLimit caps requests per IP per minute; zero means RATE_LIMIT_MAX.
	RateLimit int
}

type FiberServer struct {
	*fiber.App

	db      database.Service
	cache   cache.Service
	hub     *game.Hub
	state   *game.SharedState
	gateway *game.Gateway
	metrics *metrics.Metrics
}

func New(deps Deps) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashgame",
			AppName:       "crashgame",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:      deps.DB,
		cache:   deps.Cache,
		hub:     deps.Hub,
		state:   deps.State,
		gateway: deps.Gateway,
		metrics: deps.Metrics,
	}

	limit := deps.RateLimit
	if limit <= 0 {
		limit = RATE_LIMIT_MAX
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        limit,
		Expiration: RATE_LIMIT_WINDOW,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws" || c.Path() == "/health"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":   false,
				"message":   "Too many requests",
				"data":      nil,
				"retryable": true,
			})
		},
	}))

	deps.Metrics.RegisterGauge("crash.ws.subscribers", func() int64 {
		return int64(deps.Hub.GetClientCount())
	})

	log.Println("[SERVER] HTTP surface ready")
	return server
}

// Shutdown stops accepting requests and closes the connections the server owns.
// The scheduler is stopped by the caller first so its last write completes.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	err := s.App.ShutdownWithTimeout(REQUEST_TIMEOUT)

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return err
}
