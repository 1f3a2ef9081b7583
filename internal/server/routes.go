package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Accept,Authorization,Content-Type," + USER_HEADER,
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)
	s.App.Get("/metrics", s.metricsHandler)

	api := s.App.Group("/api/v1")

	crash := api.Group("/crash")
	crash.Get("/state", s.stateHandler)
	crash.Get("/history", s.historyHandler)
	crash.Get("/bets/current", s.currentBetsHandler)
	crash.Post("/bet", s.placeBetHandler)
	crash.Post("/cashout", s.cashoutHandler)
	crash.Get("/rounds/:id/verify", s.verifyRoundHandler)

	wallet := api.Group("/wallet")
	wallet.Get("/balance", s.balanceHandler)
	wallet.Get("/transactions", s.transactionsHandler)
	wallet.Post("/topup", s.topupHandler)
	wallet.Post("/withdraw", s.withdrawHandler)

	s.App.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}
