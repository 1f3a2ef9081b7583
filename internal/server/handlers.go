package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
)

type walletRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": disabledHealth(),
		"cache":    disabledHealth(),
		"game": fiber.Map{
			"status":            "running",
			"phase":             s.state.Snapshot().Phase,
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func disabledHealth() map[string]string {
	return map[string]string{"status": "disabled"}
}

func (s *FiberServer) metricsHandler(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	s.metrics.WriteJSON(c)
	return nil
}

// Crash handlers

func (s *FiberServer) stateHandler(c *fiber.Ctx) error {
	return jsonSuccess(c, "Current round state", s.state.Snapshot())
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	history, err := s.gateway.History(c.UserContext())
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Recent crash history", history)
}

// currentBetsHandler is public; a valid X-User-Id only marks the caller's bets.
func (s *FiberServer) currentBetsHandler(c *fiber.Ctx) error {
	caller, _ := callerID(c)
	bets, err := s.gateway.CurrentBets(c.UserContext(), caller)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Current round bets", bets)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonBadRequest(c, "Invalid request body")
	}
	req.UserID = userID

	resp, err := s.gateway.PlaceBet(c.UserContext(), req)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Bet placed", resp)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonBadRequest(c, "Invalid request body")
	}
	if req.BetID == uuid.Nil {
		return jsonBadRequest(c, "bet_id is required")
	}
	req.UserID = userID

	resp, err := s.gateway.Cashout(c.UserContext(), req)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Cashed out", resp)
}

func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	roundID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return jsonBadRequest(c, "Invalid round id")
	}

	audit, err := s.gateway.VerifyRound(c.UserContext(), roundID)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Round fairness record", audit)
}

// Wallet handlers

func (s *FiberServer) balanceHandler(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return unauthorized(c)
	}

	wallet, err := s.gateway.Balance(c.UserContext(), userID)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Wallet balance", wallet)
}

func (s *FiberServer) transactionsHandler(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return unauthorized(c)
	}

	entries, err := s.gateway.Transactions(c.UserContext(), userID)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Wallet transactions", entries)
}

func (s *FiberServer) topupHandler(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req walletRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonBadRequest(c, "Invalid request body")
	}

	entry, err := s.gateway.Topup(c.UserContext(), userID, req.Amount, req.Reference)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Wallet topped up", entry)
}

func (s *FiberServer) withdrawHandler(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req walletRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonBadRequest(c, "Invalid request body")
	}

	entry, err := s.gateway.Withdraw(c.UserContext(), userID, req.Amount, req.Reference)
	if err != nil {
		return jsonError(c, err)
	}
	return jsonSuccess(c, "Withdrawal recorded", entry)
}
