package server

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"crashgame/internal/game"
	"crashgame/internal/ledger"
)

const USER_HEADER = "X-User-Id"

const UNAVAILABLE_MESSAGE = "Service temporarily unavailable, please retry"

var errMissingUser = errors.New("X-User-Id header must carry a valid user id")

// publicErrors are safe to echo to players verbatim.
var publicErrors = []error{
	game.ErrInvalidAmount,
	game.ErrInvalidTarget,
	ledger.ErrInvalidAmount,
	ledger.ErrAmountScale,
	game.ErrMultiplierScale,
	game.ErrBettingClosed,
	game.ErrRoundNotRunning,
	game.ErrGameDisabled,
	game.ErrBetLimit,
	game.ErrInsufficientFunds,
	game.ErrBetNotFound,
	game.ErrRoundNotFound,
	game.ErrConflict,
}

func jsonSuccess(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func jsonBadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
		"data":    nil,
	})
}

// jsonError maps a gateway error to its status code and a message that never
// leaks driver details.
func jsonError(c *fiber.Ctx, err error) error {
	kind := game.KindOf(err)
	if kind == game.KindInternal {
		log.Printf("[SERVER] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(statusFor(kind)).JSON(fiber.Map{
		"success":   false,
		"message":   publicMessage(err),
		"data":      nil,
		"error":     kind.String(),
		"retryable": kind.Retryable(),
	})
}

func statusFor(kind game.ErrorKind) int {
	switch kind {
	case game.KindValidation:
		return fiber.StatusBadRequest
	case game.KindState, game.KindConflict:
		return fiber.StatusConflict
	case game.KindInsufficientFunds:
		return fiber.StatusPaymentRequired
	case game.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusServiceUnavailable
	}
}

func publicMessage(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return UNAVAILABLE_MESSAGE
}

// callerID reads the player id the upstream auth layer forwards.
func callerID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Get(USER_HEADER))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errMissingUser
	}
	return id, nil
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": errMissingUser.Error(),
		"data":    nil,
	})
}
