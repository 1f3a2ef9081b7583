package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
)

const WS_WRITE_TIMEOUT = 5 * time.Second

type clientMessage struct {
	Type        string              `json:"type"`
	Amount      decimal.Decimal     `json:"amount"`
	AutoCashout decimal.NullDecimal `json:"auto_cashout"`
	BetID       string              `json:"bet_id"`
}

// wsReply carries the same envelope as HTTP, tagged with the request type.
type wsReply struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// wsConn serializes writes from the event pump and the request loop.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(WS_WRITE_TIMEOUT))
	return w.conn.WriteJSON(v)
}

// gameWebSocketHandler streams hub events to observers. A connection that names
// a valid user_id may also place bets and cash out over the same socket.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	label := conn.Query("user_id", "anonymous")
	userID, err := uuid.Parse(label)
	if err != nil {
		userID = uuid.Nil
	}

	sub := s.hub.Subscribe(label)
	if sub == nil {
		return
	}
	defer s.hub.Unsubscribe(sub)

	log.Printf("[WS] New connection from user: %s", label)

	out := &wsConn{conn: conn}
	if err := out.send(game.Event{Type: game.EVENT_INITIAL_STATE, Data: s.state.Snapshot()}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					conn.Close()
					return
				}
				if err := out.send(ev); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", label, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		reply := s.handleClientMessage(userID, msg)
		if reply == nil {
			continue
		}
		if err := out.send(reply); err != nil {
			return
		}
	}
}

func (s *FiberServer) handleClientMessage(userID uuid.UUID, msg clientMessage) *wsReply {
	if msg.Type == "ping" {
		return &wsReply{Type: "pong", Success: true}
	}
	if msg.Type != "place_bet" && msg.Type != "cashout" {
		return nil
	}
	if userID == uuid.Nil {
		return &wsReply{Type: msg.Type, Message: errMissingUser.Error(), Error: game.KindValidation.String()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), REQUEST_TIMEOUT)
	defer cancel()

	var (
		data any
		err  error
	)
	switch msg.Type {
	case "place_bet":
		data, err = s.gateway.PlaceBet(ctx, game.BetRequest{
			UserID:      userID,
			Amount:      msg.Amount,
			AutoCashout: msg.AutoCashout,
		})
	case "cashout":
		betID, parseErr := uuid.Parse(msg.BetID)
		if parseErr != nil {
			return &wsReply{Type: msg.Type, Message: "bet_id is required", Error: game.KindValidation.String()}
		}
		data, err = s.gateway.Cashout(ctx, game.CashoutRequest{UserID: userID, BetID: betID})
	}

	if err != nil {
		kind := game.KindOf(err)
		if kind == game.KindInternal {
			log.Printf("[WS] %s for user %s failed: %v", msg.Type, userID, err)
		}
		return &wsReply{
			Type:      msg.Type,
			Message:   publicMessage(err),
			Error:     kind.String(),
			Retryable: kind.Retryable(),
		}
	}
	return &wsReply{Type: msg.Type, Success: true, Message: "ok", Data: data}
}
