package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
	"github.com/rocketscienceinc/tictactoe-wager/internal/usecase"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
	maxMessageSize  = 4096
	shutdownTimeout = 5 * time.Second

	headerUserID = "X-User-ID"
)

type matchSync interface {
	Subscribe(ctx context.Context, matchID string) (*entity.Snapshot, *usecase.Subscription, error)
}

type matchMover interface {
	ApplyMove(ctx context.Context, matchID, playerID string, cell int) (*entity.Match, error)
}

type handlerFunc func(ctx context.Context, client *client, message *Message) error

type Server struct {
	logger *slog.Logger

	snapshots   matchSync
	mover       matchMover
	turnTimeout time.Duration

	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, snapshots matchSync, mover matchMover, turnTimeout time.Duration) *Server {
	server := &Server{
		logger: logger.With("component", "websocket"),

		snapshots:   snapshots,
		mover:       mover,
		turnTimeout: turnTimeout,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		handlers: make(map[string]handlerFunc),
	}

	server.handlers[actionSubscribe] = server.handleSubscribe
	server.handlers[actionUnsubscribe] = server.handleUnsubscribe
	server.handlers[actionMove] = server.handleMove

	return server
}

// Handler serves /ws. Use it directly in tests.
func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.serveWS(ctx, w, r)
	})

	return mux
}

// Start - starts WebSocket server.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown websocket server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// serveWS upgrades the connection. The player comes only from the gateway header; without it the client is a spectator.
func (that *Server) serveWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "serveWS")

	playerID := r.Header.Get(headerUserID)
	if entity.IsBotID(playerID) {
		http.Error(w, "reserved user id", http.StatusForbidden)
		return
	}

	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := newClient(conn, playerID)
	defer client.close()

	log.Info("WebSocket connection established", "playerID", playerID)

	go client.keepAlive(ctx)

	if matchID := r.URL.Query().Get("match"); matchID != "" {
		if err = that.subscribe(ctx, client, matchID); err != nil {
			client.sendError(actionSubscribe, err)
		}
	}

	that.handleMessages(ctx, client)
}

// handleMessages - processes messages from the client until it disconnects.
func (that *Server) handleMessages(ctx context.Context, client *client) {
	log := that.logger.With("method", "handleMessages", "playerID", client.playerID)

	for {
		_, body, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("error reading message", "error", err)
			}
			return
		}

		var message Message
		if err = json.Unmarshal(body, &message); err != nil {
			client.sendError("", errInvalidMessage)
			continue
		}

		handler, ok := that.handlers[message.Action]
		if !ok {
			client.sendError(message.Action, errUnknownAction)
			continue
		}

		if err = handler(ctx, client, &message); err != nil {
			log.Debug("error processing message", "action", message.Action, "error", err)
			client.sendError(message.Action, err)
		}
	}
}

// client is one connection. gorilla allows a single concurrent writer, so writes hold writeMu.
type client struct {
	conn     *websocket.Conn
	playerID string

	writeMu sync.Mutex

	subsMu        sync.Mutex
	subscriptions map[string]*usecase.Subscription
}

func newClient(conn *websocket.Conn, playerID string) *client {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &client{
		conn:          conn,
		playerID:      playerID,
		subscriptions: make(map[string]*usecase.Subscription),
	}
}

func (that *client) send(action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	_ = that.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err = that.conn.WriteJSON(Message{Action: action, Payload: body}); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (that *client) sendError(action string, err error) {
	_ = that.send(actionError, newErrorPayload(action, err))
}

func (that *client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			that.writeMu.Lock()
			err := that.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			that.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (that *client) close() {
	that.subsMu.Lock()
	for matchID, subscription := range that.subscriptions {
		subscription.Close()
		delete(that.subscriptions, matchID)
	}
	that.subsMu.Unlock()

	_ = that.conn.Close()
}
