package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/rocketscienceinc/tictactoe-wager/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-wager/internal/entity"
)

const shutdownTimeout = 5 * time.Second

type lobby interface {
	CreateWaiting(ctx context.Context, betAmount decimal.Decimal, creator *entity.Player) (*entity.Match, error)
	Join(ctx context.Context, matchID string, human *entity.Player) (*entity.Match, error)
	Cancel(ctx context.Context, matchID, requesterID string) (*entity.Match, error)
	ListOpen(ctx context.Context) ([]*entity.Match, error)
}

type matchMover interface {
	ApplyMove(ctx context.Context, matchID, playerID string, cell int) (*entity.Match, error)
}

type snapshotReader interface {
	GetSnapshot(ctx context.Context, matchID string) (*entity.Snapshot, error)
}

type accountService interface {
	Register(ctx context.Context, player *entity.Player) error
	GetAccount(ctx context.Context, userID string) (*entity.Account, error)
}

type Server struct {
	logger *slog.Logger
	app    *fiber.App

	lobby       lobby
	mover       matchMover
	snapshots   snapshotReader
	accounts    accountService
	turnTimeout time.Duration
}

func New(
	logger *slog.Logger,
	lobby lobby,
	mover matchMover,
	snapshots snapshotReader,
	accounts accountService,
	turnTimeout time.Duration,
) *Server {
	server := &Server{
		logger: logger.With("component", "rest"),

		lobby:       lobby,
		mover:       mover,
		snapshots:   snapshots,
		accounts:    accounts,
		turnTimeout: turnTimeout,
	}

	server.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           30 * time.Second,
		ErrorHandler:          server.handleError,
	})

	server.routes()

	return server
}

func (that *Server) routes() {
	that.app.Get("/ping", PingHandler)

	api := that.app.Group("/api", that.identity)

	api.Get("/me", that.handleMe)

	matches := api.Group("/matches")
	matches.Get("/", that.handleListOpen)
	matches.Post("/", that.handleCreate)
	matches.Get("/:id", that.handleGet)
	matches.Post("/:id/join", that.handleJoin)
	matches.Post("/:id/moves", that.handleMove)
	matches.Post("/:id/cancel", that.handleCancel)
}

// App exposes the router, mostly for app.Test.
func (that *Server) App() *fiber.App {
	return that.app
}

// Start - starts HTTP server and shuts it down when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	go func() {
		<-ctx.Done()
		if err := that.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			that.logger.Error("failed to shutdown HTTP server", "error", err)
		}
	}()

	if err := that.app.Listen(":" + port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (that *Server) handleError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(errorResponse{Error: fiberErr.Message})
	}

	status := StatusOf(err)
	if status >= fiber.StatusInternalServerError {
		that.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}

	return c.Status(status).JSON(errorResponse{Error: err.Error(), Code: apperror.CodeOf(err)})
}

// StatusOf maps an error kind to the HTTP status returned to the client.
func StatusOf(err error) int {
	if errors.Is(err, apperror.ErrMaintenance) {
		return fiber.StatusServiceUnavailable
	}

	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		return fiber.StatusBadRequest
	case apperror.KindState:
		return fiber.StatusUnprocessableEntity
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindConflict:
		return fiber.StatusConflict
	case apperror.KindExternal:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
