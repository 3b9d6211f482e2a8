package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/config"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
	"github.com/rocketscienceinc/partyroom-backend/internal/service"
	"github.com/rocketscienceinc/partyroom-backend/transport/rest"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 5 * time.Second

type roomUseCase interface {
	GetRoomWithPlayers(ctx context.Context, roomID string) (*entity.RoomSnapshot, error)
	Heartbeat(ctx context.Context, roomID, playerID string) error
	LeaveRoom(ctx context.Context, roomID, playerID string) (*entity.RoomSnapshot, error)
	KickPlayer(ctx context.Context, roomID, callerID, targetID string) (*entity.RoomSnapshot, error)
	TransferHost(ctx context.Context, roomID, callerID, newHostID string) (*entity.RoomSnapshot, error)

	StartGame(ctx context.Context, roomID, callerID string, gameType entity.GameType, initialData json.RawMessage, turnOrder []string) (*entity.RoomSnapshot, error)
	EndGame(ctx context.Context, roomID, callerID string) (*entity.RoomSnapshot, error)
	FinishRoom(ctx context.Context, roomID, callerID string) (*entity.RoomSnapshot, error)
	UpdateGameState(ctx context.Context, roomID, callerID string, expectedVersion int64, newData json.RawMessage) (*entity.RoomSnapshot, error)
	AdvanceTurn(ctx context.Context, roomID, callerID string, expectedVersion int64, newData json.RawMessage) (*entity.RoomSnapshot, error)
	StartTimer(ctx context.Context, roomID, callerID string, duration time.Duration, label string) (*entity.RoomSnapshot, error)
	CommitTimer(ctx context.Context, roomID, callerID string, expectedVersion int64, newData json.RawMessage) (*entity.RoomSnapshot, error)
}

type tokenParser interface {
	ParseToken(token string) (service.Session, error)
}

type handlerFunc func(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error)

type Server struct {
	logger *slog.Logger
	config config.WebSocket

	rooms    roomUseCase
	auth     tokenParser
	hubs     *hubs
	upgrader websocket.Upgrader

	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, conf config.WebSocket, rooms roomUseCase, auth tokenParser, subscriber subscriber) *Server {
	logger = logger.With("component", "websocket")

	server := &Server{
		logger: logger,
		config: conf,

		rooms: rooms,
		auth:  auth,
		hubs:  newHubs(logger, subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// tokens, not cookies, authenticate sockets
			CheckOrigin: func(*http.Request) bool { return true },
		},

		handlers: make(map[string]handlerFunc),
	}

	server.handlers["presence:heartbeat"] = server.handleHeartbeat
	server.handlers["room:get"] = server.handleGetRoom
	server.handlers["room:leave"] = server.handleLeave
	server.handlers["player:kick"] = server.handleKick
	server.handlers["host:transfer"] = server.handleTransferHost
	server.handlers["game:start"] = server.handleStartGame
	server.handlers["game:end"] = server.handleEndGame
	server.handlers["room:finish"] = server.handleFinishRoom
	server.handlers["state:update"] = server.handleUpdateState
	server.handlers["turn:advance"] = server.handleAdvanceTurn
	server.handlers["timer:start"] = server.handleStartTimer
	server.handlers["timer:commit"] = server.handleCommitTimer

	return server
}

// Handler - returns the socket endpoint. Room subscriptions live until ctx is done.
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
		Addr:        ":" + port,
		Handler:     that.Handler(ctx),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}

		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Shutdown does not wait for hijacked connections, they close with the hubs
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}

		return nil
	}
}

// serveWS - authenticates the session token, upgrades the connection and
// serves it until the socket closes.
func (that *Server) serveWS(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "serveWS")

	session, err := that.auth.ParseToken(req.URL.Query().Get("token"))
	if err != nil {
		http.Error(writer, apperror.Message(err), rest.StatusFor(err))
		return
	}

	log = log.With("roomID", session.RoomID, "playerID", session.PlayerID)

	snapshot, err := that.rooms.GetRoomWithPlayers(req.Context(), session.RoomID)
	if err == nil && snapshot.Player(session.PlayerID) == nil {
		err = apperror.ErrPlayerNotFound
	}

	if err != nil {
		http.Error(writer, apperror.Message(err), rest.StatusFor(err))
		return
	}

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", "error", err)
		return
	}

	c := newClient(conn, session, that.config.SendBuffer, rate.NewLimiter(rate.Limit(that.config.RateLimit), that.config.RateBurst))

	if err = that.hubs.join(ctx, c); err != nil {
		log.Error("failed to join room hub", "error", err)
		_ = conn.Close()

		return
	}

	go c.writePump(that.config.PingPeriod, that.config.WriteWait)

	log.Info("WebSocket connection established")

	that.readPump(req.Context(), c)

	that.hubs.leave(c)
	c.finish()

	log.Info("WebSocket connection closed")
}

// readPump - processes messages from the client until the socket fails.
func (that *Server) readPump(ctx context.Context, c *client) {
	log := that.logger.With("method", "readPump", "roomID", c.session.RoomID, "playerID", c.session.PlayerID)

	pongWait := 2 * that.config.PingPeriod

	c.conn.SetReadLimit(that.config.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		that.heartbeat(ctx, c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	that.heartbeat(ctx, c)
	that.sendSnapshot(ctx, c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("unexpected close", "error", err)
			}

			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var message Message
		if err = json.Unmarshal(data, &message); err != nil {
			that.reply(c, actionError, "", nil, apperror.ErrBadRequest)
			continue
		}

		if !c.limiter.Allow() {
			that.reply(c, message.Action, message.RequestID, nil, apperror.ErrRateLimited)
			continue
		}

		that.handleMessage(ctx, c, &message)
	}
}

func (that *Server) handleMessage(ctx context.Context, c *client, message *Message) {
	log := that.logger.With("method", "handleMessage", "action", message.Action, "playerID", c.session.PlayerID)

	handler, ok := that.handlers[message.Action]
	if !ok {
		that.reply(c, message.Action, message.RequestID, nil, apperror.ErrUnknownAction)
		return
	}

	var payload Payload
	if len(message.Payload) > 0 {
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			that.reply(c, message.Action, message.RequestID, nil, apperror.ErrBadRequest)
			return
		}
	}

	snapshot, err := handler(ctx, c, &payload)
	if err != nil && apperror.Code(err) == "internal" {
		log.Error("error processing message", "error", err)
	}

	that.reply(c, message.Action, message.RequestID, snapshot, err)

	if message.Action == "room:leave" && err == nil {
		c.finish()
	}
}

func (that *Server) reply(c *client, action, requestID string, snapshot *entity.RoomSnapshot, err error) {
	data, encodeErr := encodeMessage(action, requestID, newResponse(snapshot, err))
	if encodeErr != nil {
		that.logger.With("method", "reply").Error("failed to encode response", "error", encodeErr)
		return
	}

	c.deliver(data)
}

func (that *Server) heartbeat(ctx context.Context, c *client) {
	if err := that.rooms.Heartbeat(ctx, c.session.RoomID, c.session.PlayerID); err != nil {
		that.logger.With("method", "heartbeat").Warn("failed to record heartbeat", "playerID", c.session.PlayerID, "error", err)
	}
}

func (that *Server) sendSnapshot(ctx context.Context, c *client) {
	snapshot, err := that.rooms.GetRoomWithPlayers(ctx, c.session.RoomID)
	that.reply(c, actionSnapshot, "", snapshot, err)
}
