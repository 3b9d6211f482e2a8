package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
	"github.com/rocketscienceinc/partyroom-backend/internal/service"
)

const sessionKey = "session"

type roomUseCase interface {
	CreateRoom(ctx context.Context, hostName string, avatar entity.Avatar, settings entity.Settings) (*entity.RoomSnapshot, *entity.Player, error)
	JoinRoom(ctx context.Context, code, playerName string, avatar entity.Avatar, rejoinID string) (*entity.RoomSnapshot, *entity.Player, error)
	GetRoomByCode(ctx context.Context, code string) (*entity.RoomSnapshot, error)
	LeaveRoom(ctx context.Context, roomID, playerID string) (*entity.RoomSnapshot, error)
	VisitorHeartbeat(ctx context.Context, visitorID string) error
	VisitorCount(ctx context.Context) (int64, error)
	History(ctx context.Context, limit int) ([]*entity.RoomArchive, error)
}

type authService interface {
	GenerateToken(session service.Session) (string, error)
	ParseToken(token string) (service.Session, error)
}

type Handlers struct {
	logger *slog.Logger

	rooms roomUseCase
	auth  authService
}

// NewHandlers - rooms may be nil when multiplayer is disabled.
func NewHandlers(logger *slog.Logger, rooms roomUseCase, auth authService) *Handlers {
	return &Handlers{
		logger: logger.With("component", "rest"),
		rooms:  rooms,
		auth:   auth,
	}
}

type joinRequest struct {
	Name     string          `json:"name"`
	Avatar   entity.Avatar   `json:"avatar"`
	Settings entity.Settings `json:"settings"`
}

type visitorRequest struct {
	VisitorID string `json:"visitor_id"`
}

type roomResponse struct {
	Room    *entity.Room     `json:"room"`
	Players []*entity.Player `json:"players"`
}

type sessionResponse struct {
	roomResponse
	Player *entity.Player `json:"player"`
	Token  string         `json:"token"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (that *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"multiplayer": that.rooms != nil})
}

func (that *Handlers) CreateRoom(c *gin.Context) {
	var request joinRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		that.sendErrorResponse(c, apperror.ErrBadRequest)
		return
	}

	snapshot, player, err := that.rooms.CreateRoom(c.Request.Context(), request.Name, request.Avatar, request.Settings)
	if err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	that.sendSession(c, http.StatusCreated, snapshot, player)
}

// JoinRoom - a bearer token from an earlier join of this room brings the caller
// back on the same player record.
func (that *Handlers) JoinRoom(c *gin.Context) {
	var request joinRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		that.sendErrorResponse(c, apperror.ErrBadRequest)
		return
	}

	var rejoinID string

	if token, ok := bearerToken(c); ok {
		session, err := that.auth.ParseToken(token)
		if err != nil {
			that.sendErrorResponse(c, err)
			return
		}

		rejoinID = session.PlayerID
	}

	snapshot, player, err := that.rooms.JoinRoom(c.Request.Context(), c.Param("code"), request.Name, request.Avatar, rejoinID)
	if err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	that.sendSession(c, http.StatusOK, snapshot, player)
}

func (that *Handlers) GetRoom(c *gin.Context) {
	snapshot, err := that.rooms.GetRoomByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, roomResponse{Room: snapshot.Room, Players: snapshot.Players})
}

func (that *Handlers) LeaveRoom(c *gin.Context) {
	session := c.MustGet(sessionKey).(service.Session)

	if _, err := that.rooms.LeaveRoom(c.Request.Context(), session.RoomID, session.PlayerID); err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (that *Handlers) VisitorHeartbeat(c *gin.Context) {
	var request visitorRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		that.sendErrorResponse(c, apperror.ErrBadRequest)
		return
	}

	if err := that.rooms.VisitorHeartbeat(c.Request.Context(), request.VisitorID); err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (that *Handlers) VisitorCount(c *gin.Context) {
	count, err := that.rooms.VisitorCount(c.Request.Context())
	if err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (that *Handlers) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			that.sendErrorResponse(c, apperror.ErrBadRequest)
			return
		}

		limit = parsed
	}

	archives, err := that.rooms.History(c.Request.Context(), limit)
	if err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": archives})
}

func (that *Handlers) requireMultiplayer(c *gin.Context) {
	if that.rooms == nil {
		that.sendErrorResponse(c, apperror.ErrMultiplayerDisabled)
		c.Abort()

		return
	}

	c.Next()
}

func (that *Handlers) requireSession(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		that.sendErrorResponse(c, apperror.ErrInvalidToken)
		c.Abort()

		return
	}

	session, err := that.auth.ParseToken(token)
	if err != nil {
		that.sendErrorResponse(c, err)
		c.Abort()

		return
	}

	c.Set(sessionKey, session)
	c.Next()
}

func bearerToken(c *gin.Context) (string, bool) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")

	return token, ok && token != ""
}

func (that *Handlers) sendSession(c *gin.Context, status int, snapshot *entity.RoomSnapshot, player *entity.Player) {
	token, err := that.auth.GenerateToken(service.Session{PlayerID: player.ID, RoomID: snapshot.Room.ID})
	if err != nil {
		that.sendErrorResponse(c, err)
		return
	}

	c.JSON(status, sessionResponse{
		roomResponse: roomResponse{Room: snapshot.Room, Players: snapshot.Players},
		Player:       player,
		Token:        token,
	})
}

func (that *Handlers) sendErrorResponse(c *gin.Context, err error) {
	status := StatusFor(err)

	if status == http.StatusInternalServerError {
		that.logger.With("method", "sendErrorResponse").Error("request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, errorResponse{Error: errorBody{
		Code:    apperror.Code(err),
		Message: apperror.Message(err),
	}})
}

// StatusFor maps an error to the HTTP status sent to clients.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrRoomNotFound), errors.Is(err, apperror.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrRoomFull),
		errors.Is(err, apperror.ErrDuplicateName),
		errors.Is(err, apperror.ErrStaleVersion),
		errors.Is(err, apperror.ErrInvalidTransition),
		errors.Is(err, apperror.ErrTimerRunning),
		errors.Is(err, apperror.ErrNoTimer):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrRoomFinished):
		return http.StatusGone
	case errors.Is(err, apperror.ErrNotHost),
		errors.Is(err, apperror.ErrNotYourTurn),
		errors.Is(err, apperror.ErrCannotKickSelf):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrMultiplayerDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperror.ErrBadRequest),
		errors.Is(err, apperror.ErrInvalidRoomCode),
		errors.Is(err, apperror.ErrInvalidName),
		errors.Is(err, apperror.ErrInvalidAvatar),
		errors.Is(err, apperror.ErrInvalidSettings),
		errors.Is(err, apperror.ErrInvalidGameType),
		errors.Is(err, apperror.ErrInvalidState),
		errors.Is(err, apperror.ErrInvalidTimer),
		errors.Is(err, apperror.ErrInvalidVisitor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
