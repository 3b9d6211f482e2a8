package websocket

import (
	"context"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

func (that *Server) handleHeartbeat(ctx context.Context, c *client, _ *Payload) (*entity.RoomSnapshot, error) {
	return nil, that.rooms.Heartbeat(ctx, c.session.RoomID, c.session.PlayerID)
}

func (that *Server) handleGetRoom(ctx context.Context, c *client, _ *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.GetRoomWithPlayers(ctx, c.session.RoomID)
}

func (that *Server) handleLeave(ctx context.Context, c *client, _ *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.LeaveRoom(ctx, c.session.RoomID, c.session.PlayerID)
}

func (that *Server) handleKick(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.KickPlayer(ctx, c.session.RoomID, c.session.PlayerID, payload.PlayerID)
}

func (that *Server) handleTransferHost(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.TransferHost(ctx, c.session.RoomID, c.session.PlayerID, payload.PlayerID)
}

func (that *Server) handleStartGame(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.StartGame(ctx, c.session.RoomID, c.session.PlayerID, payload.GameType, payload.Data, payload.TurnOrder)
}

func (that *Server) handleEndGame(ctx context.Context, c *client, _ *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.EndGame(ctx, c.session.RoomID, c.session.PlayerID)
}

func (that *Server) handleFinishRoom(ctx context.Context, c *client, _ *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.FinishRoom(ctx, c.session.RoomID, c.session.PlayerID)
}

func (that *Server) handleUpdateState(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.UpdateGameState(ctx, c.session.RoomID, c.session.PlayerID, payload.Version, payload.Data)
}

func (that *Server) handleAdvanceTurn(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.AdvanceTurn(ctx, c.session.RoomID, c.session.PlayerID, payload.Version, payload.Data)
}

func (that *Server) handleStartTimer(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	duration := time.Duration(payload.DurationMS) * time.Millisecond

	return that.rooms.StartTimer(ctx, c.session.RoomID, c.session.PlayerID, duration, payload.Label)
}

func (that *Server) handleCommitTimer(ctx context.Context, c *client, payload *Payload) (*entity.RoomSnapshot, error) {
	return that.rooms.CommitTimer(ctx, c.session.RoomID, c.session.PlayerID, payload.Version, payload.Data)
}
