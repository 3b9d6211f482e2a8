package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

// StartGame moves the room from the lobby into a game. Without an explicit
// turn order every connected player takes part in join order.
func (that *RoomManager) StartGame(
	ctx context.Context,
	roomID, callerID string,
	gameType entity.GameType,
	initialData json.RawMessage,
	turnOrder []string,
) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "StartGame", "roomID", roomID, "playerID", callerID)

	if !gameType.Valid() {
		return nil, fmt.Errorf("%w: %q", apperror.ErrInvalidGameType, gameType)
	}

	data, err := entity.NormalizeDocument(initialData)
	if err != nil {
		return nil, err
	}

	now := that.now()

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		order, err := resolveTurnOrder(snapshot, turnOrder)
		if err != nil {
			return nil, err
		}

		if err = snapshot.Room.Transition(entity.StatusPlaying); err != nil {
			return nil, err
		}

		snapshot.Room.GameType = gameType
		snapshot.Room.GameState = entity.NewGameState(data, order, callerID, now)

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start game: %w", err)
	}

	that.publish(ctx, entity.EventRoomUpdated, snapshot, callerID)

	log.Info("game started", "gameType", gameType)

	return snapshot, nil
}

// EndGame returns the room to the lobby and drops the game state.
func (that *RoomManager) EndGame(ctx context.Context, roomID, callerID string) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "EndGame", "roomID", roomID, "playerID", callerID)

	snapshot, err := that.transact(ctx, roomID, that.now(), func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		if err := snapshot.Room.Transition(entity.StatusLobby); err != nil {
			return nil, err
		}

		snapshot.Room.GameType = ""
		snapshot.Room.GameState = nil

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end game: %w", err)
	}

	that.publish(ctx, entity.EventRoomUpdated, snapshot, callerID)

	log.Info("game ended")

	return snapshot, nil
}

// FinishRoom closes the party for good and records it in the archive.
func (that *RoomManager) FinishRoom(ctx context.Context, roomID, callerID string) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "FinishRoom", "roomID", roomID, "playerID", callerID)

	now := that.now()

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		if snapshot.Room.IsFinished() {
			return nil, apperror.ErrRoomFinished
		}

		if err := snapshot.Room.Transition(entity.StatusFinished); err != nil {
			return nil, err
		}

		if state := snapshot.Room.GameState; state != nil && state.Timer != nil {
			state.Timer = nil
			state.Commit(callerID, now)
		}

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish room: %w", err)
	}

	if that.archiveRepo != nil {
		if err = that.archiveRepo.Save(ctx, entity.NewRoomArchive(snapshot, now)); err != nil {
			log.Error("failed to archive room", "error", err)
		}
	}

	that.publish(ctx, entity.EventRoomUpdated, snapshot, callerID)

	log.Info("room finished")

	return snapshot, nil
}

// UpdateGameState replaces the game document. Writing the document that is
// already stored succeeds without a new version. Any other write must name the
// current version and come from the host or the player whose turn it is.
func (that *RoomManager) UpdateGameState(
	ctx context.Context,
	roomID, callerID string,
	expectedVersion int64,
	newData json.RawMessage,
) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "UpdateGameState", "roomID", roomID, "playerID", callerID)

	data, err := entity.NormalizeDocument(newData)
	if err != nil {
		return nil, err
	}

	var unchanged *entity.RoomSnapshot

	snapshot, err := that.transact(ctx, roomID, that.now(), func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		state, err := writableState(snapshot, callerID)
		if err != nil {
			return nil, err
		}

		if state.SameDocument(data) {
			unchanged = snapshot
			return nil, errNoChange
		}

		if err = checkWrite(snapshot, state, callerID, expectedVersion); err != nil {
			return nil, err
		}

		state.Data = data
		state.Commit(callerID, that.now())

		return snapshot, nil
	})
	if errors.Is(err, errNoChange) {
		log.Debug("state unchanged")
		return unchanged, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update game state: %w", err)
	}

	that.publish(ctx, entity.EventStateUpdated, snapshot, callerID)

	log.Debug("state updated", "version", snapshot.Room.GameState.Version)

	return snapshot, nil
}

// AdvanceTurn passes the turn to the next connected player in the turn order.
// A non-empty newData replaces the game document in the same write.
func (that *RoomManager) AdvanceTurn(
	ctx context.Context,
	roomID, callerID string,
	expectedVersion int64,
	newData json.RawMessage,
) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "AdvanceTurn", "roomID", roomID, "playerID", callerID)

	var (
		data json.RawMessage
		err  error
	)

	if len(newData) > 0 {
		if data, err = entity.NormalizeDocument(newData); err != nil {
			return nil, err
		}
	}

	snapshot, err := that.transact(ctx, roomID, that.now(), func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		state, err := writableState(snapshot, callerID)
		if err != nil {
			return nil, err
		}

		if len(state.TurnOrder) == 0 {
			return nil, fmt.Errorf("%w: game has no turn order", apperror.ErrInvalidTransition)
		}

		if err = checkWrite(snapshot, state, callerID, expectedVersion); err != nil {
			return nil, err
		}

		state.AdvanceTurn(func(playerID string) bool {
			player := snapshot.Player(playerID)
			return player != nil && player.IsConnected
		})

		if data != nil {
			state.Data = data
		}

		state.Commit(callerID, that.now())

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to advance turn: %w", err)
	}

	that.publish(ctx, entity.EventStateUpdated, snapshot, callerID)

	log.Debug("turn advanced", "turn", snapshot.Room.GameState.CurrentTurn())

	return snapshot, nil
}

// StartTimer stores a countdown that every client renders from the same start time.
func (that *RoomManager) StartTimer(
	ctx context.Context,
	roomID, callerID string,
	duration time.Duration,
	label string,
) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "StartTimer", "roomID", roomID, "playerID", callerID)

	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s", apperror.ErrInvalidTimer, duration)
	}

	now := that.now()

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		if err := snapshot.Room.ConfirmPlayingState(); err != nil {
			return nil, err
		}

		state := snapshot.Room.GameState
		state.Timer = &entity.Timer{
			StartTime:  now,
			DurationMS: duration.Milliseconds(),
			Label:      label,
		}
		state.Commit(callerID, now)

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start timer: %w", err)
	}

	that.publish(ctx, entity.EventStateUpdated, snapshot, callerID)

	log.Info("timer started", "duration", duration)

	return snapshot, nil
}

// CommitTimer applies the outcome of an expired timer exactly once: the timer
// is cleared in the same write, so a second commit finds no timer.
func (that *RoomManager) CommitTimer(
	ctx context.Context,
	roomID, callerID string,
	expectedVersion int64,
	newData json.RawMessage,
) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "CommitTimer", "roomID", roomID, "playerID", callerID)

	var (
		data json.RawMessage
		err  error
	)

	if len(newData) > 0 {
		if data, err = entity.NormalizeDocument(newData); err != nil {
			return nil, err
		}
	}

	now := that.now()

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		if err := snapshot.Room.ConfirmPlayingState(); err != nil {
			return nil, err
		}

		state := snapshot.Room.GameState

		switch {
		case state.Timer == nil:
			return nil, apperror.ErrNoTimer
		case !state.Timer.Expired(now):
			return nil, fmt.Errorf("%w: expires at %s", apperror.ErrTimerRunning, state.Timer.ExpiresAt())
		}

		if err := state.CheckVersion(expectedVersion); err != nil {
			return nil, err
		}

		state.Timer = nil
		if data != nil {
			state.Data = data
		}

		state.Commit(callerID, now)

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit timer: %w", err)
	}

	that.publish(ctx, entity.EventStateUpdated, snapshot, callerID)

	log.Info("timer committed")

	return snapshot, nil
}

func writableState(snapshot *entity.RoomSnapshot, callerID string) (*entity.GameState, error) {
	if err := requireMember(snapshot, callerID); err != nil {
		return nil, err
	}

	if err := snapshot.Room.ConfirmPlayingState(); err != nil {
		return nil, err
	}

	return snapshot.Room.GameState, nil
}

func checkWrite(snapshot *entity.RoomSnapshot, state *entity.GameState, callerID string, expectedVersion int64) error {
	if err := state.CheckVersion(expectedVersion); err != nil {
		return err
	}

	if !state.CanWrite(callerID, snapshot.Room.HostID) {
		return fmt.Errorf("%w: current turn is %q", apperror.ErrNotYourTurn, state.CurrentTurn())
	}

	return nil
}

func resolveTurnOrder(snapshot *entity.RoomSnapshot, requested []string) ([]string, error) {
	if len(requested) > 0 {
		order := make([]string, 0, len(requested))
		seen := make(map[string]bool, len(requested))

		for _, playerID := range requested {
			if snapshot.Player(playerID) == nil {
				return nil, fmt.Errorf("%w: %q in turn order", apperror.ErrPlayerNotFound, playerID)
			}

			if !seen[playerID] {
				seen[playerID] = true
				order = append(order, playerID)
			}
		}

		return order, nil
	}

	order := make([]string, 0, len(snapshot.Players))
	for _, player := range snapshot.Players {
		if player.IsConnected {
			order = append(order, player.ID)
		}
	}

	if len(order) == 0 {
		for _, player := range snapshot.Players {
			order = append(order, player.ID)
		}
	}

	return order, nil
}
