package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/config"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
	"github.com/rocketscienceinc/partyroom-backend/internal/pkg"
	"github.com/rocketscienceinc/partyroom-backend/internal/repository"
)

// errNoChange aborts a transaction whose result would equal the stored snapshot.
var errNoChange = errors.New("no change")

type roomRepo interface {
	Create(ctx context.Context, snapshot *entity.RoomSnapshot) error
	GetByID(ctx context.Context, id string) (*entity.RoomSnapshot, error)
	GetIDByCode(ctx context.Context, code string) (string, error)
	Transact(ctx context.Context, id string, fn repository.UpdateFunc) (*entity.RoomSnapshot, error)
	ActiveIDs(ctx context.Context) ([]string, error)
	Forget(ctx context.Context, id string) error
}

type presenceRepo interface {
	Touch(ctx context.Context, channel, member string, at, since time.Time) (bool, error)
	Remove(ctx context.Context, channel, member string) error
	Live(ctx context.Context, channel string, since time.Time) (map[string]time.Time, error)
	Prune(ctx context.Context, channel string, before time.Time) ([]string, error)
	Count(ctx context.Context, channel string, since time.Time) (int64, error)
}

type archiveRepo interface {
	Save(ctx context.Context, archive *entity.RoomArchive) error
	ListRecent(ctx context.Context, limit int) ([]*entity.RoomArchive, error)
}

type broadcaster interface {
	Publish(ctx context.Context, event *entity.Event) error
}

// RoomManager owns every change to rooms, players and game state. All writes
// go through the room repository's transactions and are followed by an event
// carrying the new snapshot.
type RoomManager struct {
	logger *slog.Logger
	config config.Rooms

	roomRepo     roomRepo
	presenceRepo presenceRepo
	archiveRepo  archiveRepo
	broadcaster  broadcaster

	now          func() time.Time
	generateCode func() (string, error)
}

// NewRoomManager - archiveRepo may be nil, in which case finished rooms are not kept.
func NewRoomManager(
	logger *slog.Logger,
	config config.Rooms,
	roomRepo roomRepo,
	presenceRepo presenceRepo,
	archiveRepo archiveRepo,
	broadcaster broadcaster,
) *RoomManager {
	return &RoomManager{
		logger: logger.With("component", "room_manager"),
		config: config,

		roomRepo:     roomRepo,
		presenceRepo: presenceRepo,
		archiveRepo:  archiveRepo,
		broadcaster:  broadcaster,

		now:          time.Now,
		generateCode: pkg.GenerateRoomCode,
	}
}

func (that *RoomManager) CreateRoom(
	ctx context.Context,
	hostName string,
	avatar entity.Avatar,
	settings entity.Settings,
) (*entity.RoomSnapshot, *entity.Player, error) {
	log := that.logger.With("method", "CreateRoom")

	name, avatar, err := that.validatePlayer(hostName, avatar)
	if err != nil {
		return nil, nil, err
	}

	settings, err = settings.WithDefaults(that.config.MaxPlayers)
	if err != nil {
		return nil, nil, err
	}

	now := that.now()
	roomID := pkg.GenerateID()
	host := entity.NewPlayer(pkg.GenerateID(), roomID, name, avatar, now)

	for range that.config.CodeAttempts {
		code, err := that.generateCode()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", apperror.ErrRoomCreation, err)
		}

		snapshot := &entity.RoomSnapshot{
			Room:    entity.NewRoom(roomID, code, host.ID, settings, now, that.config.TTL),
			Players: []*entity.Player{host},
		}
		snapshot.SyncHostFlags()

		err = that.roomRepo.Create(ctx, snapshot)
		if errors.Is(err, repository.ErrCodeTaken) {
			log.Warn("room code collision", "code", code)
			continue
		}

		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", apperror.ErrRoomCreation, err)
		}

		that.touch(ctx, roomID, host.ID, now)
		that.publish(ctx, entity.EventRoomUpdated, snapshot, host.ID)

		log.Info("room created", "roomID", roomID, "code", code, "playerID", host.ID)

		return snapshot, host, nil
	}

	return nil, nil, fmt.Errorf("%w: no free code after %d attempts", apperror.ErrRoomCreation, that.config.CodeAttempts)
}

// JoinRoom adds a player to the room with the given code. A caller that
// already owns a record in the room passes its id as rejoinID and gets that
// record back. Without it, a name matching any record in the room is taken.
func (that *RoomManager) JoinRoom(
	ctx context.Context,
	code, playerName string,
	avatar entity.Avatar,
	rejoinID string,
) (*entity.RoomSnapshot, *entity.Player, error) {
	log := that.logger.With("method", "JoinRoom", "code", code)

	name, avatar, err := that.validatePlayer(playerName, avatar)
	if err != nil {
		return nil, nil, err
	}

	roomID, err := that.resolveCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	now := that.now()

	var (
		joined   *entity.Player
		rejoined bool
	)

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if snapshot.Room.IsFinished() {
			return nil, apperror.ErrRoomFinished
		}

		joined, rejoined = nil, false
		if rejoinID != "" {
			joined = snapshot.Player(rejoinID)
			rejoined = joined != nil
		}

		for _, player := range snapshot.Players {
			if player != joined && entity.SameName(player.Name, name) {
				return nil, fmt.Errorf("%w: %q", apperror.ErrDuplicateName, name)
			}
		}

		// a record that is still connected does not take another seat
		if (joined == nil || !joined.IsConnected) && snapshot.ConnectedCount() >= snapshot.Room.Settings.MaxPlayers {
			return nil, apperror.ErrRoomFull
		}

		if joined == nil {
			joined = entity.NewPlayer(pkg.GenerateID(), roomID, name, avatar, now)
			snapshot.Players = append(snapshot.Players, joined)
		}

		joined.Name = name
		joined.Avatar = avatar
		joined.IsConnected = true
		joined.LastSeen = now

		if state := snapshot.Room.GameState; snapshot.Room.IsPlaying() && state != nil && len(state.TurnOrder) > 0 {
			if !slices.Contains(state.TurnOrder, joined.ID) {
				state.TurnOrder = append(state.TurnOrder, joined.ID)
				state.Commit(joined.ID, now)
			}
		}

		return snapshot, nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to join room: %w", err)
	}

	that.touch(ctx, roomID, joined.ID, now)
	that.publish(ctx, entity.EventPlayerJoined, snapshot, joined.ID)

	log.Info("player joined", "roomID", roomID, "playerID", joined.ID, "rejoined", rejoined)

	return snapshot, joined, nil
}

// GetRoomWithPlayers returns the room with presence applied to its players.
func (that *RoomManager) GetRoomWithPlayers(ctx context.Context, roomID string) (*entity.RoomSnapshot, error) {
	snapshot, err := that.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	live, err := that.presenceRepo.Live(ctx, roomID, that.cutoff(that.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	snapshot.ApplyPresence(live)

	return snapshot, nil
}

func (that *RoomManager) GetRoomByCode(ctx context.Context, code string) (*entity.RoomSnapshot, error) {
	roomID, err := that.resolveCode(ctx, code)
	if err != nil {
		return nil, err
	}

	return that.GetRoomWithPlayers(ctx, roomID)
}

// LeaveRoom removes the player. When the host leaves, the most recently seen
// connected player takes over. The room is deleted when the last player leaves
// or when the host leaves and nobody else is connected, in which case the
// returned snapshot is nil.
func (that *RoomManager) LeaveRoom(ctx context.Context, roomID, playerID string) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "LeaveRoom", "roomID", roomID, "playerID", playerID)

	now := that.now()

	var hostChanged bool

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		var err error

		hostChanged, err = removePlayer(snapshot, playerID, now)
		if err != nil {
			return nil, err
		}

		if len(snapshot.Players) == 0 || snapshot.Host() == nil {
			return nil, nil
		}

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to leave room: %w", err)
	}

	that.forgetPresence(ctx, roomID, playerID)

	if snapshot == nil {
		that.publish(ctx, entity.EventRoomDeleted, &entity.RoomSnapshot{Room: &entity.Room{ID: roomID}}, playerID)
		log.Info("last player left, room deleted")

		return nil, nil
	}

	that.publish(ctx, entity.EventPlayerLeft, snapshot, playerID)
	if hostChanged {
		that.publish(ctx, entity.EventHostChanged, snapshot, snapshot.Room.HostID)
		log.Info("host left", "newHostID", snapshot.Room.HostID)
	}

	log.Info("player left")

	return snapshot, nil
}

func (that *RoomManager) KickPlayer(ctx context.Context, roomID, callerID, targetID string) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "KickPlayer", "roomID", roomID, "playerID", callerID, "targetID", targetID)

	if callerID == targetID {
		return nil, apperror.ErrCannotKickSelf
	}

	now := that.now()

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		if _, err := removePlayer(snapshot, targetID, now); err != nil {
			return nil, err
		}

		return snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to kick player: %w", err)
	}

	that.forgetPresence(ctx, roomID, targetID)
	that.publish(ctx, entity.EventPlayerKicked, snapshot, targetID)

	log.Info("player kicked")

	return snapshot, nil
}

func (that *RoomManager) TransferHost(ctx context.Context, roomID, callerID, newHostID string) (*entity.RoomSnapshot, error) {
	log := that.logger.With("method", "TransferHost", "roomID", roomID, "playerID", callerID, "newHostID", newHostID)

	snapshot, err := that.transact(ctx, roomID, that.now(), func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if err := requireHost(snapshot, callerID); err != nil {
			return nil, err
		}

		if snapshot.Player(newHostID) == nil {
			return nil, apperror.ErrPlayerNotFound
		}

		if newHostID == callerID {
			return nil, errNoChange
		}

		snapshot.Room.HostID = newHostID

		return snapshot, nil
	})
	if errors.Is(err, errNoChange) {
		return that.GetRoomWithPlayers(ctx, roomID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to transfer host: %w", err)
	}

	that.publish(ctx, entity.EventHostChanged, snapshot, newHostID)

	log.Info("host transferred")

	return snapshot, nil
}

// History returns the most recently finished rooms, newest first.
func (that *RoomManager) History(ctx context.Context, limit int) ([]*entity.RoomArchive, error) {
	const (
		defaultLimit = 20
		maxLimit     = 100
	)

	if that.archiveRepo == nil {
		return []*entity.RoomArchive{}, nil
	}

	if limit <= 0 {
		limit = defaultLimit
	}

	limit = min(limit, maxLimit)

	archives, err := that.archiveRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return archives, nil
}

// transact runs fn on the room's latest snapshot with live presence applied.
// Host flags of the stored result always follow the room's host reference.
func (that *RoomManager) transact(
	ctx context.Context,
	roomID string,
	now time.Time,
	fn repository.UpdateFunc,
) (*entity.RoomSnapshot, error) {
	live, err := that.presenceRepo.Live(ctx, roomID, that.cutoff(now))
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	return that.roomRepo.Transact(ctx, roomID, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		snapshot.ApplyPresence(live)

		updated, err := fn(snapshot)
		if err != nil || updated == nil {
			return updated, err
		}

		updated.SyncHostFlags()

		return updated, nil
	})
}

func (that *RoomManager) resolveCode(ctx context.Context, code string) (string, error) {
	code, ok := pkg.NormalizeRoomCode(code)
	if !ok {
		return "", fmt.Errorf("%w: %q", apperror.ErrInvalidRoomCode, code)
	}

	roomID, err := that.roomRepo.GetIDByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to resolve room code: %w", err)
	}

	return roomID, nil
}

func (that *RoomManager) validatePlayer(name string, avatar entity.Avatar) (string, entity.Avatar, error) {
	name, err := entity.NormalizeName(name, that.config.MaxNameLength)
	if err != nil {
		return "", avatar, err
	}

	avatar, err = avatar.WithDefaults()
	if err != nil {
		return "", avatar, err
	}

	return name, avatar, nil
}

func (that *RoomManager) cutoff(now time.Time) time.Time {
	return now.Add(-that.config.PresenceTimeout)
}

func (that *RoomManager) touch(ctx context.Context, channel, member string, now time.Time) {
	if _, err := that.presenceRepo.Touch(ctx, channel, member, now, that.cutoff(now)); err != nil {
		that.logger.With("method", "touch").Error("failed to mark presence", "channel", channel, "member", member, "error", err)
	}
}

func (that *RoomManager) forgetPresence(ctx context.Context, roomID, playerID string) {
	if err := that.presenceRepo.Remove(ctx, roomID, playerID); err != nil {
		that.logger.With("method", "forgetPresence").Error("failed to remove presence", "roomID", roomID, "playerID", playerID, "error", err)
	}
}

// publish never fails the caller: the change is already stored and clients
// resync from the next snapshot they receive.
func (that *RoomManager) publish(ctx context.Context, eventType entity.EventType, snapshot *entity.RoomSnapshot, playerID string) {
	event := entity.NewEvent(eventType, snapshot, playerID, that.now())

	if err := that.broadcaster.Publish(ctx, event); err != nil {
		that.logger.With("method", "publish").Error("failed to publish event", "type", eventType, "roomID", event.RoomID, "error", err)
	}
}

func requireHost(snapshot *entity.RoomSnapshot, playerID string) error {
	if snapshot.Player(playerID) == nil {
		return apperror.ErrPlayerNotFound
	}

	if !snapshot.Room.IsHost(playerID) {
		return apperror.ErrNotHost
	}

	return nil
}

func requireMember(snapshot *entity.RoomSnapshot, playerID string) error {
	if snapshot.Player(playerID) == nil {
		return apperror.ErrPlayerNotFound
	}

	return nil
}

// removePlayer drops the player from the roster and the turn order and hands
// the host role on when needed. It reports whether the host changed.
func removePlayer(snapshot *entity.RoomSnapshot, playerID string, now time.Time) (bool, error) {
	if !snapshot.RemovePlayer(playerID) {
		return false, apperror.ErrPlayerNotFound
	}

	if state := snapshot.Room.GameState; state != nil && state.RemoveFromTurnOrder(playerID) {
		state.Commit(playerID, now)
	}

	if !snapshot.Room.IsHost(playerID) {
		return false, nil
	}

	if next := snapshot.NextHost(); next != nil {
		snapshot.Room.HostID = next.ID
		return true, nil
	}

	return false, nil
}
