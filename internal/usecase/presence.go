package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
	"github.com/rocketscienceinc/partyroom-backend/internal/repository"
)

const maxVisitorIDLength = 64

// Heartbeat marks the player as present. Coming back online is announced to
// the room with a presence event.
func (that *RoomManager) Heartbeat(ctx context.Context, roomID, playerID string) error {
	log := that.logger.With("method", "Heartbeat", "roomID", roomID, "playerID", playerID)

	snapshot, err := that.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}

	if err = requireMember(snapshot, playerID); err != nil {
		return err
	}

	now := that.now()

	fresh, err := that.presenceRepo.Touch(ctx, roomID, playerID, now, that.cutoff(now))
	if err != nil {
		return fmt.Errorf("failed to mark presence: %w", err)
	}

	if !fresh {
		return nil
	}

	snapshot, err = that.GetRoomWithPlayers(ctx, roomID)
	if err != nil {
		return err
	}

	that.publish(ctx, entity.EventPresenceChanged, snapshot, playerID)

	log.Debug("player came online")

	return nil
}

// RunPresenceMonitor sweeps presence every interval until ctx is done.
func (that *RoomManager) RunPresenceMonitor(ctx context.Context, interval time.Duration) error {
	log := that.logger.With("method", "RunPresenceMonitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("presence monitor started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("presence monitor stopped")
			return nil
		case <-ticker.C:
			if err := that.SweepPresence(ctx); err != nil {
				log.Error("presence sweep failed", "error", err)
			}
		}
	}
}

// SweepPresence drops expired heartbeats of every active room, announces the
// change and moves the host role away from a host that is gone.
func (that *RoomManager) SweepPresence(ctx context.Context) error {
	log := that.logger.With("method", "SweepPresence")

	roomIDs, err := that.roomRepo.ActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}

	for _, roomID := range roomIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err = that.sweepRoom(ctx, roomID); err != nil {
			log.Error("failed to sweep room", "roomID", roomID, "error", err)
		}
	}

	return nil
}

func (that *RoomManager) sweepRoom(ctx context.Context, roomID string) error {
	log := that.logger.With("method", "sweepRoom", "roomID", roomID)

	now := that.now()

	expired, err := that.presenceRepo.Prune(ctx, roomID, that.cutoff(now))
	if err != nil {
		return fmt.Errorf("failed to prune presence: %w", err)
	}

	snapshot, err := that.GetRoomWithPlayers(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return that.roomRepo.Forget(ctx, roomID)
	}

	if err != nil {
		return err
	}

	if needsFailover(snapshot) {
		return that.failover(ctx, roomID, now)
	}

	if len(expired) > 0 {
		that.publish(ctx, entity.EventPresenceChanged, snapshot, "")
		log.Debug("players went offline", "players", expired)
	}

	return nil
}

// needsFailover reports whether the host is gone while someone else could take over.
func needsFailover(snapshot *entity.RoomSnapshot) bool {
	if host := snapshot.Host(); host != nil && host.IsConnected {
		return false
	}

	return snapshot.NextHost() != nil
}

func (that *RoomManager) failover(ctx context.Context, roomID string, now time.Time) error {
	log := that.logger.With("method", "failover", "roomID", roomID)

	previousHostID := ""

	snapshot, err := that.transact(ctx, roomID, now, func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error) {
		if !needsFailover(snapshot) {
			return nil, errNoChange
		}

		previousHostID = snapshot.Room.HostID
		snapshot.Room.HostID = snapshot.NextHost().ID

		return snapshot, nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to transfer host: %w", err)
	}

	that.publish(ctx, entity.EventHostChanged, snapshot, snapshot.Room.HostID)

	log.Info("host went offline, role transferred", "previousHostID", previousHostID, "newHostID", snapshot.Room.HostID)

	return nil
}

// VisitorHeartbeat marks a visitor of the landing page as online.
func (that *RoomManager) VisitorHeartbeat(ctx context.Context, visitorID string) error {
	if visitorID == "" || len(visitorID) > maxVisitorIDLength {
		return fmt.Errorf("%w: %q", apperror.ErrInvalidVisitor, visitorID)
	}

	now := that.now()

	if _, err := that.presenceRepo.Touch(ctx, repository.GlobalChannel, visitorID, now, that.cutoff(now)); err != nil {
		return fmt.Errorf("failed to mark visitor: %w", err)
	}

	return nil
}

// VisitorCount returns how many visitors sent a heartbeat recently.
func (that *RoomManager) VisitorCount(ctx context.Context) (int64, error) {
	cutoff := that.cutoff(that.now())

	if _, err := that.presenceRepo.Prune(ctx, repository.GlobalChannel, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune visitors: %w", err)
	}

	count, err := that.presenceRepo.Count(ctx, repository.GlobalChannel, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count visitors: %w", err)
	}

	return count, nil
}
