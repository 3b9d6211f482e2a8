package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

const maxTxAttempts = 16

var (
	ErrCodeTaken  = errors.New("room code already in use")
	ErrTxConflict = errors.New("too many concurrent updates")
)

// UpdateFunc receives the current snapshot and returns the one to store.
// Returning a nil snapshot deletes the room. Returning an error aborts
// the transaction without writing anything.
type UpdateFunc func(snapshot *entity.RoomSnapshot) (*entity.RoomSnapshot, error)

type RoomRepository interface {
	Create(ctx context.Context, snapshot *entity.RoomSnapshot) error
	GetByID(ctx context.Context, id string) (*entity.RoomSnapshot, error)
	GetIDByCode(ctx context.Context, code string) (string, error)
	Transact(ctx context.Context, id string, fn UpdateFunc) (*entity.RoomSnapshot, error)
	ActiveIDs(ctx context.Context) ([]string, error)
	Forget(ctx context.Context, id string) error
}

type dbRoom struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) RoomRepository {
	return &dbRoom{
		client: client,
	}
}

func roomKey(id string) string {
	return "room:" + id
}

func playersKey(roomID string) string {
	return "room:" + roomID + ":players"
}

func codeKey(code string) string {
	return "room_code:" + code
}

const activeRoomsKey = "rooms:active"

// Create reserves the room's code and stores the snapshot. It fails with
// ErrCodeTaken when another live room already uses the code.
func (that *dbRoom) Create(ctx context.Context, snapshot *entity.RoomSnapshot) error {
	room := snapshot.Room

	ok, err := that.client.SetNX(ctx, codeKey(room.Code), room.ID, time.Until(room.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve room code: %w", err)
	}

	if !ok {
		return ErrCodeTaken
	}

	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return queueWrite(ctx, pipe, snapshot)
	})
	if err != nil {
		that.client.Del(ctx, codeKey(room.Code))
		return fmt.Errorf("failed to create room: %w", err)
	}

	return nil
}

func (that *dbRoom) GetByID(ctx context.Context, id string) (*entity.RoomSnapshot, error) {
	return readSnapshot(ctx, that.client, id)
}

func (that *dbRoom) GetIDByCode(ctx context.Context, code string) (string, error) {
	id, err := that.client.Get(ctx, codeKey(code)).Result()

	if errors.Is(err, redis.Nil) {
		return "", apperror.ErrRoomNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to get room by code: %w", err)
	}

	return id, nil
}

// Transact runs fn against the latest snapshot of the room and stores its
// result atomically. Concurrent writers to the same room are detected with
// WATCH and fn is re-run on the fresh snapshot.
func (that *dbRoom) Transact(ctx context.Context, id string, fn UpdateFunc) (*entity.RoomSnapshot, error) {
	var result *entity.RoomSnapshot

	txf := func(tx *redis.Tx) error {
		current, err := readSnapshot(ctx, tx, id)
		if err != nil {
			return err
		}

		updated, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if updated == nil {
				queueDelete(ctx, pipe, current.Room)
				return nil
			}

			return queueWrite(ctx, pipe, updated)
		})
		if err != nil {
			return err
		}

		result = updated

		return nil
	}

	for range maxTxAttempts {
		err := that.client.Watch(ctx, txf, roomKey(id), playersKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return result, nil
	}

	return nil, fmt.Errorf("%w: room %s", ErrTxConflict, id)
}

// ActiveIDs lists rooms that may still exist. Entries whose room has expired
// are removed with Forget.
func (that *dbRoom) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := that.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}

	return ids, nil
}

func (that *dbRoom) Forget(ctx context.Context, id string) error {
	if err := that.client.SRem(ctx, activeRoomsKey, id).Err(); err != nil {
		return fmt.Errorf("failed to forget room: %w", err)
	}

	return nil
}

type snapshotReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readSnapshot(ctx context.Context, reader snapshotReader, id string) (*entity.RoomSnapshot, error) {
	response, err := reader.Get(ctx, roomKey(id)).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrRoomNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get room by id: %w", err)
	}

	var room entity.Room
	if err = json.Unmarshal([]byte(response), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	records, err := reader.HGetAll(ctx, playersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get players: %w", err)
	}

	players := make([]*entity.Player, 0, len(records))
	for _, record := range records {
		var player entity.Player
		if err = json.Unmarshal([]byte(record), &player); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player: %w", err)
		}

		players = append(players, &player)
	}

	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].ID < players[j].ID
		}

		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})

	snapshot := &entity.RoomSnapshot{Room: &room, Players: players}
	snapshot.SyncHostFlags()

	return snapshot, nil
}

func queueWrite(ctx context.Context, pipe redis.Pipeliner, snapshot *entity.RoomSnapshot) error {
	room := snapshot.Room

	roomJSON, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("could not marshal room: %w", err)
	}

	fields := make([]any, 0, 2*len(snapshot.Players))
	for _, player := range snapshot.Players {
		playerJSON, err := json.Marshal(player)
		if err != nil {
			return fmt.Errorf("could not marshal player: %w", err)
		}

		fields = append(fields, player.ID, playerJSON)
	}

	pipe.Set(ctx, roomKey(room.ID), roomJSON, 0)
	pipe.ExpireAt(ctx, roomKey(room.ID), room.ExpiresAt)

	pipe.Del(ctx, playersKey(room.ID))
	if len(fields) > 0 {
		pipe.HSet(ctx, playersKey(room.ID), fields...)
		pipe.ExpireAt(ctx, playersKey(room.ID), room.ExpiresAt)
	}

	pipe.SAdd(ctx, activeRoomsKey, room.ID)

	return nil
}

func queueDelete(ctx context.Context, pipe redis.Pipeliner, room *entity.Room) {
	pipe.Del(ctx, roomKey(room.ID), playersKey(room.ID), codeKey(room.Code), presenceKey(room.ID))
	pipe.SRem(ctx, activeRoomsKey, room.ID)
}
