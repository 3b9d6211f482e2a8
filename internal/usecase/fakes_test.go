package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/config"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
	"github.com/rocketscienceinc/partyroom-backend/internal/repository"
	"github.com/stretchr/testify/require"
)

// fakeRooms keeps snapshots as JSON so every read hands out an independent copy.
type fakeRooms struct {
	mu     sync.Mutex
	rooms  map[string][]byte
	codes  map[string]string
	active map[string]bool
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		rooms:  map[string][]byte{},
		codes:  map[string]string{},
		active: map[string]bool{},
	}
}

func (that *fakeRooms) Create(_ context.Context, snapshot *entity.RoomSnapshot) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.codes[snapshot.Room.Code]; ok {
		return repository.ErrCodeTaken
	}

	that.codes[snapshot.Room.Code] = snapshot.Room.ID
	that.store(snapshot)

	return nil
}

func (that *fakeRooms) GetByID(_ context.Context, id string) (*entity.RoomSnapshot, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.load(id)
}

func (that *fakeRooms) GetIDByCode(_ context.Context, code string) (string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	id, ok := that.codes[code]
	if !ok {
		return "", apperror.ErrRoomNotFound
	}

	return id, nil
}

func (that *fakeRooms) Transact(_ context.Context, id string, fn repository.UpdateFunc) (*entity.RoomSnapshot, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	current, err := that.load(id)
	if err != nil {
		return nil, err
	}

	updated, err := fn(current)
	if err != nil {
		return nil, err
	}

	if updated == nil {
		delete(that.rooms, id)
		delete(that.codes, current.Room.Code)
		delete(that.active, id)

		return nil, nil
	}

	that.store(updated)

	return updated, nil
}

func (that *fakeRooms) ActiveIDs(context.Context) ([]string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	ids := make([]string, 0, len(that.active))
	for id := range that.active {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

func (that *fakeRooms) Forget(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.active, id)

	return nil
}

func (that *fakeRooms) store(snapshot *entity.RoomSnapshot) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		panic(err)
	}

	that.rooms[snapshot.Room.ID] = raw
	that.active[snapshot.Room.ID] = true
}

func (that *fakeRooms) load(id string) (*entity.RoomSnapshot, error) {
	raw, ok := that.rooms[id]
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}

	var snapshot entity.RoomSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}

	snapshot.SyncHostFlags()

	return &snapshot, nil
}

type fakePresence struct {
	mu       sync.Mutex
	channels map[string]map[string]time.Time
}

func newFakePresence() *fakePresence {
	return &fakePresence{channels: map[string]map[string]time.Time{}}
}

func (that *fakePresence) Touch(_ context.Context, channel, member string, at, since time.Time) (bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	members, ok := that.channels[channel]
	if !ok {
		members = map[string]time.Time{}
		that.channels[channel] = members
	}

	previous, ok := members[member]
	members[member] = at

	return !ok || previous.Before(since), nil
}

func (that *fakePresence) Remove(_ context.Context, channel, member string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.channels[channel], member)

	return nil
}

func (that *fakePresence) Live(_ context.Context, channel string, since time.Time) (map[string]time.Time, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	live := map[string]time.Time{}
	for member, at := range that.channels[channel] {
		if !at.Before(since) {
			live[member] = at
		}
	}

	return live, nil
}

func (that *fakePresence) Prune(_ context.Context, channel string, before time.Time) ([]string, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	var expired []string
	for member, at := range that.channels[channel] {
		if at.Before(before) {
			expired = append(expired, member)
			delete(that.channels[channel], member)
		}
	}

	sort.Strings(expired)

	return expired, nil
}

func (that *fakePresence) Count(_ context.Context, channel string, since time.Time) (int64, error) {
	live, _ := that.Live(context.Background(), channel, since)
	return int64(len(live)), nil
}

type fakeArchive struct {
	mu       sync.Mutex
	archives []*entity.RoomArchive
}

func (that *fakeArchive) Save(_ context.Context, archive *entity.RoomArchive) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.archives = append([]*entity.RoomArchive{archive}, that.archives...)

	return nil
}

func (that *fakeArchive) ListRecent(_ context.Context, limit int) ([]*entity.RoomArchive, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.archives[:min(limit, len(that.archives))], nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []*entity.Event
}

func (that *fakeBroadcaster) Publish(_ context.Context, event *entity.Event) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events = append(that.events, event)

	return nil
}

func (that *fakeBroadcaster) types() []entity.EventType {
	that.mu.Lock()
	defer that.mu.Unlock()

	types := make([]entity.EventType, 0, len(that.events))
	for _, event := range that.events {
		types = append(types, event.Type)
	}

	return types
}

func (that *fakeBroadcaster) last() *entity.Event {
	that.mu.Lock()
	defer that.mu.Unlock()

	if len(that.events) == 0 {
		return nil
	}

	return that.events[len(that.events)-1]
}

func (that *fakeBroadcaster) reset() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (that *fakeClock) Now() time.Time {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.now
}

func (that *fakeClock) Advance(d time.Duration) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.now = that.now.Add(d)
}

type testEnv struct {
	manager     *RoomManager
	rooms       *fakeRooms
	presence    *fakePresence
	archive     *fakeArchive
	broadcaster *fakeBroadcaster
	clock       *fakeClock
}

var testRoomsConfig = config.Rooms{
	MaxPlayers:      12,
	TTL:             24 * time.Hour,
	CodeAttempts:    3,
	PresenceTimeout: 45 * time.Second,
	SweepInterval:   10 * time.Second,
	MaxNameLength:   20,
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		rooms:       newFakeRooms(),
		presence:    newFakePresence(),
		archive:     &fakeArchive{},
		broadcaster: &fakeBroadcaster{},
		clock:       &fakeClock{now: time.Date(2025, 12, 31, 22, 0, 0, 0, time.UTC)},
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	env.manager = NewRoomManager(logger, testRoomsConfig, env.rooms, env.presence, env.archive, env.broadcaster)
	env.manager.now = env.clock.Now

	return env
}

// party creates a room hosted by Alice and lets Bob join it.
func (that *testEnv) party(t *testing.T) (*entity.RoomSnapshot, *entity.Player, *entity.Player) {
	t.Helper()

	ctx := context.Background()

	snapshot, alice, err := that.manager.CreateRoom(ctx, "Alice", entity.Avatar{}, entity.Settings{})
	require.NoError(t, err)

	snapshot, bob, err := that.manager.JoinRoom(ctx, snapshot.Room.Code, "Bob", entity.Avatar{}, "")
	require.NoError(t, err)

	that.broadcaster.reset()

	return snapshot, alice, bob
}

// heartbeat keeps the given players present at the current fake time.
func (that *testEnv) heartbeat(t *testing.T, roomID string, playerIDs ...string) {
	t.Helper()

	for _, playerID := range playerIDs {
		require.NoError(t, that.manager.Heartbeat(context.Background(), roomID, playerID))
	}
}
