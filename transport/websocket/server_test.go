package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/config"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
	"github.com/rocketscienceinc/partyroom-backend/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct{}

func (fakeAuth) ParseToken(token string) (service.Session, error) {
	roomID, playerID, ok := strings.Cut(token, ".")
	if !ok {
		return service.Session{}, apperror.ErrInvalidToken
	}

	return service.Session{RoomID: roomID, PlayerID: playerID}, nil
}

type fakeRooms struct {
	mu         sync.Mutex
	snapshot   *entity.RoomSnapshot
	heartbeats []string
	updates    []json.RawMessage
	updateErr  error
}

func (that *fakeRooms) GetRoomWithPlayers(_ context.Context, roomID string) (*entity.RoomSnapshot, error) {
	if roomID != that.snapshot.Room.ID {
		return nil, apperror.ErrRoomNotFound
	}

	return that.snapshot, nil
}

func (that *fakeRooms) Heartbeat(_ context.Context, _, playerID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.heartbeats = append(that.heartbeats, playerID)

	return nil
}

func (that *fakeRooms) LeaveRoom(context.Context, string, string) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

func (that *fakeRooms) KickPlayer(_ context.Context, _, callerID, _ string) (*entity.RoomSnapshot, error) {
	if !that.snapshot.Room.IsHost(callerID) {
		return nil, apperror.ErrNotHost
	}

	return that.snapshot, nil
}

func (that *fakeRooms) TransferHost(context.Context, string, string, string) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

func (that *fakeRooms) StartGame(context.Context, string, string, entity.GameType, json.RawMessage, []string) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

func (that *fakeRooms) EndGame(context.Context, string, string) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

func (that *fakeRooms) FinishRoom(context.Context, string, string) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

func (that *fakeRooms) UpdateGameState(_ context.Context, _, _ string, _ int64, newData json.RawMessage) (*entity.RoomSnapshot, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.updateErr != nil {
		return nil, that.updateErr
	}

	that.updates = append(that.updates, newData)

	return that.snapshot, nil
}

func (that *fakeRooms) AdvanceTurn(context.Context, string, string, int64, json.RawMessage) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

func (that *fakeRooms) StartTimer(_ context.Context, _, _ string, duration time.Duration, _ string) (*entity.RoomSnapshot, error) {
	if duration <= 0 {
		return nil, apperror.ErrInvalidTimer
	}

	return that.snapshot, nil
}

func (that *fakeRooms) CommitTimer(context.Context, string, string, int64, json.RawMessage) (*entity.RoomSnapshot, error) {
	return that.snapshot, nil
}

// fakeSubscriber hands every subscription its own channel that tests publish to.
type fakeSubscriber struct {
	mu     sync.Mutex
	inputs map[string]chan *entity.Event
}

func (that *fakeSubscriber) Subscribe(ctx context.Context, roomID string) (<-chan *entity.Event, error) {
	in := make(chan *entity.Event, 16)
	out := make(chan *entity.Event)

	that.mu.Lock()
	that.inputs[roomID] = in
	that.mu.Unlock()

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-in:
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (that *fakeSubscriber) publish(event *entity.Event) {
	that.mu.Lock()
	in := that.inputs[event.RoomID]
	that.mu.Unlock()

	in <- event
}

type testGateway struct {
	rooms      *fakeRooms
	subscriber *fakeSubscriber
	url        string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	settings, err := entity.Settings{}.WithDefaults(12)
	require.NoError(t, err)

	alice := entity.NewPlayer("alice", "r1", "Alice", entity.Avatar{}, now)
	bob := entity.NewPlayer("bob", "r1", "Bob", entity.Avatar{}, now)
	snapshot := &entity.RoomSnapshot{
		Room:    entity.NewRoom("r1", "ABC234", alice.ID, settings, now, time.Hour),
		Players: []*entity.Player{alice, bob},
	}
	snapshot.SyncHostFlags()

	gateway := &testGateway{
		rooms:      &fakeRooms{snapshot: snapshot},
		subscriber: &fakeSubscriber{inputs: make(map[string]chan *entity.Event)},
	}

	conf := config.WebSocket{
		PingPeriod: time.Minute,
		WriteWait:  time.Second,
		ReadLimit:  65536,
		SendBuffer: 16,
		RateLimit:  0.01,
		RateBurst:  3,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := New(logger, conf, gateway.rooms, fakeAuth{}, gateway.subscriber)

	ctx, cancel := context.WithCancel(context.Background())
	httpServer := httptest.NewServer(server.Handler(ctx))

	t.Cleanup(func() {
		cancel()
		httpServer.Close()
	})

	gateway.url = "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"

	return gateway
}

func (that *testGateway) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(that.url+"?token="+token, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (Message, ResponsePayload) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var message Message
	require.NoError(t, conn.ReadJSON(&message))

	var response ResponsePayload
	if message.Action != actionEvent {
		require.NoError(t, json.Unmarshal(message.Payload, &response))
	}

	return message, response
}

func send(t *testing.T, conn *websocket.Conn, action, requestID string, payload any) {
	t.Helper()

	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Action: action, RequestID: requestID, Payload: payloadJSON}))
}

func TestServer_Connect(t *testing.T) {
	t.Run("Rejects bad tokens before upgrading", func(t *testing.T) {
		gateway := newTestGateway(t)

		_, resp, err := websocket.DefaultDialer.Dial(gateway.url+"?token=garbage", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Rejects players that are not in the room", func(t *testing.T) {
		gateway := newTestGateway(t)

		_, resp, err := websocket.DefaultDialer.Dial(gateway.url+"?token=r1.mallory", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		_, resp, err = websocket.DefaultDialer.Dial(gateway.url+"?token=r2.alice", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Sends the snapshot and marks the player present", func(t *testing.T) {
		gateway := newTestGateway(t)

		// When: Bob connects
		conn := gateway.dial(t, "r1.bob")

		// Then: the first message is the room snapshot
		message, response := readMessage(t, conn)
		assert.Equal(t, actionSnapshot, message.Action)
		assert.True(t, response.OK)
		assert.Equal(t, "ABC234", response.Room.Code)
		assert.Len(t, response.Players, 2)

		gateway.rooms.mu.Lock()
		assert.Contains(t, gateway.rooms.heartbeats, "bob")
		gateway.rooms.mu.Unlock()
	})
}

func TestServer_Actions(t *testing.T) {
	t.Run("Replies carry the request id", func(t *testing.T) {
		gateway := newTestGateway(t)
		conn := gateway.dial(t, "r1.alice")
		readMessage(t, conn)

		send(t, conn, "state:update", "42", Payload{Version: 1, Data: json.RawMessage(`{"round":2}`)})

		message, response := readMessage(t, conn)
		assert.Equal(t, "state:update", message.Action)
		assert.Equal(t, "42", message.RequestID)
		assert.True(t, response.OK)

		gateway.rooms.mu.Lock()
		require.Len(t, gateway.rooms.updates, 1)
		assert.JSONEq(t, `{"round":2}`, string(gateway.rooms.updates[0]))
		gateway.rooms.mu.Unlock()
	})

	t.Run("Errors are reported with their code", func(t *testing.T) {
		gateway := newTestGateway(t)
		gateway.rooms.mu.Lock()
		gateway.rooms.updateErr = apperror.ErrStaleVersion
		gateway.rooms.mu.Unlock()

		conn := gateway.dial(t, "r1.bob")
		readMessage(t, conn)

		send(t, conn, "state:update", "1", Payload{Version: 0, Data: json.RawMessage(`{}`)})
		_, response := readMessage(t, conn)
		require.NotNil(t, response.Error)
		assert.False(t, response.OK)
		assert.Equal(t, "stale_version", response.Error.Code)

		send(t, conn, "player:kick", "2", Payload{PlayerID: "alice"})
		_, response = readMessage(t, conn)
		require.NotNil(t, response.Error)
		assert.Equal(t, "not_host", response.Error.Code)

		send(t, conn, "timer:start", "3", Payload{})
		_, response = readMessage(t, conn)
		require.NotNil(t, response.Error)
		assert.Equal(t, "invalid_timer", response.Error.Code)
	})

	t.Run("Unknown actions and garbage", func(t *testing.T) {
		gateway := newTestGateway(t)
		conn := gateway.dial(t, "r1.bob")
		readMessage(t, conn)

		send(t, conn, "board:flip", "1", nil)
		_, response := readMessage(t, conn)
		require.NotNil(t, response.Error)
		assert.Equal(t, "unknown_action", response.Error.Code)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		message, response := readMessage(t, conn)
		assert.Equal(t, actionError, message.Action)
		require.NotNil(t, response.Error)
		assert.Equal(t, "bad_request", response.Error.Code)
	})

	t.Run("Bursts are rate limited", func(t *testing.T) {
		gateway := newTestGateway(t)
		conn := gateway.dial(t, "r1.bob")
		readMessage(t, conn)

		// Given: a burst allowance of three messages
		for range 4 {
			send(t, conn, "room:get", "", nil)
		}

		// Then: the fourth is refused
		var codes []string
		for range 4 {
			_, response := readMessage(t, conn)
			if response.Error != nil {
				codes = append(codes, response.Error.Code)
			}
		}

		assert.Equal(t, []string{"rate_limited"}, codes)
	})
}

func TestServer_Events(t *testing.T) {
	t.Run("Room events reach every socket", func(t *testing.T) {
		gateway := newTestGateway(t)

		alice := gateway.dial(t, "r1.alice")
		readMessage(t, alice)
		bob := gateway.dial(t, "r1.bob")
		readMessage(t, bob)

		// When: a state change is published
		gateway.subscriber.publish(entity.NewEvent(entity.EventStateUpdated, gateway.rooms.snapshot, "alice", time.Now()))

		// Then: both sockets receive it
		for _, conn := range []*websocket.Conn{alice, bob} {
			message, _ := readMessage(t, conn)
			require.Equal(t, actionEvent, message.Action)

			var event entity.Event
			require.NoError(t, json.Unmarshal(message.Payload, &event))
			assert.Equal(t, entity.EventStateUpdated, event.Type)
			assert.Equal(t, "r1", event.RoomID)
		}
	})

	t.Run("Kicked players are disconnected", func(t *testing.T) {
		gateway := newTestGateway(t)

		alice := gateway.dial(t, "r1.alice")
		readMessage(t, alice)
		bob := gateway.dial(t, "r1.bob")
		readMessage(t, bob)

		gateway.subscriber.publish(entity.NewEvent(entity.EventPlayerKicked, gateway.rooms.snapshot, "bob", time.Now()))

		// Then: Bob gets the event and then a close frame
		message, _ := readMessage(t, bob)
		assert.Equal(t, actionEvent, message.Action)

		require.NoError(t, bob.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := bob.ReadMessage()

		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), err)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

		// And: Alice stays connected
		message, _ = readMessage(t, alice)
		assert.Equal(t, actionEvent, message.Action)

		send(t, alice, "room:get", "1", nil)
		_, response := readMessage(t, alice)
		assert.True(t, response.OK)
	})
}
