package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

type subscriber interface {
	Subscribe(ctx context.Context, roomID string) (<-chan *entity.Event, error)
}

// hub fans the events of one room out to the sockets connected to it.
type hub struct {
	roomID  string
	cancel  context.CancelFunc
	clients map[*client]struct{}
}

// hubs keeps one subscription per room that has at least one local socket.
type hubs struct {
	logger     *slog.Logger
	subscriber subscriber

	mu    sync.Mutex
	rooms map[string]*hub
}

func newHubs(logger *slog.Logger, subscriber subscriber) *hubs {
	return &hubs{
		logger:     logger,
		subscriber: subscriber,
		rooms:      make(map[string]*hub),
	}
}

// join registers c with the hub of its room, subscribing first if needed.
// Events published after join returns reach c. The subscribe round trip runs
// without the lock so other rooms keep dispatching meanwhile.
func (that *hubs) join(ctx context.Context, c *client) error {
	roomID := c.session.RoomID

	if that.attach(roomID, c) {
		return nil
	}

	hubCtx, cancel := context.WithCancel(ctx)

	events, err := that.subscriber.Subscribe(hubCtx, roomID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	// another socket of the room subscribed first
	if h, ok := that.rooms[roomID]; ok {
		cancel()
		h.clients[c] = struct{}{}

		return nil
	}

	h := &hub{
		roomID:  roomID,
		cancel:  cancel,
		clients: map[*client]struct{}{c: {}},
	}
	that.rooms[roomID] = h

	go that.run(h, events)

	return nil
}

// attach adds c to an existing hub of the room and reports whether there was one.
func (that *hubs) attach(roomID string, c *client) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	h, ok := that.rooms[roomID]
	if ok {
		h.clients[c] = struct{}{}
	}

	return ok
}

func (that *hubs) leave(c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	h, ok := that.rooms[c.session.RoomID]
	if !ok {
		return
	}

	delete(h.clients, c)

	if len(h.clients) == 0 {
		h.cancel()
		delete(that.rooms, h.roomID)
	}
}

func (that *hubs) run(h *hub, events <-chan *entity.Event) {
	log := that.logger.With("method", "run", "roomID", h.roomID)

	for event := range events {
		that.dispatch(h, event)
	}

	// the subscription ended while sockets were still attached, let them reconnect
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.rooms[h.roomID] != h {
		return
	}

	log.Warn("room subscription closed, dropping clients", "clients", len(h.clients))

	for c := range h.clients {
		c.finish()
	}

	h.cancel()
	delete(that.rooms, h.roomID)
}

func (that *hubs) dispatch(h *hub, event *entity.Event) {
	log := that.logger.With("method", "dispatch", "roomID", h.roomID, "event", event.Type)

	data, err := encodeMessage(actionEvent, "", event)
	if err != nil {
		log.Error("failed to encode event", "error", err)
		return
	}

	that.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	that.mu.Unlock()

	for _, c := range clients {
		result := c.deliver(data)
		if result == deliveryDropped {
			log.Warn("dropped slow client", "playerID", c.session.PlayerID)
		}

		if result != deliveryQueued {
			continue
		}

		if removes(event, c.session.PlayerID) {
			c.finish()
		}
	}
}

// removes reports whether event ends the membership of playerID.
func removes(event *entity.Event, playerID string) bool {
	switch event.Type {
	case entity.EventRoomDeleted:
		return true
	case entity.EventPlayerKicked, entity.EventPlayerLeft:
		return event.PlayerID == playerID
	default:
		return false
	}
}
