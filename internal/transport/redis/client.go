package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

const subscriptionBuffer = 64

// Client broadcasts room events over Redis Pub/Sub, so every gateway instance
// sees changes made through any other instance.
type Client struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *Client {
	return &Client{
		client: client,
		logger: logger.With("component", "broadcaster"),
	}
}

func eventsChannel(roomID string) string {
	return "room:" + roomID + ":events"
}

// Publish - sends an event to every current subscriber of its room.
func (that *Client) Publish(ctx context.Context, event *entity.Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err = that.client.Publish(ctx, eventsChannel(event.RoomID), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe - returns the events of a room in publish order. The channel is
// closed once ctx is done or the subscription breaks.
func (that *Client) Subscribe(ctx context.Context, roomID string) (<-chan *entity.Event, error) {
	log := that.logger.With("method", "Subscribe", "roomID", roomID)

	pubsub := that.client.Subscribe(ctx, eventsChannel(roomID))

	// wait for the subscription to be confirmed so no event published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room events: %w", err)
	}

	events := make(chan *entity.Event, subscriptionBuffer)

	go func() {
		defer close(events)
		defer pubsub.Close()

		messages := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-messages:
				if !ok {
					return
				}

				var event entity.Event
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					log.Error("failed to unmarshal event", "error", err)
					continue
				}

				select {
				case events <- &event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}
