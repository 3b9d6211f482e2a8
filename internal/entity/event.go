package entity

import "time"

type EventType string

const (
	EventRoomUpdated     EventType = "room.updated"
	EventRoomDeleted     EventType = "room.deleted"
	EventPlayerJoined    EventType = "player.joined"
	EventPlayerLeft      EventType = "player.left"
	EventPlayerKicked    EventType = "player.kicked"
	EventHostChanged     EventType = "host.changed"
	EventStateUpdated    EventType = "state.updated"
	EventPresenceChanged EventType = "presence.changed"
)

// Event is what subscribers of a room receive. It always carries the complete
// snapshot, so consumers rebuild their view from it instead of applying diffs.
type Event struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"room_id"`
	Room     *Room     `json:"room,omitempty"`
	Players  []*Player `json:"players,omitempty"`
	PlayerID string    `json:"player_id,omitempty"`
	Presence []string  `json:"presence,omitempty"`
	At       time.Time `json:"at"`
}

func NewEvent(eventType EventType, snapshot *RoomSnapshot, playerID string, now time.Time) *Event {
	event := &Event{
		Type:     eventType,
		PlayerID: playerID,
		At:       now,
	}

	if snapshot != nil {
		event.RoomID = snapshot.Room.ID
		event.Room = snapshot.Room
		event.Players = snapshot.Players

		for _, player := range snapshot.Players {
			if player.IsConnected {
				event.Presence = append(event.Presence, player.ID)
			}
		}
	}

	return event
}

// RoomArchive is the record kept for a room after its party has finished.
type RoomArchive struct {
	RoomID      string    `json:"room_id"`
	Code        string    `json:"code"`
	GameType    GameType  `json:"game_type,omitempty"`
	HostName    string    `json:"host_name"`
	PlayerNames []string  `json:"player_names"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func NewRoomArchive(snapshot *RoomSnapshot, now time.Time) *RoomArchive {
	archive := &RoomArchive{
		RoomID:      snapshot.Room.ID,
		Code:        snapshot.Room.Code,
		GameType:    snapshot.Room.GameType,
		PlayerNames: make([]string, 0, len(snapshot.Players)),
		CreatedAt:   snapshot.Room.CreatedAt,
		FinishedAt:  now,
	}

	if host := snapshot.Host(); host != nil {
		archive.HostName = host.Name
	}

	for _, player := range snapshot.Players {
		archive.PlayerNames = append(archive.PlayerNames, player.Name)
	}

	return archive
}
