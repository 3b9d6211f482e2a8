package entity

import (
	"fmt"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
)

type RoomStatus string

const (
	StatusLobby    RoomStatus = "lobby"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

type Intensity string

const (
	IntensityLight  Intensity = "light"
	IntensityMedium Intensity = "medium"
	IntensitySpicy  Intensity = "spicy"
)

const (
	DefaultMaxPlayers = 12
	MinMaxPlayers     = 2
	MaxMaxPlayers     = 50
)

type Settings struct {
	MaxPlayers int       `json:"max_players"`
	Intensity  Intensity `json:"intensity"`
}

// WithDefaults fills zero values and validates the result.
func (that Settings) WithDefaults(defaultMaxPlayers int) (Settings, error) {
	if that.MaxPlayers == 0 {
		that.MaxPlayers = defaultMaxPlayers
	}

	if that.Intensity == "" {
		that.Intensity = IntensityMedium
	}

	if that.MaxPlayers < MinMaxPlayers || that.MaxPlayers > MaxMaxPlayers {
		return that, fmt.Errorf("%w: max players %d", apperror.ErrInvalidSettings, that.MaxPlayers)
	}

	switch that.Intensity {
	case IntensityLight, IntensityMedium, IntensitySpicy:
	default:
		return that, fmt.Errorf("%w: intensity %q", apperror.ErrInvalidSettings, that.Intensity)
	}

	return that, nil
}

type Room struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	HostID    string     `json:"host_id"`
	GameType  GameType   `json:"game_type,omitempty"`
	Status    RoomStatus `json:"status"`
	GameState *GameState `json:"game_state,omitempty"`
	Settings  Settings   `json:"settings"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func NewRoom(id, code, hostID string, settings Settings, now time.Time, ttl time.Duration) *Room {
	return &Room{
		ID:        id,
		Code:      code,
		HostID:    hostID,
		Status:    StatusLobby,
		Settings:  settings,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (that *Room) IsLobby() bool {
	return that.Status == StatusLobby
}

func (that *Room) IsPlaying() bool {
	return that.Status == StatusPlaying
}

func (that *Room) IsFinished() bool {
	return that.Status == StatusFinished
}

// CanTransition reports whether the room may move from its current status to next.
// lobby -> playing, playing -> lobby and playing|lobby -> finished are the only legal moves.
func (that *Room) CanTransition(next RoomStatus) bool {
	switch that.Status {
	case StatusLobby:
		return next == StatusPlaying || next == StatusFinished
	case StatusPlaying:
		return next == StatusLobby || next == StatusFinished
	default:
		return false
	}
}

func (that *Room) Transition(next RoomStatus) error {
	if !that.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", apperror.ErrInvalidTransition, that.Status, next)
	}

	that.Status = next

	return nil
}

// ConfirmPlayingState - checks that a game is in progress.
func (that *Room) ConfirmPlayingState() error {
	switch {
	case that.IsPlaying() && that.GameState != nil:
		return nil
	case that.IsFinished():
		return apperror.ErrRoomFinished
	default:
		return fmt.Errorf("%w: no game in progress", apperror.ErrInvalidTransition)
	}
}

func (that *Room) IsHost(playerID string) bool {
	return playerID != "" && that.HostID == playerID
}

// RoomSnapshot is a room together with every player record it owns. The store
// reads and writes it as one unit.
type RoomSnapshot struct {
	Room    *Room     `json:"room"`
	Players []*Player `json:"players"`
}

func (that *RoomSnapshot) Player(id string) *Player {
	for _, player := range that.Players {
		if player.ID == id {
			return player
		}
	}

	return nil
}

func (that *RoomSnapshot) RemovePlayer(id string) bool {
	for i, player := range that.Players {
		if player.ID == id {
			that.Players = append(that.Players[:i], that.Players[i+1:]...)
			return true
		}
	}

	return false
}

// Host returns the player the room points at as host, or nil.
func (that *RoomSnapshot) Host() *Player {
	return that.Player(that.Room.HostID)
}

// ConnectedCount returns how many players are currently present.
func (that *RoomSnapshot) ConnectedCount() int {
	count := 0
	for _, player := range that.Players {
		if player.IsConnected {
			count++
		}
	}

	return count
}

// SyncHostFlags derives every player's IsHost from the room's host reference, so
// exactly one record carries the flag whenever the host exists.
func (that *RoomSnapshot) SyncHostFlags() {
	for _, player := range that.Players {
		player.IsHost = player.ID == that.Room.HostID
	}
}

// ApplyPresence sets IsConnected and LastSeen from the live presence set.
func (that *RoomSnapshot) ApplyPresence(live map[string]time.Time) {
	for _, player := range that.Players {
		seen, ok := live[player.ID]
		player.IsConnected = ok
		if ok && seen.After(player.LastSeen) {
			player.LastSeen = seen
		}
	}
}

// NextHost picks the successor of the current host: the most recently seen
// connected player. It returns nil when nobody else is connected.
func (that *RoomSnapshot) NextHost() *Player {
	var next *Player

	for _, player := range that.Players {
		if player.ID == that.Room.HostID || !player.IsConnected {
			continue
		}

		if next == nil || player.LastSeen.After(next.LastSeen) {
			next = player
		}
	}

	return next
}
