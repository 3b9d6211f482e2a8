package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
)

type GameType string

const (
	GameKings          GameType = "kings"
	GameNeverHaveIEver GameType = "never_have_i_ever"
	GameTruthOrDare    GameType = "truth_or_dare"
	GameWouldYouRather GameType = "would_you_rather"
	GameMostLikelyTo   GameType = "most_likely_to"
	GameCharades       GameType = "charades"
	GameTrivia         GameType = "trivia"
	GameHotSeat        GameType = "hot_seat"
	GameSpinTheBottle  GameType = "spin_the_bottle"
	GameResolutions    GameType = "resolutions"
)

var gameTypes = []GameType{
	GameKings,
	GameNeverHaveIEver,
	GameTruthOrDare,
	GameWouldYouRather,
	GameMostLikelyTo,
	GameCharades,
	GameTrivia,
	GameHotSeat,
	GameSpinTheBottle,
	GameResolutions,
}

func (that GameType) Valid() bool {
	return slices.Contains(gameTypes, that)
}

type Timer struct {
	StartTime  time.Time `json:"start_time"`
	DurationMS int64     `json:"duration_ms"`
	Label      string    `json:"label,omitempty"`
}

func (that *Timer) ExpiresAt() time.Time {
	return that.StartTime.Add(time.Duration(that.DurationMS) * time.Millisecond)
}

func (that *Timer) Expired(now time.Time) bool {
	return !now.Before(that.ExpiresAt())
}

// GameState wraps the game-defined document with the fields the server
// arbitrates on. Data is replaced wholesale on every write.
type GameState struct {
	Version          int64           `json:"version"`
	Data             json.RawMessage `json:"data"`
	TurnOrder        []string        `json:"turn_order,omitempty"`
	CurrentTurnIndex int             `json:"current_turn_index"`
	Timer            *Timer          `json:"timer,omitempty"`
	UpdatedBy        string          `json:"updated_by,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func NewGameState(data json.RawMessage, turnOrder []string, by string, now time.Time) *GameState {
	return &GameState{
		Version:   1,
		Data:      data,
		TurnOrder: turnOrder,
		UpdatedBy: by,
		UpdatedAt: now,
	}
}

// NormalizeDocument validates that raw is a JSON object and compacts it. An
// empty input becomes an empty object.
func NormalizeDocument(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{}`), nil
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil || object == nil {
		return nil, fmt.Errorf("%w: %s", apperror.ErrInvalidState, truncate(raw))
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrInvalidState, err)
	}

	return buf.Bytes(), nil
}

// SameDocument reports whether data equals the current document. Both sides
// are compared after normalisation, so key order is significant but spacing is not.
func (that *GameState) SameDocument(data json.RawMessage) bool {
	return bytes.Equal(that.Data, data)
}

func (that *GameState) CheckVersion(expected int64) error {
	if expected != that.Version {
		return fmt.Errorf("%w: expected %d, current %d", apperror.ErrStaleVersion, expected, that.Version)
	}

	return nil
}

// CurrentTurn returns the id of the player whose turn it is, or "" without a turn order.
func (that *GameState) CurrentTurn() string {
	if len(that.TurnOrder) == 0 {
		return ""
	}

	return that.TurnOrder[that.CurrentTurnIndex%len(that.TurnOrder)]
}

// CanWrite reports whether playerID may change the document: the host always
// can, otherwise only the current turn holder.
func (that *GameState) CanWrite(playerID, hostID string) bool {
	if playerID == hostID {
		return true
	}

	return playerID != "" && that.CurrentTurn() == playerID
}

// AdvanceTurn moves to the next player in the turn order for whom connected
// returns true. If nobody is connected the index simply moves by one.
func (that *GameState) AdvanceTurn(connected func(playerID string) bool) {
	n := len(that.TurnOrder)
	if n == 0 {
		return
	}

	for step := 1; step <= n; step++ {
		next := (that.CurrentTurnIndex + step) % n
		if connected(that.TurnOrder[next]) {
			that.CurrentTurnIndex = next
			return
		}
	}

	that.CurrentTurnIndex = (that.CurrentTurnIndex + 1) % n
}

// RemoveFromTurnOrder drops playerID and keeps the index on the same player
// where possible. When the removed player held the turn, the turn passes to
// whoever followed them.
func (that *GameState) RemoveFromTurnOrder(playerID string) bool {
	idx := slices.Index(that.TurnOrder, playerID)
	if idx < 0 {
		return false
	}

	that.TurnOrder = slices.Delete(that.TurnOrder, idx, idx+1)

	switch {
	case len(that.TurnOrder) == 0:
		that.CurrentTurnIndex = 0
	case idx < that.CurrentTurnIndex:
		that.CurrentTurnIndex--
	case that.CurrentTurnIndex >= len(that.TurnOrder):
		that.CurrentTurnIndex = 0
	}

	return true
}

// Commit records a successful write by playerID.
func (that *GameState) Commit(playerID string, now time.Time) {
	that.Version++
	that.UpdatedBy = playerID
	that.UpdatedAt = now
}

func truncate(raw []byte) string {
	const limit = 64
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}

	return string(raw)
}
