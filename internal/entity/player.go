package entity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
)

const (
	DefaultAvatarEmoji = "🎉"
	DefaultAvatarColor = "#f5c542"

	maxEmojiBytes = 32
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type Avatar struct {
	Emoji string `json:"emoji"`
	Color string `json:"color"`
}

// WithDefaults fills empty fields and validates the color.
func (that Avatar) WithDefaults() (Avatar, error) {
	if that.Emoji == "" {
		that.Emoji = DefaultAvatarEmoji
	}

	if that.Color == "" {
		that.Color = DefaultAvatarColor
	}

	if len(that.Emoji) > maxEmojiBytes || !colorPattern.MatchString(that.Color) {
		return that, fmt.Errorf("%w: %q %q", apperror.ErrInvalidAvatar, that.Emoji, that.Color)
	}

	return that, nil
}

type Player struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"room_id"`
	Name        string          `json:"name"`
	Avatar      Avatar          `json:"avatar"`
	IsHost      bool            `json:"is_host"`
	IsConnected bool            `json:"is_connected"`
	LastSeen    time.Time       `json:"last_seen"`
	JoinedAt    time.Time       `json:"joined_at"`
	State       json.RawMessage `json:"state,omitempty"`
}

func NewPlayer(id, roomID, name string, avatar Avatar, now time.Time) *Player {
	return &Player{
		ID:          id,
		RoomID:      roomID,
		Name:        name,
		Avatar:      avatar,
		IsConnected: true,
		LastSeen:    now,
		JoinedAt:    now,
	}
}

// NormalizeName trims a display name and checks its length in characters.
func NormalizeName(name string, maxLength int) (string, error) {
	name = strings.TrimSpace(name)

	length := utf8.RuneCountInString(name)
	if length == 0 || length > maxLength {
		return name, fmt.Errorf("%w: %q", apperror.ErrInvalidName, name)
	}

	return name, nil
}

// SameName compares display names the way the room does: case-insensitively.
func SameName(a, b string) bool {
	return strings.EqualFold(a, b)
}
