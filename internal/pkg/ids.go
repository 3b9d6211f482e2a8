package pkg

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// RoomCodeAlphabet has 32 symbols and leaves out 0, O, 1 and I.
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	RoomCodeLength   = 6
)

// GenerateRoomCode - generates a random short code for a party room.
func GenerateRoomCode() (string, error) {
	buf := make([]byte, RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	code := make([]byte, RoomCodeLength)
	for i, b := range buf {
		// 256 is a multiple of 32, so the mask keeps the distribution uniform.
		code[i] = RoomCodeAlphabet[b&31]
	}

	return string(code), nil
}

// NormalizeRoomCode - uppercases a user supplied code and reports whether it is well formed.
func NormalizeRoomCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != RoomCodeLength {
		return code, false
	}

	for _, r := range code {
		if !strings.ContainsRune(RoomCodeAlphabet, r) {
			return code, false
		}
	}

	return code, true
}

// GenerateID - generates a unique identifier for rooms and players.
func GenerateID() string {
	return uuid.NewString()
}
