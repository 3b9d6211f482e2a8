package entity

import (
	"testing"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomStatusMethods(t *testing.T) {
	t.Run("New room starts in the lobby", func(t *testing.T) {
		// When: creating a room
		room := NewRoom("r1", "X7K2M9", "p1", Settings{MaxPlayers: 12}, time.Now(), time.Hour)

		// Then: it is in the lobby and hosted by p1
		assert.True(t, room.IsLobby())
		assert.False(t, room.IsPlaying())
		assert.False(t, room.IsFinished())
		assert.True(t, room.IsHost("p1"))
		assert.False(t, room.IsHost(""))
		assert.Equal(t, room.CreatedAt.Add(time.Hour), room.ExpiresAt)
	})
}

func TestRoom_Transition(t *testing.T) {
	tests := []struct {
		from RoomStatus
		to   RoomStatus
		ok   bool
	}{
		{StatusLobby, StatusPlaying, true},
		{StatusPlaying, StatusLobby, true},
		{StatusPlaying, StatusFinished, true},
		{StatusLobby, StatusFinished, true},
		{StatusLobby, StatusLobby, false},
		{StatusPlaying, StatusPlaying, false},
		{StatusFinished, StatusLobby, false},
		{StatusFinished, StatusPlaying, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			room := &Room{Status: tt.from}

			err := room.Transition(tt.to)

			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, room.Status)
				return
			}

			require.ErrorIs(t, err, apperror.ErrInvalidTransition)
			assert.Equal(t, tt.from, room.Status)
		})
	}
}

func TestRoom_ConfirmPlayingState(t *testing.T) {
	t.Run("Returns nil when a game is in progress", func(t *testing.T) {
		room := &Room{Status: StatusPlaying, GameState: &GameState{Version: 1}}

		assert.NoError(t, room.ConfirmPlayingState())
	})

	t.Run("Returns ErrRoomFinished when finished", func(t *testing.T) {
		room := &Room{Status: StatusFinished}

		assert.ErrorIs(t, room.ConfirmPlayingState(), apperror.ErrRoomFinished)
	})

	t.Run("Returns ErrInvalidTransition in the lobby", func(t *testing.T) {
		room := &Room{Status: StatusLobby}

		assert.ErrorIs(t, room.ConfirmPlayingState(), apperror.ErrInvalidTransition)
	})
}

func TestSettings_WithDefaults(t *testing.T) {
	t.Run("Fills defaults", func(t *testing.T) {
		settings, err := Settings{}.WithDefaults(DefaultMaxPlayers)

		require.NoError(t, err)
		assert.Equal(t, Settings{MaxPlayers: 12, Intensity: IntensityMedium}, settings)
	})

	t.Run("Rejects out of range player counts", func(t *testing.T) {
		_, err := Settings{MaxPlayers: 1}.WithDefaults(DefaultMaxPlayers)
		require.ErrorIs(t, err, apperror.ErrInvalidSettings)

		_, err = Settings{MaxPlayers: 500}.WithDefaults(DefaultMaxPlayers)
		require.ErrorIs(t, err, apperror.ErrInvalidSettings)
	})

	t.Run("Rejects unknown intensity", func(t *testing.T) {
		_, err := Settings{Intensity: "extreme"}.WithDefaults(DefaultMaxPlayers)

		require.ErrorIs(t, err, apperror.ErrInvalidSettings)
	})
}

func TestRoomSnapshot_NextHost(t *testing.T) {
	now := time.Now()

	t.Run("Prefers the most recently seen connected player", func(t *testing.T) {
		// Given: a host and three others, one of them offline but seen last
		snapshot := &RoomSnapshot{
			Room: &Room{HostID: "host"},
			Players: []*Player{
				{ID: "host", IsConnected: true, LastSeen: now},
				{ID: "bob", IsConnected: true, LastSeen: now.Add(-time.Minute)},
				{ID: "carol", IsConnected: true, LastSeen: now.Add(-time.Second)},
				{ID: "dave", IsConnected: false, LastSeen: now.Add(time.Minute)},
			},
		}

		// When: picking the next host
		next := snapshot.NextHost()

		// Then: carol wins over the offline dave
		require.NotNil(t, next)
		assert.Equal(t, "carol", next.ID)
	})

	t.Run("Never picks offline players", func(t *testing.T) {
		snapshot := &RoomSnapshot{
			Room: &Room{HostID: "host"},
			Players: []*Player{
				{ID: "host", IsConnected: true},
				{ID: "bob", LastSeen: now.Add(-time.Hour)},
				{ID: "dave", LastSeen: now},
			},
		}

		assert.Nil(t, snapshot.NextHost())
	})

	t.Run("Returns nil when alone", func(t *testing.T) {
		snapshot := &RoomSnapshot{
			Room:    &Room{HostID: "host"},
			Players: []*Player{{ID: "host"}},
		}

		assert.Nil(t, snapshot.NextHost())
	})
}

func TestRoomSnapshot_PresenceAndHostFlags(t *testing.T) {
	// Given: a snapshot with stale flags
	now := time.Now()
	snapshot := &RoomSnapshot{
		Room: &Room{HostID: "bob"},
		Players: []*Player{
			{ID: "alice", IsHost: true, IsConnected: true, LastSeen: now.Add(-time.Hour)},
			{ID: "bob", LastSeen: now.Add(-time.Hour)},
		},
	}

	// When: applying presence and host flags
	snapshot.ApplyPresence(map[string]time.Time{"bob": now})
	snapshot.SyncHostFlags()

	// Then: flags follow the room and the presence set
	assert.False(t, snapshot.Player("alice").IsHost)
	assert.False(t, snapshot.Player("alice").IsConnected)
	assert.True(t, snapshot.Player("bob").IsHost)
	assert.True(t, snapshot.Player("bob").IsConnected)
	assert.Equal(t, now, snapshot.Player("bob").LastSeen)
	assert.Equal(t, 1, snapshot.ConnectedCount())
	assert.Equal(t, "bob", snapshot.Host().ID)
}

func TestNormalizeName(t *testing.T) {
	name, err := NormalizeName("  Alice ", 20)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	_, err = NormalizeName("   ", 20)
	require.ErrorIs(t, err, apperror.ErrInvalidName)

	_, err = NormalizeName("abcdefghijklmnopqrstu", 20)
	require.ErrorIs(t, err, apperror.ErrInvalidName)

	name, err = NormalizeName("🎆🎆🎆", 3)
	require.NoError(t, err)
	assert.Equal(t, "🎆🎆🎆", name)

	assert.True(t, SameName("alice", "ALICE"))
	assert.False(t, SameName("alice", "alicia"))
}

func TestAvatar_WithDefaults(t *testing.T) {
	avatar, err := Avatar{}.WithDefaults()
	require.NoError(t, err)
	assert.Equal(t, Avatar{Emoji: DefaultAvatarEmoji, Color: DefaultAvatarColor}, avatar)

	_, err = Avatar{Emoji: "🥳", Color: "#abc"}.WithDefaults()
	require.NoError(t, err)

	_, err = Avatar{Emoji: "🥳", Color: "red"}.WithDefaults()
	require.ErrorIs(t, err, apperror.ErrInvalidAvatar)
}
