package apperror

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomFinished        = errors.New("room is already finished")
	ErrRoomCreation        = errors.New("could not create room")
	ErrDuplicateName       = errors.New("name is already taken in this room")
	ErrNotHost             = errors.New("only the host can do that")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrMultiplayerDisabled = errors.New("multiplayer is disabled")

	ErrNotYourTurn       = errors.New("it's not your turn")
	ErrStaleVersion      = errors.New("game state has changed since it was read")
	ErrInvalidTransition = errors.New("invalid room status transition")
	ErrTimerRunning      = errors.New("timer has not expired yet")
	ErrNoTimer           = errors.New("no timer is running")
	ErrCannotKickSelf    = errors.New("host cannot kick themselves")

	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrInvalidName     = errors.New("invalid player name")
	ErrInvalidAvatar   = errors.New("invalid avatar")
	ErrInvalidSettings = errors.New("invalid room settings")
	ErrInvalidGameType = errors.New("unknown game type")
	ErrInvalidState    = errors.New("game state must be a JSON object")
	ErrInvalidToken    = errors.New("invalid or expired session token")
	ErrInvalidTimer    = errors.New("timer duration must be positive")
	ErrInvalidVisitor  = errors.New("invalid visitor id")
	ErrBadRequest      = errors.New("malformed request")
	ErrUnknownAction   = errors.New("unknown action")
	ErrRateLimited     = errors.New("too many messages")
)

type kind struct {
	err     error
	code    string
	message string
}

var kinds = []kind{
	{ErrRoomNotFound, "room_not_found", "We couldn't find a room with that code."},
	{ErrRoomFull, "room_full", "This room is full."},
	{ErrRoomFinished, "room_finished", "This party has already ended."},
	{ErrRoomCreation, "room_creation_failed", "Couldn't create a room, please try again."},
	{ErrDuplicateName, "duplicate_name", "Someone in this room already uses that name."},
	{ErrNotHost, "not_host", "Only the host can do that."},
	{ErrPlayerNotFound, "player_not_found", "That player is no longer in the room."},
	{ErrMultiplayerDisabled, "multiplayer_disabled", "Multiplayer is currently unavailable."},
	{ErrNotYourTurn, "not_your_turn", "Wait for your turn."},
	{ErrStaleVersion, "stale_version", "The game moved on, refresh and try again."},
	{ErrInvalidTransition, "invalid_transition", "That can't be done right now."},
	{ErrTimerRunning, "timer_running", "The timer is still running."},
	{ErrNoTimer, "no_timer", "There is no timer running."},
	{ErrCannotKickSelf, "cannot_kick_self", "You can't kick yourself."},
	{ErrInvalidRoomCode, "invalid_room_code", "Room codes are 6 letters or digits."},
	{ErrInvalidName, "invalid_name", "Pick a name between 1 and 20 characters."},
	{ErrInvalidAvatar, "invalid_avatar", "That avatar can't be used."},
	{ErrInvalidSettings, "invalid_settings", "Those room settings are not valid."},
	{ErrInvalidGameType, "invalid_game_type", "Unknown game."},
	{ErrInvalidState, "invalid_state", "The game state could not be read."},
	{ErrInvalidToken, "invalid_token", "Your session expired, please rejoin."},
	{ErrInvalidTimer, "invalid_timer", "Timers need a duration."},
	{ErrInvalidVisitor, "invalid_visitor", "That visitor id can't be used."},
	{ErrBadRequest, "bad_request", "The request could not be read."},
	{ErrUnknownAction, "unknown_action", "That action is not supported."},
	{ErrRateLimited, "rate_limited", "Slow down a little."},
}

const (
	codeInternal    = "internal"
	messageInternal = "Something went wrong, please rejoin."
)

// Code returns a stable identifier for the first known error wrapped by err.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}

	return codeInternal
}

// Message returns the text shown to players for err.
func Message(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.message
		}
	}

	return messageInternal
}
