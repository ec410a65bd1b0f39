package domain

// EventType names a message fanned out to a group channel.
type EventType string

const (
	EventLobbyUpdate      EventType = "lobby_update"
	EventRoundStarted     EventType = "round_started"
	EventCurrentQuestion  EventType = "current_question"
	EventGameOver         EventType = "game_over"
	EventScoreboardUpdate EventType = "scoreboard_update"
	EventSessionEnded     EventType = "session_ended"
)

// Event is a state change broadcast to every connection of a group.
type Event struct {
	GroupID int64     `json:"-"`
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// LobbyUpdate carries the full roster; clients replace what they have.
type LobbyUpdate struct {
	Players []RosterEntry `json:"players"`
}

// RoundStarted announces the beginning of a round.
type RoundStarted struct {
	Total int `json:"total_q"`
}

// GameOver is the terminal round event and carries no question data.
type GameOver struct{}

// SessionEnded tells the connections of a participant that its session was revoked.
// It is consumed by the transport and never forwarded to clients.
type SessionEnded struct {
	ParticipantID int64 `json:"participant_id"`
}
