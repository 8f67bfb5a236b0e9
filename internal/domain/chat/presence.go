package chat

import "time"

// DefaultTypingIdle is how long after the last keystroke a participant stops typing.
const DefaultTypingIdle = 900 * time.Millisecond

// PresenceSignal is an ephemeral typing heartbeat. It is never persisted.
type PresenceSignal struct {
	ConversationID ConversationID
	ParticipantID  UserID
	Typing         bool
	At             time.Time
}
