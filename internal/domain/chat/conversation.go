package chat

import (
	"strings"
	"time"
)

// Job statuses known to the chat core. The job system owns the full vocabulary.
const (
	StatusOpen              = "open"
	StatusAccepted          = "accepted"
	StatusProviderCompleted = "provider_completed"
	StatusCompleted         = "completed"
	StatusPaid              = "paid"
	StatusCancelled         = "cancelled"
)

// Job is the external transactional record a conversation is bound to.
type Job struct {
	ID         ConversationID
	Title      string
	SeekerID   UserID
	ProviderID UserID
	Status     string
	Schedule   string
	Address    string
	Budget     string
	Notes      string
	ExpiresAt  *time.Time
	UpdatedAt  time.Time
}

// Conversation is the chat bound to a job, identified by the job id.
type Conversation struct {
	ID         ConversationID
	Subject    string
	SeekerID   UserID
	ProviderID UserID
	Status     string
	ExpiresAt  *time.Time
}

// ConversationFromJob projects the chat-relevant job fields.
func ConversationFromJob(job Job) Conversation {
	return Conversation{
		ID:         job.ID,
		Subject:    job.Title,
		SeekerID:   job.SeekerID,
		ProviderID: job.ProviderID,
		Status:     job.Status,
		ExpiresAt:  job.ExpiresAt,
	}
}

// Role is how a user takes part in a conversation.
type Role string

const (
	RoleNone     Role = ""
	RoleSeeker   Role = "seeker"
	RoleProvider Role = "provider"
	RoleObserver Role = "observer"
)

// RoleOf resolves the user's role. Support profiles observe every conversation.
func (c Conversation) RoleOf(user UserID, profile Profile) Role {
	switch {
	case user == "":
		return RoleNone
	case user == c.SeekerID:
		return RoleSeeker
	case c.ProviderID != "" && user == c.ProviderID:
		return RoleProvider
	case profile.Support:
		return RoleObserver
	default:
		return RoleNone
	}
}

// Counterpart returns the other participant, or "" when none is assigned.
func (c Conversation) Counterpart(user UserID) UserID {
	switch user {
	case c.SeekerID:
		return c.ProviderID
	case c.ProviderID:
		return c.SeekerID
	default:
		return ""
	}
}

// Participants lists the assigned participants.
func (c Conversation) Participants() []UserID {
	out := []UserID{c.SeekerID}
	if c.ProviderID != "" {
		out = append(out, c.ProviderID)
	}
	return out
}

// Profile is the directory entry used for labels and the support flag.
type Profile struct {
	ID          UserID
	DisplayName string
	Support     bool
}

// Label returns a display name, falling back to the id.
func (p Profile) Label() string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return string(p.ID)
}
