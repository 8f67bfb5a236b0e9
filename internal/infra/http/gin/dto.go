package ginserver

import (
	"time"

	"github.com/dustin/go-humanize"

	"jobchat/internal/app/session"
	"jobchat/internal/app/threads"
	"jobchat/internal/domain/chat"
)

type fileDTO struct {
	URL         string `json:"url"`
	StoragePath string `json:"storage_path"`
	Name        string `json:"name"`
	MIMEType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Size        string `json:"size"`
}

func newFileDTO(f chat.FileContent) fileDTO {
	return fileDTO{
		URL:         f.URL,
		StoragePath: f.StoragePath,
		Name:        f.Name,
		MIMEType:    f.MIMEType,
		SizeBytes:   f.SizeBytes,
		Size:        humanize.IBytes(uint64(max(f.SizeBytes, 0))),
	}
}

func (f fileDTO) content() chat.FileContent {
	return chat.FileContent{URL: f.URL, StoragePath: f.StoragePath, Name: f.Name, MIMEType: f.MIMEType, SizeBytes: f.SizeBytes}
}

type messageDTO struct {
	ID          string    `json:"id,omitempty"`
	ClientToken string    `json:"client_token,omitempty"`
	Pending     bool      `json:"pending"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text,omitempty"`
	File        *fileDTO  `json:"file,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

func newMessageDTO(m chat.Message) messageDTO {
	out := messageDTO{
		ID:          string(m.ID),
		ClientToken: string(m.Token),
		SenderID:    string(m.SenderID),
		ReceiverID:  string(m.ReceiverID),
		Kind:        chat.ContentKind(m.Content),
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
	}
	switch c := m.Content.(type) {
	case chat.TextContent:
		out.Text = c.Body
	case chat.FileContent:
		f := newFileDTO(c)
		out.File = &f
	}
	return out
}

func newEntryDTO(e chat.Entry) messageDTO {
	out := newMessageDTO(e.Message)
	switch d := e.Delivery.(type) {
	case chat.Pending:
		out.Pending = true
		out.ClientToken = string(d.Token)
	case chat.Confirmed:
		out.ID = string(d.ID)
	}
	return out
}

type profileDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type stateDTO struct {
	ConversationID   string       `json:"conversation_id"`
	Subject          string       `json:"subject"`
	Role             string       `json:"role"`
	Counterpart      profileDTO   `json:"counterpart"`
	Status           string       `json:"status"`
	Gate             string       `json:"gate"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	CountdownSeconds int64        `json:"countdown_seconds"`
	Countdown        string       `json:"countdown,omitempty"`
	Messages         []messageDTO `json:"messages"`
	Unread           int          `json:"unread"`
	Typing           bool         `json:"typing"`
	TypingUsers      []string     `json:"typing_users"`
	Reconnecting     bool         `json:"reconnecting"`
}

func newStateDTO(st session.State, now time.Time) stateDTO {
	out := stateDTO{
		ConversationID:   string(st.ConversationID),
		Subject:          st.Subject,
		Role:             string(st.Role),
		Counterpart:      profileDTO{ID: string(st.Counterpart.ID), DisplayName: st.Counterpart.Label()},
		Status:           st.Status,
		Gate:             string(st.Gate),
		ExpiresAt:        st.ExpiresAt,
		CountdownSeconds: int64(st.Countdown / time.Second),
		Messages:         make([]messageDTO, 0, len(st.View)),
		Unread:           st.Unread,
		Typing:           st.Typing,
		TypingUsers:      make([]string, 0, len(st.TypingUsers)),
		Reconnecting:     st.Reconnecting,
	}
	if st.Countdown > 0 {
		out.Countdown = humanize.RelTime(now, now.Add(st.Countdown), "left", "left")
	}
	for _, e := range st.View {
		out.Messages = append(out.Messages, newEntryDTO(e))
	}
	for _, u := range st.TypingUsers {
		out.TypingUsers = append(out.TypingUsers, string(u))
	}
	return out
}

type threadDTO struct {
	ConversationID  string     `json:"conversation_id"`
	Subject         string     `json:"subject"`
	CounterpartID   string     `json:"counterpart_id"`
	CounterpartName string     `json:"counterpart_name"`
	Preview         string     `json:"preview"`
	LastActivity    time.Time  `json:"last_activity"`
	LastActivityAgo string     `json:"last_activity_ago"`
	Unread          int        `json:"unread"`
	Status          string     `json:"status"`
	Gate            string     `json:"gate"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

func newThreadDTO(s threads.Summary, now time.Time) threadDTO {
	return threadDTO{
		ConversationID:  string(s.ConversationID),
		Subject:         s.Subject,
		CounterpartID:   string(s.CounterpartID),
		CounterpartName: s.CounterpartName,
		Preview:         s.Preview,
		LastActivity:    s.LastActivity,
		LastActivityAgo: humanize.RelTime(s.LastActivity, now, "ago", "from now"),
		Unread:          s.Unread,
		Status:          s.Status,
		Gate:            string(chat.EvaluateGate(s.Status)),
		ExpiresAt:       s.ExpiresAt,
	}
}

type threadList struct {
	Items []threadDTO `json:"items"`
}

type jobDTO struct {
	ConversationID string     `json:"conversation_id"`
	Status         string     `json:"status"`
	Gate           string     `json:"gate"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func newJobDTO(j chat.Job) jobDTO {
	return jobDTO{ConversationID: string(j.ID), Status: j.Status, Gate: string(chat.EvaluateGate(j.Status)), ExpiresAt: j.ExpiresAt}
}

type sendRequest struct {
	Text string `json:"text"`
}

type typingRequest struct {
	Typing bool `json:"typing"`
}
