package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"jobchat/internal/app/session"
	"jobchat/internal/domain/chat"
)

// ChatHandler maps the session API onto HTTP. Every route runs on the
// caller's long-lived session, so subscriptions outlive the request.
type ChatHandler struct {
	Sessions           Sessions
	Logger             *slog.Logger
	MaxAttachmentBytes int64
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	Now       func() time.Time
}

func (h ChatHandler) ListThreads(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	if c.Query("refresh") == "true" {
		if err := sess.LoadThreads(c.Request.Context()); err != nil {
			respondError(c, err)
			return
		}
	}
	now := h.now()
	summaries := sess.ListThreads(c.Query("q"))
	out := threadList{Items: make([]threadDTO, 0, len(summaries))}
	for _, s := range summaries {
		out.Items = append(out.Items, newThreadDTO(s, now))
	}
	c.JSON(http.StatusOK, out)
}

func (h ChatHandler) Open(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	st, err := sess.OpenConversation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateDTO(st, h.now()))
}

func (h ChatHandler) Close(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	if err := sess.CloseConversation(id); err != nil && h.Logger != nil {
		h.Logger.Warn("close conversation", "conversation_id", string(id), "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) State(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	st, err := sess.State(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStateDTO(st, h.now()))
}

func (h ChatHandler) Send(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := sess.Send(c.Request.Context(), id, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageDTO(msg))
}

func (h ChatHandler) Attach(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	if h.MaxAttachmentBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxAttachmentBytes+1<<20)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer file.Close()

	msg, err := sess.Attach(c.Request.Context(), id, session.Upload{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageDTO(msg))
}

// RetryAttachment sends a file that was uploaded by an earlier failed
// attach call.
func (h ChatHandler) RetryAttachment(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	var req fileDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := sess.SendFile(c.Request.Context(), id, req.content())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMessageDTO(msg))
}

func (h ChatHandler) Typing(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := sess.SetTyping(id, req.Typing); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	if err := sess.MarkRead(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": sess.Unread(id)})
}

// Resync reloads the conversation from the store, for clients that
// noticed a gap in the event stream.
func (h ChatHandler) Resync(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	if err := sess.Resync(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) Complete(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	job, err := sess.MarkCompleted(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobDTO(job))
}

func (h ChatHandler) Cancel(c *gin.Context) {
	sess, id, ok := h.target(c)
	if !ok {
		return
	}
	job, err := sess.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobDTO(job))
}

// Events streams change hints as server-sent events until the client
// disconnects or the session ends.
func (h ChatHandler) Events(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	changes, cancel := sess.Changes().Subscribe(64)
	defer cancel()
	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": h.now()})
			return true
		case change, open := <-changes:
			if !open {
				return false
			}
			c.SSEvent(string(change.Kind), gin.H{"conversation_id": string(change.ConversationID)})
			return change.Kind != session.ChangeClosed
		}
	})
}

// Logout closes the caller's session and every subscription it holds.
func (h ChatHandler) Logout(c *gin.Context) {
	token := c.GetString(tokenContextKey)
	if token == "" || h.Sessions == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	if err := h.Sessions.Release(token); err != nil && h.Logger != nil {
		h.Logger.Warn("session release", "error", err)
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) target(c *gin.Context) (*session.Session, chat.ConversationID, bool) {
	sess, ok := currentSession(c)
	if !ok {
		return nil, "", false
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return nil, "", false
	}
	return sess, chat.ConversationID(id), true
}

func (h ChatHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

var _ ChatHTTP = ChatHandler{}
