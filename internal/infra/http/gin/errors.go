package ginserver

import (
	"errors"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"jobchat/internal/domain/chat"
)

func statusFor(kind chat.Kind) int {
	switch kind {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindGateLocked:
		return http.StatusConflict
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindUpload:
		return http.StatusBadGateway
	case chat.KindPersistence, chat.KindDisconnected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. An uploaded file that could not be
// sent is echoed back so the client can retry without uploading again.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	kind := chat.KindOf(err)
	body := gin.H{"error": err.Error(), "kind": kind.String(), "outcome": string(chat.OutcomeOf(err))}
	var chatErr *chat.Error
	if errors.As(err, &chatErr) && chatErr.File != nil {
		body["file"] = newFileDTO(*chatErr.File)
	}
	c.JSON(statusFor(kind), body)
}
