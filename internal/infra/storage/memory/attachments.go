package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Attachments keeps uploaded objects in memory.
type Attachments struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

// NewAttachments builds an attachment store serving URLs under baseURL.
func NewAttachments(baseURL string) *Attachments {
	return &Attachments{objects: make(map[string][]byte), baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *Attachments) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("memory: empty object path")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("memory: read upload: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = buf.Bytes()
	return nil
}

func (a *Attachments) PublicURL(path string) string {
	return a.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Object returns a stored object.
func (a *Attachments) Object(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[path]
	return data, ok
}
