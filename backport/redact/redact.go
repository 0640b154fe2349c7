// Package redact filters secrets out of text destined for logs and
// results. One Redactor is created per orchestration run and passed
// explicitly; registration is append-only and redaction is safe to call
// concurrently.
package redact

import (
	"strings"
	"sync"
)

// Placeholder replaces every registered secret in redacted text.
const Placeholder = "***"

// Redactor replaces registered secret values with Placeholder.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

// New returns an empty Redactor.
func New() *Redactor {
	return &Redactor{}
}

// Register stores a secret value. Empty strings are ignored.
func (r *Redactor) Register(secret string) {
	if secret == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.secrets {
		if s == secret {
			return
		}
	}

	r.secrets = append(r.secrets, secret)
}

// Redact replaces every exact, case-sensitive occurrence of each
// registered secret in text with Placeholder. Redacting already
// redacted text is a no-op.
func (r *Redactor) Redact(text string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.secrets {
		text = strings.ReplaceAll(text, s, Placeholder)
	}

	return text
}
