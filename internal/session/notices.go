package session

import (
	"sync"
	"time"
)

// DefaultNoticeTTL is how long a processing error stays on screen.
const DefaultNoticeTTL = 5 * time.Second

// Notices keeps the latest user-visible error until it expires. A new notice
// replaces the previous one and restarts the timer.
type Notices struct {
	mu      sync.Mutex
	ttl     time.Duration
	message string
	expires time.Time
}

func NewNotices(ttl time.Duration) *Notices {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &Notices{ttl: ttl}
}

func (n *Notices) Post(message string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.message = message
	n.expires = now.Add(n.ttl)
}

// Current returns the visible notice, if any.
func (n *Notices) Current(now time.Time) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.message == "" {
		return "", false
	}
	if !now.Before(n.expires) {
		n.message = ""
		return "", false
	}
	return n.message, true
}
