package pipeline

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Tracker hands out load tickets. Only the most recent ticket is current;
// results of superseded loads should be dropped by the caller.
type Tracker struct {
	mu      sync.Mutex
	current ulid.ULID
	entropy *ulid.MonotonicEntropy
}

// NewTracker creates a Tracker with no load in progress.
func NewTracker() *Tracker {
	return &Tracker{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Begin starts a new load and supersedes every earlier ticket.
func (t *Tracker) Begin() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy)
	return t.current.String()
}

// Current reports whether ticket belongs to the latest load.
func (t *Tracker) Current(ticket string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ticket != "" && ticket == t.current.String()
}
