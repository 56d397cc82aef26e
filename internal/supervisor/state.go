package supervisor

import (
	"time"

	"github.com/teleguard-io/teleguard-worker/internal/platform"
)

// State is the closed sum type replacing the single-string session
// sentinel flagged in the redesign notes: a user's supervised session is
// in exactly one of these three states at any moment, and each carries
// only the data that state actually has.
type State interface {
	sessionState()
}

// Absent means no goroutine is managing this user right now — either
// they have no active session row, or the previous attempt gave up and
// is waiting to be retried on the next tick.
type Absent struct{}

func (Absent) sessionState() {}

// Initializing is planted optimistically before a connect attempt starts,
// so a second tick observing the same user doesn't spawn a duplicate
// connection while the first is still in flight.
type Initializing struct {
	Since time.Time
}

func (Initializing) sessionState() {}

// Running holds the live client and the upstream platform id learned
// from Whoami once the connection is confirmed authorized.
type Running struct {
	Client     platform.Client
	PlatformID string
	Since      time.Time
}

func (Running) sessionState() {}
