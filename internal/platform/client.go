// Package platform wraps the upstream chat platform's native client
// (github.com/gotd/td, MTProto) behind a narrow interface the Session
// Supervisor drives: connect, check authorization, identify self, list
// recent conversations, and stream inbound messages. Outbound bot sends
// are a separate, token-authenticated concern handled by internal/notify
// and internal/botcmd via mymmrac/telego.
package platform

import "context"

// Event is the subset of an inbound chat message the core needs.
type Event struct {
	ChatID     int64
	MessageID  int
	SenderID   string
	SenderName string // display name, best-effort; falls back to SenderID
	Out        bool
	Body       string
}

// Conversation is one entry from a top-N dialog listing, used to
// refresh model.SyncedChat rows on client start.
type Conversation struct {
	ID       int64
	Title    string
	Type     string // model.ChatTypeUser / ChatTypeGroup / ChatTypeChannel
	Username string
}

// Client is one user's authenticated session against the upstream
// platform. A single Client instance is used for at most one Connect
// call; callers construct a new one per (re)connect attempt.
type Client interface {
	// Connect establishes the transport and blocks only long enough to
	// confirm the session is live, then returns; the read loop continues
	// in the background and delivers events to onMessage until ctx is
	// canceled or the connection dies.
	Connect(ctx context.Context, onMessage func(Event)) error

	// IsAuthorized reports whether the session credential is currently
	// accepted by the upstream platform.
	IsAuthorized(ctx context.Context) (bool, error)

	// Whoami returns the stringified upstream numeric user id of the
	// authenticated account, used as a liveness probe and for self/bot
	// suppression.
	Whoami(ctx context.Context) (string, error)

	// TopConversations returns up to limit recent dialogs, most recent
	// first.
	TopConversations(ctx context.Context, limit int) ([]Conversation, error)

	// Disconnect tears down the transport. Safe to call multiple times.
	Disconnect() error
}
