// Package model defines the plain-record domain types shared by the
// Storage Gateway and every component that consumes it. Entities are
// keyed by UUID and never hold cross-references to one another; ownership
// is expressed only through foreign-key fields and resolved by querying
// the Storage Gateway.
package model

import "time"

// Role values for User.Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account holder who may own one active PlatformSession and
// zero-or-more Rules.
type User struct {
	ID             string
	Email          string
	HashedPassword string
	FullName       string
	Role           string
	BotChatID      *int64
	IsVerified     bool
	CreatedAt      time.Time
}

// ReferralCode gates registration, which happens outside the core. No
// Storage Gateway operation reads or writes it; the type mirrors the
// referral_codes table only.
type ReferralCode struct {
	Code      string
	MaxUses   int
	UsedCount int
	IsActive  bool
	CreatedAt time.Time
}

// PlatformSession is the credential that authorizes one user's client
// against the upstream chat platform. SessionString is opaque and must
// never be mutated, only stored and replayed verbatim.
type PlatformSession struct {
	ID            string
	UserID        string
	SessionString string
	PhoneNumber   string
	PlatformID    string // stringified upstream numeric user id
	IsActive      bool
	CreatedAt     time.Time
}

// Rule (a.k.a. Alert) is a user-defined keyword match with delivery
// toggles. WebhookURL is reserved and never dispatched to (spec.md §9,
// Open Question 2).
type Rule struct {
	ID               string
	UserID           string
	SourceID         *int64
	SourceName       string
	Keywords         []string
	ExcludedKeywords []string
	IsRegex          bool
	NotifyEmail      bool
	NotifyBot        bool
	WebhookURL       string
	IsPaused         bool
	TriggerCount     int
	CreatedAt        time.Time
}

// AuditLog is an append-only record of one dispatch attempt.
type AuditLog struct {
	ID                string
	RuleID            *string
	UserID            *string
	MessageContent    string // truncated to 500 chars
	DetectedKeyword   string
	DispatchedToEmail bool
	DispatchedToBot   bool
	CreatedAt         time.Time
}

// Chat type values for SyncedChat.Type.
const (
	ChatTypeUser    = "User"
	ChatTypeGroup   = "Group"
	ChatTypeChannel = "Channel"
)

// SyncedChat is a recent-conversation snapshot used to resolve @handles
// in the control bot's /add command. Rows are refreshed wholesale on
// every client start.
type SyncedChat struct {
	ID       int64
	UserID   string
	Title    string
	Type     string
	Username string // optional handle, without leading '@'
}

// TruncateMessage truncates a message body to at most n characters,
// matching the AuditLog.MessageContent ≤500-char invariant.
func TruncateMessage(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
