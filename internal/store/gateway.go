// Package store defines the narrow Storage Gateway interface the core
// needs (spec.md §4.1). Every operation either returns a value/nil or a
// transient-DB error; the caller decides whether and when to retry.
package store

import (
	"context"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

// Gateway is implemented by internal/store/pg.PGGateway.
type Gateway interface {
	ListActiveSessions(ctx context.Context) ([]model.PlatformSession, error)
	GetActiveRulesFor(ctx context.Context, userID string) ([]model.Rule, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	GetActiveSessionFor(ctx context.Context, userID string) (*model.PlatformSession, error)
	MarkSessionInactive(ctx context.Context, sessionID string) error
	IncrementTriggerCount(ctx context.Context, ruleID string) error
	AppendAuditLog(ctx context.Context, entry model.AuditLog) error
	ReplaceSyncedChats(ctx context.Context, userID string, chats []model.SyncedChat) error

	FindUserByPlatformSenderID(ctx context.Context, senderID string) (*model.User, error)
	FindUserByBotChatID(ctx context.Context, chatID int64) (*model.User, error)
	LinkBotChatID(ctx context.Context, userID string, chatID int64) error

	CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error)
	ListRulesFor(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error)
	FindRuleByIDPrefix(ctx context.Context, userID, prefix string) (*model.Rule, error)
	DeleteRuleCascade(ctx context.Context, ruleID string) error

	FindSyncedChatByHandle(ctx context.Context, userID, handle string) (*model.SyncedChat, error)
}
