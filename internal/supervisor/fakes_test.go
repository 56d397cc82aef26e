package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/platform"
)

// fakeGateway is a minimal in-memory store.Gateway for supervisor tests.
// Only the operations the Supervisor actually calls are meaningfully
// implemented; the rest return zero values since nothing in this package
// exercises them.
type fakeGateway struct {
	mu sync.Mutex

	sessions      []model.PlatformSession
	users         map[string]model.User
	rules         map[string][]model.Rule
	inactive      map[string]bool
	triggerCounts map[string]int
	auditLogs     []model.AuditLog
	syncedChats   map[string][]model.SyncedChat
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		users:         make(map[string]model.User),
		rules:         make(map[string][]model.Rule),
		inactive:      make(map[string]bool),
		triggerCounts: make(map[string]int),
		syncedChats:   make(map[string][]model.SyncedChat),
	}
}

func (f *fakeGateway) ListActiveSessions(ctx context.Context) ([]model.PlatformSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []model.PlatformSession
	for _, s := range f.sessions {
		if !f.inactive[s.ID] {
			active = append(active, s)
		}
	}
	return active, nil
}

func (f *fakeGateway) GetActiveRulesFor(ctx context.Context, userID string) ([]model.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules[userID], nil
}

func (f *fakeGateway) GetUser(ctx context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return &u, nil
}

func (f *fakeGateway) GetActiveSessionFor(ctx context.Context, userID string) (*model.PlatformSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && !f.inactive[s.ID] {
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeGateway) MarkSessionInactive(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inactive[sessionID] = true
	return nil
}

func (f *fakeGateway) IncrementTriggerCount(ctx context.Context, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerCounts[ruleID]++
	return nil
}

func (f *fakeGateway) AppendAuditLog(ctx context.Context, entry model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLogs = append(f.auditLogs, entry)
	return nil
}

func (f *fakeGateway) ReplaceSyncedChats(ctx context.Context, userID string, chats []model.SyncedChat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncedChats[userID] = chats
	return nil
}

func (f *fakeGateway) FindUserByPlatformSenderID(ctx context.Context, senderID string) (*model.User, error) {
	return nil, nil
}
func (f *fakeGateway) FindUserByBotChatID(ctx context.Context, chatID int64) (*model.User, error) {
	return nil, nil
}
func (f *fakeGateway) LinkBotChatID(ctx context.Context, userID string, chatID int64) error {
	return nil
}
func (f *fakeGateway) CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	return rule, nil
}
func (f *fakeGateway) ListRulesFor(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error) {
	return nil, nil
}
func (f *fakeGateway) FindRuleByIDPrefix(ctx context.Context, userID, prefix string) (*model.Rule, error) {
	return nil, nil
}
func (f *fakeGateway) DeleteRuleCascade(ctx context.Context, ruleID string) error { return nil }
func (f *fakeGateway) FindSyncedChatByHandle(ctx context.Context, userID, handle string) (*model.SyncedChat, error) {
	return nil, nil
}

// fakeClient is a scriptable platform.Client for supervisor tests.
type fakeClient struct {
	mu sync.Mutex

	connectErr   error
	authErr      error
	unauthorized bool
	whoamiErr    error
	platformID   string
	onMessage    func(platform.Event)
	connected    bool
	disconnects  int
}

func (c *fakeClient) Connect(ctx context.Context, onMessage func(platform.Event)) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.onMessage = onMessage
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) IsAuthorized(ctx context.Context) (bool, error) {
	if c.authErr != nil {
		return false, c.authErr
	}
	if c.unauthorized {
		return false, nil
	}
	return c.connected, nil
}

func (c *fakeClient) Whoami(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.whoamiErr != nil {
		return "", c.whoamiErr
	}
	return c.platformID, nil
}

func (c *fakeClient) TopConversations(ctx context.Context, limit int) ([]platform.Conversation, error) {
	return nil, nil
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
	return nil
}

func (c *fakeClient) deliver(ev platform.Event) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}
