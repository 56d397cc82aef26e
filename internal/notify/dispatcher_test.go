package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

func ptr(i int64) *int64 { return &i }

func TestResolveTarget_PrefersBotChatID(t *testing.T) {
	user := model.User{Email: "a@example.com", BotChatID: ptr(111)}
	session := &model.PlatformSession{PlatformID: "222"}

	target := ResolveTarget(user, session)
	assert.Equal(t, int64(111), target.BotChatID)
	assert.Equal(t, "a@example.com", target.Email)
}

func TestResolveTarget_FallsBackToSessionPlatformID(t *testing.T) {
	user := model.User{Email: "a@example.com"}
	session := &model.PlatformSession{PlatformID: "222"}

	target := ResolveTarget(user, session)
	assert.Equal(t, int64(222), target.BotChatID)
}

func TestResolveTarget_NoSessionNoBotChat(t *testing.T) {
	user := model.User{Email: "a@example.com"}

	target := ResolveTarget(user, nil)
	assert.Equal(t, int64(0), target.BotChatID)
}

func TestDispatch_NoChannelsEnabledReturnsFalse(t *testing.T) {
	d := New(Config{})
	rule := model.Rule{ID: "r1", NotifyEmail: true, NotifyBot: true}
	target := Target{Email: "a@example.com", BotChatID: 1}

	emailOK, botOK := d.Dispatch(context.Background(), rule, target, "bitcoin", "Alice", "buy bitcoin now")
	assert.False(t, emailOK)
	assert.False(t, botOK)
}

func TestNew_EmailFromFallsBackToSMTPUser(t *testing.T) {
	d := New(Config{SMTPServer: "smtp.example.com", SMTPUser: "worker@example.com"})
	assert.Equal(t, "worker@example.com", d.smtp.from)
}

func TestNew_EmailFromPreferredOverSMTPUser(t *testing.T) {
	d := New(Config{SMTPServer: "smtp.example.com", SMTPUser: "worker@example.com", EmailFrom: "alerts@teleguard.io"})
	assert.Equal(t, "alerts@teleguard.io", d.smtp.from)
}

func TestDispatch_EmailOnlyRuleSkipsBotEvenWithTarget(t *testing.T) {
	d := New(Config{})
	rule := model.Rule{ID: "r1", NotifyEmail: true, NotifyBot: false}
	target := Target{Email: "a@example.com", BotChatID: 1}

	emailOK, botOK := d.Dispatch(context.Background(), rule, target, "bitcoin", "Alice", "buy bitcoin now")
	assert.False(t, emailOK)
	assert.False(t, botOK)
}
