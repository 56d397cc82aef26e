package botcmd

import (
	"context"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/store"
)

// fakeGateway implements store.Gateway for resolveUser tests; only the
// two lookups it exercises do anything interesting.
type fakeGateway struct {
	store.Gateway
	bySender map[string]*model.User
	byChat   map[int64]*model.User
}

func (f *fakeGateway) FindUserByPlatformSenderID(ctx context.Context, senderID string) (*model.User, error) {
	return f.bySender[senderID], nil
}

func (f *fakeGateway) FindUserByBotChatID(ctx context.Context, chatID int64) (*model.User, error) {
	return f.byChat[chatID], nil
}

func TestResolveUser_PrefersPlatformSenderMatch(t *testing.T) {
	gw := &fakeGateway{
		bySender: map[string]*model.User{"555": {ID: "u1"}},
		byChat:   map[int64]*model.User{},
	}
	b := &Bot{gw: gw}
	msg := &telego.Message{From: &telego.User{ID: 555}, Chat: telego.Chat{ID: 999}}

	user, err := b.resolveUser(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
}

func TestResolveUser_FallsBackToBotChatID(t *testing.T) {
	gw := &fakeGateway{
		bySender: map[string]*model.User{},
		byChat:   map[int64]*model.User{999: {ID: "u2"}},
	}
	b := &Bot{gw: gw}
	msg := &telego.Message{From: &telego.User{ID: 555}, Chat: telego.Chat{ID: 999}}

	user, err := b.resolveUser(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u2", user.ID)
}

func TestResolveUser_NoMatchReturnsNil(t *testing.T) {
	gw := &fakeGateway{bySender: map[string]*model.User{}, byChat: map[int64]*model.User{}}
	b := &Bot{gw: gw}
	msg := &telego.Message{From: &telego.User{ID: 555}, Chat: telego.Chat{ID: 999}}

	user, err := b.resolveUser(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, user)
}
