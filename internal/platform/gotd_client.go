package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// connectTimeout bounds how long Connect waits for the transport to come
// up before giving up and reporting a transient error.
const connectTimeout = 20 * time.Second

// GotdClient is the gotd/td-backed Client implementation.
type GotdClient struct {
	appID   int
	appHash string
	session string

	mu       sync.Mutex
	client   *telegram.Client
	api      *tg.Client
	cancel   context.CancelFunc
	runDone  chan struct{}
	runErr   error
}

// NewGotdClient builds a Client bound to one user's opaque session
// credential. appID/appHash are the worker's own platform application
// credentials (spec.md §6, TELEGRAM_API_ID / TELEGRAM_API_HASH).
func NewGotdClient(appID int, appHash, sessionString string) *GotdClient {
	return &GotdClient{appID: appID, appHash: appHash, session: sessionString}
}

func (c *GotdClient) Connect(ctx context.Context, onMessage func(Event)) error {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok || onMessage == nil {
			return nil
		}
		onMessage(toEvent(msg, entities))
		return nil
	})

	client := telegram.NewClient(c.appID, c.appHash, telegram.Options{
		SessionStorage: newStringSessionStorage(c.session),
		UpdateHandler:  dispatcher,
		Device: telegram.DeviceConfig{
			DeviceModel:   "TeleGuard Worker",
			SystemVersion: "linux",
			AppVersion:    "1.0.0",
		},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			ready <- nil
			<-ctx.Done()
			return nil
		})
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return &TransientTransportError{Err: err}
		}
	case <-time.After(connectTimeout):
		cancel()
		return &TransientTransportError{Err: fmt.Errorf("timed out waiting for connection")}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	c.mu.Lock()
	c.client = client
	c.api = client.API()
	c.cancel = cancel
	c.runDone = done
	c.mu.Unlock()
	return nil
}

func (c *GotdClient) IsAuthorized(ctx context.Context) (bool, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return false, fmt.Errorf("not connected")
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, ClassifyError(err)
	}
	return status.Authorized, nil
}

func (c *GotdClient) Whoami(ctx context.Context) (string, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return "", fmt.Errorf("not connected")
	}

	full, err := api.UsersGetFullUser(ctx, &tg.InputUserSelf{})
	if err != nil {
		return "", ClassifyError(err)
	}
	for _, u := range full.Users {
		if user, ok := u.(*tg.User); ok {
			return strconv.FormatInt(user.ID, 10), nil
		}
	}
	return "", fmt.Errorf("self user not present in response")
}

func (c *GotdClient) TopConversations(ctx context.Context, limit int) ([]Conversation, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return nil, fmt.Errorf("not connected")
	}

	result, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, ClassifyError(err)
	}

	var chats []tg.ChatClass
	switch d := result.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	default:
		return nil, fmt.Errorf("unexpected dialogs response type %T", result)
	}

	convos := make([]Conversation, 0, len(chats))
	for _, cc := range chats {
		switch ch := cc.(type) {
		case *tg.Chat:
			convos = append(convos, Conversation{ID: ch.ID, Title: ch.Title, Type: "Group"})
		case *tg.Channel:
			typ := "Channel"
			if ch.Megagroup {
				typ = "Group"
			}
			convos = append(convos, Conversation{ID: ch.ID, Title: ch.Title, Type: typ, Username: ch.Username})
		}
		if len(convos) >= limit {
			break
		}
	}
	return convos, nil
}

func (c *GotdClient) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.runDone
	c.cancel = nil
	c.client = nil
	c.api = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func toEvent(msg *tg.Message, entities tg.Entities) Event {
	var senderID string
	if peer, ok := msg.FromID.(*tg.PeerUser); ok {
		senderID = strconv.FormatInt(peer.UserID, 10)
	}
	return Event{
		ChatID:     peerChatID(msg.PeerID),
		MessageID:  msg.ID,
		SenderID:   senderID,
		SenderName: senderName(senderID, entities),
		Out:        msg.Out,
		Body:       msg.Message,
	}
}

// senderName resolves a best-effort display name for senderID out of the
// update's resolved entities, falling back to the bare numeric id when
// the sender isn't a known user (e.g. an anonymous channel post).
func senderName(senderID string, entities tg.Entities) string {
	if senderID == "" {
		return "unknown"
	}
	id, err := strconv.ParseInt(senderID, 10, 64)
	if err != nil {
		return senderID
	}
	if u, ok := entities.Users[id]; ok {
		if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
			return name
		}
		if u.Username != "" {
			return "@" + u.Username
		}
	}
	return senderID
}

func peerChatID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}
