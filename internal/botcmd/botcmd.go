// Package botcmd implements the Control-Bot Command Surface (spec.md
// §4.5): a single shared github.com/mymmrac/telego bot exposing
// /start, /add, /list, /del to authorized users.
package botcmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/teleguard-io/teleguard-worker/internal/evaluator"
	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/store"
)

// Bot is the long-polling command handler. One instance serves every
// user; authorization is per-message, resolved from the caller's
// Telegram id.
type Bot struct {
	bot   *telego.Bot
	gw    store.Gateway
	eval  *evaluator.Evaluator
	limit *rate.Limiter
}

// New wires the bot client, storage gateway, and evaluator (whose
// self/bot suppression needs to learn this bot's own platform id once
// Run starts).
func New(bot *telego.Bot, gw store.Gateway, eval *evaluator.Evaluator) *Bot {
	return &Bot{bot: bot, gw: gw, eval: eval, limit: rate.NewLimiter(rate.Limit(20), 1)}
}

// Run resolves the bot's own identity, then long-polls for updates until
// ctx is canceled. Each message is handled in its own goroutine so a
// slow command (e.g. one doing a DB round trip) never stalls delivery of
// the next update.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}
	b.eval.SetBotPlatformID(strconv.FormatInt(me.ID, 10))
	slog.Info("botcmd: identity resolved", "bot_id", me.ID, "username", me.Username)

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	for update := range updates {
		if update.Message == nil || update.Message.Text == "" {
			continue
		}
		msg := update.Message
		go b.handleMessage(ctx, msg)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *telego.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := strings.TrimSpace(strings.TrimPrefix(msg.Text, fields[0]))

	switch cmd {
	case "/start":
		b.handleStart(ctx, msg)
	case "/add":
		b.handleAdd(ctx, msg, args)
	case "/list":
		b.handleList(ctx, msg)
	case "/del":
		b.handleDel(ctx, msg, args)
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command. Try /start, /add, /list, or /del.")
	}
}

// resolveUser implements the two-step caller lookup spec.md §4.5 and §9
// Open Question 4 describe: first by platform-sender-id against any
// session, then by bot_chat_id already on file. No further verification
// is required once either lookup hits.
func (b *Bot) resolveUser(ctx context.Context, msg *telego.Message) (*model.User, error) {
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if user, err := b.gw.FindUserByPlatformSenderID(ctx, senderID); err == nil && user != nil {
		return user, nil
	}
	return b.gw.FindUserByBotChatID(ctx, msg.Chat.ID)
}

func (b *Bot) handleStart(ctx context.Context, msg *telego.Message) {
	user, err := b.resolveUser(ctx, msg)
	if err != nil {
		slog.Warn("botcmd: /start lookup failed", "error", err)
		b.reply(ctx, msg.Chat.ID, "Something went wrong. Please try again.")
		return
	}
	if user == nil {
		b.reply(ctx, msg.Chat.ID, "This Telegram account isn't linked to a TeleGuard account yet. "+
			"Connect your session from the dashboard first, then send /start again.")
		return
	}

	if err := b.gw.LinkBotChatID(ctx, user.ID, msg.Chat.ID); err != nil {
		slog.Error("botcmd: link bot chat id failed", "user_id", user.ID, "error", err)
		b.reply(ctx, msg.Chat.ID, "Linked lookup succeeded but saving failed. Please try again.")
		return
	}

	b.reply(ctx, msg.Chat.ID,
		"You're linked! Commands:\n"+
			"/add <keyword> [@handle] [-email] [-bot] — create an alert\n"+
			"/list — show your active alerts\n"+
			"/del <id-prefix> — delete an alert")
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.limit.Wait(ctx); err != nil {
		return
	}
	if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		slog.Warn("botcmd: send reply failed", "chat_id", chatID, "error", err)
	}
}
