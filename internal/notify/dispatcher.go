// Package notify implements the Notification Dispatcher (spec.md §4.2):
// given a matched rule and the event that triggered it, deliver an alert
// over email and/or the control bot, each channel on its own goroutine,
// and report per-channel success once both attempts have finished.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"

	"github.com/matcornic/hermes/v2"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

// BodyPreviewLen bounds how much of the matched message is echoed back in
// the email alert (independent of AuditLog's 500-char retention limit).
const BodyPreviewLen = 300

// BotBodyPreviewLen is the bot alert's truncation limit (spec.md §4.2).
const BotBodyPreviewLen = 4000

// Target is the resolved delivery destination for one user: the bot chat
// id to message (owner's bot_chat_id, falling back to their active
// session's platform id) and the email address on file.
type Target struct {
	Email     string
	BotChatID int64 // 0 if no bot chat is resolvable
}

// Dispatcher sends alerts over email (SMTP + hermes) and the control bot
// (telego). Bot sends wait on a token-bucket limiter so a burst of matches
// can't exceed Telegram's rate limits; email sends are not throttled.
type Dispatcher struct {
	smtp  *smtpSender
	bot   *telego.Bot
	limit *rate.Limiter
}

// Config carries the SMTP and bot settings the Dispatcher needs; a zero
// SMTPServer or a nil Bot disables that channel entirely.
type Config struct {
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string

	Bot *telego.Bot

	// BotRateLimit bounds outbound bot sends per second across all users;
	// zero disables throttling.
	BotRateLimit rate.Limit
}

// New builds a Dispatcher from Config.
func New(cfg Config) *Dispatcher {
	var sender *smtpSender
	if cfg.SMTPServer != "" {
		from := cfg.EmailFrom
		if from == "" {
			from = cfg.SMTPUser
		}
		sender = &smtpSender{
			host: cfg.SMTPServer,
			port: cfg.SMTPPort,
			user: cfg.SMTPUser,
			pass: cfg.SMTPPassword,
			from: from,
		}
	}

	limit := cfg.BotRateLimit
	if limit <= 0 {
		limit = rate.Inf
	}

	return &Dispatcher{
		smtp:  sender,
		bot:   cfg.Bot,
		limit: rate.NewLimiter(limit, 1),
	}
}

// Dispatch fires the rule's enabled channels concurrently and returns once
// both attempts have completed, reporting per-channel success. It never
// returns an error itself — channel failures are logged and folded into
// the returned booleans, matching spec.md §7's "never let delivery
// failure cascade" requirement.
func (d *Dispatcher) Dispatch(ctx context.Context, rule model.Rule, target Target, trigger, from, body string) (emailOK, botOK bool) {
	var wg sync.WaitGroup

	if rule.NotifyEmail && d.smtp != nil && target.Email != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.sendEmail(target.Email, rule, trigger, from, body); err != nil {
				slog.Warn("notify: email dispatch failed", "rule_id", rule.ID, "error", err)
				return
			}
			emailOK = true
		}()
	}

	if rule.NotifyBot && d.bot != nil && target.BotChatID != 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.sendBot(ctx, target.BotChatID, rule, trigger, from, body); err != nil {
				slog.Warn("notify: bot dispatch failed", "rule_id", rule.ID, "error", err)
				return
			}
			botOK = true
		}()
	}

	wg.Wait()
	return emailOK, botOK
}

func (d *Dispatcher) sendBot(ctx context.Context, chatID int64, rule model.Rule, trigger, from, body string) error {
	if err := d.limit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	text := fmt.Sprintf(
		"<b>%s</b>: %s\n\nRule: <code>%s</code>\nSender: %s\n%s %q\n\nMessage: %s",
		alertPrefix, html.EscapeString(rule.SourceName), shortRuleID(rule.ID), html.EscapeString(from),
		alertMarker, html.EscapeString(trigger), html.EscapeString(model.TruncateMessage(body, BotBodyPreviewLen)),
	)
	msg := tu.Message(tu.ID(chatID), text)
	msg.ParseMode = telego.ModeHTML

	_, err := d.bot.SendMessage(ctx, msg)
	return err
}

func shortRuleID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}

const (
	alertPrefix = "🚨 TeleGuard Alert"
	alertMarker = "Alert triggered by:"
)
