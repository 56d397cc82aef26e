package botcmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/mymmrac/telego"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

const unauthorizedReply = "This Telegram account isn't linked yet. Send /start first."

// idPrefixLen is how much of a rule's UUID the /add, /list and /del
// replies show. /del itself accepts a prefix of any length.
const idPrefixLen = 8

func shortID(id string) string {
	if len(id) <= idPrefixLen {
		return id
	}
	return id[:idPrefixLen]
}

func (b *Bot) handleAdd(ctx context.Context, msg *telego.Message, argsStr string) {
	user, err := b.resolveUser(ctx, msg)
	if err != nil || user == nil {
		b.reply(ctx, msg.Chat.ID, unauthorizedReply)
		return
	}

	parsed, err := parseAddArgs(argsStr)
	if err != nil {
		b.reply(ctx, msg.Chat.ID, err.Error())
		return
	}

	var sourceID *int64
	var sourceName string
	if parsed.handle != "" {
		chat, err := b.gw.FindSyncedChatByHandle(ctx, user.ID, parsed.handle)
		if err != nil || chat == nil {
			b.reply(ctx, msg.Chat.ID, fmt.Sprintf("No recently synced chat found for @%s.", parsed.handle))
			return
		}
		sourceID = &chat.ID
		sourceName = chat.Title
	}

	rule := model.Rule{
		UserID:      user.ID,
		SourceID:    sourceID,
		SourceName:  sourceName,
		Keywords:    []string{parsed.keyword},
		NotifyEmail: parsed.notifyEmail,
		NotifyBot:   parsed.notifyBot,
	}
	created, err := b.gw.CreateRule(ctx, rule)
	if err != nil {
		b.reply(ctx, msg.Chat.ID, "Failed to create the alert. Please try again.")
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Alert created for %q (id %s)", parsed.keyword, shortID(created.ID)))
}

// addArgs is the parsed form of /add's argument string.
type addArgs struct {
	keyword     string
	handle      string // without leading '@'; empty if not supplied
	notifyEmail bool
	notifyBot   bool
}

// parseAddArgs tokenizes /add's arguments the way a shell would (so a
// quoted multi-word keyword survives intact), then classifies tokens:
// anything starting with '-' is a flag, everything else is positional.
// The first positional is the keyword; an optional second positional
// starting with '@' targets a specific synced chat. If neither -email
// nor -bot is present, both channels default to enabled.
func parseAddArgs(argsStr string) (addArgs, error) {
	tokens, err := shellwords.Parse(argsStr)
	if err != nil {
		return addArgs{}, fmt.Errorf("couldn't parse that — check your quoting and try again")
	}

	var positional []string
	var emailFlag, botFlag bool
	for _, tok := range tokens {
		switch {
		case tok == "-email":
			emailFlag = true
		case tok == "-bot":
			botFlag = true
		case strings.HasPrefix(tok, "-"):
			// unrecognized flag, ignored
		default:
			positional = append(positional, tok)
		}
	}

	if len(positional) == 0 {
		return addArgs{}, fmt.Errorf("usage: /add <keyword> [@handle] [-email] [-bot]")
	}

	parsed := addArgs{keyword: positional[0], notifyEmail: true, notifyBot: true}
	if emailFlag || botFlag {
		parsed.notifyEmail, parsed.notifyBot = emailFlag, botFlag
	}
	if len(positional) > 1 && strings.HasPrefix(positional[1], "@") {
		parsed.handle = strings.TrimPrefix(positional[1], "@")
	}
	return parsed, nil
}

func (b *Bot) handleList(ctx context.Context, msg *telego.Message) {
	user, err := b.resolveUser(ctx, msg)
	if err != nil || user == nil {
		b.reply(ctx, msg.Chat.ID, unauthorizedReply)
		return
	}

	rules, err := b.gw.ListRulesFor(ctx, user.ID, true)
	if err != nil {
		b.reply(ctx, msg.Chat.ID, "Failed to list alerts. Please try again.")
		return
	}
	if len(rules) == 0 {
		b.reply(ctx, msg.Chat.ID, "No active alerts.")
		return
	}

	var lines []string
	for _, r := range rules {
		lines = append(lines, fmt.Sprintf("%s — %s", shortID(r.ID), strings.Join(r.Keywords, ", ")))
	}
	b.reply(ctx, msg.Chat.ID, strings.Join(lines, "\n"))
}

func (b *Bot) handleDel(ctx context.Context, msg *telego.Message, argsStr string) {
	user, err := b.resolveUser(ctx, msg)
	if err != nil || user == nil {
		b.reply(ctx, msg.Chat.ID, unauthorizedReply)
		return
	}

	prefix := strings.TrimSpace(argsStr)
	if prefix == "" {
		b.reply(ctx, msg.Chat.ID, "Usage: /del <id-prefix>")
		return
	}

	rule, err := b.gw.FindRuleByIDPrefix(ctx, user.ID, prefix)
	if err != nil || rule == nil {
		b.reply(ctx, msg.Chat.ID, "No alert found with that id prefix.")
		return
	}

	if err := b.gw.DeleteRuleCascade(ctx, rule.ID); err != nil {
		b.reply(ctx, msg.Chat.ID, "Failed to delete the alert. Please try again.")
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Deleted alert %s.", shortID(rule.ID)))
}
