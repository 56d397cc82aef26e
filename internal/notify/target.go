package notify

import (
	"strconv"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

// ResolveTarget picks the bot chat id in the order spec.md §4.2
// describes: the user's own bot_chat_id (set the first time they message
// the control bot) takes priority over their upstream platform user id,
// since a DM to the bot is the more reliable delivery path. session may
// be nil if the user currently has no active platform session.
func ResolveTarget(user model.User, session *model.PlatformSession) Target {
	t := Target{Email: user.Email}

	if user.BotChatID != nil {
		t.BotChatID = *user.BotChatID
		return t
	}
	if session != nil && session.PlatformID != "" {
		if id, err := strconv.ParseInt(session.PlatformID, 10, 64); err == nil {
			t.BotChatID = id
		}
	}
	return t
}
