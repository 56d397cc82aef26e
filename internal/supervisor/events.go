package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/teleguard-io/teleguard-worker/internal/evaluator"
	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/notify"
	"github.com/teleguard-io/teleguard-worker/internal/platform"
)

// eventTimeout is the context deadline for the evaluate-dispatch-audit
// pipeline of one inbound message. The DB calls and the bot send observe
// it; the SMTP send takes no context and is bounded only by net/smtp's
// own behavior.
const eventTimeout = 10 * time.Second

// handleEvent is the platform.Client onMessage callback: it runs the
// event through the Evaluator and, for every match, fans out delivery
// and records the attempt. It returns only after every match's dispatch
// has finished, and never panics on a delivery failure.
func (s *Supervisor) handleEvent(userID string, ev platform.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	matches, err := s.eval.Evaluate(ctx, userID, evaluator.Event{
		ChatID:     ev.ChatID,
		MessageID:  ev.MessageID,
		SenderID:   ev.SenderID,
		SenderName: ev.SenderName,
		Out:        ev.Out,
		Body:       ev.Body,
	})
	if err != nil {
		slog.Error("supervisor: evaluate failed", "user_id", userID, "error", err)
		return
	}
	if len(matches) == 0 {
		return
	}

	user, err := s.gw.GetUser(ctx, userID)
	if err != nil {
		slog.Error("supervisor: get user failed", "user_id", userID, "error", err)
		return
	}
	if user == nil {
		slog.Error("supervisor: user vanished mid-evaluation", "user_id", userID)
		return
	}

	session, err := s.gw.GetActiveSessionFor(ctx, userID)
	if err != nil {
		slog.Error("supervisor: get active session failed", "user_id", userID, "error", err)
		return
	}

	target := notify.ResolveTarget(*user, session)

	from := senderLabel(ev.SenderName, ev.SenderID)
	for _, match := range matches {
		s.deliver(ctx, userID, target, match, ev.Body, from)
	}
}

func senderLabel(name, id string) string {
	if name != "" {
		return name
	}
	if id != "" {
		return id
	}
	return "unknown"
}

func (s *Supervisor) deliver(ctx context.Context, userID string, target notify.Target, match evaluator.Match, body, from string) {
	emailOK, botOK := s.dispatch.Dispatch(ctx, match.Rule, target, match.Trigger, from, body)

	if err := s.gw.IncrementTriggerCount(ctx, match.Rule.ID); err != nil {
		slog.Error("supervisor: increment trigger count failed", "rule_id", match.Rule.ID, "error", err)
	}

	ruleID, uid := match.Rule.ID, userID
	entry := model.AuditLog{
		RuleID:            &ruleID,
		UserID:            &uid,
		MessageContent:    model.TruncateMessage(body, 500),
		DetectedKeyword:   match.Trigger,
		DispatchedToEmail: emailOK,
		DispatchedToBot:   botOK,
	}
	if err := s.gw.AppendAuditLog(ctx, entry); err != nil {
		slog.Error("supervisor: append audit log failed", "rule_id", match.Rule.ID, "error", err)
	}
}
