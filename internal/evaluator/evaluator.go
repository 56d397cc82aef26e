// Package evaluator implements the Alert Evaluator (spec.md §4.3): a pure
// function over an inbound event and a user's rules that returns zero or
// more matches, with process-wide dedup and self/bot suppression applied
// once per event before any rule runs.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

// Event is the subset of an inbound chat message the Evaluator needs.
// Out reports whether the message was authored by the monitored account
// itself.
type Event struct {
	ChatID     int64
	MessageID  int
	SenderID   string
	SenderName string
	Out        bool
	Body       string
}

// Match pairs a rule with the literal trigger string that fired it.
type Match struct {
	Rule    model.Rule
	Trigger string
}

// RulesFetcher returns a user's active (non-paused) rules, e.g.
// store.Gateway.GetActiveRulesFor.
type RulesFetcher func(ctx context.Context, userID string) ([]model.Rule, error)

const (
	alertPrefix = "🚨 TeleGuard Alert"
	alertMarker = "Alert triggered by:"
)

// Evaluator holds the two pieces of process-wide state the component
// owns: a rolling dedup set and a short-TTL cache of each user's active
// rules (spec.md §4.3, §5).
type Evaluator struct {
	fetch RulesFetcher

	dedupMu   sync.Mutex
	dedupSeen map[string]struct{}
	dedupMax  int

	ruleCache *lru.LRU[string, []model.Rule]

	botPlatformID string // empty until the control bot has initialized
	botMu         sync.RWMutex
}

// New builds an Evaluator. dedupMax is the rolling dedup set's
// wholesale-clear threshold (default 5000 per spec.md §4.3). ruleCacheTTL
// is the freshness floor for cached active-rule reads (default a few
// seconds).
func New(fetch RulesFetcher, dedupMax int, ruleCacheTTL time.Duration) *Evaluator {
	if dedupMax <= 0 {
		dedupMax = 5000
	}
	if ruleCacheTTL <= 0 {
		ruleCacheTTL = 3 * time.Second
	}
	return &Evaluator{
		fetch:     fetch,
		dedupSeen: make(map[string]struct{}),
		dedupMax:  dedupMax,
		ruleCache: lru.NewLRU[string, []model.Rule](4096, nil, ruleCacheTTL),
	}
}

// SetBotPlatformID records the control bot's own upstream platform user
// id, used by the self/bot suppression check below. Safe to call
// concurrently with Evaluate.
func (e *Evaluator) SetBotPlatformID(id string) {
	e.botMu.Lock()
	e.botPlatformID = id
	e.botMu.Unlock()
}

func (e *Evaluator) botID() string {
	e.botMu.RLock()
	defer e.botMu.RUnlock()
	return e.botPlatformID
}

// Evaluate runs the full pipeline from spec.md §4.3 for one event against
// one user's rules: dedup, self/bot suppression, then per-rule source
// filter, exclusion, and trigger matching. Every active rule is
// evaluated; more than one may match.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, ev Event) ([]Match, error) {
	if e.isDuplicate(ev.ChatID, ev.MessageID) {
		return nil, nil
	}
	if ev.Out {
		return nil, nil
	}
	if e.isSelfOrBot(ev) {
		return nil, nil
	}

	rules, err := e.activeRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch active rules: %w", err)
	}

	var matches []Match
	for _, rule := range rules {
		trigger, ok := evaluateRule(rule, ev)
		if !ok {
			continue
		}
		matches = append(matches, Match{Rule: rule, Trigger: trigger})
	}
	return matches, nil
}

// isDuplicate reports whether (chatID, messageID) has already been seen
// by this process. The set is cleared wholesale once it exceeds dedupMax
// entries, matching the observed policy (spec.md §9, Open Question 3)
// rather than an LRU that would avoid the re-fire-at-boundary edge case.
func (e *Evaluator) isDuplicate(chatID int64, messageID int) bool {
	key := fmt.Sprintf("%d:%d", chatID, messageID)

	e.dedupMu.Lock()
	defer e.dedupMu.Unlock()

	if _, seen := e.dedupSeen[key]; seen {
		return true
	}
	if len(e.dedupSeen) >= e.dedupMax {
		e.dedupSeen = make(map[string]struct{})
	}
	e.dedupSeen[key] = struct{}{}
	return false
}

// isSelfOrBot prevents self-triggered alert loops: the event is dropped
// if it came from the known control bot, or — if the bot's platform id
// isn't known yet — the body looks like one of the worker's own alert
// messages.
func (e *Evaluator) isSelfOrBot(ev Event) bool {
	if botID := e.botID(); botID != "" {
		return ev.SenderID == botID
	}
	return strings.HasPrefix(ev.Body, alertPrefix) || strings.Contains(ev.Body, alertMarker)
}

func (e *Evaluator) activeRules(ctx context.Context, userID string) ([]model.Rule, error) {
	if cached, ok := e.ruleCache.Get(userID); ok {
		return cached, nil
	}
	rules, err := e.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.ruleCache.Add(userID, rules)
	return rules, nil
}

// evaluateRule applies the source filter, exclusion, and trigger checks
// from spec.md §4.3 to a single rule.
func evaluateRule(rule model.Rule, ev Event) (string, bool) {
	if rule.SourceID != nil && *rule.SourceID != ev.ChatID {
		return "", false
	}

	for _, excl := range rule.ExcludedKeywords {
		excl = strings.TrimSpace(excl)
		if excl == "" {
			continue
		}
		if strings.Contains(strings.ToLower(ev.Body), strings.ToLower(excl)) {
			return "", false
		}
	}

	if rule.IsRegex {
		return matchRegexTriggers(rule, ev.Body)
	}
	return matchSubstringTriggers(rule, ev.Body)
}

func matchSubstringTriggers(rule model.Rule, body string) (string, bool) {
	lowerBody := strings.ToLower(body)
	for _, trig := range rule.Keywords {
		if trig == "" {
			continue
		}
		if strings.Contains(lowerBody, strings.ToLower(trig)) {
			return trig, true
		}
	}
	return "", false
}

func matchRegexTriggers(rule model.Rule, body string) (string, bool) {
	for _, trig := range rule.Keywords {
		if trig == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + trig)
		if err != nil {
			slog.Warn("evaluator: invalid regex trigger, skipping pattern",
				"rule_id", rule.ID, "pattern", trig, "error", err)
			continue
		}
		if re.MatchString(body) {
			return trig, true
		}
	}
	return "", false
}
