// Package pg implements store.Gateway on Postgres. It opens
// database/sql with the pgx/v5 stdlib driver (keeping the teacher's
// database/sql access pattern while adopting the pack's preferred
// Postgres driver), uses sqlx.StructScan for list-shaped reads, and
// lib/pq's array helpers for the schema's text[] columns.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/store"
)

// PGGateway implements store.Gateway backed by Postgres.
type PGGateway struct {
	db *sqlx.DB
}

// Open connects to Postgres using the pgx stdlib driver and verifies the
// connection with a ping.
func Open(ctx context.Context, databaseURL string) (*PGGateway, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGGateway{db: db}, nil
}

// NewWithDB wraps an already-open sqlx.DB without pinging it.
func NewWithDB(db *sqlx.DB) *PGGateway {
	return &PGGateway{db: db}
}

func (g *PGGateway) Close() error {
	return g.db.Close()
}

var _ store.Gateway = (*PGGateway)(nil)

// --- Sessions -----------------------------------------------------------

const sessionCols = `id, user_id, session_string, phone_number, telegram_id, is_active, created_at`

func (g *PGGateway) ListActiveSessions(ctx context.Context) ([]model.PlatformSession, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM telegram_sessions WHERE is_active = true ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	var out []model.PlatformSession
	for rows.Next() {
		var s model.PlatformSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.SessionString, &s.PhoneNumber, &s.PlatformID, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (g *PGGateway) GetActiveSessionFor(ctx context.Context, userID string) (*model.PlatformSession, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM telegram_sessions WHERE user_id = $1 AND is_active = true LIMIT 1`, userID)
	var s model.PlatformSession
	err := row.Scan(&s.ID, &s.UserID, &s.SessionString, &s.PhoneNumber, &s.PlatformID, &s.IsActive, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return &s, nil
}

func (g *PGGateway) MarkSessionInactive(ctx context.Context, sessionID string) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE telegram_sessions SET is_active = false WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("mark session inactive: %w", err)
	}
	return nil
}

// --- Users ----------------------------------------------------------------

const userCols = `id, email, hashed_password, role, full_name, bot_chat_id, is_verified, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var botChatID sql.NullInt64
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.Role, &u.FullName, &botChatID, &u.IsVerified, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.BotChatID = int64PtrOrNil(botChatID)
	return &u, nil
}

func (g *PGGateway) GetUser(ctx context.Context, userID string) (*model.User, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (g *PGGateway) FindUserByPlatformSenderID(ctx context.Context, senderID string) (*model.User, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT `+qualify("u", userCols)+` FROM users u
		 JOIN telegram_sessions s ON s.user_id = u.id
		 WHERE s.telegram_id = $1 LIMIT 1`, senderID)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("find user by platform sender id: %w", err)
	}
	return u, nil
}

func (g *PGGateway) FindUserByBotChatID(ctx context.Context, chatID int64) (*model.User, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE bot_chat_id = $1 LIMIT 1`, chatID)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("find user by bot chat id: %w", err)
	}
	return u, nil
}

func (g *PGGateway) LinkBotChatID(ctx context.Context, userID string, chatID int64) error {
	_, err := g.db.ExecContext(ctx, `UPDATE users SET bot_chat_id = $1 WHERE id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("link bot chat id: %w", err)
	}
	return nil
}

func qualify(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// --- Rules ------------------------------------------------------------

const ruleCols = `id, user_id, source_id, source_name, keywords, excluded_keywords,
	is_regex, notify_email, notify_bot, webhook_url, is_paused, trigger_count, created_at`

// GetActiveRulesFor returns the user's non-paused rules, ordered by
// creation time (the Evaluator's per-rule evaluation order, spec.md §4.3).
func (g *PGGateway) GetActiveRulesFor(ctx context.Context, userID string) ([]model.Rule, error) {
	return g.queryRules(ctx, `SELECT `+ruleCols+` FROM alerts WHERE user_id = $1 AND is_paused = false ORDER BY created_at`, userID)
}

func (g *PGGateway) ListRulesFor(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error) {
	q := `SELECT ` + ruleCols + ` FROM alerts WHERE user_id = $1`
	if activeOnly {
		q += ` AND is_paused = false`
	}
	q += ` ORDER BY created_at`
	return g.queryRules(ctx, q, userID)
}

// ruleRow mirrors the alerts table for sqlx.StructScan; model.Rule stays
// a plain domain type with no db tags of its own.
type ruleRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	SourceID         sql.NullInt64  `db:"source_id"`
	SourceName       sql.NullString `db:"source_name"`
	Keywords         pq.StringArray `db:"keywords"`
	ExcludedKeywords pq.StringArray `db:"excluded_keywords"`
	IsRegex          bool           `db:"is_regex"`
	NotifyEmail      bool           `db:"notify_email"`
	NotifyBot        bool           `db:"notify_bot"`
	WebhookURL       sql.NullString `db:"webhook_url"`
	IsPaused         bool           `db:"is_paused"`
	TriggerCount     int            `db:"trigger_count"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r ruleRow) toModel() model.Rule {
	return model.Rule{
		ID:               r.ID,
		UserID:           r.UserID,
		SourceID:         int64PtrOrNil(r.SourceID),
		SourceName:       strOrEmpty(r.SourceName),
		Keywords:         []string(r.Keywords),
		ExcludedKeywords: []string(r.ExcludedKeywords),
		IsRegex:          r.IsRegex,
		NotifyEmail:      r.NotifyEmail,
		NotifyBot:        r.NotifyBot,
		WebhookURL:       strOrEmpty(r.WebhookURL),
		IsPaused:         r.IsPaused,
		TriggerCount:     r.TriggerCount,
		CreatedAt:        r.CreatedAt,
	}
}

func (g *PGGateway) queryRules(ctx context.Context, query string, args ...interface{}) ([]model.Rule, error) {
	var rows []ruleRow
	if err := g.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	out := make([]model.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (g *PGGateway) FindRuleByIDPrefix(ctx context.Context, userID, prefix string) (*model.Rule, error) {
	rules, err := g.ListRulesFor(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if strings.HasPrefix(rules[i].ID, prefix) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

func (g *PGGateway) CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	if rule.ID == "" {
		rule.ID = store.GenNewID()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO alerts (id, user_id, source_id, source_name, keywords, excluded_keywords,
		 is_regex, notify_email, notify_bot, webhook_url, is_paused, trigger_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rule.ID, rule.UserID, nilInt64Ptr(rule.SourceID), nilStr(rule.SourceName),
		pq.Array(rule.Keywords), pq.Array(rule.ExcludedKeywords),
		rule.IsRegex, rule.NotifyEmail, rule.NotifyBot, nilStr(rule.WebhookURL),
		rule.IsPaused, rule.TriggerCount, rule.CreatedAt,
	)
	if err != nil {
		return model.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

func (g *PGGateway) IncrementTriggerCount(ctx context.Context, ruleID string) error {
	_, err := g.db.ExecContext(ctx, `UPDATE alerts SET trigger_count = trigger_count + 1 WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("increment trigger count: %w", err)
	}
	return nil
}

// DeleteRuleCascade removes a rule's audit log rows, then the rule, in a
// single transaction — the underlying store is not assumed to cascade
// (spec.md §3, §9).
func (g *PGGateway) DeleteRuleCascade(ctx context.Context, ruleID string) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_logs WHERE alert_id = $1`, ruleID); err != nil {
		return fmt.Errorf("delete audit rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, ruleID); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return tx.Commit()
}

// --- Audit log --------------------------------------------------------

func (g *PGGateway) AppendAuditLog(ctx context.Context, entry model.AuditLog) error {
	if entry.ID == "" {
		entry.ID = store.GenNewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO alert_logs (id, alert_id, user_id, message_content, detected_keyword,
		 dispatched_to_email, dispatched_to_bot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, nilStrPtr(entry.RuleID), nilStrPtr(entry.UserID),
		entry.MessageContent, entry.DetectedKeyword,
		entry.DispatchedToEmail, entry.DispatchedToBot, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func nilStrPtr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// --- Synced chats -------------------------------------------------------

func (g *PGGateway) ReplaceSyncedChats(ctx context.Context, userID string, chats []model.SyncedChat) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM telegram_chats WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear synced chats: %w", err)
	}
	for _, c := range chats {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO telegram_chats (id, user_id, title, type, username) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, title = EXCLUDED.title,
			 type = EXCLUDED.type, username = EXCLUDED.username`,
			c.ID, c.UserID, c.Title, c.Type, nilStr(c.Username),
		); err != nil {
			return fmt.Errorf("insert synced chat %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// syncedChatRow mirrors telegram_chats for sqlx.StructScan.
type syncedChatRow struct {
	ID       int64          `db:"id"`
	UserID   string         `db:"user_id"`
	Title    string         `db:"title"`
	Type     string         `db:"type"`
	Username sql.NullString `db:"username"`
}

func (g *PGGateway) FindSyncedChatByHandle(ctx context.Context, userID, handle string) (*model.SyncedChat, error) {
	var row syncedChatRow
	err := g.db.GetContext(ctx, &row,
		`SELECT id, user_id, title, type, username FROM telegram_chats
		 WHERE user_id = $1 AND lower(username) = lower($2) LIMIT 1`, userID, handle)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find synced chat by handle: %w", err)
	}
	return &model.SyncedChat{ID: row.ID, UserID: row.UserID, Title: row.Title, Type: row.Type, Username: strOrEmpty(row.Username)}, nil
}
