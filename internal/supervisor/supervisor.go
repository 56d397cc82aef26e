// Package supervisor implements the Session Supervisor (spec.md §4.4):
// it discovers active platform sessions through the Storage Gateway,
// keeps exactly one upstream client running per user, routes every
// inbound event through the Alert Evaluator, and hands matches to the
// Notification Dispatcher.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teleguard-io/teleguard-worker/internal/evaluator"
	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/notify"
	"github.com/teleguard-io/teleguard-worker/internal/platform"
	"github.com/teleguard-io/teleguard-worker/internal/store"
)

// ClientFactory builds a fresh, unconnected platform.Client for one
// user's session credential. Production code wires platform.NewGotdClient;
// tests substitute a fake.
type ClientFactory func(session model.PlatformSession) platform.Client

// connectTimeout bounds one connect attempt; liveness checks get their
// own, shorter timeout (Config.LivenessTimeout).
const connectTimeout = 25 * time.Second

// Config tunes the supervisor loop. Zero values fall back to spec.md §6
// defaults.
type Config struct {
	Tick             time.Duration
	LivenessTimeout  time.Duration
	SyncedChatsLimit int
}

// Supervisor owns the active-client map and the per-tick reconciliation
// loop described in spec.md §4.4 and §5.
type Supervisor struct {
	gw        store.Gateway
	eval      *evaluator.Evaluator
	dispatch  *notify.Dispatcher
	newClient ClientFactory
	cfg       Config

	clients sync.Map // userID string -> State
}

// New wires the four collaborators the Supervisor drives every tick.
func New(gw store.Gateway, eval *evaluator.Evaluator, dispatch *notify.Dispatcher, newClient ClientFactory, cfg Config) *Supervisor {
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 5 * time.Second
	}
	if cfg.SyncedChatsLimit <= 0 {
		cfg.SyncedChatsLimit = 50
	}
	return &Supervisor{gw: gw, eval: eval, dispatch: dispatch, newClient: newClient, cfg: cfg}
}

// Run blocks, ticking until ctx is canceled. On cancellation every
// Running client is disconnected before Run returns.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass: spawn missing clients, retire
// clients whose session is no longer active, and liveness-check the rest.
// Exported so tests can drive the loop deterministically.
func (s *Supervisor) Tick(ctx context.Context) {
	sessions, err := s.gw.ListActiveSessions(ctx)
	if err != nil {
		slog.Error("supervisor: list active sessions failed", "error", err)
		return
	}

	seen := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		seen[session.UserID] = struct{}{}
		s.reconcileUser(ctx, session)
	}

	s.clients.Range(func(key, value any) bool {
		userID := key.(string)
		if _, ok := seen[userID]; ok {
			return true
		}
		s.retire(userID)
		return true
	})
}

func (s *Supervisor) reconcileUser(ctx context.Context, session model.PlatformSession) {
	current, ok := s.clients.Load(session.UserID)
	if !ok {
		// Plant the reservation before spawning so a second tick observing
		// this user while the connect is in flight doesn't double-spawn.
		if _, loaded := s.clients.LoadOrStore(session.UserID, Initializing{Since: time.Now()}); loaded {
			return
		}
		go s.spawn(session)
		return
	}

	running, ok := current.(Running)
	if !ok {
		return // Initializing: previous attempt still in flight
	}
	s.checkLiveness(ctx, session, running)
}

// spawn connects one user's client and, on success, promotes the state
// to Running; on failure it frees the reservation so the next tick can
// retry (or, for a revoked session, marks it inactive so nothing retries
// it again).
func (s *Supervisor) spawn(session model.PlatformSession) {
	client := s.newClient(session)

	connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err := client.Connect(connectCtx, func(ev platform.Event) {
		s.handleEvent(session.UserID, ev)
	})
	if err != nil {
		s.handleFatal(session, err)
		return
	}

	authorized, err := client.IsAuthorized(connectCtx)
	if err != nil {
		_ = client.Disconnect()
		s.handleFatal(session, err)
		return
	}
	if !authorized {
		_ = client.Disconnect()
		s.handleFatal(session, &platform.NotAuthorizedError{})
		return
	}

	platformID, err := client.Whoami(connectCtx)
	if err != nil {
		_ = client.Disconnect()
		s.handleFatal(session, err)
		return
	}

	s.clients.Store(session.UserID, Running{Client: client, PlatformID: platformID, Since: time.Now()})
	slog.Info("supervisor: session connected", "user_id", session.UserID, "platform_id", platformID)

	go s.refreshSyncedChats(session.UserID, client)
}

// handleFatal classifies a connect/is-authorized/whoami failure. A
// revoked or unauthorized session is marked inactive in the DB so it is
// never retried until the user re-links it (spec.md §7); anything else
// just releases the reservation so the session is retried from scratch
// on the next tick.
func (s *Supervisor) handleFatal(session model.PlatformSession, err error) {
	classified := platform.ClassifyError(err)

	if revoked, ok := classified.(*platform.SessionRevokedError); ok {
		slog.Warn("supervisor: session revoked, marking inactive",
			"user_id", session.UserID, "reason", revoked.Reason)
		s.deactivate(session)
		return
	}
	if _, ok := classified.(*platform.NotAuthorizedError); ok {
		slog.Warn("supervisor: session not authorized, marking inactive", "user_id", session.UserID)
		s.deactivate(session)
		return
	}

	slog.Warn("supervisor: connect failed, will retry", "user_id", session.UserID, "error", err)
	s.clients.Delete(session.UserID)
}

// deactivate marks session inactive in the DB and frees its reservation.
func (s *Supervisor) deactivate(session model.PlatformSession) {
	if err := s.gw.MarkSessionInactive(context.Background(), session.ID); err != nil {
		slog.Error("supervisor: mark session inactive failed", "session_id", session.ID, "error", err)
	}
	s.clients.Delete(session.UserID)
}

// checkLiveness probes a Running client with a cheap whoami round trip.
// spec.md §7 applies the revocation markers to any upstream call, not
// just the initial connect, so a revocation surfacing here is classified
// and marked inactive the same way handleFatal does; any other error
// just disconnects and releases the slot for a fresh connect attempt.
func (s *Supervisor) checkLiveness(ctx context.Context, session model.PlatformSession, running Running) {
	liveCtx, cancel := context.WithTimeout(ctx, s.cfg.LivenessTimeout)
	defer cancel()

	_, err := running.Client.Whoami(liveCtx)
	if err == nil {
		return
	}

	slog.Warn("supervisor: liveness check failed, reconnecting", "user_id", session.UserID, "error", err)
	_ = running.Client.Disconnect()

	if revoked, ok := platform.ClassifyError(err).(*platform.SessionRevokedError); ok {
		slog.Warn("supervisor: session revoked during liveness check, marking inactive",
			"user_id", session.UserID, "reason", revoked.Reason)
		s.deactivate(session)
		return
	}
	s.clients.Delete(session.UserID)
}

// retire disconnects and drops a client whose session row is gone or
// was deactivated out from under it (e.g. the user deleted their session
// via the dashboard).
func (s *Supervisor) retire(userID string) {
	value, ok := s.clients.LoadAndDelete(userID)
	if !ok {
		return
	}
	if running, ok := value.(Running); ok {
		_ = running.Client.Disconnect()
		slog.Info("supervisor: session retired", "user_id", userID)
	}
}

func (s *Supervisor) shutdown() {
	s.clients.Range(func(key, value any) bool {
		if running, ok := value.(Running); ok {
			_ = running.Client.Disconnect()
		}
		s.clients.Delete(key)
		return true
	})
}

// refreshSyncedChats replaces a user's telegram_chats rows with the
// current top-N dialog list. Best-effort: failures are logged, never
// surfaced, since a stale chat list only degrades /add's @handle
// resolution, it never breaks alerting.
func (s *Supervisor) refreshSyncedChats(userID string, client platform.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	convos, err := client.TopConversations(ctx, s.cfg.SyncedChatsLimit)
	if err != nil {
		slog.Warn("supervisor: fetch top conversations failed", "user_id", userID, "error", err)
		return
	}

	chats := make([]model.SyncedChat, 0, len(convos))
	for _, c := range convos {
		chats = append(chats, model.SyncedChat{
			ID:       c.ID,
			UserID:   userID,
			Title:    c.Title,
			Type:     c.Type,
			Username: c.Username,
		})
	}

	if err := s.gw.ReplaceSyncedChats(ctx, userID, chats); err != nil {
		slog.Warn("supervisor: replace synced chats failed", "user_id", userID, "error", err)
	}
}
