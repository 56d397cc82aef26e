package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleguard-io/teleguard-worker/internal/evaluator"
	"github.com/teleguard-io/teleguard-worker/internal/model"
	"github.com/teleguard-io/teleguard-worker/internal/notify"
	"github.com/teleguard-io/teleguard-worker/internal/platform"
)

func newTestSupervisor(gw *fakeGateway, factory ClientFactory) *Supervisor {
	ev := evaluator.New(gw.GetActiveRulesFor, 5000, time.Millisecond)
	dispatch := notify.New(notify.Config{})
	return New(gw, ev, dispatch, factory, Config{Tick: time.Hour, LivenessTimeout: time.Second})
}

func TestTick_SpawnsAndPromotesToRunning(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{platformID: "42"}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())

	require.Eventually(t, func() bool {
		v, ok := s.clients.Load("u1")
		if !ok {
			return false
		}
		running, ok := v.(Running)
		return ok && running.PlatformID == "42"
	}, time.Second, 5*time.Millisecond)
}

func TestTick_RevokedSessionMarkedInactive(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{connectErr: errRevoked()}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.inactive["s1"]
	}, time.Second, 5*time.Millisecond)

	_, stillTracked := s.clients.Load("u1")
	assert.False(t, stillTracked)
}

func TestTick_TransientConnectErrorReleasesReservation(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{connectErr: errTransient()}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())

	require.Eventually(t, func() bool {
		_, ok := s.clients.Load("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.False(t, gw.inactive["s1"])
}

func TestTick_LivenessFailureDisconnectsAndFreesSlot(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{platformID: "42"}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())
	require.Eventually(t, func() bool {
		_, ok := s.clients.Load("u1")
		return ok
	}, time.Second, 5*time.Millisecond)

	client.whoamiErr = errTransient()
	s.Tick(context.Background())

	require.Eventually(t, func() bool {
		_, ok := s.clients.Load("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, client.disconnects)
}

func TestTick_UnauthorizedSessionMarkedInactive(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{platformID: "42", unauthorized: true}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.inactive["s1"]
	}, time.Second, 5*time.Millisecond)

	_, stillTracked := s.clients.Load("u1")
	assert.False(t, stillTracked)
	assert.Equal(t, 1, client.disconnects)
}

func TestTick_LivenessRevocationMarksInactive(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{platformID: "42"}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())
	require.Eventually(t, func() bool {
		_, ok := s.clients.Load("u1")
		return ok
	}, time.Second, 5*time.Millisecond)

	client.whoamiErr = errRevoked()
	s.Tick(context.Background())

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.inactive["s1"]
	}, time.Second, 5*time.Millisecond)
	_, stillTracked := s.clients.Load("u1")
	assert.False(t, stillTracked)
}

func TestTick_RetiresSessionNoLongerActive(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", SessionString: "sess"}}
	client := &fakeClient{platformID: "42"}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return client })
	s.Tick(context.Background())
	require.Eventually(t, func() bool {
		_, ok := s.clients.Load("u1")
		return ok
	}, time.Second, 5*time.Millisecond)

	gw.mu.Lock()
	gw.sessions = nil
	gw.mu.Unlock()
	s.Tick(context.Background())

	_, ok := s.clients.Load("u1")
	assert.False(t, ok)
	assert.Equal(t, 1, client.disconnects)
}

func TestHandleEvent_MatchDispatchesAndAudits(t *testing.T) {
	gw := newFakeGateway()
	gw.users["u1"] = model.User{ID: "u1", Email: "u1@example.com"}
	gw.sessions = []model.PlatformSession{{ID: "s1", UserID: "u1", PlatformID: "999", IsActive: true}}
	gw.rules["u1"] = []model.Rule{{ID: "r1", UserID: "u1", Keywords: []string{"bitcoin"}}}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return &fakeClient{} })
	s.handleEvent("u1", platform.Event{ChatID: 10, MessageID: 1, Body: "buy bitcoin now"})

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, 1, gw.triggerCounts["r1"])
	require.Len(t, gw.auditLogs, 1)
	assert.Equal(t, "bitcoin", gw.auditLogs[0].DetectedKeyword)
}

func TestHandleEvent_NoMatchSkipsDispatch(t *testing.T) {
	gw := newFakeGateway()
	gw.users["u1"] = model.User{ID: "u1", Email: "u1@example.com"}
	gw.rules["u1"] = []model.Rule{{ID: "r1", UserID: "u1", Keywords: []string{"ethereum"}}}

	s := newTestSupervisor(gw, func(model.PlatformSession) platform.Client { return &fakeClient{} })
	s.handleEvent("u1", platform.Event{ChatID: 10, MessageID: 1, Body: "buy bitcoin now"})

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Empty(t, gw.auditLogs)
}

func errRevoked() error {
	return &revokedLikeErr{}
}

type revokedLikeErr struct{}

func (e *revokedLikeErr) Error() string {
	return "rpc: the session was used under two different IP addresses simultaneously"
}

func errTransient() error {
	return &transientLikeErr{}
}

type transientLikeErr struct{}

func (e *transientLikeErr) Error() string { return "connection reset by peer" }
