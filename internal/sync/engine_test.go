package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) ofKind(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeEndpoint) setPulled(records []json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = records
}

func (f *fakeEndpoint) setFailPull(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPull = fail
}

func (f *fakeEndpoint) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pullDevices)
}

func (f *fakeEndpoint) pullSincesSnapshot() []*time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*time.Time(nil), f.pullSinces...)
}

func (f *fakeEndpoint) receivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

// peerInfoFor turns a test server's URL into the PeerInfo discovery would
// have produced for it.
func peerInfoFor(t *testing.T, rawURL, name string) PeerInfo {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.ParseUint(u.Port(), 10, 16)
	require.NoError(t, err)
	return PeerInfo{Host: u.Hostname(), Port: uint16(port), DisplayName: name}
}

func newTestEngine(t *testing.T, local *fakeEndpoint, clk clock.Clock) (*Engine, *eventLog) {
	t.Helper()
	eng := NewEngine(Options{
		LocalPort:    9001,
		LocalBaseURL: local.srv.URL,
		Interval:     30 * time.Second,
		Clock:        clk,
	})
	events := &eventLog{}
	eng.Subscribe(events.record)

	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	return eng, events
}

// waitCycles blocks until n cycles have finished (successfully or not) and
// the scheduler is idle again, so a following mock-clock tick cannot be
// dropped as an overlap skip.
func waitCycles(t *testing.T, eng *Engine, events *eventLog, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return events.count(EventSyncComplete)+events.count(EventSyncError) >= n
	}, 2*time.Second, 2*time.Millisecond)
	eng.scheduler.Wait()
}

func TestEngineFirstPeerTriggersImmediateSync(t *testing.T) {
	clk := clock.NewMock()
	local := newFakeEndpoint(t)
	peer := newFakeEndpoint(t)
	peer.pulled = rawRecords(3)

	eng, events := newTestEngine(t, local, clk)

	st := eng.State()
	assert.Equal(t, StatusStandalone, st.Status)
	assert.Nil(t, st.ActivePeer)
	assert.Nil(t, st.LastSyncTimestamp)

	eng.MarkSeen(peerInfoFor(t, peer.srv.URL, "beta"), clk.Now())
	waitCycles(t, eng, events, 1)

	// Initial pull carries a null cursor and the peer's records land in the
	// local store.
	sinces := peer.pullSincesSnapshot()
	require.NotEmpty(t, sinces)
	assert.Nil(t, sinces[0])
	assert.Equal(t, 3, local.receivedCount())

	completes := events.ofKind(EventSyncComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 3, completes[0].Pulled)
	assert.Equal(t, 0, completes[0].Pushed)

	st = eng.State()
	assert.Equal(t, StatusSynced, st.Status)
	require.NotNil(t, st.LastSyncTimestamp)
	firstCursor := *st.LastSyncTimestamp

	// Nothing new on either side: the next cycle reports 0/0 and advances
	// the cursor.
	peer.setPulled(nil)
	clk.Add(30 * time.Second)
	waitCycles(t, eng, events, 2)

	completes = events.ofKind(EventSyncComplete)
	require.Len(t, completes, 2)
	assert.Equal(t, 0, completes[1].Pulled)
	assert.Equal(t, 0, completes[1].Pushed)

	st = eng.State()
	assert.Equal(t, StatusSynced, st.Status)
	require.NotNil(t, st.LastSyncTimestamp)
	assert.False(t, st.LastSyncTimestamp.Before(firstCursor))
}

func TestEngineEventOrderOnDiscovery(t *testing.T) {
	clk := clock.NewMock()
	local := newFakeEndpoint(t)
	peer := newFakeEndpoint(t)
	peer.pulled = rawRecords(1)

	eng, events := newTestEngine(t, local, clk)
	eng.MarkSeen(peerInfoFor(t, peer.srv.URL, "beta"), clk.Now())
	waitCycles(t, eng, events, 1)

	assert.Equal(t, []EventKind{
		EventPeersUpdated,
		EventPeerFound,
		EventStatusChange,
		EventSyncStart,
		EventStatusChange,
		EventSyncComplete,
		EventStatusChange,
	}, events.kinds())

	// The status-change right after peer-found carries the new active peer
	// while the status itself is still pre-cycle.
	changes := events.ofKind(EventStatusChange)
	require.Len(t, changes, 3)
	require.NotNil(t, changes[0].State)
	assert.Equal(t, StatusStandalone, changes[0].State.Status)
	require.NotNil(t, changes[0].State.ActivePeer)
	assert.Equal(t, StatusSyncing, changes[1].State.Status)
	assert.Equal(t, StatusSynced, changes[2].State.Status)
	assert.NotNil(t, changes[2].State.LastSyncTimestamp)
}

func TestEngineFailoverEmitsPeerFoundForReplacement(t *testing.T) {
	clk := clock.NewMock()
	local := newFakeEndpoint(t)
	peerA := newFakeEndpoint(t)
	peerB := newFakeEndpoint(t)

	eng, events := newTestEngine(t, local, clk)

	infoA := peerInfoFor(t, peerA.srv.URL, "alpha")
	infoB := peerInfoFor(t, peerB.srv.URL, "beta")

	t0 := clk.Now()
	eng.MarkSeen(infoA, t0)
	waitCycles(t, eng, events, 1)
	eng.MarkSeen(infoB, t0.Add(10*time.Second))

	assert.Equal(t, 1, events.count(EventPeerFound))

	// A goes stale, B stays fresh: the engine fails over and announces the
	// replacement exactly once.
	eng.ExpireBefore(t0.Add(5 * time.Second))

	found := events.ofKind(EventPeerFound)
	require.Len(t, found, 2)
	require.NotNil(t, found[1].Peer)
	assert.Equal(t, infoB.Key(), found[1].Peer.Key())

	active := eng.ActivePeer()
	require.NotNil(t, active)
	assert.Equal(t, infoB.Key(), active.Key())
	require.Len(t, eng.Peers(), 1)
	assert.Equal(t, 0, events.count(EventPeerLost))

	// The next tick syncs against the replacement.
	clk.Add(30 * time.Second)
	waitCycles(t, eng, events, 2)
	assert.Equal(t, 1, peerB.pullCount())
}

func TestEngineGoesStandaloneWhenAllPeersLost(t *testing.T) {
	clk := clock.NewMock()
	local := newFakeEndpoint(t)
	peer := newFakeEndpoint(t)

	eng, events := newTestEngine(t, local, clk)

	t0 := clk.Now()
	eng.MarkSeen(peerInfoFor(t, peer.srv.URL, "beta"), t0)
	waitCycles(t, eng, events, 1)

	eng.ExpireBefore(t0.Add(time.Minute))

	assert.Equal(t, 1, events.count(EventPeerLost))
	st := eng.State()
	assert.Equal(t, StatusStandalone, st.Status)
	assert.Nil(t, st.ActivePeer)
	assert.Empty(t, eng.Peers())
	assert.False(t, eng.scheduler.Running())

	// The scheduler is stopped: further ticks issue no pulls.
	pullsAtLoss := peer.pullCount()
	clk.Add(5 * 30 * time.Second)
	eng.scheduler.Wait()
	assert.Equal(t, pullsAtLoss, peer.pullCount())
	assert.Equal(t, 1, local.pullCount())
}

func TestEngineFailedCycleKeepsCursorAndRecovers(t *testing.T) {
	clk := clock.NewMock()
	local := newFakeEndpoint(t)
	peer := newFakeEndpoint(t)

	eng, events := newTestEngine(t, local, clk)
	eng.MarkSeen(peerInfoFor(t, peer.srv.URL, "beta"), clk.Now())
	waitCycles(t, eng, events, 1)

	st := eng.State()
	require.NotNil(t, st.LastSyncTimestamp)
	cursor := *st.LastSyncTimestamp

	peer.setFailPull(true)
	clk.Add(30 * time.Second)
	waitCycles(t, eng, events, 2)

	assert.Equal(t, 1, events.count(EventSyncError))
	assert.Equal(t, 1, events.count(EventSyncComplete))
	st = eng.State()
	assert.Equal(t, StatusError, st.Status)
	require.NotNil(t, st.LastSyncTimestamp)
	assert.True(t, st.LastSyncTimestamp.Equal(cursor), "failed cycle must not advance the cursor")

	// The same window is retried on the next tick and succeeds.
	peer.setFailPull(false)
	clk.Add(30 * time.Second)
	waitCycles(t, eng, events, 3)

	assert.Equal(t, 2, events.count(EventSyncComplete))
	st = eng.State()
	assert.Equal(t, StatusSynced, st.Status)
	assert.True(t, st.LastSyncTimestamp.After(cursor))
}

func TestEngineStartTwiceFails(t *testing.T) {
	local := newFakeEndpoint(t)
	eng := NewEngine(Options{LocalPort: 9001, LocalBaseURL: local.srv.URL})

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	err := eng.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestEngineStopIsSafeWithoutStart(t *testing.T) {
	local := newFakeEndpoint(t)
	eng := NewEngine(Options{LocalPort: 9001, LocalBaseURL: local.srv.URL})

	eng.Stop()

	require.NoError(t, eng.Start(context.Background()))
	eng.Stop()
	eng.Stop()
}
