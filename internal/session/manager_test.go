package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/statefile"
)

type harness struct {
	m        *Manager
	eng      *fakeEngine
	store    *statefile.Store
	notifier *recordingNotifier
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T, dir string, cfg Config) *harness {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	cfg.ShutdownTimeout = 10 * time.Millisecond

	eng := newFakeEngine()
	store, err := statefile.New(dir, testLogger())
	if err != nil {
		t.Fatalf("statefile.New: %v", err)
	}
	notifier := &recordingNotifier{}
	m := NewManager(eng, store, notifier, nil, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	if err := m.do(func() {}); err != nil {
		t.Fatalf("manager loop did not start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{m: m, eng: eng, store: store, notifier: notifier, cancel: cancel, done: done}
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) waitUntil(t *testing.T, desc string, cond func(*Manager) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		if err := h.m.do(func() { ok = cond(h.m) }); err != nil {
			t.Fatalf("manager closed while waiting for %s", desc)
		}
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func magnet(c byte, trackers ...string) string {
	uri := "magnet:?xt=urn:btih:" + strings.Repeat(string(c), 40)
	for _, tr := range trackers {
		uri += "&tr=" + tr
	}
	return uri
}

func TestAddPausedTorrent(t *testing.T) {
	h := newHarness(t, "", Config{})

	truth := true
	id, err := h.m.Add(AddRequest{
		Magnet:  magnet('a'),
		Options: domain.OptionPatch{AddPaused: &truth},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := h.m.List(Filter{}); len(got) != 1 || got[0] != id {
		t.Fatalf("List = %v, want [%s]", got, id)
	}

	status, err := h.m.Status(id, []StatusField{FieldState}, false, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status[FieldState] != domain.StatePaused {
		t.Errorf("state = %v, want Paused", status[FieldState])
	}
	if handle := h.eng.handles[id]; handle.resumeCalls != 0 {
		t.Errorf("engine resume invoked %d times for an add-paused torrent", handle.resumeCalls)
	}
	if !h.eng.addParams[0].Paused || h.eng.addParams[0].AutoManaged {
		t.Errorf("torrent not admitted paused and non-auto-managed: %+v", h.eng.addParams[0])
	}
}

func TestAddDuplicateMergesTrackers(t *testing.T) {
	h := newHarness(t, "", Config{})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a', "udp%3A%2F%2Fone%2Fann")})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	dupID, err := h.m.Add(AddRequest{Magnet: magnet('a', "udp%3A%2F%2Ftwo%2Fann")})
	if !errors.Is(err, domain.ErrTorrentAlreadyAdded) {
		t.Fatalf("duplicate add error = %v, want ErrTorrentAlreadyAdded", err)
	}
	if dupID != id {
		t.Errorf("duplicate add id = %s, want %s", dupID, id)
	}
	if got := h.m.List(Filter{}); len(got) != 1 {
		t.Fatalf("List = %v, want single entry", got)
	}

	status, err := h.m.Status(id, []StatusField{FieldTrackers}, false, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	trackers := status[FieldTrackers].([]domain.Tracker)
	if len(trackers) != 2 {
		t.Errorf("trackers = %v, want 2 after merge", trackers)
	}
}

func TestRemoveNonexistent(t *testing.T) {
	h := newHarness(t, "", Config{})

	err := h.m.Remove("ffffffffffffffffffffffffffffffffffffffff", false)
	if !errors.Is(err, domain.ErrTorrentNotFound) {
		t.Fatalf("Remove unknown id error = %v, want ErrTorrentNotFound", err)
	}
	if got := h.m.List(Filter{}); len(got) != 0 {
		t.Errorf("registry changed by failed remove: %v", got)
	}
}

func TestRemoveDropsBookkeeping(t *testing.T) {
	h := newHarness(t, "", Config{})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.m.Remove(id, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if got := h.m.List(Filter{}); len(got) != 0 {
		t.Errorf("List after remove = %v", got)
	}
	if len(h.eng.removed) != 1 || h.eng.removed[0] != id {
		t.Errorf("engine removal = %v", h.eng.removed)
	}
	if h.notifier.count("pre_torrent_removed") != 1 || h.notifier.count("torrent_removed") != 1 {
		t.Errorf("removal events = %v", h.notifier.kinds())
	}
}

func TestAlertForUnknownTorrentIgnored(t *testing.T) {
	h := newHarness(t, "", Config{})

	h.eng.alerts <- domain.TorrentFinishedAlert{ID: "0000000000000000000000000000000000000000"}
	h.eng.alerts <- domain.FileRenamedAlert{ID: "0000000000000000000000000000000000000000", Index: 1, Name: "x"}

	// A later command still goes through: the loop survived.
	if _, err := h.m.Add(AddRequest{Magnet: magnet('b')}); err != nil {
		t.Fatalf("Add after stray alerts: %v", err)
	}
	if h.notifier.count("torrent_finished") != 0 {
		t.Errorf("stray finished alert produced an event")
	}
}

func TestFinishedAlert(t *testing.T) {
	h := newHarness(t, "", Config{})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	handle := h.eng.handles[id]
	handle.status.State = domain.EngineSeeding
	handle.status.TotalPayloadDownload = 4096

	h.eng.alerts <- domain.TorrentFinishedAlert{ID: id}

	h.waitUntil(t, "finished flag", func(m *Manager) bool {
		return m.torrents[id].IsFinished()
	})
	h.m.do(func() {
		if _, queued := h.m.queued[id]; queued {
			t.Errorf("finished torrent still queued")
		}
	})
	if h.notifier.count("torrent_finished") != 1 {
		t.Errorf("finished events = %d, want 1", h.notifier.count("torrent_finished"))
	}
	if handle.saveResumeCalls == 0 {
		t.Errorf("no resume data requested after payload download")
	}
}

func TestResumeDataCoalescing(t *testing.T) {
	h := newHarness(t, "", Config{})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	handle := h.eng.handles[id]

	h.m.do(func() {
		h.m.requestResume(id, false)
		h.m.requestResume(id, false)
		h.m.requestResume(id, false)
	})
	if handle.saveResumeCalls != 1 {
		t.Fatalf("engine save-resume calls = %d, want 1 for coalesced requests", handle.saveResumeCalls)
	}

	h.eng.alerts <- domain.SaveResumeDataAlert{ID: id, Data: []byte("blob")}
	h.waitUntil(t, "resume data stored", func(m *Manager) bool {
		return string(m.resumeData[id]) == "blob" && len(m.waitingOnResume) == 0
	})
}

func TestBulkStatusServedByStateUpdate(t *testing.T) {
	h := newHarness(t, "", Config{})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	statuses, err := h.m.TorrentsStatus(ctx, []StatusField{FieldState}, Filter{})
	if err != nil {
		t.Fatalf("TorrentsStatus: %v", err)
	}
	if _, ok := statuses[id]; !ok {
		t.Fatalf("statuses = %v, missing %s", statuses, id)
	}
	if h.eng.updatesPosted != 1 {
		t.Fatalf("updates posted = %d, want 1", h.eng.updatesPosted)
	}

	// A second query inside the cache window must not hit the engine again.
	if _, err := h.m.TorrentsStatus(ctx, []StatusField{FieldState}, Filter{}); err != nil {
		t.Fatalf("TorrentsStatus from cache: %v", err)
	}
	if h.eng.updatesPosted != 1 {
		t.Errorf("updates posted = %d, want still 1 within cache window", h.eng.updatesPosted)
	}
}

func TestBulkStatusOneUpdateServesAllPending(t *testing.T) {
	h := newHarness(t, "", Config{StatusCacheWindow: time.Nanosecond})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The engine rate-bounds update posts, so a request can queue without
	// triggering a fresh alert. Mute the fake to force that situation for
	// both requests.
	h.eng.muteUpdates = true

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			statuses, err := h.m.TorrentsStatus(ctx, []StatusField{FieldState}, Filter{})
			if err == nil {
				if _, ok := statuses[id]; !ok {
					err = errors.New("statuses missing added torrent")
				}
			}
			results <- err
		}()
	}

	h.waitUntil(t, "both requests queued", func(m *Manager) bool {
		return len(m.statusReqs) == 2
	})

	h.eng.alerts <- domain.StateUpdateAlert{Statuses: []domain.StatusUpdate{
		{ID: id, Status: h.eng.handles[id].status},
	}}

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("bulk status request %d: %v", i, err)
		}
	}
}

func TestOwnerFilter(t *testing.T) {
	h := newHarness(t, "", Config{})

	mine, err := h.m.Add(AddRequest{Magnet: magnet('a'), Owner: "alice"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	shared := true
	if _, err := h.m.Add(AddRequest{
		Magnet:  magnet('b'),
		Owner:   "bob",
		Options: domain.OptionPatch{Shared: &shared},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := h.m.Add(AddRequest{Magnet: magnet('c'), Owner: "bob"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := h.m.List(Filter{Owner: "alice"})
	if len(got) != 2 {
		t.Fatalf("List for alice = %v, want own torrent plus shared one", got)
	}
	found := false
	for _, id := range got {
		if id == mine {
			found = true
		}
	}
	if !found {
		t.Errorf("alice's own torrent missing from %v", got)
	}
}

func TestSessionRestore(t *testing.T) {
	dir := t.TempDir()

	h1 := newHarness(t, dir, Config{})
	ratio := 3.0
	truth := true
	id, err := h1.m.Add(AddRequest{
		Magnet:  magnet('a'),
		Owner:   "alice",
		Options: domain.OptionPatch{StopAtRatio: &truth, StopRatio: &ratio},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	h1.stop()

	h2 := newHarness(t, dir, Config{})
	if got := h2.m.List(Filter{}); len(got) != 1 || got[0] != id {
		t.Fatalf("restored List = %v, want [%s]", got, id)
	}
	opts, err := h2.m.GetOptions(id)
	if err != nil {
		t.Fatalf("GetOptions: %v", err)
	}
	if !opts.StopAtRatio || opts.StopRatio != 3.0 || opts.Owner != "alice" {
		t.Errorf("restored options = %+v", opts)
	}
	if h2.notifier.count("torrent_added") != 1 {
		t.Errorf("restore did not emit torrent_added")
	}
}

func TestStopAtRatioSweep(t *testing.T) {
	h := newHarness(t, "", Config{RatioCheckInterval: 10 * time.Millisecond})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	handle := h.eng.handles[id]

	h.m.do(func() {
		tr := h.m.torrents[id]
		tr.isFinished = true
		tr.options.StopAtRatio = true
		tr.options.StopRatio = 1.0
		handle.status.TotalDone = 100
		handle.status.AllTimeUpload = 200
		tr.refreshStatus()
	})

	h.waitUntil(t, "ratio pause", func(m *Manager) bool {
		return handle.pauseCalls > 0
	})
}

func TestRemoveAtRatioSweep(t *testing.T) {
	h := newHarness(t, "", Config{RatioCheckInterval: 10 * time.Millisecond})

	id, err := h.m.Add(AddRequest{Magnet: magnet('a')})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	handle := h.eng.handles[id]

	h.m.do(func() {
		tr := h.m.torrents[id]
		tr.isFinished = true
		tr.options.StopAtRatio = true
		tr.options.RemoveAtRatio = true
		tr.options.StopRatio = 1.0
		handle.status.TotalDone = 100
		handle.status.AllTimeUpload = 200
		tr.refreshStatus()
	})

	h.waitUntil(t, "ratio removal", func(m *Manager) bool {
		_, ok := m.torrents[id]
		return !ok
	})
}
