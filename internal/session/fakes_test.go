package session

import (
	"sync"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/torrentfile"
)

type renameCall struct {
	index int
	name  string
}

type fakeHandle struct {
	id      domain.TorrentID
	status  domain.EngineStatus
	meta    domain.Metadata
	hasMeta bool

	trackers   []domain.Tracker
	filePrios  []int
	piecePrios []int
	queuePos   int
	needResume bool

	pauseCalls       int
	resumeCalls      int
	recheckCalls     int
	reannounceCalls  int
	scrapeCalls      int
	saveResumeCalls  int
	moveStorageCalls []string
	renameCalls      []renameCall
	setPiecePrios    [][]int
}

func newFakeHandle(id domain.TorrentID) *fakeHandle {
	return &fakeHandle{id: id, status: domain.EngineStatus{State: domain.EngineDownloading}}
}

func (h *fakeHandle) InfoHash() domain.TorrentID        { return h.id }
func (h *fakeHandle) Status() domain.EngineStatus       { return h.status }
func (h *fakeHandle) Metadata() (domain.Metadata, bool) { return h.meta, h.hasMeta }

func (h *fakeHandle) Trackers() []domain.Tracker { return h.trackers }
func (h *fakeHandle) ReplaceTrackers(trackers []domain.Tracker) error {
	h.trackers = trackers
	return nil
}
func (h *fakeHandle) Peers() []domain.PeerInfo { return nil }

func (h *fakeHandle) Pause() error {
	h.pauseCalls++
	h.status.Paused = true
	return nil
}
func (h *fakeHandle) Resume() error {
	h.resumeCalls++
	h.status.Paused = false
	return nil
}
func (h *fakeHandle) IsPaused() bool { return h.status.Paused }
func (h *fakeHandle) SetAutoManaged(auto bool) {
	h.status.AutoManaged = auto
}
func (h *fakeHandle) IsAutoManaged() bool { return h.status.AutoManaged }

func (h *fakeHandle) QueuePosition() int { return h.queuePos }
func (h *fakeHandle) QueueTop()          { h.queuePos = 0 }
func (h *fakeHandle) QueueUp()           { h.queuePos-- }
func (h *fakeHandle) QueueDown()         { h.queuePos++ }
func (h *fakeHandle) QueueBottom()       { h.queuePos = 1 << 20 }

func (h *fakeHandle) SetMaxConnections(int)      {}
func (h *fakeHandle) SetMaxUploadSlots(int)      {}
func (h *fakeHandle) SetUploadLimit(float64)     {}
func (h *fakeHandle) SetDownloadLimit(float64)   {}
func (h *fakeHandle) SetSequentialDownload(bool) {}

func (h *fakeHandle) FilePriorities() []int { return append([]int(nil), h.filePrios...) }
func (h *fakeHandle) SetFilePriorities(prios []int) error {
	h.filePrios = append([]int(nil), prios...)
	return nil
}
func (h *fakeHandle) PiecePriorities() []int { return append([]int(nil), h.piecePrios...) }
func (h *fakeHandle) SetPiecePriorities(prios []int) error {
	h.piecePrios = append([]int(nil), prios...)
	h.setPiecePrios = append(h.setPiecePrios, prios)
	return nil
}
func (h *fakeHandle) FileProgress() []float64  { return nil }
func (h *fakeHandle) PieceAvailability() []int { return nil }

func (h *fakeHandle) NeedSaveResumeData() bool { return h.needResume }
func (h *fakeHandle) SaveResumeData()          { h.saveResumeCalls++ }

func (h *fakeHandle) ForceRecheck() error      { h.recheckCalls++; return nil }
func (h *fakeHandle) ForceReannounce() error   { h.reannounceCalls++; return nil }
func (h *fakeHandle) ScrapeTracker() error     { h.scrapeCalls++; return nil }
func (h *fakeHandle) ConnectPeer(string) error { return nil }

func (h *fakeHandle) MoveStorage(dest string) error {
	h.moveStorageCalls = append(h.moveStorageCalls, dest)
	return nil
}
func (h *fakeHandle) RenameFile(index int, name string) error {
	h.renameCalls = append(h.renameCalls, renameCall{index: index, name: name})
	return nil
}

type fakeEngine struct {
	alerts  chan domain.Alert
	paused  bool
	handles map[domain.TorrentID]*fakeHandle

	addErr        error
	addParams     []ports.AddTorrentParams
	removed       []domain.TorrentID
	updatesPosted int
	muteUpdates   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		alerts:  make(chan domain.Alert, 64),
		handles: make(map[domain.TorrentID]*fakeHandle),
	}
}

func (e *fakeEngine) AddTorrent(p ports.AddTorrentParams) (ports.Handle, error) {
	if e.addErr != nil {
		return nil, e.addErr
	}
	var info torrentfile.Info
	var err error
	if p.Magnet != "" {
		info, err = torrentfile.ParseMagnet(p.Magnet)
	} else {
		info, err = torrentfile.Parse(p.Metainfo)
	}
	if err != nil {
		return nil, err
	}
	h := newFakeHandle(info.ID)
	h.status.Paused = p.Paused
	h.status.AutoManaged = p.AutoManaged
	e.handles[info.ID] = h
	e.addParams = append(e.addParams, p)
	return h, nil
}

func (e *fakeEngine) RemoveTorrent(id domain.TorrentID, removeData bool) error {
	if _, ok := e.handles[id]; !ok {
		return domain.ErrTorrentNotFound
	}
	delete(e.handles, id)
	e.removed = append(e.removed, id)
	return nil
}

func (e *fakeEngine) PauseSession()       { e.paused = true }
func (e *fakeEngine) ResumeSession()      { e.paused = false }
func (e *fakeEngine) SessionPaused() bool { return e.paused }
func (e *fakeEngine) PostTorrentUpdates() {
	e.updatesPosted++
	if e.muteUpdates {
		return
	}
	var updates []domain.StatusUpdate
	for id, h := range e.handles {
		updates = append(updates, domain.StatusUpdate{ID: id, Status: h.status})
	}
	e.alerts <- domain.StateUpdateAlert{Statuses: updates}
}
func (e *fakeEngine) Alerts() <-chan domain.Alert { return e.alerts }
func (e *fakeEngine) Close() error                { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Emit(ev domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Kind()
	}
	return out
}

func (n *recordingNotifier) count(kind string) int {
	c := 0
	for _, k := range n.kinds() {
		if k == kind {
			c++
		}
	}
	return c
}

type fakeValidator struct {
	valid map[string]bool
}

func (v *fakeValidator) SessionValid(id string) bool { return v.valid[id] }
