package session

import (
	"log/slog"
	"strings"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// Torrent is the session-side view of one engine handle: a derived state
// machine, cached engine status, applied options and per-observer status
// baselines. All methods must be called from the manager loop.
type Torrent struct {
	id     domain.TorrentID
	handle ports.Handle
	engine ports.Engine
	log    *slog.Logger

	options domain.Options
	status  domain.EngineStatus

	hasMetadata bool
	meta        domain.Metadata

	trackers      []domain.Tracker
	trackerStatus string

	state         domain.State
	statusMessage string
	isFinished    bool

	timeAdded         int64
	totalUploadedBase int64
	lastSeenComplete  int64
	lastSeenCheck     time.Time

	magnet   string
	filename string
	name     string

	forcingRecheck       bool
	forcingRecheckPaused bool

	renames []*folderRename

	prevStatus map[string]map[StatusField]any
}

func newTorrent(handle ports.Handle, engine ports.Engine, opts domain.Options, log *slog.Logger) *Torrent {
	t := &Torrent{
		id:         handle.InfoHash(),
		handle:     handle,
		engine:     engine,
		log:        log.With(slog.String("torrentId", string(handle.InfoHash()))),
		options:    opts,
		timeAdded:  time.Now().Unix(),
		prevStatus: make(map[string]map[StatusField]any),
	}
	if meta, ok := handle.Metadata(); ok {
		t.hasMetadata = true
		t.meta = meta
	}
	t.status = handle.Status()
	t.state = domain.StatePaused
	return t
}

func (t *Torrent) ID() domain.TorrentID       { return t.id }
func (t *Torrent) State() domain.State        { return t.state }
func (t *Torrent) Options() domain.Options    { return t.options }
func (t *Torrent) IsFinished() bool           { return t.isFinished }
func (t *Torrent) Trackers() []domain.Tracker { return t.trackers }

// refreshStatus pulls a fresh snapshot from the handle into the cache.
func (t *Torrent) refreshStatus() {
	t.status = t.handle.Status()
}

// applyStatus installs an externally delivered snapshot, as carried by a
// bulk state-update alert.
func (t *Torrent) applyStatus(s domain.EngineStatus) {
	t.status = s
}

// UpdateState recomputes the derived state from the cached engine status
// plus session pause and auto-manage policy. Returns true when the derived
// state changed. The engine's granular native states collapse into the small
// observable vocabulary first; queue and pause policy is layered on top.
func (t *Torrent) UpdateState() bool {
	st := t.status
	old := t.state

	switch {
	case st.Error != "":
		t.state = domain.StateError
		t.statusMessage = st.Error
		t.handle.SetAutoManaged(false)

	case st.State == domain.EngineQueuedForChecking ||
		st.State == domain.EngineCheckingFiles ||
		st.State == domain.EngineCheckingResumeData:
		if st.Paused {
			t.state = domain.StatePaused
		} else {
			t.state = domain.StateChecking
		}

	default:
		switch st.State {
		case domain.EngineDownloading, domain.EngineDownloadingMetadata:
			t.state = domain.StateDownloading
		case domain.EngineFinished, domain.EngineSeeding:
			t.state = domain.StateSeeding
		case domain.EngineAllocating:
			t.state = domain.StateAllocating
		}
		sessionPaused := t.engine.SessionPaused()
		if !sessionPaused && st.Paused && st.AutoManaged {
			t.state = domain.StateQueued
		}
		if sessionPaused || (st.Paused && !st.AutoManaged) {
			t.state = domain.StatePaused
		}
	}
	return t.state != old
}

// SetOptions applies a batch of option changes. Every field with a dedicated
// engine setter is pushed to the handle; the rest only update the stored
// snapshot. File priorities run last and invoke the first/last boost
// themselves, so the standalone boost setter is skipped for batches that
// carry priorities.
func (t *Torrent) SetOptions(p domain.OptionPatch) {
	prios := p.FilePriorities
	p.FilePriorities = nil
	t.options = t.options.Merged(p)

	if p.MaxConnections != nil {
		t.handle.SetMaxConnections(*p.MaxConnections)
	}
	if p.MaxUploadSlots != nil {
		t.handle.SetMaxUploadSlots(*p.MaxUploadSlots)
	}
	if p.MaxUploadSpeed != nil {
		t.handle.SetUploadLimit(*p.MaxUploadSpeed)
	}
	if p.MaxDownloadSpeed != nil {
		t.handle.SetDownloadLimit(*p.MaxDownloadSpeed)
	}
	if p.SequentialDownload != nil {
		t.handle.SetSequentialDownload(*p.SequentialDownload)
	}
	if p.AutoManaged != nil {
		t.SetAutoManaged(*p.AutoManaged)
	}

	switch {
	case prios != nil:
		t.SetFilePriorities(prios)
	case p.PrioritizeFirstLast != nil:
		t.setPrioritizeFirstLast(*p.PrioritizeFirstLast)
	}
}

// SetFilePriorities applies a full per-file priority array. Mismatched
// lengths and compact allocation fail soft: the stored priorities are
// re-read from the engine and nothing else changes. Re-enabling a file that
// was previously do-not-download clears is_finished, since completion now
// covers more data.
func (t *Torrent) SetFilePriorities(prios []int) {
	if t.options.CompactAllocation {
		t.log.Debug("file priorities ignored under compact allocation")
		t.options.FilePriorities = t.handle.FilePriorities()
		return
	}
	if !t.hasMetadata || len(prios) != len(t.meta.Files) {
		t.log.Debug("file priorities length mismatch",
			slog.Int("got", len(prios)), slog.Int("files", len(t.meta.Files)))
		t.options.FilePriorities = t.handle.FilePriorities()
		return
	}

	old := t.handle.FilePriorities()
	if err := t.handle.SetFilePriorities(prios); err != nil {
		t.log.Warn("set file priorities", "err", err)
		t.options.FilePriorities = t.handle.FilePriorities()
		return
	}
	t.options.FilePriorities = append([]int(nil), prios...)

	if t.options.PrioritizeFirstLast {
		t.prioritizeFirstLast()
	}

	for i, p := range prios {
		if i < len(old) && old[i] == 0 && p > 0 {
			t.isFinished = false
			t.refreshStatus()
			t.UpdateState()
			break
		}
	}
}

// SetAutoManaged updates auto-manage policy. A handle paused directly by
// the user keeps its pause; the flag reaches the engine once it is resumed.
func (t *Torrent) SetAutoManaged(auto bool) {
	t.options.AutoManaged = auto
	if !(t.status.Paused && !t.status.AutoManaged) {
		t.handle.SetAutoManaged(auto)
		t.refreshStatus()
		t.UpdateState()
	}
}

func (t *Torrent) setPrioritizeFirstLast(enable bool) {
	if !enable {
		// Restore the plain priority array without the boost.
		if len(t.options.FilePriorities) > 0 {
			t.SetFilePriorities(t.options.FilePriorities)
		}
		return
	}
	t.prioritizeFirstLast()
}

// prioritizeFirstLast boosts the pieces covering the first and last 2% of
// every wanted file to maximum priority, applied as one full piece-priority
// array. Requires metadata and is incompatible with compact allocation.
func (t *Torrent) prioritizeFirstLast() {
	if !t.hasMetadata || t.options.CompactAllocation {
		return
	}
	prios := t.handle.PiecePriorities()
	if len(prios) == 0 {
		return
	}
	boost := func(from, to int) {
		for p := from; p <= to && p < len(prios); p++ {
			prios[p] = 7
		}
	}
	for _, f := range t.meta.Files {
		if f.Size == 0 {
			continue
		}
		if fp := t.options.FilePriorities; len(fp) > f.Index && fp[f.Index] == 0 {
			continue
		}
		two := f.Size / 50
		if two < 1 {
			two = 1
		}
		boost(t.meta.PieceIndex(f.Index, 0), t.meta.PieceIndex(f.Index, two-1))
		boost(t.meta.PieceIndex(f.Index, f.Size-two), t.meta.PieceIndex(f.Index, f.Size-1))
	}
	if err := t.handle.SetPiecePriorities(prios); err != nil {
		t.log.Warn("set piece priorities", "err", err)
	}
}

// Pause requests a handle pause. Auto-management is switched off first so
// the queue policy cannot resume the torrent behind the user's back; a
// torrent the engine had parked as Queued therefore lands on Paused. That
// already-paused case is a no-op for the engine, so the derived state is
// recomputed locally; the caller emits the state-changed event the engine
// will not re-announce.
func (t *Torrent) Pause() (changed bool, err error) {
	t.handle.SetAutoManaged(false)
	t.status.AutoManaged = false
	if t.status.Paused {
		return t.UpdateState(), nil
	}
	if err := t.handle.Pause(); err != nil {
		return false, wrapEngine(err)
	}
	return false, nil
}

// Resume resumes the handle. Auto-managed pauses belong to the engine's
// queue policy and are not overridden here; a torrent already at its stop
// ratio stays paused. An error status message is cleared on resume.
func (t *Torrent) Resume() error {
	switch {
	case t.status.Paused && t.status.AutoManaged:
		t.log.Debug("resume skipped, torrent is auto-managed")
	case t.options.StopAtRatio && t.isFinished && t.Ratio() >= t.options.StopRatio:
		t.log.Debug("resume skipped, stop ratio reached")
	default:
		if err := t.handle.Resume(); err != nil {
			return wrapEngine(err)
		}
	}
	t.statusMessage = "OK"
	return nil
}

// ForceRecheck restarts piece verification. Checking requires a running
// handle, so a paused torrent is resumed for the duration and re-paused once
// the checked alert arrives.
func (t *Torrent) ForceRecheck() error {
	paused := t.status.Paused
	if err := t.handle.ForceRecheck(); err != nil {
		return wrapEngine(err)
	}
	t.forcingRecheck = true
	t.forcingRecheckPaused = paused
	if paused {
		if err := t.handle.Resume(); err != nil {
			t.log.Warn("resume for recheck", "err", err)
		}
	}
	return nil
}

// recheckDone bridges the checked alert back to the pre-recheck pause state.
// Returns true when a forced recheck was in flight.
func (t *Torrent) recheckDone() bool {
	if !t.forcingRecheck {
		return false
	}
	t.forcingRecheck = false
	if t.forcingRecheckPaused {
		if err := t.handle.Pause(); err != nil {
			t.log.Warn("re-pause after recheck", "err", err)
		}
	}
	return true
}

func (t *Torrent) ForceReannounce() error {
	return wrapEngine(t.handle.ForceReannounce())
}

func (t *Torrent) ScrapeTracker() error {
	return wrapEngine(t.handle.ScrapeTracker())
}

func (t *Torrent) ConnectPeer(addr string) error {
	return wrapEngine(t.handle.ConnectPeer(addr))
}

// MoveStorage requests a relocation of the downloaded data. The download
// location option is updated when the storage-moved alert confirms.
func (t *Torrent) MoveStorage(dest string) error {
	return wrapEngine(t.handle.MoveStorage(dest))
}

// SetTrackers replaces the tracker list, round-tripping through the engine
// when non-empty.
func (t *Torrent) SetTrackers(trackers []domain.Tracker) error {
	t.trackers = append([]domain.Tracker(nil), trackers...)
	if len(trackers) == 0 {
		return nil
	}
	return wrapEngine(t.handle.ReplaceTrackers(trackers))
}

// MergeTrackers unions new trackers into the current list by URL. Returns
// the number of trackers actually added.
func (t *Torrent) MergeTrackers(trackers []domain.Tracker) int {
	seen := make(map[string]struct{}, len(t.trackers))
	for _, tr := range t.trackers {
		seen[tr.URL] = struct{}{}
	}
	added := 0
	merged := append([]domain.Tracker(nil), t.trackers...)
	for _, tr := range trackers {
		if _, ok := seen[tr.URL]; ok {
			continue
		}
		seen[tr.URL] = struct{}{}
		merged = append(merged, tr)
		added++
	}
	if added > 0 {
		if err := t.SetTrackers(merged); err != nil {
			t.log.Warn("merge trackers", "err", err)
		}
	}
	return added
}

// Ratio is all-time upload over total done, or -1 for a torrent that has
// not downloaded anything yet.
func (t *Torrent) Ratio() float64 {
	if t.status.TotalDone <= 0 {
		return -1.0
	}
	return float64(t.AllTimeUpload()) / float64(t.status.TotalDone)
}

// AllTimeUpload adds the engine's session counter to the persisted baseline,
// since engine counters reset across restarts.
func (t *Torrent) AllTimeUpload() int64 {
	return t.totalUploadedBase + t.status.AllTimeUpload
}

// ETA estimates seconds until completion, or until the stop ratio is reached
// for a finished torrent with a stop-at-ratio policy. Zero rates and nothing
// left to do both yield 0.
func (t *Torrent) ETA() int64 {
	st := t.status
	if t.isFinished && t.options.StopAtRatio {
		if st.UploadPayloadRate == 0 {
			return 0
		}
		remaining := int64(float64(st.TotalDone)*t.options.StopRatio) - t.AllTimeUpload()
		if remaining <= 0 {
			return 0
		}
		return remaining / st.UploadPayloadRate
	}
	left := st.TotalWanted - st.TotalWantedDone
	if left <= 0 || st.DownloadPayloadRate == 0 {
		return 0
	}
	return left / st.DownloadPayloadRate
}

// Name is the display name: metadata name when known, the first path
// component of a single stored file tree, the magnet display name, or the
// infohash as a last resort.
func (t *Torrent) Name() string {
	if t.hasMetadata {
		if len(t.meta.Files) > 0 {
			if top, _, found := strings.Cut(t.meta.Files[0].Path, "/"); found {
				return top
			}
		}
		if t.meta.Name != "" {
			return t.meta.Name
		}
	}
	if t.name != "" {
		return t.name
	}
	return string(t.id)
}

// LastSeenComplete is the most recent time the swarm held a complete copy.
// Recomputation is capped to once a minute.
func (t *Torrent) LastSeenComplete() int64 {
	if time.Since(t.lastSeenCheck) < time.Minute {
		return t.lastSeenComplete
	}
	t.lastSeenCheck = time.Now()
	if t.status.LastSeenComplete > 0 {
		t.lastSeenComplete = t.status.LastSeenComplete
	} else if t.status.IsSeed || t.status.NumComplete > 0 {
		t.lastSeenComplete = time.Now().Unix()
	}
	return t.lastSeenComplete
}

func (t *Torrent) metadataReceived() {
	if meta, ok := t.handle.Metadata(); ok {
		t.hasMetadata = true
		t.meta = meta
	}
	// Options that needed metadata can now take effect.
	if len(t.options.FilePriorities) > 0 {
		t.SetFilePriorities(t.options.FilePriorities)
	} else if t.options.PrioritizeFirstLast {
		t.prioritizeFirstLast()
	}
}
