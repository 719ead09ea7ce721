package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/metrics"
	"torrentsession/internal/statefile"
	"torrentsession/internal/torrentfile"
)

// Config tunes the manager's persistence cadence and add-time defaults.
type Config struct {
	DefaultOptions domain.Options
	QueueNewToTop  bool

	StateSaveInterval      time.Duration
	ResumeSaveInterval     time.Duration
	FullResumeSaveInterval time.Duration
	PruneInterval          time.Duration
	RatioCheckInterval     time.Duration
	StatusCacheWindow      time.Duration
	ShutdownTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.StateSaveInterval <= 0 {
		c.StateSaveInterval = 200 * time.Second
	}
	if c.ResumeSaveInterval <= 0 {
		c.ResumeSaveInterval = 190 * time.Second
	}
	if c.FullResumeSaveInterval <= 0 {
		c.FullResumeSaveInterval = 900 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 10 * time.Second
	}
	if c.RatioCheckInterval <= 0 {
		c.RatioCheckInterval = 5 * time.Second
	}
	if c.StatusCacheWindow <= 0 {
		c.StatusCacheWindow = 1500 * time.Millisecond
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.DefaultOptions.MaxConnections == 0 && c.DefaultOptions.DownloadLocation == "" {
		c.DefaultOptions = domain.DefaultOptions()
	}
	return c
}

// AddRequest describes one torrent to admit: fresh metainfo or a magnet URI,
// plus per-add option overrides and extra trackers.
type AddRequest struct {
	Metainfo []byte
	Magnet   string
	Filename string
	Options  domain.OptionPatch
	Trackers []domain.Tracker
	Owner    string
}

// Filter narrows bulk status queries. Zero values match everything; a
// non-empty Owner matches torrents owned by that account plus shared ones.
type Filter struct {
	IDs   []domain.TorrentID
	State domain.State
	Owner string
}

type statusRequest struct {
	fields []StatusField
	filter Filter
	out    chan map[domain.TorrentID]map[StatusField]any
}

type resumeWait struct {
	done chan struct{}
	err  error
	refs int
}

// Manager owns the torrent registry. All registry and Torrent mutation is
// confined to the single goroutine running Run: engine alerts, user intents
// (posted as closures) and persistence timers are drained by one loop, so
// handlers never race each other.
type Manager struct {
	log      *slog.Logger
	cfg      Config
	engine   ports.Engine
	store    *statefile.Store
	notifier ports.Notifier
	sessions ports.SessionValidator

	torrents map[domain.TorrentID]*Torrent
	queued   map[domain.TorrentID]struct{}

	resumeData      map[domain.TorrentID][]byte
	waitingOnResume map[domain.TorrentID]*resumeWait
	flushResume     bool

	statusReqs      []*statusRequest
	lastStateUpdate time.Time

	commands chan func()
	closed   chan struct{}
}

func NewManager(engine ports.Engine, store *statefile.Store, notifier ports.Notifier,
	sessions ports.SessionValidator, cfg Config, log *slog.Logger) *Manager {
	if notifier == nil {
		notifier = ports.NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:             log,
		cfg:             cfg.withDefaults(),
		engine:          engine,
		store:           store,
		notifier:        notifier,
		sessions:        sessions,
		torrents:        make(map[domain.TorrentID]*Torrent),
		queued:          make(map[domain.TorrentID]struct{}),
		resumeData:      make(map[domain.TorrentID][]byte),
		waitingOnResume: make(map[domain.TorrentID]*resumeWait),
		commands:        make(chan func(), 128),
		closed:          make(chan struct{}),
	}
}

// Run loads persisted state and drives the manager loop until ctx is
// cancelled, then flushes resume data and state before returning.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.closed)

	if err := m.loadSession(); err != nil {
		return err
	}
	m.emit(domain.SessionStartedEvent{})

	stateT := time.NewTicker(m.cfg.StateSaveInterval)
	resumeT := time.NewTicker(m.cfg.ResumeSaveInterval)
	fullResumeT := time.NewTicker(m.cfg.FullResumeSaveInterval)
	pruneT := time.NewTicker(m.cfg.PruneInterval)
	ratioT := time.NewTicker(m.cfg.RatioCheckInterval)
	defer func() {
		stateT.Stop()
		resumeT.Stop()
		fullResumeT.Stop()
		pruneT.Stop()
		ratioT.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case a := <-m.engine.Alerts():
			m.handleAlert(a)
		case fn := <-m.commands:
			fn()
		case <-stateT.C:
			m.saveState()
		case <-resumeT.C:
			m.requestResumeAll(true, true)
		case <-fullResumeT.C:
			m.requestResumeAll(false, true)
		case <-pruneT.C:
			m.pruneBaselines()
		case <-ratioT.C:
			m.checkRatios()
		}
	}
}

// do runs fn on the manager loop and waits for it to finish.
func (m *Manager) do(fn func()) error {
	done := make(chan struct{})
	select {
	case m.commands <- func() { fn(); close(done) }:
	case <-m.closed:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-m.closed:
		return ErrClosed
	}
}

// deferToLoop schedules fn for a later loop tick, preserving ordering with
// already queued work. Runs inline only if the queue is saturated.
func (m *Manager) deferToLoop(fn func()) {
	select {
	case m.commands <- fn:
	default:
		fn()
	}
}

func (m *Manager) emit(ev domain.Event) {
	metrics.EventsPublishedTotal.WithLabelValues(ev.Kind()).Inc()
	m.notifier.Emit(ev)
}

// Add admits a torrent. Re-adding a known infohash merges trackers into the
// existing torrent and returns ErrTorrentAlreadyAdded with its id.
func (m *Manager) Add(req AddRequest) (domain.TorrentID, error) {
	var id domain.TorrentID
	var err error
	if derr := m.do(func() { id, err = m.add(req, nil, false) }); derr != nil {
		return "", derr
	}
	return id, err
}

func (m *Manager) add(req AddRequest, rec *domain.TorrentRecord, fromState bool) (domain.TorrentID, error) {
	var info torrentfile.Info
	var err error
	switch {
	case len(req.Metainfo) > 0:
		info, err = torrentfile.Parse(req.Metainfo)
	case req.Magnet != "":
		info, err = torrentfile.ParseMagnet(req.Magnet)
	default:
		return "", fmt.Errorf("%w: metainfo or magnet required", torrentfile.ErrInvalidMetainfo)
	}
	if err != nil {
		return "", err
	}
	id := info.ID

	if existing, ok := m.torrents[id]; ok {
		existing.MergeTrackers(append(info.Trackers, req.Trackers...))
		return id, domain.ErrTorrentAlreadyAdded
	}

	opts := m.cfg.DefaultOptions.Merged(req.Options)
	if req.Owner != "" {
		opts.Owner = req.Owner
	}

	// The engine admits every torrent paused and non-auto-managed so no
	// alert can reference the torrent before it is registered here.
	handle, err := m.engine.AddTorrent(ports.AddTorrentParams{
		Metainfo:          req.Metainfo,
		Magnet:            req.Magnet,
		SavePath:          opts.DownloadLocation,
		CompactAllocation: opts.CompactAllocation,
		Paused:            true,
		AutoManaged:       false,
		ResumeData:        m.resumeData[id],
		MappedFiles:       opts.MappedFiles,
	})
	if err != nil {
		return "", wrapEngine(err)
	}

	t := newTorrent(handle, m.engine, opts, m.log)
	t.magnet = req.Magnet
	t.filename = req.Filename
	t.name = info.Name
	if rec != nil {
		t.timeAdded = rec.TimeAdded
		t.totalUploadedBase = rec.TotalUploaded
		t.isFinished = rec.IsFinished
		if rec.Name != "" {
			t.name = rec.Name
		}
	}
	m.torrents[id] = t

	trackers := append(info.Trackers, req.Trackers...)
	if rec != nil && len(rec.TrackerTiers) > 0 {
		trackers = rec.TrackerTiers
	}
	if err := t.SetTrackers(trackers); err != nil {
		t.log.Warn("set trackers on add", "err", err)
	}

	handle.SetMaxConnections(opts.MaxConnections)
	handle.SetMaxUploadSlots(opts.MaxUploadSlots)
	handle.SetUploadLimit(opts.MaxUploadSpeed)
	handle.SetDownloadLimit(opts.MaxDownloadSpeed)
	handle.SetSequentialDownload(opts.SequentialDownload)
	if len(opts.FilePriorities) > 0 {
		t.SetFilePriorities(opts.FilePriorities)
	}

	if !t.isFinished {
		m.queued[id] = struct{}{}
		if m.cfg.QueueNewToTop && !fromState {
			handle.QueueTop()
		}
	}

	if len(req.Metainfo) > 0 {
		if err := m.store.SaveTorrentFile(id, req.Metainfo); err != nil {
			t.log.Warn("save torrent file copy", "err", err)
		}
	}

	if !opts.AddPaused {
		t.refreshStatus()
		if err := t.Resume(); err != nil {
			t.log.Warn("resume on add", "err", err)
		}
	}
	t.refreshStatus()
	t.SetAutoManaged(opts.AutoManaged)
	t.UpdateState()

	metrics.TorrentsManaged.Set(float64(len(m.torrents)))
	m.emit(domain.TorrentAddedEvent{ID: id, FromState: fromState})
	if !fromState {
		m.saveState()
	}
	m.log.Info("torrent added",
		slog.String("torrentId", string(id)),
		slog.String("name", t.Name()),
		slog.Bool("fromState", fromState))
	return id, nil
}

// Remove drops a torrent from the engine and the registry. The whole
// sequence aborts without touching registry bookkeeping when the engine
// refuses the removal.
func (m *Manager) Remove(id domain.TorrentID, removeData bool) error {
	var err error
	if derr := m.do(func() { err = m.remove(id, removeData) }); derr != nil {
		return derr
	}
	return err
}

func (m *Manager) remove(id domain.TorrentID, removeData bool) error {
	t, ok := m.torrents[id]
	if !ok {
		return domain.ErrTorrentNotFound
	}
	m.emit(domain.PreTorrentRemovedEvent{ID: id})
	if err := m.engine.RemoveTorrent(id, removeData); err != nil {
		return wrapEngine(err)
	}

	delete(m.resumeData, id)
	if w, ok := m.waitingOnResume[id]; ok {
		w.err = domain.ErrTorrentNotFound
		close(w.done)
		delete(m.waitingOnResume, id)
		m.maybeFlushResume()
	}
	if err := m.store.RemoveTorrentFile(id); err != nil {
		t.log.Warn("remove torrent file copy", "err", err)
	}
	delete(m.queued, id)
	delete(m.torrents, id)

	m.saveState()
	metrics.TorrentsManaged.Set(float64(len(m.torrents)))
	m.emit(domain.TorrentRemovedEvent{ID: id})
	m.log.Info("torrent removed",
		slog.String("torrentId", string(id)), slog.Bool("removeData", removeData))
	return nil
}

func (m *Manager) withTorrent(id domain.TorrentID, fn func(*Torrent) error) error {
	var err error
	if derr := m.do(func() {
		t, ok := m.torrents[id]
		if !ok {
			err = domain.ErrTorrentNotFound
			return
		}
		err = fn(t)
	}); derr != nil {
		return derr
	}
	return err
}

func (m *Manager) Pause(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error {
		changed, err := t.Pause()
		if changed {
			m.emit(domain.TorrentStateChangedEvent{ID: id, State: t.state})
		}
		return err
	})
}

func (m *Manager) Resume(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error {
		if err := t.Resume(); err != nil {
			return err
		}
		m.emit(domain.TorrentResumedEvent{ID: id})
		return nil
	})
}

// PauseSession pauses every torrent at the engine level. Individual pause
// flags are untouched, so resuming the session restores prior activity.
func (m *Manager) PauseSession() error {
	return m.do(func() {
		m.engine.PauseSession()
		for _, t := range m.torrents {
			t.refreshStatus()
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: t.id, State: t.state})
			}
		}
		m.emit(domain.SessionPausedEvent{})
	})
}

func (m *Manager) ResumeSession() error {
	return m.do(func() {
		m.engine.ResumeSession()
		for _, t := range m.torrents {
			t.refreshStatus()
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: t.id, State: t.state})
			}
		}
		m.emit(domain.SessionResumedEvent{})
	})
}

func (m *Manager) SetOptions(id domain.TorrentID, patch domain.OptionPatch) error {
	return m.withTorrent(id, func(t *Torrent) error {
		t.SetOptions(patch)
		return nil
	})
}

func (m *Manager) GetOptions(id domain.TorrentID) (domain.Options, error) {
	var opts domain.Options
	err := m.withTorrent(id, func(t *Torrent) error {
		opts = t.options
		return nil
	})
	return opts, err
}

func (m *Manager) SetTrackers(id domain.TorrentID, trackers []domain.Tracker) error {
	return m.withTorrent(id, func(t *Torrent) error {
		return t.SetTrackers(trackers)
	})
}

// Status resolves status fields for one torrent, optionally diffed against
// the observer session's previous query.
func (m *Manager) Status(id domain.TorrentID, fields []StatusField, diff bool, sessionID string) (map[StatusField]any, error) {
	var out map[StatusField]any
	err := m.withTorrent(id, func(t *Torrent) error {
		t.refreshStatus()
		t.UpdateState()
		out = t.GetStatus(fields, diff, sessionID)
		return nil
	})
	return out, err
}

// List returns the ids visible through the filter, in unspecified order.
func (m *Manager) List(filter Filter) []domain.TorrentID {
	var out []domain.TorrentID
	m.do(func() {
		for id, t := range m.torrents {
			if m.matches(t, filter) {
				out = append(out, id)
			}
		}
	})
	return out
}

func (m *Manager) matches(t *Torrent, f Filter) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == t.id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.State != "" && t.state != f.State {
		return false
	}
	if f.Owner != "" && t.options.Owner != f.Owner && !t.options.Shared {
		return false
	}
	return true
}

// TorrentsStatus serves a bulk status query. When the engine pushed a batch
// update less than the cache window ago the reply is served from cache on
// the next loop tick; otherwise the request queues until the engine's next
// state-update alert.
func (m *Manager) TorrentsStatus(ctx context.Context, fields []StatusField, filter Filter) (map[domain.TorrentID]map[StatusField]any, error) {
	out := make(chan map[domain.TorrentID]map[StatusField]any, 1)
	err := m.do(func() {
		if time.Since(m.lastStateUpdate) < m.cfg.StatusCacheWindow {
			m.deferToLoop(func() { out <- m.collectStatus(fields, filter) })
			return
		}
		m.statusReqs = append(m.statusReqs, &statusRequest{fields: fields, filter: filter, out: out})
		m.engine.PostTorrentUpdates()
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-out:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, ErrClosed
	}
}

func (m *Manager) collectStatus(fields []StatusField, filter Filter) map[domain.TorrentID]map[StatusField]any {
	out := make(map[domain.TorrentID]map[StatusField]any)
	for id, t := range m.torrents {
		if m.matches(t, filter) {
			out[id] = t.GetStatus(fields, false, "")
		}
	}
	return out
}

func (m *Manager) ForceRecheck(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.ForceRecheck() })
}

func (m *Manager) ForceReannounce(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.ForceReannounce() })
}

func (m *Manager) ScrapeTracker(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.ScrapeTracker() })
}

func (m *Manager) ConnectPeer(id domain.TorrentID, addr string) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.ConnectPeer(addr) })
}

func (m *Manager) MoveStorage(id domain.TorrentID, dest string) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.MoveStorage(dest) })
}

func (m *Manager) RenameFiles(id domain.TorrentID, renames map[int]string) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.RenameFiles(renames) })
}

func (m *Manager) RenameFolder(id domain.TorrentID, folder, newFolder string) error {
	return m.withTorrent(id, func(t *Torrent) error { return t.RenameFolder(folder, newFolder) })
}

func (m *Manager) QueueTop(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { t.handle.QueueTop(); return nil })
}

func (m *Manager) QueueUp(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { t.handle.QueueUp(); return nil })
}

func (m *Manager) QueueDown(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { t.handle.QueueDown(); return nil })
}

func (m *Manager) QueueBottom(id domain.TorrentID) error {
	return m.withTorrent(id, func(t *Torrent) error { t.handle.QueueBottom(); return nil })
}

// SaveState forces an immediate state file write.
func (m *Manager) SaveState() error {
	var err error
	if derr := m.do(func() { err = m.saveState() }); derr != nil {
		return derr
	}
	return err
}

// checkRatios enforces stop-at-ratio policy: finished torrents past their
// stop ratio are paused, or removed when remove-at-ratio is set.
func (m *Manager) checkRatios() {
	for id, t := range m.torrents {
		if !t.isFinished || !t.options.StopAtRatio {
			continue
		}
		if t.Ratio() < t.options.StopRatio {
			continue
		}
		if t.options.RemoveAtRatio {
			if err := m.remove(id, false); err != nil {
				t.log.Warn("remove at ratio", "err", err)
			}
			continue
		}
		if !t.status.Paused {
			if changed, err := t.Pause(); err != nil {
				t.log.Warn("pause at ratio", "err", err)
			} else if changed {
				m.emit(domain.TorrentStateChangedEvent{ID: id, State: t.state})
			}
		}
	}
}

func (m *Manager) pruneBaselines() {
	if m.sessions == nil {
		return
	}
	for _, t := range m.torrents {
		t.pruneStatusBaselines(m.sessions)
	}
}

// shutdown pauses the session, collects resume data for every torrent with
// a bounded wait, and writes both persistence files.
func (m *Manager) shutdown() {
	m.engine.PauseSession()
	m.requestResumeAll(false, true)

	deadline := time.NewTimer(m.cfg.ShutdownTimeout)
	defer deadline.Stop()
	for len(m.waitingOnResume) > 0 {
		select {
		case a := <-m.engine.Alerts():
			m.handleAlert(a)
		case <-deadline.C:
			m.log.Warn("shutdown timed out waiting for resume data",
				slog.Int("outstanding", len(m.waitingOnResume)))
			m.waitingOnResume = make(map[domain.TorrentID]*resumeWait)
			m.writeResumeData()
		}
	}

	m.saveState()
	if err := m.engine.Close(); err != nil {
		m.log.Warn("engine close", "err", err)
	}
	m.log.Info("session manager stopped")
}
