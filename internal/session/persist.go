package session

import (
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"torrentsession/internal/domain"
	"torrentsession/internal/metrics"
)

// requestResume asks the engine for one torrent's resume data. A request for
// a torrent already waiting attaches to the outstanding wait instead of
// issuing a duplicate engine call. The wait resolves exactly once, from the
// save-resume-data alert.
func (m *Manager) requestResume(id domain.TorrentID, flush bool) *resumeWait {
	if flush {
		m.flushResume = true
	}
	if w, ok := m.waitingOnResume[id]; ok {
		w.refs++
		return w
	}
	t, ok := m.torrents[id]
	if !ok {
		return nil
	}
	w := &resumeWait{done: make(chan struct{}), refs: 1}
	m.waitingOnResume[id] = w
	t.handle.SaveResumeData()
	return w
}

// requestResumeAll runs one resume-data cycle: every torrent, or only the
// ones the engine flags as dirty. With flush set the fastresume archive is
// rewritten once the last outstanding wait resolves.
func (m *Manager) requestResumeAll(onlyDirty, flush bool) {
	requested := 0
	for id, t := range m.torrents {
		if onlyDirty && !t.handle.NeedSaveResumeData() {
			continue
		}
		if m.requestResume(id, flush) != nil {
			requested++
		}
	}
	if flush && len(m.waitingOnResume) == 0 {
		m.writeResumeData()
	}
	if requested > 0 {
		m.log.Debug("resume data cycle",
			slog.Int("requested", requested), slog.Bool("onlyDirty", onlyDirty))
	}
}

func (m *Manager) resolveResume(id domain.TorrentID, err error) {
	w, ok := m.waitingOnResume[id]
	if !ok {
		return
	}
	w.err = err
	close(w.done)
	delete(m.waitingOnResume, id)
	m.maybeFlushResume()
}

func (m *Manager) maybeFlushResume() {
	if m.flushResume && len(m.waitingOnResume) == 0 {
		m.writeResumeData()
	}
}

func (m *Manager) writeResumeData() {
	m.flushResume = false
	start := time.Now()
	if err := m.store.SaveResumeData(m.resumeData); err != nil {
		m.log.Error("write resume data", "err", err)
		return
	}
	metrics.ResumeDataSavesTotal.Inc()
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	m.log.Debug("resume data written", slog.Int("torrents", len(m.resumeData)))
}

func (m *Manager) record(t *Torrent) domain.TorrentRecord {
	opts := t.options
	return domain.TorrentRecord{
		ID:                  t.id,
		Filename:            t.filename,
		Magnet:              t.magnet,
		DownloadLocation:    opts.DownloadLocation,
		MaxConnections:      opts.MaxConnections,
		MaxUploadSlots:      opts.MaxUploadSlots,
		MaxUploadSpeed:      opts.MaxUploadSpeed,
		MaxDownloadSpeed:    opts.MaxDownloadSpeed,
		PrioritizeFirstLast: opts.PrioritizeFirstLast,
		SequentialDownload:  opts.SequentialDownload,
		CompactAllocation:   opts.CompactAllocation,
		AutoManaged:         opts.AutoManaged,
		StopAtRatio:         opts.StopAtRatio,
		StopRatio:           opts.StopRatio,
		RemoveAtRatio:       opts.RemoveAtRatio,
		MoveCompleted:       opts.MoveCompleted,
		MoveCompletedPath:   opts.MoveCompletedPath,
		Shared:              opts.Shared,
		Paused:              t.status.Paused,
		QueuePosition:       t.handle.QueuePosition(),
		IsFinished:          t.isFinished,
		TimeAdded:           t.timeAdded,
		TotalUploaded:       t.AllTimeUpload(),
		TrackerTiers:        t.trackers,
		FilePriorities:      opts.FilePriorities,
		MappedFiles:         opts.MappedFiles,
		Owner:               opts.Owner,
		Name:                t.Name(),
	}
}

func (m *Manager) saveState() error {
	state := domain.SessionState{Torrents: make([]domain.TorrentRecord, 0, len(m.torrents))}
	for _, t := range m.torrents {
		t.refreshStatus()
		state.Torrents = append(state.Torrents, m.record(t))
	}
	sort.Slice(state.Torrents, func(i, j int) bool {
		return state.Torrents[i].QueuePosition < state.Torrents[j].QueuePosition
	})

	start := time.Now()
	if err := m.store.SaveState(state); err != nil {
		m.log.Error("write session state", "err", err)
		return wrapStore(err)
	}
	metrics.StateSavesTotal.Inc()
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	m.log.Debug("session state written", slog.Int("torrents", len(state.Torrents)))
	return nil
}

// loadSession restores the previous session: resume data first so the
// records can hand blobs to the engine, then every record in queue order. A
// record the engine refuses aborts the remaining load but keeps the
// torrents already restored.
func (m *Manager) loadSession() error {
	resume, err := m.store.LoadResumeData()
	if err != nil {
		m.log.Warn("resume data unreadable, starting empty", "err", err)
		resume = make(map[domain.TorrentID][]byte)
	}
	m.resumeData = resume

	state, err := m.store.LoadState()
	if err != nil {
		m.log.Warn("session state unreadable, starting empty", "err", err)
		state = domain.SessionState{}
	}
	sort.Slice(state.Torrents, func(i, j int) bool {
		return state.Torrents[i].QueuePosition < state.Torrents[j].QueuePosition
	})

	var restored int
	var total uint64
	for i := range state.Torrents {
		rec := state.Torrents[i]
		req := AddRequest{Magnet: rec.Magnet, Filename: rec.Filename, Owner: rec.Owner}
		if data, terr := m.store.LoadTorrentFile(rec.ID); terr == nil {
			req.Metainfo = data
			total += uint64(len(data))
		}
		opts := rec.RecordOptions()
		opts.AddPaused = rec.Paused
		req.Options = optionsAsPatch(opts)

		if _, aerr := m.add(req, &rec, true); aerr != nil {
			m.log.Error("restore torrent, aborting remaining records",
				slog.String("torrentId", string(rec.ID)), "err", aerr)
			break
		}
		restored++
	}
	if restored > 0 {
		m.log.Info("session restored",
			slog.Int("torrents", restored),
			slog.String("metainfoSize", humanize.Bytes(total)))
	}
	return nil
}

// optionsAsPatch turns a full option set into a patch applying all of it.
func optionsAsPatch(o domain.Options) domain.OptionPatch {
	return domain.OptionPatch{
		MaxConnections:      &o.MaxConnections,
		MaxUploadSlots:      &o.MaxUploadSlots,
		MaxUploadSpeed:      &o.MaxUploadSpeed,
		MaxDownloadSpeed:    &o.MaxDownloadSpeed,
		PrioritizeFirstLast: &o.PrioritizeFirstLast,
		SequentialDownload:  &o.SequentialDownload,
		DownloadLocation:    &o.DownloadLocation,
		AutoManaged:         &o.AutoManaged,
		StopAtRatio:         &o.StopAtRatio,
		StopRatio:           &o.StopRatio,
		RemoveAtRatio:       &o.RemoveAtRatio,
		MoveCompleted:       &o.MoveCompleted,
		MoveCompletedPath:   &o.MoveCompletedPath,
		AddPaused:           &o.AddPaused,
		CompactAllocation:   &o.CompactAllocation,
		Shared:              &o.Shared,
		Owner:               &o.Owner,
		FilePriorities:      o.FilePriorities,
		MappedFiles:         o.MappedFiles,
	}
}
