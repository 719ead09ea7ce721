package session

import (
	"fmt"
	"log/slog"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/metrics"
)

// handleAlert routes one engine alert. Alerts addressing a torrent no longer
// in the registry are dropped silently: an alert racing a removal is
// expected, not an error.
func (m *Manager) handleAlert(a domain.Alert) {
	metrics.AlertsTotal.WithLabelValues(a.Kind()).Inc()

	switch al := a.(type) {
	case domain.TorrentFinishedAlert:
		m.onTorrentFinished(al)
	case domain.TorrentPausedAlert:
		if t, ok := m.torrents[al.ID]; ok {
			t.refreshStatus()
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
			}
			m.requestResume(al.ID, false)
		}
	case domain.TorrentResumedAlert:
		if t, ok := m.torrents[al.ID]; ok {
			t.statusMessage = "OK"
			t.refreshStatus()
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
			}
			m.emit(domain.TorrentResumedEvent{ID: al.ID})
		}
	case domain.TorrentCheckedAlert:
		if t, ok := m.torrents[al.ID]; ok {
			if t.recheckDone() {
				t.refreshStatus()
			}
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
			}
		}
	case domain.StateChangedAlert:
		m.onStateChanged(al)
	case domain.TrackerReplyAlert:
		if t, ok := m.torrents[al.ID]; ok {
			m.setTrackerStatus(t, "Announce OK")
			if al.NumComplete == -1 || al.NumIncomplete == -1 {
				if err := t.ScrapeTracker(); err != nil {
					t.log.Debug("scrape after announce", "err", err)
				}
			}
		}
	case domain.TrackerAnnounceAlert:
		if t, ok := m.torrents[al.ID]; ok {
			m.setTrackerStatus(t, "Announce Sent")
		}
	case domain.TrackerWarningAlert:
		if t, ok := m.torrents[al.ID]; ok {
			m.setTrackerStatus(t, "Warning: "+al.Message)
		}
	case domain.TrackerErrorAlert:
		if t, ok := m.torrents[al.ID]; ok {
			m.setTrackerStatus(t, "Error: "+al.Message)
		}
	case domain.StorageMovedAlert:
		if t, ok := m.torrents[al.ID]; ok {
			t.options.DownloadLocation = al.Path
			t.refreshStatus()
			t.UpdateState()
			m.emit(domain.TorrentStorageMovedEvent{ID: al.ID, Path: al.Path})
			m.requestResume(al.ID, false)
		}
	case domain.StorageMovedFailedAlert:
		if t, ok := m.torrents[al.ID]; ok {
			t.statusMessage = al.Message
			t.log.Warn("storage move failed", slog.String("reason", al.Message))
		}
	case domain.SaveResumeDataAlert:
		if _, ok := m.torrents[al.ID]; ok {
			m.resumeData[al.ID] = al.Data
		}
		m.resolveResume(al.ID, nil)
	case domain.SaveResumeDataFailedAlert:
		m.resolveResume(al.ID, fmt.Errorf("%w: %s", ErrEngine, al.Message))
		if t, ok := m.torrents[al.ID]; ok {
			t.log.Warn("save resume data failed", slog.String("reason", al.Message))
		}
	case domain.FileRenamedAlert:
		m.onFileRenamed(al)
	case domain.MetadataReceivedAlert:
		if t, ok := m.torrents[al.ID]; ok {
			t.metadataReceived()
			if len(al.Metainfo) > 0 {
				if err := m.store.SaveTorrentFile(al.ID, al.Metainfo); err != nil {
					t.log.Warn("save torrent file copy", "err", err)
				}
			}
			t.refreshStatus()
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
			}
		}
	case domain.FileErrorAlert:
		if t, ok := m.torrents[al.ID]; ok {
			t.log.Warn("file error", slog.String("reason", al.Message))
			t.refreshStatus()
			if t.UpdateState() {
				m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
			}
		}
	case domain.FileCompletedAlert:
		if _, ok := m.torrents[al.ID]; ok {
			m.emit(domain.TorrentFileCompletedEvent{ID: al.ID, Index: al.Index})
		}
	case domain.PerformanceAlert:
		m.log.Debug("performance warning",
			slog.String("torrentId", string(al.ID)), slog.String("warning", al.Message))
	case domain.StateUpdateAlert:
		m.onStateUpdate(al)
	}
}

func (m *Manager) onTorrentFinished(al domain.TorrentFinishedAlert) {
	t, ok := m.torrents[al.ID]
	if !ok {
		return
	}
	t.refreshStatus()
	if t.UpdateState() {
		m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
	}

	newlyFinished := !t.isFinished
	t.isFinished = true
	delete(m.queued, al.ID)

	if t.options.MoveCompleted && t.options.DownloadLocation != t.options.MoveCompletedPath {
		if err := t.MoveStorage(t.options.MoveCompletedPath); err != nil {
			t.log.Warn("move completed", "err", err)
		}
	}

	if newlyFinished {
		m.emit(domain.TorrentFinishedEvent{ID: al.ID})
		// A torrent restored as a seed transfers nothing; saving resume
		// data again would be pointless I/O.
		if t.status.TotalPayloadDownload > 0 {
			m.requestResume(al.ID, false)
		}
	}
}

func (m *Manager) onStateChanged(al domain.StateChangedAlert) {
	t, ok := m.torrents[al.ID]
	if !ok {
		return
	}
	// A transition back into checking or downloading means completion may
	// be undone, e.g. after a failed recheck.
	switch al.State {
	case domain.EngineCheckingFiles, domain.EngineCheckingResumeData, domain.EngineDownloading:
		t.isFinished = false
		m.queued[al.ID] = struct{}{}
	}
	t.refreshStatus()
	if t.UpdateState() {
		m.emit(domain.TorrentStateChangedEvent{ID: al.ID, State: t.state})
	}
}

func (m *Manager) setTrackerStatus(t *Torrent, status string) {
	if t.trackerStatus == status {
		return
	}
	t.trackerStatus = status
	m.emit(domain.TorrentTrackerStatusEvent{ID: t.id, Status: status})
}

func (m *Manager) onFileRenamed(al domain.FileRenamedAlert) {
	t, ok := m.torrents[al.ID]
	if !ok {
		return
	}
	completed, standalone := t.fileRenamed(al.Index, al.Name)
	switch {
	case completed != nil:
		m.emit(domain.TorrentFolderRenamedEvent{
			ID:  al.ID,
			Old: completed.oldFolder,
			New: completed.newFolder,
		})
		t.cleanupRenamedFolder(completed.oldFolder)
		m.requestResume(al.ID, false)
	case standalone:
		m.emit(domain.TorrentFileRenamedEvent{ID: al.ID, Index: al.Index, Name: al.Name})
		m.requestResume(al.ID, false)
	}
}

// onStateUpdate applies a batch of snapshots to the torrent caches, then
// serves every pending bulk status request. The engine rate-bounds update
// posts, so one alert may answer several queued requests; all of them asked
// for a snapshot no fresher than this one.
func (m *Manager) onStateUpdate(al domain.StateUpdateAlert) {
	var downRate, upRate int64
	var peers int
	for _, su := range al.Statuses {
		t, ok := m.torrents[su.ID]
		if !ok {
			continue
		}
		t.applyStatus(su.Status)
		if t.UpdateState() {
			m.emit(domain.TorrentStateChangedEvent{ID: su.ID, State: t.state})
		}
		downRate += su.Status.DownloadPayloadRate
		upRate += su.Status.UploadPayloadRate
		peers += su.Status.NumPeers
	}
	metrics.DownloadSpeedBytes.Set(float64(downRate))
	metrics.UploadSpeedBytes.Set(float64(upRate))
	metrics.PeersConnected.Set(float64(peers))
	m.updateStateGauges()
	m.lastStateUpdate = time.Now()

	for _, req := range m.statusReqs {
		req.out <- m.collectStatus(req.fields, req.filter)
	}
	m.statusReqs = nil
}

func (m *Manager) updateStateGauges() {
	counts := make(map[domain.State]int)
	for _, t := range m.torrents {
		counts[t.state]++
	}
	for _, s := range []domain.State{
		domain.StateQueued, domain.StateChecking, domain.StateDownloading,
		domain.StateSeeding, domain.StateAllocating, domain.StatePaused, domain.StateError,
	} {
		metrics.TorrentsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
