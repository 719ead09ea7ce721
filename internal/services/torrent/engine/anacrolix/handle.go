package anacrolix

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/zeebo/bencode"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// resumeBlob is the engine-private fast-resume payload. It records just
// enough to restore progress accounting across restarts; piece data is
// re-read from disk by the client itself.
type resumeBlob struct {
	InfoHash  string `bencode:"info-hash"`
	Completed int64  `bencode:"completed"`
	Uploaded  int64  `bencode:"uploaded"`
	Finished  bool   `bencode:"finished"`
	SavePath  string `bencode:"save-path"`
}

// Handle wraps one *torrent.Torrent and tracks the session-facing mode
// flags the client does not model: paused, auto-managed, per-torrent
// limits and queue order.
type Handle struct {
	e  *Engine
	t  *torrent.Torrent
	id domain.TorrentID

	mu          sync.Mutex
	paused      bool
	autoManaged bool
	checking    bool
	savePath    string
	statusErr   string

	maxConns       int
	maxUploadSlots int
	uploadLimit    float64
	downloadLimit  float64
	sequential     bool

	filePrios  []int
	piecePrios []int
	trackers   []domain.Tracker

	addedAt      time.Time
	seedingSince time.Time
	lastSeedSeen time.Time

	resumeFinished bool
	resumeUploaded int64
	lastSaveDone   int64

	// poller bookkeeping
	metaSent    bool
	wasComplete bool
	lastState   domain.EngineState
	fileDone    []bool

	// speed sampling
	prevSample time.Time
	prevDown   int64
	prevUp     int64
	downRate   int64
	upRate     int64
}

func newHandle(e *Engine, t *torrent.Torrent, id domain.TorrentID, params ports.AddTorrentParams) *Handle {
	h := &Handle{
		e:           e,
		t:           t,
		id:          id,
		paused:      params.Paused,
		autoManaged: params.AutoManaged,
		savePath:    params.SavePath,
		maxConns:    defaultMaxConns,
		addedAt:     time.Now(),
	}
	if len(params.ResumeData) > 0 {
		var blob resumeBlob
		if err := bencode.DecodeBytes(params.ResumeData, &blob); err != nil {
			e.log.Warn("discarding unreadable resume data",
				slog.String("torrentId", string(id)), slog.Any("error", err))
		} else {
			h.resumeFinished = blob.Finished
			h.resumeUploaded = blob.Uploaded
			h.lastSaveDone = blob.Completed
			if blob.SavePath != "" {
				h.savePath = blob.SavePath
			}
		}
	}
	h.wasComplete = h.resumeFinished
	h.lastState = h.engineStateLocked()
	return h
}

// applyInitialMode puts the torrent in the requested transfer mode
// without emitting alerts; admission must stay silent.
func (h *Handle) applyInitialMode(params ports.AddTorrentParams, sessionPaused bool) {
	if params.Paused || sessionPaused {
		h.hardPause()
		return
	}
	h.startTransfer()
}

func (h *Handle) InfoHash() domain.TorrentID { return h.id }

func (h *Handle) infoReady() bool {
	select {
	case <-h.t.GotInfo():
		return true
	default:
		return false
	}
}

// engineStateLocked synthesizes a native state from what the client
// exposes. Callers hold h.mu or run before the handle is published.
func (h *Handle) engineStateLocked() domain.EngineState {
	if h.checking {
		return domain.EngineCheckingFiles
	}
	if !h.infoReady() {
		return domain.EngineDownloadingMetadata
	}
	if h.resumeFinished || h.t.BytesCompleted() >= h.t.Length() {
		return domain.EngineSeeding
	}
	return domain.EngineDownloading
}

func (h *Handle) Status() domain.EngineStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.t.Stats()
	infoReady := h.infoReady()

	var completed, length int64
	if infoReady {
		completed = h.t.BytesCompleted()
		length = h.t.Length()
	}
	finished := infoReady && (h.resumeFinished || (length > 0 && completed >= length))

	down := stats.BytesReadUsefulData.Int64()
	up := stats.BytesWrittenData.Int64()
	h.sampleSpeeds(down, up)

	progress := 0.0
	if finished {
		progress = 100.0
	} else if length > 0 {
		progress = float64(completed) / float64(length) * 100.0
	}

	done := completed
	if finished {
		done = length
	}

	seeds := stats.ConnectedSeeders
	if seeds > 0 {
		h.lastSeedSeen = time.Now()
	}

	var seedingTime int64
	if !h.seedingSince.IsZero() {
		seedingTime = int64(time.Since(h.seedingSince).Seconds())
	}
	var lastSeen int64
	if !h.lastSeedSeen.IsZero() {
		lastSeen = h.lastSeedSeen.Unix()
	}

	var pieces []bool
	if infoReady {
		n := h.t.NumPieces()
		pieces = make([]bool, n)
		for i := 0; i < n; i++ {
			pieces[i] = h.t.PieceState(i).Complete
		}
	}

	var current string
	if len(h.trackers) > 0 {
		current = h.trackers[0].URL
	}

	return domain.EngineStatus{
		State:       h.engineStateLocked(),
		Error:       h.statusErr,
		Paused:      h.paused,
		AutoManaged: h.autoManaged,

		Progress: progress,

		DownloadPayloadRate: h.downRate,
		UploadPayloadRate:   h.upRate,

		AllTimeDownload:      down,
		AllTimeUpload:        up,
		TotalPayloadDownload: down,
		TotalPayloadUpload:   up,

		TotalDone:       done,
		TotalWanted:     length,
		TotalWantedDone: done,

		NumPeers:      stats.ActivePeers,
		NumSeeds:      seeds,
		NumComplete:   -1,
		NumIncomplete: -1,

		DistributedCopies: -1,

		ActiveTime:  int64(time.Since(h.addedAt).Seconds()),
		SeedingTime: seedingTime,

		CurrentTracker: current,

		Pieces: pieces,

		IsFinished:       finished,
		IsSeed:           finished,
		LastSeenComplete: lastSeen,

		SavePath:      h.savePath,
		QueuePosition: h.e.queuePosition(h.id),
	}
}

// sampleSpeeds derives payload rates from counter deltas. Samples
// closer together than half a second reuse the previous rates.
func (h *Handle) sampleSpeeds(down, up int64) {
	now := time.Now()
	if h.prevSample.IsZero() {
		h.prevSample = now
		h.prevDown = down
		h.prevUp = up
		return
	}
	dt := now.Sub(h.prevSample).Seconds()
	if dt < 0.5 {
		return
	}
	h.downRate = int64(float64(down-h.prevDown) / dt)
	h.upRate = int64(float64(up-h.prevUp) / dt)
	if h.downRate < 0 {
		h.downRate = 0
	}
	if h.upRate < 0 {
		h.upRate = 0
	}
	h.prevSample = now
	h.prevDown = down
	h.prevUp = up
}

func (h *Handle) Metadata() (domain.Metadata, bool) {
	if !h.infoReady() {
		return domain.Metadata{}, false
	}
	info := h.t.Info()
	mi := h.t.Metainfo()

	files := h.t.Files()
	entries := make([]domain.FileEntry, len(files))
	for i, f := range files {
		entries[i] = domain.FileEntry{
			Index:  i,
			Path:   f.Path(),
			Size:   f.Length(),
			Offset: f.Offset(),
		}
	}
	private := info.Private != nil && *info.Private
	return domain.Metadata{
		Name:        info.Name,
		NumFiles:    len(entries),
		NumPieces:   h.t.NumPieces(),
		PieceLength: info.PieceLength,
		TotalSize:   h.t.Length(),
		Private:     private,
		Comment:     mi.Comment,
		Files:       entries,
	}, true
}

func (h *Handle) Trackers() []domain.Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Tracker, len(h.trackers))
	copy(out, h.trackers)
	return out
}

// ReplaceTrackers swaps the tracked tier list. The client can only
// grow its announce list, so removed URLs stop being reported but may
// still be announced until restart.
func (h *Handle) ReplaceTrackers(trackers []domain.Tracker) error {
	tiers := make(map[int][]string)
	maxTier := -1
	for _, tr := range trackers {
		tiers[tr.Tier] = append(tiers[tr.Tier], tr.URL)
		if tr.Tier > maxTier {
			maxTier = tr.Tier
		}
	}
	announce := make([][]string, 0, maxTier+1)
	for tier := 0; tier <= maxTier; tier++ {
		if urls := tiers[tier]; len(urls) > 0 {
			announce = append(announce, urls)
		}
	}
	h.t.AddTrackers(announce)

	h.mu.Lock()
	h.trackers = make([]domain.Tracker, len(trackers))
	copy(h.trackers, trackers)
	h.mu.Unlock()
	return nil
}

func (h *Handle) Peers() []domain.PeerInfo {
	swarm := h.t.KnownSwarm()
	out := make([]domain.PeerInfo, 0, len(swarm))
	for _, p := range swarm {
		if p.Addr == nil {
			continue
		}
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err != nil {
			host = p.Addr.String()
		}
		out = append(out, domain.PeerInfo{IP: host})
	}
	return out
}

// hardPause cuts all transfer without dropping the torrent, so resume
// keeps verified pieces and swarm knowledge.
func (h *Handle) hardPause() {
	h.t.DisallowDataDownload()
	h.t.DisallowDataUpload()
	h.t.SetMaxEstablishedConns(0)
}

func (h *Handle) startTransfer() {
	h.mu.Lock()
	conns := h.maxConns
	h.mu.Unlock()
	if conns <= 0 {
		conns = defaultMaxConns
	}
	h.t.SetMaxEstablishedConns(conns)
	h.t.AllowDataDownload()
	h.t.AllowDataUpload()
	if h.infoReady() {
		h.t.DownloadAll()
	}
}

func (h *Handle) Pause() error {
	h.mu.Lock()
	already := h.paused
	h.paused = true
	h.mu.Unlock()
	if already {
		return nil
	}
	h.hardPause()
	h.e.emit(domain.TorrentPausedAlert{ID: h.id})
	return nil
}

func (h *Handle) Resume() error {
	h.mu.Lock()
	already := !h.paused
	h.paused = false
	h.mu.Unlock()
	if already {
		return nil
	}
	if !h.e.SessionPaused() {
		h.startTransfer()
	}
	h.e.emit(domain.TorrentResumedAlert{ID: h.id})
	return nil
}

func (h *Handle) IsPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Handle) SetAutoManaged(v bool) {
	h.mu.Lock()
	h.autoManaged = v
	h.mu.Unlock()
}

func (h *Handle) IsAutoManaged() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.autoManaged
}

// applySessionPause toggles global transfer without touching the
// per-torrent paused flag. Called with the engine lock held.
func (h *Handle) applySessionPause(paused bool) {
	if paused {
		h.hardPause()
		return
	}
	h.mu.Lock()
	own := h.paused
	h.mu.Unlock()
	if !own {
		h.startTransfer()
	}
}

func (h *Handle) QueuePosition() int { return h.e.queuePosition(h.id) }

func (h *Handle) QueueTop() {
	h.e.moveQueue(h.id, func(cur, n int) int { return 0 })
}

func (h *Handle) QueueUp() {
	h.e.moveQueue(h.id, func(cur, n int) int { return cur - 1 })
}

func (h *Handle) QueueDown() {
	h.e.moveQueue(h.id, func(cur, n int) int { return cur + 1 })
}

func (h *Handle) QueueBottom() {
	h.e.moveQueue(h.id, func(cur, n int) int { return n - 1 })
}

func (h *Handle) SetMaxConnections(n int) {
	h.mu.Lock()
	h.maxConns = n
	paused := h.paused
	h.mu.Unlock()
	if paused || h.e.SessionPaused() {
		return
	}
	if n <= 0 {
		n = defaultMaxConns
	}
	h.t.SetMaxEstablishedConns(n)
}

// SetMaxUploadSlots is tracked for status reporting only; the client
// manages unchoke slots globally.
func (h *Handle) SetMaxUploadSlots(n int) {
	h.mu.Lock()
	h.maxUploadSlots = n
	h.mu.Unlock()
}

// SetUploadLimit is tracked for status reporting only; the client rate
// limiter is configured per client, not per torrent.
func (h *Handle) SetUploadLimit(kibPerSec float64) {
	h.mu.Lock()
	h.uploadLimit = kibPerSec
	h.mu.Unlock()
}

func (h *Handle) SetDownloadLimit(kibPerSec float64) {
	h.mu.Lock()
	h.downloadLimit = kibPerSec
	h.mu.Unlock()
}

func (h *Handle) SetSequentialDownload(v bool) {
	h.mu.Lock()
	h.sequential = v
	h.mu.Unlock()
}

func (h *Handle) FilePriorities() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.filePrios))
	copy(out, h.filePrios)
	return out
}

func (h *Handle) SetFilePriorities(prios []int) error {
	if !h.infoReady() {
		return errors.New("set file priorities: metadata not available")
	}
	files := h.t.Files()
	if len(prios) != len(files) {
		return fmt.Errorf("set file priorities: got %d priorities for %d files", len(prios), len(files))
	}
	for i, f := range files {
		f.SetPriority(piecePriorityFor(prios[i]))
	}
	h.mu.Lock()
	h.filePrios = make([]int, len(prios))
	copy(h.filePrios, prios)
	h.mu.Unlock()
	return nil
}

func (h *Handle) PiecePriorities() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.piecePrios))
	copy(out, h.piecePrios)
	return out
}

func (h *Handle) SetPiecePriorities(prios []int) error {
	if !h.infoReady() {
		return errors.New("set piece priorities: metadata not available")
	}
	if n := h.t.NumPieces(); len(prios) != n {
		return fmt.Errorf("set piece priorities: got %d priorities for %d pieces", len(prios), n)
	}
	for i, p := range prios {
		h.t.Piece(i).SetPriority(piecePriorityFor(p))
	}
	h.mu.Lock()
	h.piecePrios = make([]int, len(prios))
	copy(h.piecePrios, prios)
	h.mu.Unlock()
	return nil
}

// piecePriorityFor maps the 0..7 priority scale onto the client's
// coarser levels.
func piecePriorityFor(p int) torrent.PiecePriority {
	switch {
	case p <= 0:
		return torrent.PiecePriorityNone
	case p >= 7:
		return torrent.PiecePriorityNow
	case p >= 5:
		return torrent.PiecePriorityHigh
	default:
		return torrent.PiecePriorityNormal
	}
}

func (h *Handle) FileProgress() []float64 {
	if !h.infoReady() {
		return nil
	}
	files := h.t.Files()
	out := make([]float64, len(files))
	for i, f := range files {
		if f.Length() > 0 {
			out[i] = float64(f.BytesCompleted()) / float64(f.Length())
		}
	}
	return out
}

// PieceAvailability is not observable through the client API.
func (h *Handle) PieceAvailability() []int { return nil }

func (h *Handle) NeedSaveResumeData() bool {
	if !h.infoReady() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.BytesCompleted() != h.lastSaveDone
}

// SaveResumeData serializes progress accounting off the caller's
// goroutine and reports the result as an alert.
func (h *Handle) SaveResumeData() {
	go func() {
		h.mu.Lock()
		completed := int64(0)
		length := int64(0)
		if h.infoReady() {
			completed = h.t.BytesCompleted()
			length = h.t.Length()
		}
		stats := h.t.Stats()
		blob := resumeBlob{
			InfoHash:  string(h.id),
			Completed: completed,
			Uploaded:  stats.BytesWrittenData.Int64(),
			Finished:  h.resumeFinished || (length > 0 && completed >= length),
			SavePath:  h.savePath,
		}
		h.lastSaveDone = completed
		h.mu.Unlock()

		data, err := bencode.EncodeBytes(blob)
		if err != nil {
			h.e.emit(domain.SaveResumeDataFailedAlert{ID: h.id, Message: err.Error()})
			return
		}
		h.e.emit(domain.SaveResumeDataAlert{ID: h.id, Data: data})
	}()
}

// ForceRecheck re-hashes everything on disk. The torrent reports the
// checking state until verification finishes, then a checked alert
// fires.
func (h *Handle) ForceRecheck() error {
	if !h.infoReady() {
		return errors.New("force recheck: metadata not available")
	}
	h.mu.Lock()
	if h.checking {
		h.mu.Unlock()
		return nil
	}
	h.checking = true
	h.resumeFinished = false
	h.mu.Unlock()

	go func() {
		err := h.t.VerifyData()
		h.mu.Lock()
		h.checking = false
		h.mu.Unlock()
		if err != nil {
			h.e.log.Warn("data verification failed",
				slog.String("torrentId", string(h.id)), slog.Any("error", err))
		}
		h.e.emit(domain.TorrentCheckedAlert{ID: h.id})
	}()
	return nil
}

// ForceReannounce is not exposed by the client; announces run on its
// internal schedule.
func (h *Handle) ForceReannounce() error { return domain.ErrUnsupported }

// ScrapeTracker is not exposed by the client.
func (h *Handle) ScrapeTracker() error { return domain.ErrUnsupported }

func (h *Handle) ConnectPeer(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect peer: %w", err)
	}
	h.t.AddPeers([]torrent.PeerInfo{{Addr: tcpAddr}})
	return nil
}

// MoveStorage relocates the downloaded payload on disk and reports the
// outcome as an alert. Transfer is held while files move.
func (h *Handle) MoveStorage(dest string) error {
	h.mu.Lock()
	src := h.savePath
	paused := h.paused
	h.mu.Unlock()
	if src == dest {
		return nil
	}

	go func() {
		if !paused {
			h.hardPause()
		}
		err := h.moveRoots(src, dest)
		if !paused && !h.e.SessionPaused() {
			h.startTransfer()
		}
		if err != nil {
			h.e.emit(domain.StorageMovedFailedAlert{ID: h.id, Message: err.Error()})
			return
		}
		h.mu.Lock()
		h.savePath = dest
		h.mu.Unlock()
		h.e.emit(domain.StorageMovedAlert{ID: h.id, Path: dest})
	}()
	return nil
}

// moveRoots renames every top-level payload entry from src to dest.
// Entries that do not exist yet (nothing downloaded) are skipped.
func (h *Handle) moveRoots(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	roots := make(map[string]struct{})
	if h.infoReady() {
		for _, f := range h.t.Files() {
			roots[topComponent(f.Path())] = struct{}{}
		}
	}
	for root := range roots {
		from := filepath.Join(src, root)
		if _, err := os.Stat(from); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(from, filepath.Join(dest, root)); err != nil {
			return err
		}
	}
	return nil
}

// topComponent returns the first path element of a slash-separated
// torrent file path.
func topComponent(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// RenameFile renames the payload file on disk when it already exists
// and confirms the new name with an alert either way.
func (h *Handle) RenameFile(index int, name string) error {
	if !h.infoReady() {
		return errors.New("rename file: metadata not available")
	}
	files := h.t.Files()
	if index < 0 || index >= len(files) {
		return fmt.Errorf("rename file: index %d out of range", index)
	}

	h.mu.Lock()
	base := h.savePath
	h.mu.Unlock()

	oldPath := filepath.Join(base, filepath.FromSlash(files[index].Path()))
	newPath := filepath.Join(base, filepath.FromSlash(name))
	if _, err := os.Stat(oldPath); err == nil {
		if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return fmt.Errorf("rename file: %w", err)
		}
		if err := os.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("rename file: %w", err)
		}
	}
	h.e.emit(domain.FileRenamedAlert{ID: h.id, Index: index, Name: name})
	return nil
}

// poll diffs the torrent against its last observed shape and emits the
// alerts the client never delivers itself.
func (h *Handle) poll() {
	h.mu.Lock()

	infoReady := h.infoReady()
	if infoReady && !h.metaSent {
		h.metaSent = true
		n := len(h.t.Files())
		if len(h.filePrios) == 0 {
			h.filePrios = make([]int, n)
			for i := range h.filePrios {
				h.filePrios[i] = 1
			}
		}
		if len(h.piecePrios) == 0 {
			h.piecePrios = make([]int, h.t.NumPieces())
			for i := range h.piecePrios {
				h.piecePrios[i] = 1
			}
		}
		h.fileDone = make([]bool, n)
		paused := h.paused
		h.mu.Unlock()

		if !paused && !h.e.SessionPaused() {
			h.t.DownloadAll()
		}
		mi := h.t.Metainfo()
		var buf bytes.Buffer
		if err := mi.Write(&buf); err != nil {
			h.e.log.Warn("encode received metadata",
				slog.String("torrentId", string(h.id)), slog.Any("error", err))
		}
		h.e.emit(domain.MetadataReceivedAlert{ID: h.id, Metainfo: buf.Bytes()})
		h.mu.Lock()
	}

	state := h.engineStateLocked()
	if state != h.lastState {
		h.lastState = state
		h.mu.Unlock()
		h.e.emit(domain.StateChangedAlert{ID: h.id, State: state})
		h.mu.Lock()
	}

	if infoReady {
		complete := h.t.Length() > 0 && h.t.BytesCompleted() >= h.t.Length()
		if complete && !h.wasComplete {
			h.wasComplete = true
			h.seedingSince = time.Now()
			h.mu.Unlock()
			h.e.emit(domain.TorrentFinishedAlert{ID: h.id})
			h.mu.Lock()
		}

		files := h.t.Files()
		for i, f := range files {
			if i >= len(h.fileDone) || h.fileDone[i] {
				continue
			}
			if f.Length() > 0 && f.BytesCompleted() >= f.Length() {
				h.fileDone[i] = true
				h.mu.Unlock()
				h.e.emit(domain.FileCompletedAlert{ID: h.id, Index: i})
				h.mu.Lock()
			}
		}
	}
	h.mu.Unlock()
}

// drop removes the torrent from the client, optionally deleting the
// payload from disk.
func (h *Handle) drop(removeData bool) {
	var roots map[string]struct{}
	var base string
	if removeData && h.infoReady() {
		roots = make(map[string]struct{})
		for _, f := range h.t.Files() {
			roots[topComponent(f.Path())] = struct{}{}
		}
		h.mu.Lock()
		base = h.savePath
		h.mu.Unlock()
	}
	h.t.Drop()
	for root := range roots {
		if err := os.RemoveAll(filepath.Join(base, root)); err != nil {
			h.e.log.Warn("remove payload",
				slog.String("torrentId", string(h.id)), slog.Any("error", err))
		}
	}
}
