package anacrolix

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

const (
	// defaultMaxConns balances peer connection count against open
	// file descriptors on small hosts.
	defaultMaxConns = 35

	alertBuffer  = 1024
	pollInterval = time.Second
)

var (
	ErrEngineClosed  = errors.New("engine closed")
	ErrUnknownHandle = errors.New("unknown torrent handle")
)

// Config carries the engine-level knobs. Zero values fall back to
// defaults in New.
type Config struct {
	DataDir         string
	ListenPort      int
	NoDHT           bool
	DownloadLimit   float64 // KiB/s for the whole client, <= 0 unlimited
	UploadLimit     float64 // KiB/s for the whole client, <= 0 unlimited
	MetadataTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 2 * time.Minute
	}
	return c
}

// Engine adapts an anacrolix/torrent client to the ports.Engine
// contract. All engine observations reach the session layer as alerts
// on a single channel; a background poller synthesizes the alerts the
// underlying client does not deliver natively.
type Engine struct {
	client *torrent.Client
	log    *slog.Logger
	cfg    Config

	mu            sync.RWMutex
	handles       map[domain.TorrentID]*Handle
	order         []domain.TorrentID
	sessionPaused bool

	alerts    chan domain.Alert
	pollLimit *rate.Limiter
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New builds the torrent client and starts the alert poller.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	clientCfg := torrent.NewDefaultClientConfig()
	clientCfg.DataDir = cfg.DataDir
	clientCfg.NoDHT = cfg.NoDHT
	// Zero picks an ephemeral port.
	clientCfg.ListenPort = cfg.ListenPort
	if cfg.DownloadLimit > 0 {
		clientCfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadLimit*1024), 256<<10)
	}
	if cfg.UploadLimit > 0 {
		clientCfg.UploadRateLimiter = rate.NewLimiter(rate.Limit(cfg.UploadLimit*1024), 256<<10)
	}

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	e := &Engine{
		client:    client,
		log:       log.With(slog.String("component", "engine")),
		cfg:       cfg,
		handles:   make(map[domain.TorrentID]*Handle),
		alerts:    make(chan domain.Alert, alertBuffer),
		pollLimit: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		closed:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.pollLoop()
	return e, nil
}

// AddTorrent registers a torrent with the client. The handle starts in
// whatever paused/auto-managed mode the params request; no alert for
// the torrent is emitted before AddTorrent returns.
func (e *Engine) AddTorrent(params ports.AddTorrentParams) (ports.Handle, error) {
	select {
	case <-e.closed:
		return nil, ErrEngineClosed
	default:
	}

	var (
		t   *torrent.Torrent
		err error
	)
	switch {
	case len(params.Metainfo) > 0:
		var mi *metainfo.MetaInfo
		mi, err = metainfo.Load(bytes.NewReader(params.Metainfo))
		if err != nil {
			return nil, fmt.Errorf("parse metainfo: %w", err)
		}
		t, err = e.client.AddTorrent(mi)
	case params.Magnet != "":
		t, err = e.client.AddMagnet(params.Magnet)
	default:
		return nil, errors.New("add torrent: neither metainfo nor magnet given")
	}
	if err != nil {
		return nil, fmt.Errorf("add torrent: %w", err)
	}

	id := domain.TorrentID(t.InfoHash().HexString())

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.handles[id]; ok {
		return existing, nil
	}

	h := newHandle(e, t, id, params)
	e.handles[id] = h
	e.order = append(e.order, id)
	h.applyInitialMode(params, e.sessionPaused)

	e.log.Debug("torrent added to engine",
		slog.String("torrentId", string(id)),
		slog.Bool("paused", params.Paused))
	return h, nil
}

// RemoveTorrent drops the torrent from the client. When removeData is
// set the downloaded files are deleted from disk as well.
func (e *Engine) RemoveTorrent(id domain.TorrentID, removeData bool) error {
	e.mu.Lock()
	h, ok := e.handles[id]
	if ok {
		delete(e.handles, id)
		for i, oid := range e.order {
			if oid == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	h.drop(removeData)
	return nil
}

// PauseSession hard-pauses every torrent without touching their
// individual paused flags, so ResumeSession can restore them.
func (e *Engine) PauseSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionPaused {
		return
	}
	e.sessionPaused = true
	for _, h := range e.handles {
		h.applySessionPause(true)
	}
	e.log.Info("session paused")
}

func (e *Engine) ResumeSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sessionPaused {
		return
	}
	e.sessionPaused = false
	for _, h := range e.handles {
		h.applySessionPause(false)
	}
	e.log.Info("session resumed")
}

func (e *Engine) SessionPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessionPaused
}

// PostTorrentUpdates emits one StateUpdateAlert with a status snapshot
// for every registered torrent. Calls are rate-bounded so status-heavy
// observers cannot turn the engine into a busy loop.
func (e *Engine) PostTorrentUpdates() {
	if !e.pollLimit.Allow() {
		return
	}
	e.mu.RLock()
	handles := make([]*Handle, 0, len(e.order))
	for _, id := range e.order {
		if h, ok := e.handles[id]; ok {
			handles = append(handles, h)
		}
	}
	e.mu.RUnlock()

	updates := make([]domain.StatusUpdate, 0, len(handles))
	for _, h := range handles {
		updates = append(updates, domain.StatusUpdate{ID: h.id, Status: h.Status()})
	}
	e.emit(domain.StateUpdateAlert{Statuses: updates})
}

func (e *Engine) Alerts() <-chan domain.Alert {
	return e.alerts
}

// Close stops the poller and shuts the client down. The alert channel
// is left open so in-flight producers cannot panic; queued alerts stay
// readable.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()
		e.client.Close()
	})
	return nil
}

// emit enqueues an alert without blocking the caller. A full channel
// means the consumer stalled; periodic alerts are re-synthesized on
// the next poll so dropping is safe.
func (e *Engine) emit(a domain.Alert) {
	select {
	case <-e.closed:
		return
	default:
	}
	select {
	case e.alerts <- a:
	default:
		e.log.Warn("alert channel full, dropping alert", slog.String("kind", a.Kind()))
	}
}

// pollLoop synthesizes the alerts the client has no callbacks for:
// state transitions, completion, metadata arrival and per-file
// completion.
func (e *Engine) pollLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.mu.RLock()
			handles := make([]*Handle, 0, len(e.handles))
			for _, h := range e.handles {
				handles = append(handles, h)
			}
			e.mu.RUnlock()
			for _, h := range handles {
				h.poll()
			}
		}
	}
}

// queuePosition returns the index of id in the engine ordering, or -1.
func (e *Engine) queuePosition(id domain.TorrentID) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i, oid := range e.order {
		if oid == id {
			return i
		}
	}
	return -1
}

func (e *Engine) moveQueue(id domain.TorrentID, move func(cur int, n int) int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := -1
	for i, oid := range e.order {
		if oid == id {
			cur = i
			break
		}
	}
	if cur < 0 {
		return
	}
	dst := move(cur, len(e.order))
	if dst < 0 {
		dst = 0
	}
	if dst >= len(e.order) {
		dst = len(e.order) - 1
	}
	if dst == cur {
		return
	}
	e.order = append(e.order[:cur], e.order[cur+1:]...)
	rest := append([]domain.TorrentID{id}, e.order[dst:]...)
	e.order = append(e.order[:dst], rest...)
}
