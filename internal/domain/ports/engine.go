package ports

import "torrentsession/internal/domain"

// AddTorrentParams carries everything the engine needs to admit a torrent.
// Exactly one of Metainfo or Magnet must be set.
type AddTorrentParams struct {
	Metainfo []byte
	Magnet   string

	SavePath          string
	CompactAllocation bool
	Paused            bool
	AutoManaged       bool

	ResumeData  []byte
	MappedFiles map[int]string
}

// Engine abstracts the underlying bittorrent implementation. All methods are
// safe for concurrent use; alerts are delivered on a single channel and must
// be drained by exactly one consumer.
type Engine interface {
	AddTorrent(params AddTorrentParams) (Handle, error)
	RemoveTorrent(id domain.TorrentID, removeData bool) error

	PauseSession()
	ResumeSession()
	SessionPaused() bool

	// PostTorrentUpdates requests a StateUpdateAlert carrying fresh
	// snapshots for every torrent in the engine.
	PostTorrentUpdates()

	Alerts() <-chan domain.Alert

	Close() error
}

// Handle is the engine-side view of one admitted torrent.
type Handle interface {
	InfoHash() domain.TorrentID
	Status() domain.EngineStatus
	Metadata() (domain.Metadata, bool)

	Trackers() []domain.Tracker
	ReplaceTrackers([]domain.Tracker) error
	Peers() []domain.PeerInfo

	Pause() error
	Resume() error
	IsPaused() bool
	SetAutoManaged(bool)
	IsAutoManaged() bool

	QueuePosition() int
	QueueTop()
	QueueUp()
	QueueDown()
	QueueBottom()

	SetMaxConnections(int)
	SetMaxUploadSlots(int)
	SetUploadLimit(kibPerSec float64)
	SetDownloadLimit(kibPerSec float64)
	SetSequentialDownload(bool)

	FilePriorities() []int
	SetFilePriorities([]int) error
	PiecePriorities() []int
	SetPiecePriorities([]int) error
	FileProgress() []float64
	PieceAvailability() []int

	NeedSaveResumeData() bool
	SaveResumeData()

	ForceRecheck() error
	ForceReannounce() error
	ScrapeTracker() error
	ConnectPeer(addr string) error

	MoveStorage(dest string) error
	RenameFile(index int, name string) error
}
