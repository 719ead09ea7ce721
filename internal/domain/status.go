package domain

// EngineStatus is the raw per-torrent snapshot reported by the engine. All
// rates are bytes per second, sizes are bytes.
type EngineStatus struct {
	State       EngineState
	Error       string
	Paused      bool
	AutoManaged bool

	Progress float64 // 0..100

	DownloadPayloadRate int64
	UploadPayloadRate   int64

	AllTimeDownload      int64
	AllTimeUpload        int64
	TotalPayloadDownload int64
	TotalPayloadUpload   int64

	TotalDone       int64
	TotalWanted     int64
	TotalWantedDone int64

	NumPeers      int
	NumSeeds      int
	NumComplete   int
	NumIncomplete int

	DistributedCopies float64
	SeedRank          int

	ActiveTime  int64 // seconds
	SeedingTime int64 // seconds

	NextAnnounce   int64 // seconds until next tracker announce
	CurrentTracker string

	Pieces []bool

	IsFinished       bool
	IsSeed           bool
	LastSeenComplete int64 // unix seconds, 0 if never

	SavePath      string
	QueuePosition int
}

// PeerInfo describes one connected peer in a status query.
type PeerInfo struct {
	Client    string  `json:"client"`
	Country   string  `json:"country"`
	IP        string  `json:"ip"`
	Progress  float64 `json:"progress"`
	Seed      bool    `json:"seed"`
	DownSpeed int64   `json:"down_speed"`
	UpSpeed   int64   `json:"up_speed"`
}

// StatusUpdate pairs a torrent with a fresh engine snapshot, as carried by a
// batch status alert.
type StatusUpdate struct {
	ID     TorrentID
	Status EngineStatus
}
