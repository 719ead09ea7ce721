package domain

// TorrentRecord is the persisted form of one torrent, serialized into the
// session state file. Fields mirror the live torrent's options plus the
// position and identity needed to restore it.
type TorrentRecord struct {
	ID       TorrentID `json:"id"`
	Filename string    `json:"filename,omitempty"`
	Magnet   string    `json:"magnet,omitempty"`

	DownloadLocation    string  `json:"download_location"`
	MaxConnections      int     `json:"max_connections"`
	MaxUploadSlots      int     `json:"max_upload_slots"`
	MaxUploadSpeed      float64 `json:"max_upload_speed"`
	MaxDownloadSpeed    float64 `json:"max_download_speed"`
	PrioritizeFirstLast bool    `json:"prioritize_first_last"`
	SequentialDownload  bool    `json:"sequential_download"`
	CompactAllocation   bool    `json:"compact,omitempty"`
	AutoManaged         bool    `json:"auto_managed"`
	StopAtRatio         bool    `json:"stop_at_ratio"`
	StopRatio           float64 `json:"stop_ratio"`
	RemoveAtRatio       bool    `json:"remove_at_ratio"`
	MoveCompleted       bool    `json:"move_completed"`
	MoveCompletedPath   string  `json:"move_completed_path"`
	Shared              bool    `json:"shared"`

	Paused         bool           `json:"paused"`
	QueuePosition  int            `json:"queue_position"`
	IsFinished     bool           `json:"is_finished"`
	TimeAdded      int64          `json:"time_added"`
	TotalUploaded  int64          `json:"total_uploaded"`
	TrackerTiers   []Tracker      `json:"trackers,omitempty"`
	FilePriorities []int          `json:"file_priorities,omitempty"`
	MappedFiles    map[int]string `json:"mapped_files,omitempty"`
	Owner          string         `json:"owner,omitempty"`
	Name           string         `json:"name,omitempty"`
}

// RecordOptions converts the persisted fields back into live Options.
func (r TorrentRecord) RecordOptions() Options {
	return Options{
		MaxConnections:      r.MaxConnections,
		MaxUploadSlots:      r.MaxUploadSlots,
		MaxUploadSpeed:      r.MaxUploadSpeed,
		MaxDownloadSpeed:    r.MaxDownloadSpeed,
		PrioritizeFirstLast: r.PrioritizeFirstLast,
		SequentialDownload:  r.SequentialDownload,
		CompactAllocation:   r.CompactAllocation,
		DownloadLocation:    r.DownloadLocation,
		AutoManaged:         r.AutoManaged,
		StopAtRatio:         r.StopAtRatio,
		StopRatio:           r.StopRatio,
		RemoveAtRatio:       r.RemoveAtRatio,
		MoveCompleted:       r.MoveCompleted,
		MoveCompletedPath:   r.MoveCompletedPath,
		AddPaused:           r.Paused,
		Shared:              r.Shared,
		Owner:               r.Owner,
		FilePriorities:      r.FilePriorities,
		MappedFiles:         r.MappedFiles,
	}
}

// SessionState is the top-level persisted session document.
type SessionState struct {
	Version  int             `json:"version"`
	Torrents []TorrentRecord `json:"torrents"`
}

// StateVersion is the current on-disk session state schema version.
const StateVersion = 2
