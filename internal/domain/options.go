package domain

// Options carries the per-torrent configurable settings. Speed limits are in
// KiB/s and -1 means unlimited, matching the engine's convention.
type Options struct {
	MaxConnections      int     `json:"max_connections"`
	MaxUploadSlots      int     `json:"max_upload_slots"`
	MaxUploadSpeed      float64 `json:"max_upload_speed"`
	MaxDownloadSpeed    float64 `json:"max_download_speed"`
	PrioritizeFirstLast bool    `json:"prioritize_first_last_pieces"`
	SequentialDownload  bool    `json:"sequential_download"`
	CompactAllocation   bool    `json:"compact_allocation"`
	DownloadLocation    string  `json:"download_location"`
	AutoManaged         bool    `json:"auto_managed"`
	StopAtRatio         bool    `json:"stop_at_ratio"`
	StopRatio           float64 `json:"stop_ratio"`
	RemoveAtRatio       bool    `json:"remove_at_ratio"`
	MoveCompleted       bool    `json:"move_completed"`
	MoveCompletedPath   string  `json:"move_completed_path"`
	AddPaused           bool    `json:"add_paused"`
	Shared              bool    `json:"shared"`
	Owner               string  `json:"owner"`

	FilePriorities []int          `json:"file_priorities"`
	MappedFiles    map[int]string `json:"mapped_files,omitempty"`
}

// DefaultOptions returns the session-wide defaults a new torrent starts from
// before any per-add overrides are applied.
func DefaultOptions() Options {
	return Options{
		MaxConnections:   -1,
		MaxUploadSlots:   -1,
		MaxUploadSpeed:   -1,
		MaxDownloadSpeed: -1,
		AutoManaged:      true,
		StopRatio:        2.0,
	}
}

// OptionPatch is a partial update of Options. Nil fields are left untouched
// when the patch is applied.
type OptionPatch struct {
	MaxConnections      *int     `json:"max_connections,omitempty"`
	MaxUploadSlots      *int     `json:"max_upload_slots,omitempty"`
	MaxUploadSpeed      *float64 `json:"max_upload_speed,omitempty"`
	MaxDownloadSpeed    *float64 `json:"max_download_speed,omitempty"`
	PrioritizeFirstLast *bool    `json:"prioritize_first_last_pieces,omitempty"`
	SequentialDownload  *bool    `json:"sequential_download,omitempty"`
	DownloadLocation    *string  `json:"download_location,omitempty"`
	AutoManaged         *bool    `json:"auto_managed,omitempty"`
	StopAtRatio         *bool    `json:"stop_at_ratio,omitempty"`
	StopRatio           *float64 `json:"stop_ratio,omitempty"`
	RemoveAtRatio       *bool    `json:"remove_at_ratio,omitempty"`
	MoveCompleted       *bool    `json:"move_completed,omitempty"`
	MoveCompletedPath   *string  `json:"move_completed_path,omitempty"`
	AddPaused           *bool    `json:"add_paused,omitempty"`
	CompactAllocation   *bool    `json:"compact_allocation,omitempty"`
	Shared              *bool    `json:"shared,omitempty"`
	Owner               *string  `json:"owner,omitempty"`

	FilePriorities []int          `json:"file_priorities,omitempty"`
	MappedFiles    map[int]string `json:"mapped_files,omitempty"`
}

// Merged returns a copy of o with every non-nil patch field applied.
func (o Options) Merged(p OptionPatch) Options {
	if p.MaxConnections != nil {
		o.MaxConnections = *p.MaxConnections
	}
	if p.MaxUploadSlots != nil {
		o.MaxUploadSlots = *p.MaxUploadSlots
	}
	if p.MaxUploadSpeed != nil {
		o.MaxUploadSpeed = *p.MaxUploadSpeed
	}
	if p.MaxDownloadSpeed != nil {
		o.MaxDownloadSpeed = *p.MaxDownloadSpeed
	}
	if p.PrioritizeFirstLast != nil {
		o.PrioritizeFirstLast = *p.PrioritizeFirstLast
	}
	if p.SequentialDownload != nil {
		o.SequentialDownload = *p.SequentialDownload
	}
	if p.DownloadLocation != nil {
		o.DownloadLocation = *p.DownloadLocation
	}
	if p.AutoManaged != nil {
		o.AutoManaged = *p.AutoManaged
	}
	if p.StopAtRatio != nil {
		o.StopAtRatio = *p.StopAtRatio
	}
	if p.StopRatio != nil {
		o.StopRatio = *p.StopRatio
	}
	if p.RemoveAtRatio != nil {
		o.RemoveAtRatio = *p.RemoveAtRatio
	}
	if p.MoveCompleted != nil {
		o.MoveCompleted = *p.MoveCompleted
	}
	if p.MoveCompletedPath != nil {
		o.MoveCompletedPath = *p.MoveCompletedPath
	}
	if p.AddPaused != nil {
		o.AddPaused = *p.AddPaused
	}
	if p.CompactAllocation != nil {
		o.CompactAllocation = *p.CompactAllocation
	}
	if p.Shared != nil {
		o.Shared = *p.Shared
	}
	if p.MappedFiles != nil {
		o.MappedFiles = p.MappedFiles
	}
	if p.Owner != nil {
		o.Owner = *p.Owner
	}
	if p.FilePriorities != nil {
		o.FilePriorities = append([]int(nil), p.FilePriorities...)
	}
	return o
}
