package domain

// Alert is a notification produced by the engine and consumed by the session
// layer. The set of alert kinds is closed: handlers dispatch with a type
// switch over the concrete structs below.
type Alert interface {
	isAlert()
	Kind() string
}

type TorrentFinishedAlert struct{ ID TorrentID }

type TorrentPausedAlert struct{ ID TorrentID }

type TorrentResumedAlert struct{ ID TorrentID }

type TorrentCheckedAlert struct{ ID TorrentID }

type StateChangedAlert struct {
	ID    TorrentID
	State EngineState
}

type TrackerReplyAlert struct {
	ID            TorrentID
	URL           string
	NumComplete   int
	NumIncomplete int
	Message       string
}

type TrackerAnnounceAlert struct {
	ID  TorrentID
	URL string
}

type TrackerWarningAlert struct {
	ID      TorrentID
	URL     string
	Message string
}

type TrackerErrorAlert struct {
	ID      TorrentID
	URL     string
	Message string
}

type StorageMovedAlert struct {
	ID   TorrentID
	Path string
}

type StorageMovedFailedAlert struct {
	ID      TorrentID
	Message string
}

type SaveResumeDataAlert struct {
	ID   TorrentID
	Data []byte
}

type SaveResumeDataFailedAlert struct {
	ID      TorrentID
	Message string
}

type FileRenamedAlert struct {
	ID    TorrentID
	Index int
	Name  string
}

// MetadataReceivedAlert carries the full metainfo bytes so the session layer
// can persist a .torrent copy without another engine round-trip.
type MetadataReceivedAlert struct {
	ID       TorrentID
	Metainfo []byte
}

type FileErrorAlert struct {
	ID      TorrentID
	Message string
}

type FileCompletedAlert struct {
	ID    TorrentID
	Index int
}

type PerformanceAlert struct {
	ID      TorrentID
	Message string
}

// StateUpdateAlert carries a batch of fresh engine snapshots in response to a
// posted status update request.
type StateUpdateAlert struct {
	Statuses []StatusUpdate
}

func (TorrentFinishedAlert) isAlert()      {}
func (TorrentPausedAlert) isAlert()        {}
func (TorrentResumedAlert) isAlert()       {}
func (TorrentCheckedAlert) isAlert()       {}
func (StateChangedAlert) isAlert()         {}
func (TrackerReplyAlert) isAlert()         {}
func (TrackerAnnounceAlert) isAlert()      {}
func (TrackerWarningAlert) isAlert()       {}
func (TrackerErrorAlert) isAlert()         {}
func (StorageMovedAlert) isAlert()         {}
func (StorageMovedFailedAlert) isAlert()   {}
func (SaveResumeDataAlert) isAlert()       {}
func (SaveResumeDataFailedAlert) isAlert() {}
func (FileRenamedAlert) isAlert()          {}
func (MetadataReceivedAlert) isAlert()     {}
func (FileErrorAlert) isAlert()            {}
func (FileCompletedAlert) isAlert()        {}
func (PerformanceAlert) isAlert()          {}
func (StateUpdateAlert) isAlert()          {}

func (TorrentFinishedAlert) Kind() string      { return "torrent_finished" }
func (TorrentPausedAlert) Kind() string        { return "torrent_paused" }
func (TorrentResumedAlert) Kind() string       { return "torrent_resumed" }
func (TorrentCheckedAlert) Kind() string       { return "torrent_checked" }
func (StateChangedAlert) Kind() string         { return "state_changed" }
func (TrackerReplyAlert) Kind() string         { return "tracker_reply" }
func (TrackerAnnounceAlert) Kind() string      { return "tracker_announce" }
func (TrackerWarningAlert) Kind() string       { return "tracker_warning" }
func (TrackerErrorAlert) Kind() string         { return "tracker_error" }
func (StorageMovedAlert) Kind() string         { return "storage_moved" }
func (StorageMovedFailedAlert) Kind() string   { return "storage_moved_failed" }
func (SaveResumeDataAlert) Kind() string       { return "save_resume_data" }
func (SaveResumeDataFailedAlert) Kind() string { return "save_resume_data_failed" }
func (FileRenamedAlert) Kind() string          { return "file_renamed" }
func (MetadataReceivedAlert) Kind() string     { return "metadata_received" }
func (FileErrorAlert) Kind() string            { return "file_error" }
func (FileCompletedAlert) Kind() string        { return "file_completed" }
func (PerformanceAlert) Kind() string          { return "performance" }
func (StateUpdateAlert) Kind() string          { return "state_update" }
