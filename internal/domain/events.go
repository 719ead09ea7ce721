package domain

// Event is a session-level notification emitted after the registry has been
// updated, for observers such as the websocket hub. The set of event kinds is
// closed.
type Event interface {
	isEvent()
	Kind() string
}

type TorrentAddedEvent struct {
	ID        TorrentID
	FromState bool // true when restored from saved session state
}

// PreTorrentRemovedEvent fires before the torrent leaves the registry, so
// observers can still query it.
type PreTorrentRemovedEvent struct{ ID TorrentID }

type TorrentRemovedEvent struct{ ID TorrentID }

type TorrentStateChangedEvent struct {
	ID    TorrentID
	State State
}

type TorrentFinishedEvent struct{ ID TorrentID }

type TorrentResumedEvent struct{ ID TorrentID }

type TorrentFileRenamedEvent struct {
	ID    TorrentID
	Index int
	Name  string
}

type TorrentFolderRenamedEvent struct {
	ID  TorrentID
	Old string
	New string
}

type TorrentFileCompletedEvent struct {
	ID    TorrentID
	Index int
}

type TorrentTrackerStatusEvent struct {
	ID     TorrentID
	Status string
}

type TorrentStorageMovedEvent struct {
	ID   TorrentID
	Path string
}

// SessionStartedEvent fires once after saved state has been loaded and the
// manager loop is running.
type SessionStartedEvent struct{}

// SessionPausedEvent and SessionResumedEvent report global pause toggles.
type SessionPausedEvent struct{}

type SessionResumedEvent struct{}

func (TorrentAddedEvent) isEvent()         {}
func (PreTorrentRemovedEvent) isEvent()    {}
func (TorrentRemovedEvent) isEvent()       {}
func (TorrentStateChangedEvent) isEvent()  {}
func (TorrentFinishedEvent) isEvent()      {}
func (TorrentResumedEvent) isEvent()       {}
func (TorrentFileRenamedEvent) isEvent()   {}
func (TorrentFolderRenamedEvent) isEvent() {}
func (TorrentFileCompletedEvent) isEvent() {}
func (TorrentTrackerStatusEvent) isEvent() {}
func (TorrentStorageMovedEvent) isEvent()  {}
func (SessionStartedEvent) isEvent()       {}
func (SessionPausedEvent) isEvent()        {}
func (SessionResumedEvent) isEvent()       {}

func (TorrentAddedEvent) Kind() string         { return "torrent_added" }
func (PreTorrentRemovedEvent) Kind() string    { return "pre_torrent_removed" }
func (TorrentRemovedEvent) Kind() string       { return "torrent_removed" }
func (TorrentStateChangedEvent) Kind() string  { return "torrent_state_changed" }
func (TorrentFinishedEvent) Kind() string      { return "torrent_finished" }
func (TorrentResumedEvent) Kind() string       { return "torrent_resumed" }
func (TorrentFileRenamedEvent) Kind() string   { return "torrent_file_renamed" }
func (TorrentFolderRenamedEvent) Kind() string { return "torrent_folder_renamed" }
func (TorrentFileCompletedEvent) Kind() string { return "torrent_file_completed" }
func (TorrentTrackerStatusEvent) Kind() string { return "torrent_tracker_status" }
func (TorrentStorageMovedEvent) Kind() string  { return "torrent_storage_moved" }
func (SessionStartedEvent) Kind() string       { return "session_started" }
func (SessionPausedEvent) Kind() string        { return "session_paused" }
func (SessionResumedEvent) Kind() string       { return "session_resumed" }
