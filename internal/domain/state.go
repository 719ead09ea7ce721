package domain

// TorrentID is the hex-encoded infohash of a torrent. It is immutable for
// the lifetime of the torrent and doubles as the registry key.
type TorrentID string

// State is the application-level torrent state presented to observers. It is
// derived from the engine's native state plus local pause/queue policy and is
// never authoritative on its own.
type State string

const (
	StateQueued      State = "Queued"
	StateChecking    State = "Checking"
	StateDownloading State = "Downloading"
	StateSeeding     State = "Seeding"
	StateAllocating  State = "Allocating"
	StatePaused      State = "Paused"
	StateError       State = "Error"
)

// ValidState reports whether s is one of the observable torrent states.
func ValidState(s State) bool {
	switch s {
	case StateQueued, StateChecking, StateDownloading, StateSeeding,
		StateAllocating, StatePaused, StateError:
		return true
	}
	return false
}

// EngineState is the engine's native per-torrent state vocabulary, richer
// than the observable State and collapsed by the state machine.
type EngineState int

const (
	EngineQueuedForChecking EngineState = iota
	EngineCheckingFiles
	EngineDownloadingMetadata
	EngineDownloading
	EngineFinished
	EngineSeeding
	EngineAllocating
	EngineCheckingResumeData
)

func (s EngineState) String() string {
	switch s {
	case EngineQueuedForChecking:
		return "Queued"
	case EngineCheckingFiles:
		return "Checking"
	case EngineDownloadingMetadata:
		return "Downloading Metadata"
	case EngineDownloading:
		return "Downloading"
	case EngineFinished:
		return "Finished"
	case EngineSeeding:
		return "Seeding"
	case EngineAllocating:
		return "Allocating"
	case EngineCheckingResumeData:
		return "Checking Resume Data"
	default:
		return "Unknown"
	}
}
