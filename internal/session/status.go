package session

import (
	"reflect"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// StatusField names one queryable status value. The set is closed: every
// field resolves through the fixed accessor table below.
type StatusField string

const (
	FieldActiveTime          StatusField = "active_time"
	FieldAllTimeDownload     StatusField = "all_time_download"
	FieldAutoManaged         StatusField = "auto_managed"
	FieldComment             StatusField = "comment"
	FieldDistributedCopies   StatusField = "distributed_copies"
	FieldDownloadLocation    StatusField = "download_location"
	FieldDownloadRate        StatusField = "download_payload_rate"
	FieldETA                 StatusField = "eta"
	FieldFilePriorities      StatusField = "file_priorities"
	FieldFileProgress        StatusField = "file_progress"
	FieldFiles               StatusField = "files"
	FieldIsFinished          StatusField = "is_finished"
	FieldIsSeed              StatusField = "is_seed"
	FieldLastSeenComplete    StatusField = "last_seen_complete"
	FieldMaxConnections      StatusField = "max_connections"
	FieldMaxDownloadSpeed    StatusField = "max_download_speed"
	FieldMaxUploadSlots      StatusField = "max_upload_slots"
	FieldMaxUploadSpeed      StatusField = "max_upload_speed"
	FieldMessage             StatusField = "message"
	FieldMoveCompleted       StatusField = "move_completed"
	FieldMoveCompletedPath   StatusField = "move_completed_path"
	FieldName                StatusField = "name"
	FieldNextAnnounce        StatusField = "next_announce"
	FieldNumFiles            StatusField = "num_files"
	FieldNumPeers            StatusField = "num_peers"
	FieldNumPieces           StatusField = "num_pieces"
	FieldNumSeeds            StatusField = "num_seeds"
	FieldOwner               StatusField = "owner"
	FieldPaused              StatusField = "paused"
	FieldPeers               StatusField = "peers"
	FieldPieceLength         StatusField = "piece_length"
	FieldPieces              StatusField = "pieces"
	FieldPrioritizeFirstLast StatusField = "prioritize_first_last"
	FieldPrivate             StatusField = "private"
	FieldProgress            StatusField = "progress"
	FieldQueue               StatusField = "queue"
	FieldRatio               StatusField = "ratio"
	FieldRemoveAtRatio       StatusField = "remove_at_ratio"
	FieldSeedingTime         StatusField = "seeding_time"
	FieldSeedRank            StatusField = "seed_rank"
	FieldSequentialDownload  StatusField = "sequential_download"
	FieldShared              StatusField = "shared"
	FieldState               StatusField = "state"
	FieldStopAtRatio         StatusField = "stop_at_ratio"
	FieldStopRatio           StatusField = "stop_ratio"
	FieldTimeAdded           StatusField = "time_added"
	FieldTotalDone           StatusField = "total_done"
	FieldTotalPayloadDown    StatusField = "total_payload_download"
	FieldTotalPayloadUp      StatusField = "total_payload_upload"
	FieldTotalSize           StatusField = "total_size"
	FieldTotalUploaded       StatusField = "total_uploaded"
	FieldTotalWanted         StatusField = "total_wanted"
	FieldTrackerHost         StatusField = "tracker_host"
	FieldTrackers            StatusField = "trackers"
	FieldTrackerStatus       StatusField = "tracker_status"
	FieldUploadRate          StatusField = "upload_payload_rate"
)

var statusAccessors = map[StatusField]func(*Torrent) any{
	FieldActiveTime:        func(t *Torrent) any { return t.status.ActiveTime },
	FieldAllTimeDownload:   func(t *Torrent) any { return t.status.AllTimeDownload },
	FieldAutoManaged:       func(t *Torrent) any { return t.status.AutoManaged },
	FieldComment:           func(t *Torrent) any { return t.meta.Comment },
	FieldDistributedCopies: func(t *Torrent) any { return t.status.DistributedCopies },
	FieldDownloadLocation:  func(t *Torrent) any { return t.options.DownloadLocation },
	FieldDownloadRate:      func(t *Torrent) any { return t.status.DownloadPayloadRate },
	FieldETA:               func(t *Torrent) any { return t.ETA() },
	FieldFilePriorities:    func(t *Torrent) any { return append([]int(nil), t.options.FilePriorities...) },
	FieldFileProgress:      func(t *Torrent) any { return t.handle.FileProgress() },
	FieldFiles:             func(t *Torrent) any { return t.meta.Files },
	FieldIsFinished:        func(t *Torrent) any { return t.isFinished },
	FieldIsSeed:            func(t *Torrent) any { return t.status.IsSeed },
	FieldLastSeenComplete:  func(t *Torrent) any { return t.LastSeenComplete() },
	FieldMaxConnections:    func(t *Torrent) any { return t.options.MaxConnections },
	FieldMaxDownloadSpeed:  func(t *Torrent) any { return t.options.MaxDownloadSpeed },
	FieldMaxUploadSlots:    func(t *Torrent) any { return t.options.MaxUploadSlots },
	FieldMaxUploadSpeed:    func(t *Torrent) any { return t.options.MaxUploadSpeed },
	FieldMessage:           func(t *Torrent) any { return t.statusMessage },
	FieldMoveCompleted:     func(t *Torrent) any { return t.options.MoveCompleted },
	FieldMoveCompletedPath: func(t *Torrent) any { return t.options.MoveCompletedPath },
	FieldName:              func(t *Torrent) any { return t.Name() },
	FieldNextAnnounce:      func(t *Torrent) any { return t.status.NextAnnounce },
	FieldNumFiles:          func(t *Torrent) any { return t.meta.NumFiles },
	FieldNumPeers:          func(t *Torrent) any { return t.status.NumPeers },
	FieldNumPieces:         func(t *Torrent) any { return t.meta.NumPieces },
	FieldNumSeeds:          func(t *Torrent) any { return t.status.NumSeeds },
	FieldOwner:             func(t *Torrent) any { return t.options.Owner },
	FieldPaused:            func(t *Torrent) any { return t.status.Paused },
	FieldPeers:             func(t *Torrent) any { return t.handle.Peers() },
	FieldPieceLength:       func(t *Torrent) any { return t.meta.PieceLength },
	FieldPieces:            func(t *Torrent) any { return append([]bool(nil), t.status.Pieces...) },
	FieldPrioritizeFirstLast: func(t *Torrent) any {
		return t.options.PrioritizeFirstLast
	},
	FieldPrivate:            func(t *Torrent) any { return t.meta.Private },
	FieldProgress:           func(t *Torrent) any { return t.status.Progress },
	FieldQueue:              func(t *Torrent) any { return t.handle.QueuePosition() },
	FieldRatio:              func(t *Torrent) any { return t.Ratio() },
	FieldRemoveAtRatio:      func(t *Torrent) any { return t.options.RemoveAtRatio },
	FieldSeedingTime:        func(t *Torrent) any { return t.status.SeedingTime },
	FieldSeedRank:           func(t *Torrent) any { return t.status.SeedRank },
	FieldSequentialDownload: func(t *Torrent) any { return t.options.SequentialDownload },
	FieldShared:             func(t *Torrent) any { return t.options.Shared },
	FieldState:              func(t *Torrent) any { return t.state },
	FieldStopAtRatio:        func(t *Torrent) any { return t.options.StopAtRatio },
	FieldStopRatio:          func(t *Torrent) any { return t.options.StopRatio },
	FieldTimeAdded:          func(t *Torrent) any { return t.timeAdded },
	FieldTotalDone:          func(t *Torrent) any { return t.status.TotalDone },
	FieldTotalPayloadDown:   func(t *Torrent) any { return t.status.TotalPayloadDownload },
	FieldTotalPayloadUp:     func(t *Torrent) any { return t.status.TotalPayloadUpload },
	FieldTotalSize:          func(t *Torrent) any { return t.meta.TotalSize },
	FieldTotalUploaded:      func(t *Torrent) any { return t.AllTimeUpload() },
	FieldTotalWanted:        func(t *Torrent) any { return t.status.TotalWanted },
	FieldTrackerHost: func(t *Torrent) any {
		return domain.TrackerHost(t.status.CurrentTracker)
	},
	FieldTrackers:      func(t *Torrent) any { return append([]domain.Tracker(nil), t.trackers...) },
	FieldTrackerStatus: func(t *Torrent) any { return t.trackerStatus },
	FieldUploadRate:    func(t *Torrent) any { return t.status.UploadPayloadRate },
}

// AllStatusFields returns every queryable field name.
func AllStatusFields() []StatusField {
	out := make([]StatusField, 0, len(statusAccessors))
	for f := range statusAccessors {
		out = append(out, f)
	}
	return out
}

// GetStatus resolves the requested fields from the cached status. An empty
// field list means all fields. With diff set and a session id, only fields
// that changed since that session's last query are returned; the stored
// baseline is always replaced with the full new mapping so the next diff is
// against the latest values. A session with no baseline gets the full set.
func (t *Torrent) GetStatus(fields []StatusField, diff bool, sessionID string) map[StatusField]any {
	if len(fields) == 0 {
		fields = AllStatusFields()
	}
	cur := make(map[StatusField]any, len(fields))
	for _, f := range fields {
		if fn, ok := statusAccessors[f]; ok {
			cur[f] = fn(t)
		}
	}
	if !diff || sessionID == "" {
		return cur
	}

	prev, seen := t.prevStatus[sessionID]
	t.prevStatus[sessionID] = cur
	if !seen {
		return cur
	}
	changed := make(map[StatusField]any)
	for k, v := range cur {
		if pv, ok := prev[k]; !ok || !reflect.DeepEqual(pv, v) {
			changed[k] = v
		}
	}
	return changed
}

// pruneStatusBaselines drops diff baselines whose observer session is gone.
func (t *Torrent) pruneStatusBaselines(validator ports.SessionValidator) {
	if validator == nil {
		return
	}
	for sid := range t.prevStatus {
		if !validator.SessionValid(sid) {
			delete(t.prevStatus, sid)
		}
	}
}
