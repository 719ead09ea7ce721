package domain

import "errors"

// ErrTorrentNotFound is returned for user-intent operations addressing a
// torrent id that is not in the registry. Alert handlers hitting the same
// condition ignore it silently: an alert racing a removal is expected.
var ErrTorrentNotFound = errors.New("torrent not found")

var ErrUnsupported = errors.New("unsupported operation")

// ErrTorrentAlreadyAdded is returned when an add targets an infohash that is
// already registered. Tracker lists are merged before it is returned.
var ErrTorrentAlreadyAdded = errors.New("torrent already in session")

// ErrFolderRenamePending is returned when a folder rename targets paths that
// overlap an outstanding folder rename on the same torrent.
var ErrFolderRenamePending = errors.New("folder rename already in progress for overlapping path")
