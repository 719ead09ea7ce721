package domain

// FileEntry describes one file within a torrent's metadata.
type FileEntry struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
}

// Metadata is the metainfo-derived description of a torrent. It is only
// available once the engine has the info dictionary.
type Metadata struct {
	Name        string      `json:"name"`
	NumFiles    int         `json:"num_files"`
	NumPieces   int         `json:"num_pieces"`
	PieceLength int64       `json:"piece_length"`
	TotalSize   int64       `json:"total_size"`
	Private     bool        `json:"private"`
	Comment     string      `json:"comment"`
	Files       []FileEntry `json:"files"`
}

// PieceIndex maps a byte offset within a file to the torrent-global piece
// index containing it.
func (m Metadata) PieceIndex(fileIndex int, offset int64) int {
	if fileIndex < 0 || fileIndex >= len(m.Files) || m.PieceLength <= 0 {
		return 0
	}
	return int((m.Files[fileIndex].Offset + offset) / m.PieceLength)
}
