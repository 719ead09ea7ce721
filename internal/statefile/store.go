// Package statefile persists session state under a single directory:
//
//	torrents.state      JSON session document
//	torrents.fastresume bencoded map of infohash to engine resume blob
//	<infohash>.torrent  copies of the original metainfo files
//
// Writes go through a temp file, fsync and rename so a crash mid-write never
// corrupts the previous good copy. The previous copy is kept as *.bak and
// used as a fallback when the primary fails to load.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"

	"torrentsession/internal/domain"
)

var ErrCorruptState = errors.New("corrupt state file")

const (
	stateName  = "torrents.state"
	resumeName = "torrents.fastresume"
)

type Store struct {
	dir string
	log *slog.Logger
}

func New(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Dir() string { return s.dir }

// SaveState atomically replaces the session document.
func (s *Store) SaveState(state domain.SessionState) error {
	state.Version = domain.StateVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	return s.writeAtomic(stateName, data)
}

// LoadState reads the session document, falling back to the backup copy when
// the primary is missing or corrupt. A missing state dir yields an empty
// session, not an error.
func (s *Store) LoadState() (domain.SessionState, error) {
	var state domain.SessionState
	primary := filepath.Join(s.dir, stateName)

	data, err := os.ReadFile(primary)
	if err == nil {
		if jerr := json.Unmarshal(data, &state); jerr == nil {
			return state, nil
		} else {
			s.log.Warn("session state corrupt, trying backup", "file", primary, "err", jerr)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("session state unreadable, trying backup", "file", primary, "err", err)
	}

	data, berr := os.ReadFile(primary + ".bak")
	if berr != nil {
		if errors.Is(err, fs.ErrNotExist) && errors.Is(berr, fs.ErrNotExist) {
			return domain.SessionState{Version: domain.StateVersion}, nil
		}
		return state, fmt.Errorf("%w: %s", ErrCorruptState, stateName)
	}
	if jerr := json.Unmarshal(data, &state); jerr != nil {
		return state, fmt.Errorf("%w: %s and its backup", ErrCorruptState, stateName)
	}
	s.log.Info("session state restored from backup")
	return state, nil
}

// SaveResumeData atomically replaces the fastresume archive.
func (s *Store) SaveResumeData(resume map[domain.TorrentID][]byte) error {
	enc := make(map[string][]byte, len(resume))
	for id, blob := range resume {
		enc[string(id)] = blob
	}
	data, err := bencode.EncodeBytes(enc)
	if err != nil {
		return fmt.Errorf("encode resume data: %w", err)
	}
	return s.writeAtomic(resumeName, data)
}

// LoadResumeData reads the fastresume archive, merging in any legacy
// per-torrent <infohash>.fastresume files left by older versions. Merged
// legacy files are deleted after a successful rewrite of the archive.
func (s *Store) LoadResumeData() (map[domain.TorrentID][]byte, error) {
	resume := make(map[domain.TorrentID][]byte)

	data, err := os.ReadFile(filepath.Join(s.dir, resumeName))
	switch {
	case err == nil:
		var enc map[string][]byte
		if berr := bencode.DecodeBytes(data, &enc); berr != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorruptState, resumeName)
		}
		for id, blob := range enc {
			resume[domain.TorrentID(id)] = blob
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read resume data: %w", err)
	}

	legacy, err := s.mergeLegacyResume(resume)
	if err != nil {
		return nil, err
	}
	if len(legacy) > 0 {
		if err := s.SaveResumeData(resume); err != nil {
			return nil, err
		}
		for _, name := range legacy {
			if err := os.Remove(name); err != nil {
				s.log.Warn("remove legacy fastresume", "file", name, "err", err)
			}
		}
		s.log.Info("migrated legacy fastresume files", "count", len(legacy))
	}
	return resume, nil
}

func (s *Store) mergeLegacyResume(resume map[domain.TorrentID][]byte) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan state dir: %w", err)
	}
	var merged []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".fastresume") || name == resumeName {
			continue
		}
		id := domain.TorrentID(strings.TrimSuffix(name, ".fastresume"))
		if len(id) != 40 {
			continue
		}
		path := filepath.Join(s.dir, name)
		blob, rerr := os.ReadFile(path)
		if rerr != nil {
			s.log.Warn("read legacy fastresume", "file", path, "err", rerr)
			continue
		}
		if _, ok := resume[id]; !ok {
			resume[id] = blob
		}
		merged = append(merged, path)
	}
	return merged, nil
}

// SaveTorrentFile stores a copy of the original metainfo for id.
func (s *Store) SaveTorrentFile(id domain.TorrentID, data []byte) error {
	return s.writeAtomic(string(id)+".torrent", data)
}

// LoadTorrentFile reads the stored metainfo copy for id.
func (s *Store) LoadTorrentFile(id domain.TorrentID) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, string(id)+".torrent"))
}

// RemoveTorrentFile deletes the stored metainfo copy for id. Missing files
// are not an error.
func (s *Store) RemoveTorrentFile(id domain.TorrentID) error {
	err := os.Remove(filepath.Join(s.dir, string(id)+".torrent"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", name, err)
	}

	if _, serr := os.Stat(final); serr == nil {
		if err := os.Rename(final, final+".bak"); err != nil {
			s.log.Warn("rotate state backup", "file", final, "err", err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
