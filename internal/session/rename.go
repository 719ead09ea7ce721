package session

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"torrentsession/internal/domain"
)

// folderRename tracks one in-flight folder rename: the engine only renames
// single files atomically, so a folder rename is a client-side composition
// of per-file renames with its own completion point.
type folderRename struct {
	oldFolder string
	newFolder string
	pending   map[int]struct{}
}

// RenameFiles issues standalone per-file renames. Paths are sanitized before
// they reach the engine.
func (t *Torrent) RenameFiles(renames map[int]string) error {
	for index, name := range renames {
		if !t.hasMetadata || index < 0 || index >= len(t.meta.Files) {
			return domain.ErrUnsupported
		}
		if err := t.handle.RenameFile(index, sanitizePath(name)); err != nil {
			return wrapEngine(err)
		}
	}
	return nil
}

// RenameFolder renames every file under folder to live under newFolder,
// tracking the per-file confirmations in a wait-set. The operation completes
// only when the last confirmation arrives. A rename whose files overlap an
// outstanding wait-set is rejected: interleaved confirmations could not be
// attributed to the right operation.
func (t *Torrent) RenameFolder(folder, newFolder string) error {
	if !t.hasMetadata {
		return domain.ErrUnsupported
	}
	folder = ensureTrailingSlash(sanitizePath(folder))
	newFolder = ensureTrailingSlash(sanitizePath(newFolder))
	if folder == newFolder {
		return nil
	}

	var targets []domain.FileEntry
	for _, f := range t.meta.Files {
		if strings.HasPrefix(f.Path, folder) {
			targets = append(targets, f)
		}
	}
	if len(targets) == 0 {
		return domain.ErrUnsupported
	}
	for _, f := range targets {
		for _, r := range t.renames {
			if _, ok := r.pending[f.Index]; ok {
				return domain.ErrFolderRenamePending
			}
		}
	}

	wait := &folderRename{
		oldFolder: folder,
		newFolder: newFolder,
		pending:   make(map[int]struct{}, len(targets)),
	}
	for _, f := range targets {
		wait.pending[f.Index] = struct{}{}
	}
	t.renames = append(t.renames, wait)

	for _, f := range targets {
		name := newFolder + strings.TrimPrefix(f.Path, folder)
		if err := t.handle.RenameFile(f.Index, name); err != nil {
			t.log.Warn("rename file in folder rename",
				"index", f.Index, "err", err)
		}
	}
	return nil
}

// fileRenamed routes a rename confirmation. When the index belongs to an
// in-flight folder rename, the wait-set entry resolves; the completed
// folderRename is returned once the set empties. A nil return with
// standalone=true means the rename was a plain single-file one.
func (t *Torrent) fileRenamed(index int, name string) (completed *folderRename, standalone bool) {
	if meta := &t.meta; t.hasMetadata && index >= 0 && index < len(meta.Files) {
		meta.Files[index].Path = name
	}
	for i, r := range t.renames {
		if _, ok := r.pending[index]; !ok {
			continue
		}
		delete(r.pending, index)
		if len(r.pending) > 0 {
			return nil, false
		}
		t.renames = append(t.renames[:i], t.renames[i+1:]...)
		return r, false
	}
	return nil, true
}

// cleanupRenamedFolder removes directories left empty by a completed folder
// rename, leaf upward. Non-empty directories stay.
func (t *Torrent) cleanupRenamedFolder(folder string) {
	root := t.options.DownloadLocation
	if root == "" {
		return
	}
	var dirs []string
	base := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(folder, "/")))
	filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		if err := os.Remove(dir); err != nil {
			t.log.Debug("leave non-empty dir", "dir", dir)
		}
	}
}

func sanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/")
}

func ensureTrailingSlash(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
