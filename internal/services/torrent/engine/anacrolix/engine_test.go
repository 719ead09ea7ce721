package anacrolix

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	abencode "github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/zeebo/bencode"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{DataDir: t.TempDir(), NoDHT: true}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// buildTorrent writes a payload file under dir and returns the encoded
// metainfo plus the infohash hex.
func buildTorrent(t *testing.T, dir, name string, size int) ([]byte, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xA5}, size), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	info := metainfo.Info{PieceLength: 16384}
	if err := info.BuildFromFilePath(path); err != nil {
		t.Fatalf("build info: %v", err)
	}
	var mi metainfo.MetaInfo
	var err error
	mi.InfoBytes, err = abencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("encode metainfo: %v", err)
	}
	return buf.Bytes(), mi.HashInfoBytes().HexString()
}

func addTestTorrent(t *testing.T, e *Engine, size int, paused bool) (ports.Handle, string) {
	t.Helper()
	raw, hash := buildTorrent(t, e.cfg.DataDir, "payload-"+hash8(t), size)
	h, err := e.AddTorrent(ports.AddTorrentParams{
		Metainfo: raw,
		SavePath: e.cfg.DataDir,
		Paused:   paused,
	})
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	return h, hash
}

var hashCounter int

func hash8(t *testing.T) string {
	t.Helper()
	hashCounter++
	return string(rune('a' + hashCounter%26))
}

func waitAlert(t *testing.T, e *Engine, kind string) domain.Alert {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case a := <-e.Alerts():
			if a.Kind() == kind {
				return a
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s alert", kind)
		}
	}
}

func TestAddTorrentAssignsInfoHash(t *testing.T) {
	e := newTestEngine(t)
	h, hash := addTestTorrent(t, e, 4096, true)
	if got := string(h.InfoHash()); got != hash {
		t.Fatalf("InfoHash() = %q, want %q", got, hash)
	}
	if !h.IsPaused() {
		t.Fatal("torrent added paused should report paused")
	}
}

func TestAddTorrentDuplicateReturnsSameHandle(t *testing.T) {
	e := newTestEngine(t)
	raw, _ := buildTorrent(t, e.cfg.DataDir, "dup.bin", 2048)
	params := ports.AddTorrentParams{Metainfo: raw, SavePath: e.cfg.DataDir, Paused: true}
	h1, err := e.AddTorrent(params)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	h2, err := e.AddTorrent(params)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if h1 != h2 {
		t.Fatal("duplicate add should return the registered handle")
	}
}

func TestAddTorrentRequiresSource(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AddTorrent(ports.AddTorrentParams{}); err == nil {
		t.Fatal("expected error when neither metainfo nor magnet is given")
	}
}

func TestRemoveTorrentUnknown(t *testing.T) {
	e := newTestEngine(t)
	if err := e.RemoveTorrent("0000000000000000000000000000000000000000", false); err != ErrUnknownHandle {
		t.Fatalf("RemoveTorrent = %v, want ErrUnknownHandle", err)
	}
}

func TestRemoveTorrentDeletesPayload(t *testing.T) {
	e := newTestEngine(t)
	raw, hash := buildTorrent(t, e.cfg.DataDir, "victim.bin", 1024)
	h, err := e.AddTorrent(ports.AddTorrentParams{Metainfo: raw, SavePath: e.cfg.DataDir, Paused: true})
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	meta, ok := h.Metadata()
	if !ok {
		t.Fatal("expected metadata for torrent added from metainfo")
	}
	payload := filepath.Join(e.cfg.DataDir, meta.Files[0].Path)
	if err := e.RemoveTorrent(domain.TorrentID(hash), true); err != nil {
		t.Fatalf("RemoveTorrent: %v", err)
	}
	if _, err := os.Stat(payload); !os.IsNotExist(err) {
		t.Fatalf("payload should be deleted, stat err = %v", err)
	}
}

func TestPauseResumeEmitAlerts(t *testing.T) {
	e := newTestEngine(t)
	h, hash := addTestTorrent(t, e, 2048, false)

	if err := h.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	a := waitAlert(t, e, "torrent_paused").(domain.TorrentPausedAlert)
	if string(a.ID) != hash {
		t.Fatalf("paused alert for %q, want %q", a.ID, hash)
	}
	// A second pause is a no-op and must stay silent.
	if err := h.Pause(); err != nil {
		t.Fatalf("second Pause: %v", err)
	}

	if err := h.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	r := waitAlert(t, e, "torrent_resumed").(domain.TorrentResumedAlert)
	if string(r.ID) != hash {
		t.Fatalf("resumed alert for %q, want %q", r.ID, hash)
	}
	if h.IsPaused() {
		t.Fatal("handle should not be paused after resume")
	}
}

func TestSessionPauseKeepsTorrentFlags(t *testing.T) {
	e := newTestEngine(t)
	h, _ := addTestTorrent(t, e, 2048, false)

	e.PauseSession()
	if !e.SessionPaused() {
		t.Fatal("SessionPaused should be true")
	}
	if h.IsPaused() {
		t.Fatal("session pause must not flip the torrent's own flag")
	}
	e.ResumeSession()
	if e.SessionPaused() {
		t.Fatal("SessionPaused should be false after resume")
	}
}

func TestQueueOrdering(t *testing.T) {
	e := newTestEngine(t)
	h1, _ := addTestTorrent(t, e, 1024, true)
	h2, _ := addTestTorrent(t, e, 2048, true)
	h3, _ := addTestTorrent(t, e, 3072, true)

	if got := []int{h1.QueuePosition(), h2.QueuePosition(), h3.QueuePosition()}; got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("initial positions = %v", got)
	}

	h3.QueueTop()
	if h3.QueuePosition() != 0 || h1.QueuePosition() != 1 {
		t.Fatalf("after QueueTop: h3=%d h1=%d", h3.QueuePosition(), h1.QueuePosition())
	}

	h3.QueueDown()
	if h3.QueuePosition() != 1 {
		t.Fatalf("after QueueDown: h3=%d", h3.QueuePosition())
	}

	h3.QueueBottom()
	if h3.QueuePosition() != 2 {
		t.Fatalf("after QueueBottom: h3=%d", h3.QueuePosition())
	}

	h3.QueueUp()
	if h3.QueuePosition() != 1 {
		t.Fatalf("after QueueUp: h3=%d", h3.QueuePosition())
	}

	// Moving past the edges clamps.
	h1.QueueUp()
	if h1.QueuePosition() != 0 {
		t.Fatalf("QueueUp at top moved to %d", h1.QueuePosition())
	}
}

func TestStatusFromMetainfoTorrent(t *testing.T) {
	e := newTestEngine(t)
	h, _ := addTestTorrent(t, e, 4096, true)

	st := h.Status()
	if !st.Paused {
		t.Fatal("status should report paused")
	}
	if st.TotalWanted != 4096 {
		t.Fatalf("TotalWanted = %d, want 4096", st.TotalWanted)
	}
	if st.NumComplete != -1 || st.NumIncomplete != -1 {
		t.Fatal("scrape counts should be unknown (-1)")
	}
	if len(st.Pieces) != 1 {
		t.Fatalf("Pieces length = %d, want 1", len(st.Pieces))
	}
	if st.SavePath != e.cfg.DataDir {
		t.Fatalf("SavePath = %q", st.SavePath)
	}
}

func TestMetadataForMagnetUnavailable(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.AddTorrent(ports.AddTorrentParams{
		Magnet:   "magnet:?xt=urn:btih:00000000000000000000000000000000000000aa&dn=ghost",
		SavePath: e.cfg.DataDir,
		Paused:   true,
	})
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	if _, ok := h.Metadata(); ok {
		t.Fatal("metadata should be unavailable before the swarm supplies it")
	}
	if st := h.Status(); st.State != domain.EngineDownloadingMetadata {
		t.Fatalf("State = %v, want EngineDownloadingMetadata", st.State)
	}
	if err := h.SetFilePriorities([]int{1}); err == nil {
		t.Fatal("SetFilePriorities should fail without metadata")
	}
	if err := h.ForceRecheck(); err == nil {
		t.Fatal("ForceRecheck should fail without metadata")
	}
}

func TestSetFilePriorities(t *testing.T) {
	e := newTestEngine(t)
	h, _ := addTestTorrent(t, e, 2048, true)

	if err := h.SetFilePriorities([]int{1, 2}); err == nil {
		t.Fatal("length mismatch should be rejected")
	}
	if err := h.SetFilePriorities([]int{7}); err != nil {
		t.Fatalf("SetFilePriorities: %v", err)
	}
	if got := h.FilePriorities(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("FilePriorities = %v, want [7]", got)
	}
}

func TestSetPiecePriorities(t *testing.T) {
	e := newTestEngine(t)
	h, _ := addTestTorrent(t, e, 2048, true)

	if err := h.SetPiecePriorities([]int{1, 1}); err == nil {
		t.Fatal("length mismatch should be rejected")
	}
	if err := h.SetPiecePriorities([]int{7}); err != nil {
		t.Fatalf("SetPiecePriorities: %v", err)
	}
	if got := h.PiecePriorities(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("PiecePriorities = %v, want [7]", got)
	}
}

func TestPiecePriorityMapping(t *testing.T) {
	cases := []struct {
		in   int
		want torrent.PiecePriority
	}{
		{-1, torrent.PiecePriorityNone},
		{0, torrent.PiecePriorityNone},
		{1, torrent.PiecePriorityNormal},
		{4, torrent.PiecePriorityNormal},
		{5, torrent.PiecePriorityHigh},
		{6, torrent.PiecePriorityHigh},
		{7, torrent.PiecePriorityNow},
		{9, torrent.PiecePriorityNow},
	}
	for _, tc := range cases {
		if got := piecePriorityFor(tc.in); got != tc.want {
			t.Errorf("piecePriorityFor(%d) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSaveResumeDataRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	h, hash := addTestTorrent(t, e, 1024, true)

	h.SaveResumeData()
	a := waitAlert(t, e, "save_resume_data").(domain.SaveResumeDataAlert)
	if string(a.ID) != hash {
		t.Fatalf("alert for %q, want %q", a.ID, hash)
	}

	var blob resumeBlob
	if err := bencode.DecodeBytes(a.Data, &blob); err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if blob.InfoHash != hash {
		t.Fatalf("blob infohash = %q, want %q", blob.InfoHash, hash)
	}
	if blob.SavePath != e.cfg.DataDir {
		t.Fatalf("blob save path = %q", blob.SavePath)
	}
}

func TestResumeDataRestoresFinished(t *testing.T) {
	e := newTestEngine(t)
	raw, hash := buildTorrent(t, e.cfg.DataDir, "done.bin", 1024)
	blob, err := bencode.EncodeBytes(resumeBlob{
		InfoHash:  hash,
		Completed: 1024,
		Uploaded:  4096,
		Finished:  true,
		SavePath:  e.cfg.DataDir,
	})
	if err != nil {
		t.Fatalf("encode blob: %v", err)
	}
	h, err := e.AddTorrent(ports.AddTorrentParams{
		Metainfo:   raw,
		SavePath:   e.cfg.DataDir,
		Paused:     true,
		ResumeData: blob,
	})
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	st := h.Status()
	if !st.IsFinished || !st.IsSeed {
		t.Fatal("restored torrent should report finished")
	}
	if st.Progress != 100.0 {
		t.Fatalf("Progress = %v, want 100", st.Progress)
	}
	if st.State != domain.EngineSeeding {
		t.Fatalf("State = %v, want EngineSeeding", st.State)
	}
}

func TestRenameFileMovesPayload(t *testing.T) {
	e := newTestEngine(t)
	raw, _ := buildTorrent(t, e.cfg.DataDir, "old-name.bin", 512)
	h, err := e.AddTorrent(ports.AddTorrentParams{Metainfo: raw, SavePath: e.cfg.DataDir, Paused: true})
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	if err := h.RenameFile(5, "x"); err == nil {
		t.Fatal("out of range index should be rejected")
	}
	if err := h.RenameFile(0, "new-name.bin"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	a := waitAlert(t, e, "file_renamed").(domain.FileRenamedAlert)
	if a.Index != 0 || a.Name != "new-name.bin" {
		t.Fatalf("alert = %+v", a)
	}
	if _, err := os.Stat(filepath.Join(e.cfg.DataDir, "new-name.bin")); err != nil {
		t.Fatalf("renamed payload missing: %v", err)
	}
}

func TestMoveStorageEmitsAlert(t *testing.T) {
	e := newTestEngine(t)
	h, hash := addTestTorrent(t, e, 512, true)
	dest := t.TempDir()

	if err := h.MoveStorage(dest); err != nil {
		t.Fatalf("MoveStorage: %v", err)
	}
	a := waitAlert(t, e, "storage_moved").(domain.StorageMovedAlert)
	if string(a.ID) != hash || a.Path != dest {
		t.Fatalf("alert = %+v", a)
	}
	if st := h.Status(); st.SavePath != dest {
		t.Fatalf("SavePath = %q, want %q", st.SavePath, dest)
	}
}

func TestPostTorrentUpdates(t *testing.T) {
	e := newTestEngine(t)
	_, hash := addTestTorrent(t, e, 1024, true)

	e.PostTorrentUpdates()
	a := waitAlert(t, e, "state_update").(domain.StateUpdateAlert)
	if len(a.Statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(a.Statuses))
	}
	if string(a.Statuses[0].ID) != hash {
		t.Fatalf("status for %q, want %q", a.Statuses[0].ID, hash)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	e := newTestEngine(t)
	h, _ := addTestTorrent(t, e, 512, true)

	if err := h.ForceReannounce(); err != domain.ErrUnsupported {
		t.Fatalf("ForceReannounce = %v, want ErrUnsupported", err)
	}
	if err := h.ScrapeTracker(); err != domain.ErrUnsupported {
		t.Fatalf("ScrapeTracker = %v, want ErrUnsupported", err)
	}
	if got := h.PieceAvailability(); got != nil {
		t.Fatalf("PieceAvailability = %v, want nil", got)
	}
}

func TestReplaceTrackers(t *testing.T) {
	e := newTestEngine(t)
	h, _ := addTestTorrent(t, e, 512, true)

	want := []domain.Tracker{
		{URL: "udp://a.example.org:6969/announce", Tier: 0},
		{URL: "udp://b.example.org:6969/announce", Tier: 1},
	}
	if err := h.ReplaceTrackers(want); err != nil {
		t.Fatalf("ReplaceTrackers: %v", err)
	}
	got := h.Trackers()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Trackers = %v, want %v", got, want)
	}
	if st := h.Status(); st.CurrentTracker != want[0].URL {
		t.Fatalf("CurrentTracker = %q", st.CurrentTracker)
	}
}

func TestTopComponent(t *testing.T) {
	cases := map[string]string{
		"dir/sub/file.bin": "dir",
		"file.bin":         "file.bin",
		"a/b":              "a",
	}
	for in, want := range cases {
		if got := topComponent(in); got != want {
			t.Errorf("topComponent(%q) = %q, want %q", in, got, want)
		}
	}
}
