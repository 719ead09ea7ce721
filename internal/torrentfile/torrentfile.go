// Package torrentfile parses .torrent metainfo and magnet URIs just far
// enough for session bookkeeping: infohash, display name, tracker tiers.
package torrentfile

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/bencode"

	"torrentsession/internal/domain"
)

var ErrInvalidMetainfo = errors.New("invalid torrent metainfo")

type metainfo struct {
	Announce     string             `bencode:"announce"`
	AnnounceList [][]string         `bencode:"announce-list"`
	Comment      string             `bencode:"comment"`
	Info         bencode.RawMessage `bencode:"info"`
}

type infoDict struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Length      int64      `bencode:"length"`
	Private     bool       `bencode:"private"`
	Files       []infoFile `bencode:"files"`
}

type infoFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the subset of metainfo the session layer keeps before the engine
// has admitted the torrent.
type Info struct {
	ID       domain.TorrentID
	Name     string
	Comment  string
	Private  bool
	Trackers []domain.Tracker
}

// Parse decodes raw .torrent bytes. The id is the sha1 of the bencoded info
// dictionary, hex encoded.
func Parse(data []byte) (Info, error) {
	var m metainfo
	if err := bencode.DecodeBytes(data, &m); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
	}
	if len(m.Info) == 0 {
		return Info{}, fmt.Errorf("%w: missing info dictionary", ErrInvalidMetainfo)
	}

	sum := sha1.Sum(m.Info)

	var info infoDict
	if err := bencode.DecodeBytes(m.Info, &info); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
	}

	return Info{
		ID:       domain.TorrentID(hex.EncodeToString(sum[:])),
		Name:     info.Name,
		Comment:  m.Comment,
		Private:  info.Private,
		Trackers: trackers(m),
	}, nil
}

func trackers(m metainfo) []domain.Tracker {
	var out []domain.Tracker
	seen := map[string]struct{}{}
	for tier, group := range m.AnnounceList {
		for _, u := range group {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, domain.Tracker{URL: u, Tier: tier})
		}
	}
	if len(out) == 0 && m.Announce != "" {
		out = append(out, domain.Tracker{URL: m.Announce, Tier: 0})
	}
	return out
}

// ParseMagnet extracts the infohash, display name and trackers from a magnet
// URI. Only hex btih hashes are supported.
func ParseMagnet(uri string) (Info, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "magnet" {
		return Info{}, fmt.Errorf("%w: not a magnet uri", ErrInvalidMetainfo)
	}
	q := u.Query()

	var id domain.TorrentID
	for _, xt := range q["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(xt, prefix) {
			continue
		}
		h := strings.ToLower(strings.TrimPrefix(xt, prefix))
		if len(h) != 40 {
			return Info{}, fmt.Errorf("%w: unsupported infohash %q", ErrInvalidMetainfo, h)
		}
		if _, err := hex.DecodeString(h); err != nil {
			return Info{}, fmt.Errorf("%w: bad infohash %q", ErrInvalidMetainfo, h)
		}
		id = domain.TorrentID(h)
	}
	if id == "" {
		return Info{}, fmt.Errorf("%w: magnet uri has no btih hash", ErrInvalidMetainfo)
	}

	var trs []domain.Tracker
	for i, tr := range q["tr"] {
		trs = append(trs, domain.Tracker{URL: tr, Tier: i})
	}
	return Info{ID: id, Name: q.Get("dn"), Trackers: trs}, nil
}

// SanitizeName strips path separators and relative components from a name
// that will be used as a file or directory name on disk.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "-")
}
