package torrentfile

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"
)

const sampleInfo = "d6:lengthi1024e4:name8:test.bin12:piece lengthi16384e6:pieces20:aaaaaaaaaaaaaaaaaaaae"

func sampleTorrent() []byte {
	return []byte("d8:announce30:http://tracker.example.com/ann13:announce-listll30:http://tracker.example.com/annel27:udp://backup.example.org:80ee4:info" + sampleInfo + "e")
}

func TestParse(t *testing.T) {
	info, err := Parse(sampleTorrent())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sum := sha1.Sum([]byte(sampleInfo))
	if got, want := string(info.ID), hex.EncodeToString(sum[:]); got != want {
		t.Errorf("ID = %s, want %s", got, want)
	}
	if info.Name != "test.bin" {
		t.Errorf("Name = %q, want test.bin", info.Name)
	}
	if len(info.Trackers) != 2 {
		t.Fatalf("Trackers = %v, want 2 entries", info.Trackers)
	}
	if info.Trackers[1].Tier != 1 {
		t.Errorf("second tracker tier = %d, want 1", info.Trackers[1].Tier)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "not bencode", "d8:announce3:urle"} {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", data)
		}
	}
}

func TestParseMagnet(t *testing.T) {
	hash := strings.Repeat("ab", 20)
	uri := "magnet:?xt=urn:btih:" + hash + "&dn=Some+Name&tr=udp%3A%2F%2Ft.example.com%3A80"

	info, err := ParseMagnet(uri)
	if err != nil {
		t.Fatalf("ParseMagnet: %v", err)
	}
	if string(info.ID) != hash {
		t.Errorf("ID = %s, want %s", info.ID, hash)
	}
	if info.Name != "Some Name" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Trackers) != 1 || info.Trackers[0].URL != "udp://t.example.com:80" {
		t.Errorf("Trackers = %v", info.Trackers)
	}
}

func TestParseMagnetErrors(t *testing.T) {
	cases := []string{
		"http://example.com",
		"magnet:?dn=no-hash",
		"magnet:?xt=urn:btih:tooshort",
	}
	for _, uri := range cases {
		if _, err := ParseMagnet(uri); err == nil {
			t.Errorf("ParseMagnet(%q) succeeded, want error", uri)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain.txt", "plain.txt"},
		{"../../etc/passwd", "etc-passwd"},
		{"a\\b/c", "a-b-c"},
		{"./hidden", "hidden"},
	}
	for _, c := range cases {
		if got := SanitizeName(c.in); got != c.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
