package domain

import "strings"

// Tracker is one announce URL and its tier within the torrent's tracker list.
type Tracker struct {
	URL  string `json:"url"`
	Tier int    `json:"tier"`
}

// TrackerHost derives the grouping host for a tracker URL the way clients
// conventionally display it: the registrable tail of the hostname, with
// bare-IP and single-label hosts returned as-is.
func TrackerHost(rawURL string) string {
	u := rawURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, ":"); i >= 0 && strings.Count(u, ":") == 1 {
		u = u[:i]
	}
	if u == "" {
		return ""
	}
	parts := strings.Split(u, ".")
	if len(parts) <= 2 {
		return u
	}
	// Numeric hosts keep the full address.
	allDigits := true
	for _, p := range parts {
		for _, r := range p {
			if r < '0' || r > '9' {
				allDigits = false
			}
		}
	}
	if allDigits {
		return u
	}
	tail := parts[len(parts)-2:]
	// Two-part public suffixes like co.uk need one more label.
	if len(tail[0]) <= 3 && len(parts) >= 3 {
		tail = parts[len(parts)-3:]
	}
	return strings.Join(tail, ".")
}
