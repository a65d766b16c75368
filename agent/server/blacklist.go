package server

import (
	"net"
	"strings"
)

// peerIP extracts the bare address from a "host:port" remote address.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// blacklisted reports whether addr matches any blacklist entry. An entry is
// either a literal address or a pattern whose "*" components each match
// exactly one address component: "192.168.1.*" matches "192.168.1.7" but
// neither "192.168.1.7.1" nor "192.168.2.7".
func blacklisted(addr string, entries []string) bool {
	for _, entry := range entries {
		if matchEntry(addr, entry) {
			return true
		}
	}
	return false
}

func matchEntry(addr, entry string) bool {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false
	}
	if !strings.Contains(entry, "*") {
		return addr == entry
	}

	addrParts := strings.Split(addr, ".")
	entryParts := strings.Split(entry, ".")
	if len(addrParts) != len(entryParts) {
		return false
	}
	for i, p := range entryParts {
		if p == "*" {
			if addrParts[i] == "" {
				return false
			}
			continue
		}
		if p != addrParts[i] {
			return false
		}
	}
	return true
}
