// Package identity canonicalizes the identity fields sent by the EA and
// classifies trading server names.
package identity

import (
	"strconv"
	"strings"
)

// Environment is the coarse class of a trading server.
type Environment string

const (
	EnvDemo    Environment = "demo"
	EnvLive    Environment = "live"
	EnvUnknown Environment = "unknown"
)

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// Email returns the lowercased, trimmed address, or "" when nothing is left.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(stripNUL(raw)))
}

// Account keeps only the digits of raw and parses them. It returns 0 when the
// result is empty, zero, or does not fit in an int64.
func Account(raw string) int64 {
	var b strings.Builder
	for _, r := range stripNUL(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// Server trims the server label. Case is preserved for broker matching.
func Server(raw string) string {
	return strings.TrimSpace(stripNUL(raw))
}

// IsDemo reports whether the server name mentions "demo" in any case.
func IsDemo(server string) bool {
	return strings.Contains(strings.ToLower(server), "demo")
}

// EnvironmentOf classifies a server name. "demo" wins over "live" when a name
// contains both.
func EnvironmentOf(server string) Environment {
	s := strings.ToLower(server)
	switch {
	case strings.Contains(s, "demo"):
		return EnvDemo
	case strings.Contains(s, "live"):
		return EnvLive
	default:
		return EnvUnknown
	}
}

// Broker returns the part of the server name before the first '-'.
func Broker(server string) string {
	if i := strings.IndexByte(server, '-'); i >= 0 {
		return server[:i]
	}
	return server
}

// SameEnvironmentAndBroker is the loose server comparison used for bound
// licenses, so that "BrokerA-Live01" and "BrokerA-Live02" are treated as the
// same venue.
//
// An unknown environment on either side always matches. boundBroker, when
// set, is used instead of the broker derived from boundServer. An empty
// broker on either side never blocks.
func SameEnvironmentAndBroker(boundServer, currentServer, boundBroker string) bool {
	env1 := EnvironmentOf(boundServer)
	env2 := EnvironmentOf(currentServer)
	if env1 != EnvUnknown && env2 != EnvUnknown && env1 != env2 {
		return false
	}

	b1 := boundBroker
	if b1 == "" {
		b1 = Broker(boundServer)
	}
	b2 := Broker(currentServer)
	if b1 != "" && b2 != "" && b1 != b2 {
		return false
	}
	return true
}
