package core

import (
	"regexp"
	"strings"
)

var ipv4Pattern = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)

// ExtractIPv4 returns the first IPv4-shaped substring of text, or "" when
// there is none. Octet ranges are not validated: "999.1.1.1" is IPv4-shaped.
func ExtractIPv4(text string) string {
	return ipv4Pattern.FindString(text)
}

// ResolveIP prefers the explicitly reported address and falls back to the
// first IPv4-shaped substring of the message. The result may be "", which
// downstream stages treat as unknown.
func ResolveIP(explicit, message string) string {
	if ip := strings.TrimSpace(explicit); ip != "" {
		return ip
	}
	return ExtractIPv4(message)
}
