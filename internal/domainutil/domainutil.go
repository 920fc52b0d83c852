// Package domainutil implements the host comparisons the detection rules are
// calibrated against: the same-site test and a lightweight registrable-root
// extraction. The root extraction deliberately uses a small fixed set of
// second-level suffixes instead of the full public suffix list, because the
// safe-rule confidences are tuned against exactly this behavior.
package domainutil

import "strings"

// secondLevelSuffixes are the labels that, when appearing second-to-last,
// indicate a two-label TLD (e.g. example.co.kr -> example.co.kr, not co.kr).
var secondLevelSuffixes = map[string]struct{}{
	"co":  {},
	"com": {},
	"net": {},
	"org": {},
	"edu": {},
	"gov": {},
}

// Normalize lowercases a host and strips any trailing dot.
func Normalize(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// SameSite reports whether two hosts are equal or one is a dot-suffix
// subdomain of the other.
func SameSite(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// IsSubdomain reports whether child is a strict subdomain of parent.
func IsSubdomain(child, parent string) bool {
	child, parent = Normalize(child), Normalize(parent)
	if child == "" || parent == "" || child == parent {
		return false
	}
	return strings.HasSuffix(child, "."+parent)
}

// RootDomain returns the registrable root of a host: the last two labels,
// or the last three when the second-to-last label is a known second-level
// suffix (shop.example.co.kr -> example.co.kr).
func RootDomain(host string) string {
	host = Normalize(host)
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	if _, ok := secondLevelSuffixes[labels[len(labels)-2]]; ok && len(labels) >= 3 {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
