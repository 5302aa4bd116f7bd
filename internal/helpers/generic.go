package helpers

import (
	"strings"
)

// ContainsAll reports whether every element of want is present in have. An
// empty want is always satisfied.
func ContainsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}

	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}

	return true
}

// EmailDomain returns the lowercased part of addr after the last @, or the
// empty string when addr has no usable domain.
func EmailDomain(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i <= 0 || i == len(addr)-1 {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(addr[i+1:]))
}

// DomainMatches compares the domain of addr with domain, ignoring case and a
// leading @ on domain.
func DomainMatches(addr, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	if domain == "" {
		return false
	}

	return EmailDomain(addr) == domain
}
