// Package venue maps the free-text venue labels attached to feed events onto
// the canonical venue tags understood by the execution service.
package venue

import "strings"

// Fallback is the venue used when a trade's hints cannot be resolved.
// Mirroring availability is prioritized over venue precision, so unresolved
// trades are routed here rather than dropped.
const Fallback = "jupiter"

// Resolve picks one canonical venue tag from an unordered list of venue-name
// hints. An operator override other than "none" wins unconditionally.
//
// Hint classification is case-insensitive and order matters: pump.fun labels
// also contain substrings that match later families, so the first matching
// rule wins. Returns "" when the hint list is empty; callers should
// substitute Fallback.
func Resolve(hints []string, override string) string {
	if ov := strings.ToLower(strings.TrimSpace(override)); ov != "" && ov != "none" {
		return ov
	}
	if len(hints) == 0 {
		return ""
	}

	lowered := make([]string, len(hints))
	for i, h := range hints {
		lowered[i] = strings.ToLower(h)
	}

	for _, h := range lowered {
		if strings.HasPrefix(h, "pump.fun") {
			return "pumpfun"
		}
	}
	for _, h := range lowered {
		if strings.Contains(h, "fluxbeam") ||
			strings.Contains(h, "orca whirlpool") ||
			strings.Contains(h, "raydium launchpad") {
			return "jupiter"
		}
	}
	for _, h := range lowered {
		if strings.Contains(h, "meteora") {
			return "meteora"
		}
	}
	for _, h := range lowered {
		if strings.Contains(h, "raydium ammv4") ||
			strings.Contains(h, "raydium cpmm") ||
			strings.Contains(h, "raydium clmm") {
			return "raydium"
		}
	}

	return sanitize(hints[0])
}

// sanitize strips non-alphanumeric characters and lowercases the label.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}
