package index

import "strings"

// matchField implements the C-FIND filter rule for a single element: an
// empty query value means "return this attribute, no filter" (always
// matches); an exact value means equality; a value containing '*' or '?'
// anywhere is an SQL-LIKE-style pattern ('*' -> any run of characters,
// '?' -> any single character).
func matchField(queryValue, storedValue string) bool {
	if queryValue == "" {
		return true
	}
	if !strings.ContainsAny(queryValue, "*?") {
		return queryValue == storedValue
	}
	return matchWildcard(queryValue, storedValue)
}

// matchWildcard reports whether value matches pattern, where '*' matches
// any run of characters (including none) and '?' matches exactly one
// character.
func matchWildcard(pattern, value string) bool {
	return wildcardMatch([]rune(pattern), []rune(value))
}

func wildcardMatch(pattern, value []rune) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}
	switch pattern[0] {
	case '*':
		if wildcardMatch(pattern[1:], value) {
			return true
		}
		for len(value) > 0 {
			value = value[1:]
			if wildcardMatch(pattern[1:], value) {
				return true
			}
		}
		return false
	case '?':
		if len(value) == 0 {
			return false
		}
		return wildcardMatch(pattern[1:], value[1:])
	default:
		if len(value) == 0 || value[0] != pattern[0] {
			return false
		}
		return wildcardMatch(pattern[1:], value[1:])
	}
}

// matchRange implements DA/TM/DT range matching: "lo-hi" matches values
// in [lo, hi] inclusive; "lo-" matches values >= lo; "-hi" matches values
// <= hi. DA/TM/DT values sort correctly under plain string comparison
// because they are fixed-width, zero-padded, most-significant-first
// (YYYYMMDD, HHMMSS, or their concatenation).
func matchRange(queryValue, storedValue string) bool {
	dash := strings.IndexByte(queryValue, '-')
	if dash < 0 {
		return matchField(queryValue, storedValue)
	}
	lo, hi := queryValue[:dash], queryValue[dash+1:]
	if lo != "" && storedValue < lo {
		return false
	}
	if hi != "" && storedValue > hi {
		return false
	}
	return true
}

// isRangeField reports whether a query value uses range syntax rather
// than the plain empty/exact/wildcard rules; callers use this to decide
// which matcher applies for DA/TM/DT attributes.
func isRangeField(queryValue string) bool {
	return strings.IndexByte(queryValue, '-') >= 0
}
