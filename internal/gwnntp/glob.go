package gwnntp

import "path"

// GlobMatcher is the default gwrequest.GroupMatcher. It treats pattern
// as a shell glob over dot-separated hierarchy segments the way
// newsreaders already present groups (comp.lang.*, alt.binaries.**),
// by matching the pattern against the group name with '.' substituted
// for '/' so path.Match's '*' stops at a hierarchy level and a
// trailing ".**" suffix is expanded to match any depth.
func GlobMatcher(pattern, group string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	if rest, ok := cutDoubleStarSuffix(pattern); ok {
		return group == rest || (len(group) > len(rest) && group[:len(rest)] == rest && group[len(rest)] == '.')
	}
	matched, err := path.Match(toSlashPattern(pattern), toSlashPattern(group))
	if err != nil {
		return pattern == group
	}
	return matched
}

func cutDoubleStarSuffix(pattern string) (string, bool) {
	const suffix = ".**"
	if len(pattern) > len(suffix) && pattern[len(pattern)-len(suffix):] == suffix {
		return pattern[:len(pattern)-len(suffix)], true
	}
	return "", false
}

func toSlashPattern(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out[i] = '/'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
