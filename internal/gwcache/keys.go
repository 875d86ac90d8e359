package gwcache

import "strings"

// Key joins parts into a single cache key with a stable separator,
// for composite keys like group/message-ID/root-id.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
