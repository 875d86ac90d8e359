package gwnntp

import (
	"io"
	"mime"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// headerDecoder decodes RFC 2047 encoded-words in Subject/From header
// values. golang.org/x/text/encoding/htmlindex supplies the non-UTF-8,
// non-ASCII charsets (windows-1252, iso-8859-1, koi8-r, and friends)
// that Usenet posts still carry; mime.WordDecoder drives the actual
// =?charset?q?...?= grammar.
var headerDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, err // unknown charset: DecodeHeader fails and DecodeHeaderValue returns the raw value
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// DecodeHeaderValue decodes a raw header field value, tolerating
// malformed encoded-words by falling back to the raw text rather than
// dropping the field (overview lines routinely carry half-broken
// encodings from misbehaving posting clients).
func DecodeHeaderValue(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ParseHeaderBlock parses a raw RFC 5322 header block, as returned by
// HEAD or the header portion of ARTICLE, into ArticleHeaders. Folded
// (continuation) lines are joined before field extraction. Unknown
// fields are ignored; Subject and From are decoded per DecodeHeaderValue.
func ParseHeaderBlock(lines []string) gwrequest.ArticleHeaders {
	joined := joinFoldedLines(lines)

	var headers gwrequest.ArticleHeaders
	for _, line := range joined {
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		switch strings.ToLower(name) {
		case "message-id":
			headers.MessageID = strings.TrimSpace(value)
		case "subject":
			headers.Subject = DecodeHeaderValue(value)
		case "from":
			headers.From = DecodeHeaderValue(value)
		case "date":
			headers.Date = parseNNTPDate(value)
		case "references":
			headers.References = parseReferences(value)
		case "xref":
			headers.Xref = strings.TrimSpace(value)
		case "bytes":
			// advisory only; Bytes is normally set by the caller from
			// the actual retrieved size.
		}
	}
	return headers
}

func joinFoldedLines(lines []string) []string {
	joined := make([]string, 0, len(lines))
	for _, line := range lines {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(joined) > 0 {
			joined[len(joined)-1] += " " + strings.TrimSpace(line)
			continue
		}
		joined = append(joined, line)
	}
	return joined
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}

// parseReferences splits a References header into individual
// message-IDs, oldest first, as they appear left-to-right in the
// header per RFC 5322.
func parseReferences(value string) []string {
	fields := strings.Fields(value)
	refs := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if !strings.HasPrefix(field, "<") {
			field = "<" + field
		}
		if !strings.HasSuffix(field, ">") {
			field = field + ">"
		}
		refs = append(refs, field)
	}
	return refs
}

// nntpDateLayouts covers the Date header formats actually observed on
// Usenet: standard RFC 1123/822 plus a few non-conforming client
// variants that omit the day name or use a two-digit year.
var nntpDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 06 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// ParseDate parses a raw NNTP/RFC 5322 Date header value, returning
// the zero time if it doesn't match any recognized layout.
func ParseDate(value string) time.Time {
	return parseNNTPDate(value)
}

func parseNNTPDate(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range nntpDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{} // malformed Date header: leave zero rather than fail the article
}
