package gwnntp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/usenet-gateway/nntpgate/internal/gwerrors"
	"github.com/usenet-gateway/nntpgate/internal/gwrequest"
)

// DialNetwork opens a real TCP (optionally TLS) connection to cfg's
// upstream server, reads the greeting, and returns a Conn. It does not
// issue CAPABILITIES, MODE READER, or AUTHINFO — the Worker's
// connection-lifecycle state machine drives those separately so each
// step can be traced and classified on failure.
func DialNetwork(ctx context.Context, cfg gwrequest.ServerConfig) (Conn, error) {
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("gwnntp: dial %s: %w", address, err)
	}

	if cfg.TLSMode == gwrequest.TLSImplicit {
		tlsConn := tls.Client(rawConn, &tls.Config{ServerName: cfg.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("gwnntp: TLS handshake with %s: %w", address, err)
		}
		rawConn = tlsConn
	}

	textConn := textproto.NewConn(rawConn)

	code, text, err := textConn.ReadCodeLine(0)
	if err != nil {
		textConn.Close()
		return nil, fmt.Errorf("gwnntp: reading greeting from %s: %w", address, err)
	}

	conn := &textprotoConn{
		raw:  rawConn,
		text: textConn,
		name: cfg.Name,
		greeting: Greeting{
			Code:           code,
			Text:           text,
			PostingAllowed: code == 200,
		},
	}

	if cfg.TLSMode == gwrequest.TLSStartTLS {
		if err := conn.startTLS(ctx, cfg.Host); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

type textprotoConn struct {
	raw      net.Conn
	text     *textproto.Conn
	name     string
	greeting Greeting
}

func (c *textprotoConn) Greeting() Greeting { return c.greeting }

func (c *textprotoConn) startTLS(ctx context.Context, host string) error {
	id, err := c.text.Cmd("STARTTLS")
	if err != nil {
		return fmt.Errorf("gwnntp: STARTTLS: %w", err)
	}
	c.text.StartResponse(id)
	code, text, err := c.text.ReadCodeLine(382)
	c.text.EndResponse(id)
	if err != nil {
		return fmt.Errorf("gwnntp: STARTTLS response %d %s: %w", code, text, err)
	}
	tlsConn := tls.Client(c.raw, &tls.Config{ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("gwnntp: STARTTLS handshake: %w", err)
	}
	c.raw = tlsConn
	c.text = textproto.NewConn(tlsConn)
	return nil
}

// cmd issues a single pipelined command and returns the status code,
// status line, and any error from the round-trip.
func (c *textprotoConn) cmd(format string, args ...any) (int, string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.text.ReadCodeLine(0)
}

// cmdMultiline issues a command expecting wantCode followed by a
// dot-terminated multiline body.
func (c *textprotoConn) cmdMultiline(wantCode int, format string, args ...any) ([]string, int, string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return nil, 0, "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	code, text, err := c.text.ReadCodeLine(wantCode)
	if err != nil {
		return nil, code, text, err
	}
	lines, err := c.text.ReadDotLines()
	if err != nil {
		return nil, code, text, fmt.Errorf("gwnntp: reading multiline body: %w", err)
	}
	return lines, code, text, nil
}

func (c *textprotoConn) Capabilities(ctx context.Context) (gwrequest.Capabilities, error) {
	lines, code, text, err := c.cmdMultiline(101, "CAPABILITIES")
	if err != nil {
		return gwrequest.Capabilities{}, fmt.Errorf("gwnntp: CAPABILITIES %d %s: %w", code, text, err)
	}
	caps := gwrequest.Capabilities{
		ListVariants: map[string]bool{},
		Retrieved:    true,
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "HDR":
			caps.HasHdr = true
		case "OVER", "XOVER":
			caps.HasOver = true
		case "POST":
			caps.HasPost = true
		case "LIST":
			for _, variant := range fields[1:] {
				caps.ListVariants[strings.ToUpper(variant)] = true
			}
		}
	}
	return caps, nil
}

func (c *textprotoConn) ModeReader(ctx context.Context) error {
	code, text, err := c.cmd("MODE READER")
	if err != nil {
		return fmt.Errorf("gwnntp: MODE READER: %w", err)
	}
	switch code {
	case 200, 201:
		return nil
	default:
		// Some servers reject MODE READER once already serving; not fatal.
		_ = text
		return nil
	}
}

func (c *textprotoConn) Authenticate(ctx context.Context, creds gwrequest.Credentials) error {
	code, text, err := c.cmd("AUTHINFO USER %s", creds.Username)
	if err != nil {
		return fmt.Errorf("gwnntp: AUTHINFO USER: %w", err)
	}
	if code == 281 {
		return nil // server accepted username alone
	}
	if code != 381 {
		return fmt.Errorf("gwnntp: AUTHINFO USER rejected: %d %s", code, text)
	}
	code, text, err = c.cmd("AUTHINFO PASS %s", creds.Password)
	if err != nil {
		return fmt.Errorf("gwnntp: AUTHINFO PASS: %w", err)
	}
	if code != 281 {
		return fmt.Errorf("gwnntp: authentication failed: %d %s", code, text)
	}
	return nil
}

func (c *textprotoConn) Group(ctx context.Context, name string) (GroupRange, error) {
	code, text, err := c.cmd("GROUP %s", name)
	if err != nil {
		return GroupRange{}, fmt.Errorf("gwnntp: GROUP %s: %w", name, err)
	}
	if code == 411 {
		return GroupRange{}, gwerrors.NewNotFound("group", name)
	}
	if code != 211 {
		return GroupRange{}, fmt.Errorf("gwnntp: GROUP %s: %d %s", name, code, text)
	}
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return GroupRange{}, fmt.Errorf("gwnntp: malformed GROUP response %q", text)
	}
	count, _ := strconv.ParseInt(fields[0], 10, 64)
	first, _ := strconv.ParseInt(fields[1], 10, 64)
	last, _ := strconv.ParseInt(fields[2], 10, 64)
	return GroupRange{First: first, Last: last, Count: count}, nil
}

func (c *textprotoConn) Article(ctx context.Context, messageID string) (gwrequest.ArticleView, error) {
	lines, code, text, err := c.cmdMultiline(220, "ARTICLE %s", messageID)
	if code == 430 {
		return gwrequest.ArticleView{}, articleNotFound(messageID)
	}
	if err != nil {
		return gwrequest.ArticleView{}, fmt.Errorf("gwnntp: ARTICLE %s: %d %s: %w", messageID, code, text, err)
	}
	raw := []byte(strings.Join(lines, "\r\n"))
	headerLines := lines
	for i, line := range lines {
		if line == "" {
			headerLines = lines[:i]
			break
		}
	}
	headers := ParseHeaderBlock(headerLines)
	headers.MessageID = messageID
	headers.Bytes = len(raw)
	return gwrequest.ArticleView{Headers: headers, Raw: raw}, nil
}

func (c *textprotoConn) Head(ctx context.Context, messageID string) (gwrequest.ArticleHeaders, error) {
	lines, code, text, err := c.cmdMultiline(221, "HEAD %s", messageID)
	if code == 430 {
		return gwrequest.ArticleHeaders{}, articleNotFound(messageID)
	}
	if err != nil {
		return gwrequest.ArticleHeaders{}, fmt.Errorf("gwnntp: HEAD %s: %d %s: %w", messageID, code, text, err)
	}
	headers := ParseHeaderBlock(lines)
	if headers.MessageID == "" {
		headers.MessageID = messageID
	}
	return headers, nil
}

func (c *textprotoConn) Stat(ctx context.Context, messageID string) (bool, error) {
	code, text, err := c.cmd("STAT %s", messageID)
	if err != nil {
		return false, fmt.Errorf("gwnntp: STAT %s: %w", messageID, err)
	}
	switch code {
	case 223:
		return true, nil
	case 430:
		return false, nil
	default:
		return false, fmt.Errorf("gwnntp: STAT %s: %d %s", messageID, code, text)
	}
}

func (c *textprotoConn) Over(ctx context.Context, first, last int64) ([]OverviewRow, error) {
	lines, code, text, err := c.cmdMultiline(224, "OVER %d-%d", first, last)
	if err != nil {
		return nil, fmt.Errorf("gwnntp: OVER %d-%d: %d %s: %w", first, last, code, text, err)
	}
	rows := make([]OverviewRow, 0, len(lines))
	for _, line := range lines {
		row, ok := parseOverviewLine(line)
		if !ok {
			continue // malformed line: skip rather than fail the batch
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *textprotoConn) Hdr(ctx context.Context, field string, first, last int64) (map[int64]string, error) {
	lines, code, text, err := c.cmdMultiline(225, "HDR %s %d-%d", field, first, last)
	if err != nil {
		return nil, fmt.Errorf("gwnntp: HDR %s %d-%d: %d %s: %w", field, first, last, code, text, err)
	}
	result := make(map[int64]string, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		number, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		result[number] = strings.TrimSpace(parts[1])
	}
	return result, nil
}

func (c *textprotoConn) List(ctx context.Context, variant ListVariant) ([]string, error) {
	lines, code, text, err := c.cmdMultiline(215, "LIST %s", string(variant))
	if err != nil {
		return nil, fmt.Errorf("gwnntp: LIST %s: %d %s: %w", variant, code, text, err)
	}
	return lines, nil
}

func (c *textprotoConn) Post(ctx context.Context, payload []byte) (gwrequest.PostResult, error) {
	code, text, err := c.cmd("POST")
	if err != nil {
		return gwrequest.PostResult{}, fmt.Errorf("gwnntp: POST: %w", err)
	}
	if code == 440 {
		return gwrequest.PostResult{Outcome: gwrequest.PostNotPermitted, Detail: text}, nil
	}
	if code != 340 {
		return gwrequest.PostResult{}, fmt.Errorf("gwnntp: POST not accepted: %d %s", code, text)
	}

	writer := c.text.DotWriter()
	if _, err := writer.Write(payload); err != nil {
		writer.Close()
		return gwrequest.PostResult{}, fmt.Errorf("gwnntp: streaming article body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return gwrequest.PostResult{}, fmt.Errorf("gwnntp: closing article body: %w", err)
	}

	code, text, err = c.text.ReadCodeLine(0)
	if err != nil {
		return gwrequest.PostResult{}, fmt.Errorf("gwnntp: POST completion: %w", err)
	}
	switch code {
	case 240:
		return gwrequest.PostResult{Outcome: gwrequest.PostAccepted, Detail: text}, nil
	case 441:
		return gwrequest.PostResult{Outcome: gwrequest.PostRejected, Detail: text}, nil
	default:
		return gwrequest.PostResult{}, fmt.Errorf("gwnntp: unexpected POST completion code %d %s", code, text)
	}
}

func (c *textprotoConn) Date(ctx context.Context) (time.Time, error) {
	code, text, err := c.cmd("DATE")
	if err != nil {
		return time.Time{}, fmt.Errorf("gwnntp: DATE: %w", err)
	}
	if code != 111 {
		return time.Time{}, fmt.Errorf("gwnntp: DATE: %d %s", code, text)
	}
	digits := strings.Fields(text)
	if len(digits) == 0 {
		return time.Time{}, fmt.Errorf("gwnntp: malformed DATE response %q", text)
	}
	parsed, err := time.Parse("20060102150405", digits[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("gwnntp: parsing DATE %q: %w", digits[0], err)
	}
	return parsed, nil
}

func (c *textprotoConn) Close() error {
	return c.text.Close()
}

func articleNotFound(messageID string) error {
	return gwerrors.NewNotFound("article", messageID)
}

func parseOverviewLine(line string) (OverviewRow, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 5 {
		return OverviewRow{}, false
	}
	number, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return OverviewRow{}, false
	}
	headers := gwrequest.ArticleHeaders{
		Number:  number,
		Subject: DecodeHeaderValue(fields[1]),
		From:    DecodeHeaderValue(fields[2]),
	}
	headers.Date = parseNNTPDate(fields[3])
	headers.MessageID = strings.TrimSpace(fields[4])
	if len(fields) > 5 {
		headers.References = parseReferences(fields[5])
	}
	if len(fields) > 6 {
		if n, err := strconv.Atoi(fields[6]); err == nil {
			headers.Bytes = n
		}
	}
	if len(fields) > 7 {
		if n, err := strconv.Atoi(fields[7]); err == nil {
			headers.Lines = n
		}
	}
	if len(fields) > 8 {
		headers.Xref = fields[8]
	}
	return OverviewRow{Number: number, Headers: headers}, true
}
