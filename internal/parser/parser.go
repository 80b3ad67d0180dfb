// Package parser recovers typed actions from an incrementally-produced text
// stream. Fragments may split a marker, an attribute, or body content at any
// byte boundary; the parser is a single-pass state machine and never buffers
// more than the current unterminated marker.
package parser

import (
	"strings"

	"github.com/weft-dev/weft/internal/models"
)

// Marker vocabulary. An action block looks like:
//
//	<op type="file" path="src/main.go">package main...</op>
//	<op type="shell" command="go test ./..."></op>
//	<op type="start" command="npm run dev"/>
//
// Body content may contain nested <op ...>...</op> blocks verbatim; only the
// matching close at nesting depth zero terminates the action.
const (
	openToken  = "<op"
	closeToken = "</op>"
)

// Event is a single parser output. Exactly one field is set: forwarded plain
// text, a completed action, or a non-fatal warning.
type Event struct {
	Text    string
	Action  *models.Action
	Warning *models.ParseWarning
}

type state int

const (
	stateScanning state = iota
	stateHeader
	stateBody
)

// Parser is the incremental action parser. Not safe for concurrent use; one
// parser serves one generator stream.
type Parser struct {
	state   state
	buf     string // unconsumed input
	header  string // raw header text, including the open token
	inQuote bool   // inside a quoted attribute value, carried across fragments
	body    strings.Builder
	attrs   map[string]string
	depth   int
	offset  int // total bytes consumed, for warning positions
	seq     int
}

// New creates a parser in the scanning state.
func New() *Parser {
	return &Parser{}
}

// Feed consumes the next stream fragment and returns the events it completes.
// Plain content outside markers is forwarded immediately.
func (p *Parser) Feed(fragment string) []Event {
	p.buf += fragment
	var events []Event
	for {
		var ev []Event
		var progress bool
		switch p.state {
		case stateScanning:
			ev, progress = p.scan()
		case stateHeader:
			ev, progress = p.scanHeader()
		case stateBody:
			ev, progress = p.scanBody()
		}
		events = append(events, ev...)
		if !progress {
			return events
		}
	}
}

// Flush terminates the stream. A marker left open mid-stream is reported as a
// warning and its partial content is passed through as plain text.
func (p *Parser) Flush() []Event {
	var events []Event
	switch p.state {
	case stateHeader:
		events = append(events,
			Event{Warning: &models.ParseWarning{Offset: p.offset, Reason: "stream ended inside marker header"}},
			Event{Text: p.header + p.buf})
	case stateBody:
		events = append(events,
			Event{Warning: &models.ParseWarning{Offset: p.offset, Reason: "stream ended inside marker body"}})
		if text := p.header + p.body.String() + p.buf; text != "" {
			events = append(events, Event{Text: text})
		}
	default:
		if p.buf != "" {
			events = append(events, Event{Text: p.buf})
		}
	}
	p.buf = ""
	p.header = ""
	p.body.Reset()
	p.inQuote = false
	p.depth = 0
	p.state = stateScanning
	return events
}

// scan looks for the next open token, forwarding everything before it.
func (p *Parser) scan() ([]Event, bool) {
	from := 0
	for {
		i := strings.Index(p.buf[from:], "<")
		if i < 0 {
			return p.emitText(len(p.buf)), false
		}
		i += from

		rest := p.buf[i:]
		if len(rest) < len(openToken)+1 {
			// Could still become "<op" + delimiter; hold the tail.
			if strings.HasPrefix(openToken, rest) || strings.HasPrefix(rest, openToken) {
				return p.emitText(i), false
			}
			from = i + 1
			continue
		}
		if strings.HasPrefix(rest, openToken) && isMarkerDelim(rest[len(openToken)]) {
			events := p.emitText(i)
			p.consume(len(openToken))
			p.header = openToken
			p.inQuote = false
			p.state = stateHeader
			return events, true
		}
		from = i + 1
	}
}

// scanHeader accumulates the opening marker until its '>' (outside quotes),
// then validates attributes and either enters the body or passes the region
// through with a warning.
func (p *Parser) scanHeader() ([]Event, bool) {
	for i := 0; i < len(p.buf); i++ {
		c := p.buf[i]
		if c == '"' {
			p.inQuote = !p.inQuote
			continue
		}
		if c == '>' && !p.inQuote {
			p.header += p.buf[:i+1]
			p.consume(i + 1)
			return p.finishHeader()
		}
	}
	p.header += p.buf
	p.consume(len(p.buf))
	return nil, false
}

func (p *Parser) finishHeader() ([]Event, bool) {
	inner := strings.TrimPrefix(p.header, openToken)
	inner = strings.TrimSuffix(inner, ">")
	selfClosing := strings.HasSuffix(inner, "/")
	if selfClosing {
		inner = strings.TrimSuffix(inner, "/")
	}
	attrs := parseAttrs(inner)

	action, reason := buildAction(attrs, p.seq)
	if action == nil {
		events := []Event{
			{Warning: &models.ParseWarning{Offset: p.offset, Reason: reason}},
			{Text: p.header},
		}
		p.header = ""
		p.state = stateScanning
		return events, true
	}

	if selfClosing {
		p.seq++
		p.header = ""
		p.state = stateScanning
		return []Event{{Action: action}}, true
	}

	p.attrs = attrs
	p.body.Reset()
	p.depth = 0
	p.state = stateBody
	return nil, true
}

// scanBody accumulates raw content, tracking nested markers of the same kind,
// until the matching close token at depth zero.
func (p *Parser) scanBody() ([]Event, bool) {
	from := 0
	for {
		i := strings.Index(p.buf[from:], "<")
		if i < 0 {
			p.body.WriteString(p.buf)
			p.consume(len(p.buf))
			return nil, false
		}
		i += from

		rest := p.buf[i:]
		if len(rest) < len(closeToken) {
			// Ambiguous tail; keep it buffered until more input arrives.
			if strings.HasPrefix(closeToken, rest) || strings.HasPrefix(openToken+" ", rest) || strings.HasPrefix(rest, openToken) {
				p.body.WriteString(p.buf[:i])
				p.consume(i)
				return nil, false
			}
			from = i + 1
			continue
		}
		if strings.HasPrefix(rest, closeToken) {
			if p.depth > 0 {
				p.depth--
				from = i + len(closeToken)
				continue
			}
			p.body.WriteString(p.buf[:i])
			p.consume(i + len(closeToken))
			action, _ := buildAction(p.attrs, p.seq)
			action.Content = trimLeadingNewline(p.body.String())
			p.seq++
			p.header = ""
			p.body.Reset()
			p.state = stateScanning
			return []Event{{Action: action}}, true
		}
		if strings.HasPrefix(rest, openToken) && isMarkerDelim(rest[len(openToken)]) {
			end, selfClosing, ok := nestedHeaderEnd(rest)
			if !ok {
				// Nested header split across fragments; hold it whole.
				p.body.WriteString(p.buf[:i])
				p.consume(i)
				return nil, false
			}
			if !selfClosing {
				p.depth++
			}
			from = i + end
			continue
		}
		from = i + 1
	}
}

// nestedHeaderEnd locates the end of a nested opening marker. rest starts at
// the open token; end is the index just past the closing '>'. A self-closing
// nested marker has no matching close token, so it must not raise the nesting
// depth.
func nestedHeaderEnd(rest string) (end int, selfClosing, ok bool) {
	inQuote := false
	for i := len(openToken); i < len(rest); i++ {
		switch rest[i] {
		case '"':
			inQuote = !inQuote
		case '>':
			if !inQuote {
				return i + 1, rest[i-1] == '/', true
			}
		}
	}
	return 0, false, false
}

func (p *Parser) emitText(n int) []Event {
	if n == 0 {
		return nil
	}
	text := p.buf[:n]
	p.consume(n)
	return []Event{{Text: text}}
}

func (p *Parser) consume(n int) {
	p.offset += n
	p.buf = p.buf[n:]
}

// buildAction validates the attribute set against the closed action variants.
// A nil action carries the rejection reason.
func buildAction(attrs map[string]string, seq int) (*models.Action, string) {
	switch attrs["type"] {
	case "file":
		path, ok := attrs["path"]
		if !ok || path == "" {
			return nil, `file marker missing required "path" attribute`
		}
		return &models.Action{Kind: models.ActionFile, Seq: seq, Path: path}, ""
	case "shell":
		cmd, ok := attrs["command"]
		if !ok || cmd == "" {
			return nil, `shell marker missing required "command" attribute`
		}
		return &models.Action{Kind: models.ActionShell, Seq: seq, Command: cmd}, ""
	case "start":
		cmd, ok := attrs["command"]
		if !ok || cmd == "" {
			return nil, `start marker missing required "command" attribute`
		}
		return &models.Action{Kind: models.ActionStartServer, Seq: seq, Command: cmd}, ""
	case "":
		return nil, `marker missing "type" attribute`
	default:
		return nil, `unknown marker type "` + attrs["type"] + `"`
	}
}

// parseAttrs scans key="value" pairs. Values keep their bytes verbatim; no
// entity decoding is applied.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		key := s[start:i]
		if key == "" || i >= len(s) || s[i] != '=' {
			// Bare word or trailing junk; skip it.
			i++
			continue
		}
		i++ // '='
		if i >= len(s) || s[i] != '"' {
			continue
		}
		i++ // opening quote
		vstart := i
		for i < len(s) && s[i] != '"' {
			i++
		}
		if i >= len(s) {
			break
		}
		attrs[key] = s[vstart:i]
		i++ // closing quote
	}
	return attrs
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isMarkerDelim(c byte) bool {
	return isSpace(c) || c == '>' || c == '/'
}

// trimLeadingNewline drops the newline generators emit right after the
// opening marker so file content starts at column zero.
func trimLeadingNewline(s string) string {
	if strings.HasPrefix(s, "\r\n") {
		return s[2:]
	}
	if strings.HasPrefix(s, "\n") {
		return s[1:]
	}
	return s
}
