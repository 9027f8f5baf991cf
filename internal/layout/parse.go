package layout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is wrapped by every template compile error caused by malformed input.
var ErrSyntax = errors.New("layout: syntax error")

// rawRenderer is one parsed ${...} block before it is bound to an implementation.
type rawRenderer struct {
	name    string
	options []rawOption
	offset  int
}

type rawOption struct {
	key   string // empty for a positional default option
	value string
}

// segment is either literal text or a renderer block.
type segment struct {
	literal  string
	renderer *rawRenderer
}

// scanner splits template text into segments.
type scanner struct {
	input string
	pos   int
}

func parse(input string) ([]segment, error) {
	s := &scanner{input: input}
	var (
		segments []segment
		lit      strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case ch == '\\' && strings.HasPrefix(s.input[s.pos+1:], "${"):
			lit.WriteString("${")
			s.pos += 3
		case ch == '$' && s.pos+1 < len(s.input) && s.input[s.pos+1] == '{':
			flush()
			r, err := s.readRenderer()
			if err != nil {
				return nil, err
			}
			segments = append(segments, segment{renderer: r})
		default:
			lit.WriteByte(ch)
			s.pos++
		}
	}
	flush()
	return segments, nil
}

func (s *scanner) errorf(offset int, format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, offset, fmt.Sprintf(format, args...))
}

// readRenderer consumes "${name(:opt)*}" starting at s.pos.
func (s *scanner) readRenderer() (*rawRenderer, error) {
	start := s.pos
	s.pos += 2 // ${

	name, term, err := s.readUntil(start, ":}", false)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.errorf(start, "empty renderer name")
	}
	r := &rawRenderer{name: strings.ToLower(name), offset: start}

	for term == ':' {
		var text string
		text, term, err = s.readUntil(start, ":}", true)
		if err != nil {
			return nil, err
		}
		key, value, hasEq := strings.Cut(text, "=")
		if !hasEq {
			r.options = append(r.options, rawOption{value: text})
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, s.errorf(start, "renderer %q has an option without a name", name)
		}
		r.options = append(r.options, rawOption{key: strings.ToLower(key), value: value})
	}
	return r, nil
}

// readUntil reads up to one of the terminator bytes and consumes it.
// Backslash escapes the next byte when escapes is true.
func (s *scanner) readUntil(start int, terminators string, escapes bool) (string, byte, error) {
	var b strings.Builder
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch {
		case escapes && ch == '\\':
			if s.pos+1 >= len(s.input) {
				return "", 0, s.errorf(s.pos, "dangling escape")
			}
			b.WriteByte(s.input[s.pos+1])
			s.pos += 2
		case ch == '$' && s.pos+1 < len(s.input) && s.input[s.pos+1] == '{':
			return "", 0, s.errorf(s.pos, "nested renderers are not supported")
		case strings.IndexByte(terminators, ch) >= 0:
			s.pos++
			return b.String(), ch, nil
		default:
			b.WriteByte(ch)
			s.pos++
		}
	}
	return "", 0, s.errorf(start, "unterminated renderer")
}
