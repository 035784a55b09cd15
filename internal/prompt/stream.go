package prompt

import (
	"strings"
)

const (
	PolicyFinal       = "final"
	PolicyIncremental = "incremental"

	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// StreamSanitizer applies Sanitize to a fragment stream.
//
// With PolicyFinal every fragment is buffered and one sanitized string is
// emitted when the stream closes. With PolicyIncremental sanitized text is
// emitted as soon as it is known to be outside a tag; an unterminated tag or
// reasoning block is held back until it closes or the stream ends.
type StreamSanitizer struct {
	policy  string
	emit    func(string) error
	pending strings.Builder
	out     strings.Builder
	started bool
	closed  bool
}

func NewStreamSanitizer(policy string, emit func(string) error) *StreamSanitizer {
	if policy != PolicyIncremental {
		policy = PolicyFinal
	}
	return &StreamSanitizer{policy: policy, emit: emit}
}

// Write consumes one raw fragment.
func (s *StreamSanitizer) Write(fragment string) error {
	s.pending.WriteString(fragment)
	if s.policy == PolicyFinal {
		return nil
	}

	buf := s.pending.String()
	ready, held := splitSafe(buf)
	s.pending.Reset()
	s.pending.WriteString(held)
	return s.send(StripTags(ready))
}

// Close flushes whatever is still buffered.
func (s *StreamSanitizer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	rest := s.pending.String()
	s.pending.Reset()
	if s.policy == PolicyFinal {
		return s.send(Sanitize(rest))
	}
	rest = thinkRe.ReplaceAllString(rest, "")
	if i := strings.Index(rest, thinkOpen); i >= 0 {
		rest = rest[:i]
	}
	return s.send(strings.TrimRight(StripTags(rest), " \t\r\n"))
}

// Text returns everything emitted so far, trimmed.
func (s *StreamSanitizer) Text() string {
	return strings.TrimSpace(s.out.String())
}

func (s *StreamSanitizer) send(text string) error {
	if !s.started {
		text = strings.TrimLeft(text, " \t\r\n")
	}
	if text == "" {
		return nil
	}
	s.started = true
	s.out.WriteString(text)
	if s.emit == nil {
		return nil
	}
	return s.emit(text)
}

// splitSafe returns the prefix of buf that can be emitted without cutting a
// tag or reasoning block, with completed reasoning blocks removed, and the
// suffix that must wait for more input.
func splitSafe(buf string) (ready, held string) {
	var b strings.Builder
	for {
		open := strings.Index(buf, thinkOpen)
		if open < 0 {
			break
		}
		end := strings.Index(buf[open:], thinkClose)
		if end < 0 {
			b.WriteString(buf[:open])
			return trimPartialTag(b.String(), buf[open:])
		}
		b.WriteString(buf[:open])
		buf = buf[open+end+len(thinkClose):]
	}
	b.WriteString(buf)
	return trimPartialTag(b.String(), "")
}

// trimPartialTag moves an unterminated trailing tag from ready to the front of held.
func trimPartialTag(ready, held string) (string, string) {
	lt := strings.LastIndex(ready, "<")
	if lt >= 0 && !strings.Contains(ready[lt:], ">") {
		return ready[:lt], ready[lt:] + held
	}
	return ready, held
}
