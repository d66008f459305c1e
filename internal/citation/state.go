package citation

import (
	"context"
	"strings"
)

// State is the position of the citation parser within a streamed turn.
type State int

const (
	StateNormal State = iota
	StateInCiteTag
	StateInCiteContent
	StatePossibleFilename
	StateAfterDigitPeriod
	StateInFilenameLink
)

var stateNames = [...]string{
	StateNormal:           "normal",
	StateInCiteTag:        "in_cite_tag",
	StateInCiteContent:    "in_cite_content",
	StatePossibleFilename: "possible_filename",
	StateAfterDigitPeriod: "after_digit_period",
	StateInFilenameLink:   "in_filename_link",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

const (
	citeOpen  = "<cite"
	citeClose = "</cite>"

	// maxPending bounds the retained buffer. Nothing longer can still become a citation.
	maxPending = 2048
)

// ParserState is the per-turn parser state. It belongs to the caller and must be passed to
// every ProcessChunk call of the same turn, in order.
type ParserState struct {
	State  State
	Buffer string
}

// MarkupResolver turns complete citation markup into replacement text.
type MarkupResolver interface {
	// ResolveCitation receives a full "<cite ...>...</cite>" tag.
	ResolveCitation(ctx context.Context, markup string) string
	// ResolveFilenameLink receives a full "N. [title](url)" link.
	ResolveFilenameLink(ctx context.Context, markup string) string
}

// ProcessChunk consumes one streamed chunk and returns the text that is safe to show now.
// Partial markup at the end of the chunk stays in st.Buffer until a later chunk completes
// or rejects it.
func ProcessChunk(ctx context.Context, chunk string, st *ParserState, r MarkupResolver) string {
	var out strings.Builder
	out.Grow(len(chunk))
	for i := 0; i < len(chunk); i++ {
		step(ctx, chunk[i], st, r, &out)
	}
	return out.String()
}

// Flush ends the turn. Buffered text that never completed a citation is returned verbatim.
func Flush(st *ParserState) string {
	rest := st.Buffer
	st.Buffer = ""
	st.State = StateNormal
	return rest
}

// step feeds one byte. Citation markup is ASCII, so multi-byte runes pass through untouched.
func step(ctx context.Context, c byte, st *ParserState, r MarkupResolver, out *strings.Builder) {
	for {
		if st.State != StateNormal && len(st.Buffer) >= maxPending {
			release(st, out)
		}

		switch st.State {
		case StateNormal:
			switch {
			case c == '<':
				st.Buffer = "<"
				st.State = StateInCiteTag
			case isDigit(c):
				st.Buffer = string(c)
				st.State = StatePossibleFilename
			default:
				out.WriteByte(c)
			}
			return

		case StateInCiteTag:
			next := st.Buffer + string(c)
			if len(next) <= len(citeOpen) {
				if strings.HasPrefix(citeOpen, next) {
					st.Buffer = next
					return
				}
				release(st, out)
				continue
			}
			switch {
			case c == '>':
				st.Buffer = next
				st.State = StateInCiteContent
				return
			case isSpace(c):
				st.Buffer = next
				return
			}
			release(st, out)
			continue

		case StateInCiteContent:
			st.Buffer += string(c)
			if strings.HasSuffix(st.Buffer, citeClose) {
				out.WriteString(r.ResolveCitation(ctx, st.Buffer))
				reset(st)
			}
			return

		case StatePossibleFilename:
			switch {
			case isDigit(c):
				st.Buffer += string(c)
				return
			case c == '.':
				st.Buffer += "."
				st.State = StateAfterDigitPeriod
				return
			}
			release(st, out)
			continue

		case StateAfterDigitPeriod:
			switch {
			case c == '[':
				st.Buffer += "["
				st.State = StateInFilenameLink
				return
			case c == ' ' && !strings.HasSuffix(st.Buffer, " "):
				st.Buffer += " "
				return
			}
			release(st, out)
			continue

		case StateInFilenameLink:
			open := strings.IndexByte(st.Buffer, '[')
			if open < 0 {
				release(st, out)
				continue
			}
			closed := strings.IndexByte(st.Buffer[open:], ']')
			switch {
			case closed < 0:
				// inside [title]
				if c == '\n' {
					release(st, out)
					continue
				}
				st.Buffer += string(c)
				return
			case open+closed == len(st.Buffer)-1:
				// "]" must be followed directly by "("
				if c != '(' {
					release(st, out)
					continue
				}
				st.Buffer += "("
				return
			default:
				// inside (url)
				if c == '\n' {
					release(st, out)
					continue
				}
				st.Buffer += string(c)
				if c == ')' {
					out.WriteString(r.ResolveFilenameLink(ctx, st.Buffer))
					reset(st)
				}
				return
			}

		default:
			release(st, out)
			continue
		}
	}
}

// release gives up on the buffered candidate and emits it as literal text.
func release(st *ParserState, out *strings.Builder) {
	out.WriteString(st.Buffer)
	reset(st)
}

func reset(st *ParserState) {
	st.Buffer = ""
	st.State = StateNormal
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
