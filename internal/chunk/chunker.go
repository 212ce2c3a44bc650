package chunk

import (
	"strings"
	"unicode"
)

// DefaultMinChunkWords is the minimum word count before a clause separator
// (comma, semicolon, colon) is allowed to split the buffer. Splitting short
// clauses produces choppy speech; splitting long ones cuts time-to-first-audio.
const DefaultMinChunkWords = 10

// abbreviations that end with a period mid-sentence and must not be treated
// as sentence boundaries. Compared case-insensitively without the period.
var abbreviations = map[string]struct{}{
	// honorifics
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "rev": {}, "hon": {}, "jr": {}, "sr": {}, "st": {},
	// units and common shorthand
	"approx": {}, "etc": {}, "vs": {}, "no": {}, "sq": {}, "ft": {}, "oz": {}, "lb": {}, "min": {}, "max": {},
	// address / regional
	"ave": {}, "blvd": {}, "rd": {}, "apt": {}, "ste": {}, "dept": {}, "inc": {}, "ltd": {}, "co": {},
}

// Chunker incrementally groups streamed LLM tokens into speakable text units.
// Tokens accumulate in a buffer; after each append the buffer is scanned for
// the earliest boundary and the prefix up to it is emitted while the
// remainder is retained for subsequent calls.
type Chunker struct {
	minWords int
	buf      string
}

// New returns a Chunker. minWords <= 0 selects DefaultMinChunkWords.
func New(minWords int) *Chunker {
	if minWords <= 0 {
		minWords = DefaultMinChunkWords
	}
	return &Chunker{minWords: minWords}
}

// AddToken appends a token and returns a chunk if a boundary was crossed.
// The boolean reports whether a chunk was emitted.
func (c *Chunker) AddToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	c.buf += token
	return c.scan()
}

// Flush emits the trimmed remainder of the buffer at end of stream.
// A second call on an empty buffer returns false.
func (c *Chunker) Flush() (string, bool) {
	rest := strings.TrimSpace(c.buf)
	c.buf = ""
	if rest == "" {
		return "", false
	}
	return rest, true
}

// Pending reports whether undelivered text remains in the buffer.
func (c *Chunker) Pending() bool { return strings.TrimSpace(c.buf) != "" }

func isTerminator(r byte) bool { return r == '.' || r == '!' || r == '?' }
func isSeparator(r byte) bool  { return r == ',' || r == ';' || r == ':' }

func isClosingQuote(r byte) bool {
	return r == '"' || r == '\'' || r == ')'
}

// scan looks for the earliest strong boundary, then (failing that) a weak
// boundary at the buffer tail when the clause before it is long enough.
func (c *Chunker) scan() (string, bool) {
	b := c.buf
	for i := 0; i < len(b)-1; i++ {
		if !isTerminator(b[i]) {
			continue
		}
		end := i
		// allow one closing quote between terminator and whitespace
		if end+1 < len(b) && isClosingQuote(b[end+1]) {
			end++
		}
		// boundary only if the literal next character is whitespace; this is
		// what keeps "3.14" and "$10.50" intact.
		if end+1 >= len(b) || !unicode.IsSpace(rune(b[end+1])) {
			continue
		}
		if b[i] == '.' && isAbbreviation(b[:i]) {
			continue
		}
		return c.emit(end + 1)
	}
	// A clause separator only splits while it is still at the buffer tail
	// (at most one word-in-progress after it). Once a full word follows,
	// the moment has passed and the clause rides along to the next boundary.
	for i := len(b) - 2; i >= 0; i-- {
		if !isSeparator(b[i]) || !unicode.IsSpace(rune(b[i+1])) {
			continue
		}
		if wordCount(b[i+1:]) > 1 || wordCount(b[:i]) < c.minWords {
			break
		}
		return c.emit(i + 1)
	}
	return "", false
}

// emit cuts the buffer at pos (exclusive), trims the chunk and keeps the tail.
func (c *Chunker) emit(pos int) (string, bool) {
	out := strings.TrimSpace(c.buf[:pos])
	c.buf = strings.TrimLeft(c.buf[pos:], " \t\r\n")
	if out == "" {
		return "", false
	}
	return out, true
}

// isAbbreviation reports whether the word ending at the period that follows
// prefix is a recognized abbreviation.
func isAbbreviation(prefix string) bool {
	i := len(prefix)
	for i > 0 && !unicode.IsSpace(rune(prefix[i-1])) {
		i--
	}
	word := strings.ToLower(prefix[i:])
	word = strings.TrimLeft(word, "\"'([")
	// interior periods ("e.g", "u.s") keep only the last component
	if j := strings.LastIndexByte(word, '.'); j >= 0 {
		word = word[j+1:]
	}
	if word == "" {
		return false
	}
	_, ok := abbreviations[word]
	return ok
}

func wordCount(s string) int { return len(strings.Fields(s)) }
