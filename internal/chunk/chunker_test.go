package chunk

import (
	"strings"
	"testing"
)

// feed streams text word-by-word the way an LLM token stream arrives,
// with the whitespace attached to the front of the following token.
func feed(c *Chunker, text string) []string {
	var out []string
	words := strings.Split(text, " ")
	for i, w := range words {
		tok := w
		if i > 0 {
			tok = " " + w
		}
		if chunk, ok := c.AddToken(tok); ok {
			out = append(out, chunk)
		}
	}
	if chunk, ok := c.Flush(); ok {
		out = append(out, chunk)
	}
	return out
}

func TestChunker_SentenceBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"single_sentence", "Hello there.", []string{"Hello there."}},
		{"two_sentences", "Hello there. How are you?", []string{"Hello there.", "How are you?"}},
		{"exclamation", "Wow! That is a great view.", []string{"Wow!", "That is a great view."}},
		{"closing_quote", `He said "sure." Then he left.`, []string{`He said "sure."`, "Then he left."}},
		{"currency_decimal", "The price is $10.50. Is that okay?", []string{"The price is $10.50.", "Is that okay?"}},
		{"plain_decimal", "Pi is roughly 3.14 in most cases.", []string{"Pi is roughly 3.14 in most cases."}},
		{"time_colon", "Let's meet at 5:30 PM tomorrow.", []string{"Let's meet at 5:30 PM tomorrow."}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := feed(New(0), tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("chunks mismatch: got %q want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("chunk %d: got %q want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestChunker_AbbreviationsDoNotSplit(t *testing.T) {
	cases := []string{
		"Dr. Smith will call you back today.",
		"Mr. and Mrs. Jones viewed the unit.",
		"It is approx. 1200 sq. ft. of space in total now.",
	}
	for _, in := range cases {
		got := feed(New(0), in)
		if len(got) != 1 {
			t.Fatalf("input %q: expected a single chunk, got %q", in, got)
		}
	}
}

func TestChunker_WeakBoundaryNeedsMinWords(t *testing.T) {
	// 4 words before the comma: below the default threshold, no split.
	short := feed(New(0), "Sure thing, see you soon")
	if len(short) != 1 {
		t.Fatalf("expected no clause split for short buffer, got %q", short)
	}

	// Long clause crosses the threshold and splits at the separator.
	long := feed(New(0), "When you think about the neighborhoods north of the river, there are plenty of options")
	if len(long) != 2 {
		t.Fatalf("expected clause split, got %q", long)
	}
	if !strings.HasSuffix(long[0], ",") {
		t.Fatalf("first chunk should end at the separator, got %q", long[0])
	}
}

func TestChunker_EarlySeparatorDoesNotFireRetroactively(t *testing.T) {
	// The comma after the first word fails the length gate when it arrives.
	// Growing the buffer past the threshold later must not resurrect it:
	// that would split off the one-word clause the gate suppressed.
	got := feed(New(0), "One, two three four five six seven eight nine ten eleven.")
	if len(got) != 1 {
		t.Fatalf("expected a single sentence chunk, got %q", got)
	}
}

func TestChunker_FlushIdempotent(t *testing.T) {
	c := New(0)
	if _, ok := c.AddToken("tail without punctuation"); ok {
		t.Fatalf("no boundary expected")
	}
	got, ok := c.Flush()
	if !ok || got != "tail without punctuation" {
		t.Fatalf("flush: got %q ok=%v", got, ok)
	}
	if _, ok := c.Flush(); ok {
		t.Fatalf("second flush should be empty")
	}
	if c.Pending() {
		t.Fatalf("buffer should be empty after flush")
	}
}

func TestChunker_BoundarySpansTokens(t *testing.T) {
	// Terminator and the following whitespace arrive in separate tokens.
	c := New(0)
	var chunks []string
	for _, tok := range []string{"The tour is set", ".", " Great", "."} {
		if chunk, ok := c.AddToken(tok); ok {
			chunks = append(chunks, chunk)
		}
	}
	if chunk, ok := c.Flush(); ok {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 2 || chunks[0] != "The tour is set." || chunks[1] != "Great." {
		t.Fatalf("got %q", chunks)
	}
}

func TestChunker_EmptyToken(t *testing.T) {
	c := New(0)
	if _, ok := c.AddToken(""); ok {
		t.Fatalf("empty token must not emit")
	}
}
