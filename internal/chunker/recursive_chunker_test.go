package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"docqa/internal/domain"
)

func mustChunker(t *testing.T, size, overlap int) *RecursiveChunker {
	t.Helper()
	c, err := NewRecursiveChunker(size, overlap)
	if err != nil {
		t.Fatalf("NewRecursiveChunker(%d, %d): %v", size, overlap, err)
	}
	return c
}

// letters returns n runes with no separators in them.
func letters(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[i%len(alphabet)])
	}
	return b.String()
}

func TestNewRecursiveChunker_RejectsBadWindow(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero_size", 0, 0},
		{"overlap_equals_size", 100, 100},
		{"negative_overlap", 100, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRecursiveChunker(tt.size, tt.overlap); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSplitText_ShortDocumentIsSingleChunk(t *testing.T) {
	c := mustChunker(t, 500, 50)
	text := "PM Accelerator helps product managers.\n\nIt runs a mentorship program."
	got := c.SplitText(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %q", len(got), got)
	}
	if got[0] != text {
		t.Fatalf("chunk = %q, want whole document", got[0])
	}
}

func TestSplitText_SizePlusOverlapYieldsTwoOverlappingChunks(t *testing.T) {
	const size, overlap = 500, 50
	c := mustChunker(t, size, overlap)
	text := letters(size + overlap)

	got := c.SplitText(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0] != text[:size] {
		t.Errorf("first chunk should be the first %d runes", size)
	}
	if got[1] != text[size-overlap:] {
		t.Errorf("second chunk should start %d runes before the cut", overlap)
	}
	if !strings.HasPrefix(got[1], got[0][size-overlap:]) {
		t.Errorf("chunks do not share %d runes", overlap)
	}
}

func TestSplitText_PrefersWordBoundaries(t *testing.T) {
	c := mustChunker(t, 20, 5)
	got := c.SplitText("alpha beta gamma delta epsilon zeta eta theta")
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %q", got)
	}
	for _, ch := range got {
		if utf8.RuneCountInString(ch) > 20 {
			t.Errorf("chunk %q exceeds size", ch)
		}
		for _, w := range strings.Fields(ch) {
			if !strings.Contains("alpha beta gamma delta epsilon zeta eta theta", w) {
				t.Errorf("chunk %q cut a word: %q", ch, w)
			}
		}
	}
}

func TestSplitText_ParagraphsBeforeWords(t *testing.T) {
	c := mustChunker(t, 30, 0)
	first := "First paragraph is here."
	second := "Second paragraph follows."
	got := c.SplitText(first + "\n\n" + second)
	if len(got) != 2 || got[0] != first || got[1] != second {
		t.Fatalf("expected paragraph split, got %q", got)
	}
}

func TestSplitText_EmptyAndWhitespace(t *testing.T) {
	c := mustChunker(t, 500, 50)
	for _, in := range []string{"", "   \n\n  "} {
		if got := c.SplitText(in); len(got) != 0 {
			t.Errorf("SplitText(%q) = %q, want none", in, got)
		}
	}
}

func TestSplitText_CountsRunesNotBytes(t *testing.T) {
	c := mustChunker(t, 10, 0)
	got := c.SplitText(strings.Repeat("é", 10))
	if len(got) != 1 {
		t.Fatalf("10 two-byte runes should fit a 10-rune chunk, got %d chunks", len(got))
	}
}

func TestChunk_TagsSourceAndPage(t *testing.T) {
	c := mustChunker(t, 500, 50)
	docs := []domain.Document{
		{Source: "pdfs/a.pdf", Page: 1, Content: "Page one text."},
		{Source: "pdfs/a.pdf", Page: 2, Content: "Page two text."},
	}
	chunks, err := c.Chunk(docs)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	seen := map[string]bool{}
	for i, ch := range chunks {
		if ch.Source != "pdfs/a.pdf" || ch.Page != i+1 {
			t.Errorf("chunk %d metadata = %+v", i, ch)
		}
		if ch.ID == "" || seen[ch.ID] {
			t.Errorf("chunk %d has empty or duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
	}
}
