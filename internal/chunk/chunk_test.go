package chunk

import (
	"strings"
	"testing"
)

func TestSplit_ShortTextUnchanged(t *testing.T) {
	got := Split("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("Split(short) = %v, want [hello]", got)
	}
}

func TestSplit_NoChunkExceedsMaxLen(t *testing.T) {
	text := ""
	for i := 0; i < 5000; i++ {
		text += "A"
	}
	chunks := Split(text, 2000)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	wantLens := []int{2000, 2000, 1000}
	for i, c := range chunks {
		if len(c) != wantLens[i] {
			t.Errorf("chunk %d length = %d, want %d", i, len(c), wantLens[i])
		}
	}
}

func TestSplit_PreservesAllNonRepairCharacters(t *testing.T) {
	text := "para one line a\nline b\n\npara two line a\nline b line c"
	chunks := Split(text, 20)
	joined := ""
	for _, c := range chunks {
		joined += c
	}
	for _, want := range []string{"para one", "line a", "line b", "para two", "line c"} {
		if !strings.Contains(joined, want) {
			t.Errorf("joined output missing %q", want)
		}
	}
}

func TestSplit_PrefersParagraphBreak(t *testing.T) {
	text := "first paragraph here\n\nsecond paragraph here, this one runs long enough to force a split downstream"
	chunks := Split(text, len("first paragraph here")+5)
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %d chunks", len(chunks))
	}
	if chunks[0] != "first paragraph here\n" && chunks[0] != "first paragraph here" {
		t.Errorf("first chunk = %q, want split at paragraph break", chunks[0])
	}
}

func TestSplit_CodeFenceRepairEvenFenceCount(t *testing.T) {
	inner := ""
	for i := 0; i < 4000; i++ {
		inner += "x"
	}
	text := "Before\n```rust\n" + inner + "\n```\nAfter"
	chunks := Split(text, 2000)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if count := countFences(c); count%2 != 0 {
			t.Errorf("chunk %d has odd fence count %d: %q", i, count, c)
		}
	}
}

func TestSplit_NeverEmitsEmptyChunk(t *testing.T) {
	text := ""
	for i := 0; i < 10000; i++ {
		text += " "
	}
	chunks := Split(text, 50)
	for i, c := range chunks {
		if len(c) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
	}
}

func countFences(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			n++
		}
	}
	return n
}
