package truncate

import (
	"strings"
	"testing"
)

func TestTruncateNoOpBelowLimits(t *testing.T) {
	s := "short content"
	got := Truncate(s, Limits{MaxChars: 1000, MaxLines: 100})
	if got != s {
		t.Errorf("got %q, want unchanged %q", got, s)
	}
}

func TestTruncateCharCapFirst(t *testing.T) {
	s := strings.Repeat("a", 100)
	got := Truncate(s, Limits{MaxChars: 10, MaxLines: 100})
	if !strings.HasPrefix(got, strings.Repeat("a", 10)) {
		t.Fatalf("got %q, want prefix of 10 a's", got)
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("expected truncation marker, got %q", got)
	}
}

func TestTruncateLineCapAppliedAfterCharCap(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "line"
	}
	s := strings.Join(lines, "\n")
	got := Truncate(s, Limits{MaxChars: 0, MaxLines: 5})
	gotLines := strings.Split(got, "\n")
	// 5 content lines + marker line(s).
	if len(gotLines) < 5 {
		t.Fatalf("got %d lines, want at least 5 content lines", len(gotLines))
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("expected truncation marker, got %q", got)
	}
}

func TestTruncateIsIdempotent(t *testing.T) {
	s := strings.Repeat("x", 5000)
	limits := Limits{MaxChars: 100, MaxLines: 10}
	once := Truncate(s, limits)
	twice := Truncate(once, limits)
	if once != twice {
		t.Errorf("truncate is not idempotent:\nonce  = %q\ntwice = %q", once, twice)
	}
}

func TestLimitsForKnownAndDefault(t *testing.T) {
	if LimitsFor("filesystem") != (Limits{MaxChars: 50000, MaxLines: 1000}) {
		t.Errorf("unexpected filesystem limits: %+v", LimitsFor("filesystem"))
	}
	if LimitsFor("unknown-category") != DefaultLimits {
		t.Errorf("unexpected default limits: %+v", LimitsFor("unknown-category"))
	}
}

func TestPreviewCapsLinesAndChars(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "line of text"
	}
	s := strings.Join(lines, "\n")
	p := Preview(s)
	if len(strings.Split(p, "\n")) > PreviewMaxLines {
		t.Errorf("preview has more than %d lines", PreviewMaxLines)
	}
}

func TestHandleStoreRoundTripByteForByte(t *testing.T) {
	store := NewHandleStore(10)
	content := strings.Repeat("z", 200000)
	desc := store.Put(content)
	if desc.Type != "file_reference" || desc.Size != len(content) {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	got, ok := store.Get(desc.Path)
	if !ok {
		t.Fatal("expected handle to be retrievable")
	}
	if got != content {
		t.Error("round-tripped content does not match byte-for-byte")
	}
}

func TestApplyResultUsesHandleAboveThreshold(t *testing.T) {
	store := NewHandleStore(10)
	big := strings.Repeat("a", FileReferenceThreshold+1)
	result := store.ApplyResult("filesystem", big)
	desc, ok := result.(Descriptor)
	if !ok {
		t.Fatalf("expected Descriptor for oversized result, got %T", result)
	}
	if desc.Size != len(big) {
		t.Errorf("descriptor size = %d, want %d", desc.Size, len(big))
	}
}

func TestApplyResultTruncatesBelowThreshold(t *testing.T) {
	store := NewHandleStore(10)
	small := strings.Repeat("a", 60000)
	result := store.ApplyResult("filesystem", small)
	s, ok := result.(string)
	if !ok {
		t.Fatalf("expected string result below threshold, got %T", result)
	}
	if len(s) <= 50000 {
		t.Errorf("expected truncated string longer than cap due to marker, got len %d", len(s))
	}
}
