package service

import (
	"strings"
	"testing"
)

func TestLocate_IdenticalTexts(t *testing.T) {
	text := "The sky is blue."
	l := NewSegmentLocator(text, text)

	tests := []struct {
		seg  string
		end  int
		want int
	}{
		{"sky is blue", 15, 15},
		{"sky is blue.", 16, 16},
		{"The sky", 7, 7},
	}
	for _, tt := range tests {
		got, strategy := l.Locate(tt.seg, tt.end)
		if got != tt.want {
			t.Errorf("Locate(%q, %d): got %d, want %d", tt.seg, tt.end, got, tt.want)
		}
		if strategy != LocateWindow {
			t.Errorf("Locate(%q): strategy %q, want %q", tt.seg, strategy, LocateWindow)
		}
	}
}

func TestLocate_IdentityNoDrift(t *testing.T) {
	text := "Go was designed at Google. It is statically typed. " +
		"Goroutines are lightweight threads. Channels connect goroutines."
	l := NewSegmentLocator(text, text)

	for _, sentence := range []string{
		"Go was designed at Google.",
		"It is statically typed.",
		"Goroutines are lightweight threads.",
		"Channels connect goroutines.",
	} {
		end := len([]rune(text[:strings.Index(text, sentence)])) + len([]rune(sentence))
		got, _ := l.Locate(sentence, end)
		if got != end {
			t.Errorf("Locate(%q): got %d, want %d", sentence, got, end)
		}
	}
}

func TestLocate_PrefersOccurrenceNearEstimate(t *testing.T) {
	text := "red fish blue fish and more words here, red fish blue fish"
	l := NewSegmentLocator(text, text)

	// Second "red fish" spans [40, 48). The first one, at [0, 8), is outside the window.
	got, strategy := l.Locate("red fish", 48)
	if got != 48 {
		t.Errorf("got %d, want 48", got)
	}
	if strategy != LocateWindow {
		t.Errorf("strategy %q, want %q", strategy, LocateWindow)
	}
}

func TestLocate_GlobalSearchWhenOutsideWindow(t *testing.T) {
	target := strings.Repeat("z ", 200) + "needle here"
	l := NewSegmentLocator("needle here", target)

	// A wrong metadata offset puts the estimate at the very start.
	got, strategy := l.Locate("needle here", 0)
	if got != len([]rune(target)) {
		t.Errorf("got %d, want %d", got, len([]rune(target)))
	}
	if strategy != LocateGlobal {
		t.Errorf("strategy %q, want %q", strategy, LocateGlobal)
	}
}

func TestLocate_ExtendsToWordEnd(t *testing.T) {
	l := NewSegmentLocator("The quick brown fox", "The quick brownish fox")

	got, _ := l.Locate("quick brown", 15)
	if got != 18 {
		t.Errorf("got %d, want 18 (end of \"brownish\")", got)
	}
}

func TestLocate_WordExtensionCapped(t *testing.T) {
	target := "abc defghijklmnopqrstu"
	l := NewSegmentLocator(target, target)

	got, _ := l.Locate("abc d", 5)
	if got != 13 {
		t.Errorf("got %d, want 13 (5 + 8)", got)
	}
}

func TestLocate_WhitespaceMismatchFallsBackToEstimate(t *testing.T) {
	meta := "Cats are mammals."
	target := "Cats  are   mammals!"
	l := NewSegmentLocator(meta, target)

	got, strategy := l.Locate("are mammals", 16)
	if strategy != LocateEstimate {
		t.Errorf("strategy %q, want %q", strategy, LocateEstimate)
	}
	if got < 0 || got > len([]rune(target)) {
		t.Errorf("estimate %d out of bounds", got)
	}
}

func TestLocate_EmptySegmentUsesEstimate(t *testing.T) {
	text := "Plain answer text."
	l := NewSegmentLocator(text, text)

	got, strategy := l.Locate("", 5)
	if got != 5 {
		t.Errorf("got %d, want 5", got)
	}
	if strategy != LocateEstimate {
		t.Errorf("strategy %q, want %q", strategy, LocateEstimate)
	}
}

func TestLocate_MarkdownRendering(t *testing.T) {
	meta := "The answer is 42. Paris is the capital of France."
	target := "The answer is **42**.\n\nParis is the capital of France!\n"
	l := NewSegmentLocator(meta, target)

	got, strategy := l.Locate("Paris is the capital of France", 48)
	if got != 53 {
		t.Errorf("got %d, want 53", got)
	}
	if strategy != LocateWindow {
		t.Errorf("strategy %q, want %q", strategy, LocateWindow)
	}

	got, strategy = l.Locate("The answer is 42", 16)
	if strategy != LocateEstimate {
		t.Errorf("strategy %q, want %q", strategy, LocateEstimate)
	}
	if got < 14 || got > 21 {
		t.Errorf("estimate %d should land around \"**42**\"", got)
	}
}

func TestLocate_RuneOffsets(t *testing.T) {
	text := "Übergrößenträger sind groß."
	l := NewSegmentLocator(text, text)

	got, _ := l.Locate("sind groß", 26)
	if got != 26 {
		t.Errorf("got %d, want 26 (rune offset)", got)
	}
}

func TestIndexRunes_RespectsBounds(t *testing.T) {
	hay := []rune("abcabc")
	if got := indexRunes(hay, []rune("abc"), 1, 6); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := indexRunes(hay, []rune("abc"), 1, 5); got != -1 {
		t.Errorf("match must fit inside range, got %d", got)
	}
	if got := indexRunes(hay, []rune("abc"), -4, 99); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}
