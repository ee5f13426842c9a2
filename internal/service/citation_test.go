package service

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

func TestAlignCitations_NilMetadata(t *testing.T) {
	payload, stats := AlignCitations("some answer", "some answer", nil)

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"sources":[],"supports":[],"queries":[]}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
	if stats.RawSupports != 0 || stats.FallbackUsed {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAlignCitations_NoSupports(t *testing.T) {
	q := "capital of france"
	gm := &model.GroundingMetadata{
		GroundingChunks:  []*model.GroundingChunk{chunk("gs://kb/france.pdf")},
		RetrievalQueries: []*string{&q},
	}

	payload, stats := AlignCitations("Paris.", "Paris.", gm)

	if !reflect.DeepEqual(payload.Sources, []string{"gs://kb/france.pdf"}) {
		t.Errorf("sources: got %v", payload.Sources)
	}
	if payload.Supports == nil || len(payload.Supports) != 0 {
		t.Errorf("supports: got %#v, want empty", payload.Supports)
	}
	if !reflect.DeepEqual(payload.Queries, []string{q}) {
		t.Errorf("queries: got %v", payload.Queries)
	}
	if stats.FallbackUsed {
		t.Error("fallback must not run without raw supports")
	}
}

func TestAlignCitations_IdenticalTexts(t *testing.T) {
	text := "The sky is blue. Grass is green."
	gm := &model.GroundingMetadata{
		GroundingChunks: []*model.GroundingChunk{chunk("a"), chunk("b")},
		GroundingSupports: []*model.GroundingSupport{
			support("Grass is green.", 32, 1),
			support("The sky is blue.", 16, 0),
		},
	}

	payload, stats := AlignCitations(text, text, gm)

	want := []model.Support{
		{GroundingChunkIndices: []int{0}, Text: "The sky is blue.", SegmentEndIndex: 16},
		{GroundingChunkIndices: []int{1}, Text: "Grass is green.", SegmentEndIndex: 32},
	}
	if !reflect.DeepEqual(payload.Supports, want) {
		t.Errorf("supports:\n got %+v\nwant %+v", payload.Supports, want)
	}
	if stats.Window != 2 || stats.Dropped != 0 {
		t.Errorf("stats: got %+v", stats)
	}
}

func TestAlignCitations_DuplicateSources(t *testing.T) {
	text := "The sky is blue."
	gm := &model.GroundingMetadata{
		GroundingChunks: []*model.GroundingChunk{chunk("a"), chunk("b"), chunk("a")},
		GroundingSupports: []*model.GroundingSupport{
			support("sky is blue", 15, 0, 2),
		},
	}

	payload, _ := AlignCitations(text, text, gm)

	if !reflect.DeepEqual(payload.Sources, []string{"a", "b"}) {
		t.Errorf("sources: got %v", payload.Sources)
	}
	if len(payload.Supports) != 1 {
		t.Fatalf("expected 1 support, got %d", len(payload.Supports))
	}
	if !reflect.DeepEqual(payload.Supports[0].GroundingChunkIndices, []int{0}) {
		t.Errorf("indices: got %v, want [0]", payload.Supports[0].GroundingChunkIndices)
	}
}

func TestAlignCitations_DropsSupportOnURILessChunk(t *testing.T) {
	text := "One fact. Another fact."
	gm := &model.GroundingMetadata{
		GroundingChunks: []*model.GroundingChunk{{}, chunk("a")},
		GroundingSupports: []*model.GroundingSupport{
			support("One fact.", 9, 0),
			support("Another fact.", 23, 1),
		},
	}

	payload, stats := AlignCitations(text, text, gm)

	if len(payload.Supports) != 1 {
		t.Fatalf("expected 1 support, got %+v", payload.Supports)
	}
	if payload.Supports[0].Text != "Another fact." {
		t.Errorf("kept wrong support: %+v", payload.Supports[0])
	}
	if !reflect.DeepEqual(payload.Supports[0].GroundingChunkIndices, []int{0}) {
		t.Errorf("indices: got %v, want [0]", payload.Supports[0].GroundingChunkIndices)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped: got %d, want 1", stats.Dropped)
	}
}

func TestAlignCitations_MarkdownTarget(t *testing.T) {
	meta := "The answer is 42. Paris is the capital of France."
	target := "The answer is **42**.\n\nParis is the capital of France!\n"
	gm := &model.GroundingMetadata{
		GroundingChunks: []*model.GroundingChunk{chunk("gs://kb/a"), chunk("gs://kb/b")},
		GroundingSupports: []*model.GroundingSupport{
			support("Paris is the capital of France", 48, 1),
			support("The answer is 42", 16, 0),
		},
	}

	payload, stats := AlignCitations(meta, target, gm)

	if len(payload.Supports) != 2 {
		t.Fatalf("expected 2 supports, got %+v", payload.Supports)
	}
	if payload.Supports[1].SegmentEndIndex != 53 {
		t.Errorf("Paris support end: got %d, want 53", payload.Supports[1].SegmentEndIndex)
	}
	if payload.Supports[0].SegmentEndIndex > payload.Supports[1].SegmentEndIndex {
		t.Error("supports not sorted by end index")
	}
	if stats.Window != 1 || stats.Estimate != 1 {
		t.Errorf("stats: got %+v", stats)
	}
}

func TestAlignCitations_NonASCIIOutputIsVerbatim(t *testing.T) {
	text := "Größe <5 µm> & mehr."
	gm := &model.GroundingMetadata{
		GroundingChunks:   []*model.GroundingChunk{chunk("gs://kb/größe.pdf")},
		GroundingSupports: []*model.GroundingSupport{support("Größe <5 µm>", 12, 0)},
	}

	payload, _ := AlignCitations(text, text, gm)

	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := sb.String()
	for _, s := range []string{"größe.pdf", "<5 µm>", `"segment_end_index":12`} {
		if !strings.Contains(out, s) {
			t.Errorf("output %s missing %q", out, s)
		}
	}
}

func TestAlignCitations_FallbackWhenNothingPlaced(t *testing.T) {
	gm := &model.GroundingMetadata{
		GroundingChunks:   []*model.GroundingChunk{chunk("a")},
		GroundingSupports: []*model.GroundingSupport{support("   ", 0, 0)},
	}

	payload, stats := AlignCitations("Answer.", "Answer.", gm)

	if !stats.FallbackUsed {
		t.Error("expected fallback to run")
	}
	if payload.Supports == nil || len(payload.Supports) != 0 {
		t.Errorf("supports: got %#v, want empty", payload.Supports)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped: got %d, want 1", stats.Dropped)
	}
}

func TestAlignCitations_Invariants(t *testing.T) {
	words := []string{"alpha", "beta", "gamma", "delta", "Größe", "µm", "42", "naïve", "end"}
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		var sentences []string
		for s := 0; s < 1+rng.Intn(6); s++ {
			n := 2 + rng.Intn(6)
			ws := make([]string, n)
			for k := range ws {
				ws[k] = words[rng.Intn(len(words))]
			}
			sentences = append(sentences, strings.Join(ws, " ")+".")
		}
		meta := strings.Join(sentences, " ")
		target := perturb(rng, meta)

		numChunks := 1 + rng.Intn(4)
		chunks := make([]*model.GroundingChunk, numChunks)
		for k := range chunks {
			if rng.Intn(5) == 0 {
				chunks[k] = &model.GroundingChunk{}
				continue
			}
			chunks[k] = chunk("gs://kb/" + words[rng.Intn(3)])
		}

		var sups []*model.GroundingSupport
		pos := 0
		for _, s := range sentences {
			pos += len([]rune(s))
			idxs := []int{rng.Intn(numChunks + 2), rng.Intn(numChunks)}
			sups = append(sups, support(s, pos, idxs...))
			pos++
		}

		payload, _ := AlignCitations(meta, target, &model.GroundingMetadata{
			GroundingChunks:   chunks,
			GroundingSupports: sups,
		})
		checkPayload(t, payload, len([]rune(target)))
	}
}

func checkPayload(t *testing.T, p *model.CitationPayload, targetLen int) {
	t.Helper()
	if p.Sources == nil || p.Supports == nil || p.Queries == nil {
		t.Fatalf("nil array in payload: %#v", p)
	}
	seenSrc := map[string]bool{}
	for _, s := range p.Sources {
		if seenSrc[s] {
			t.Fatalf("duplicate source %q", s)
		}
		seenSrc[s] = true
	}
	prev := 0
	for _, s := range p.Supports {
		if s.SegmentEndIndex < 0 || s.SegmentEndIndex > targetLen {
			t.Fatalf("end %d outside [0, %d]", s.SegmentEndIndex, targetLen)
		}
		if s.SegmentEndIndex < prev {
			t.Fatalf("supports not sorted: %d after %d", s.SegmentEndIndex, prev)
		}
		prev = s.SegmentEndIndex
		if len(s.GroundingChunkIndices) == 0 {
			t.Fatal("support without indices")
		}
		seen := map[int]bool{}
		for _, k := range s.GroundingChunkIndices {
			if k < 0 || k >= len(p.Sources) || seen[k] {
				t.Fatalf("bad index %d in %v (sources %d)", k, s.GroundingChunkIndices, len(p.Sources))
			}
			seen[k] = true
		}
	}
}

// perturb mimics rendering differences between two generations of the same
// answer: doubled spaces, markdown emphasis and swapped punctuation.
func perturb(rng *rand.Rand, s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == ' ' && rng.Intn(6) == 0:
			sb.WriteString("  ")
		case r == '.' && rng.Intn(3) == 0:
			sb.WriteString("!\n")
		case rng.Intn(40) == 0:
			sb.WriteString("**")
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func TestAlignSupportsToAnswer_ForwardCursor(t *testing.T) {
	answer := "alpha beta alpha"
	supports := []model.Support{
		{GroundingChunkIndices: []int{0}, Text: "alpha", SegmentEndIndex: 99},
		{GroundingChunkIndices: []int{1}, Text: " alpha ", SegmentEndIndex: 99},
		{GroundingChunkIndices: []int{0}, Text: "beta", SegmentEndIndex: 99},
		{GroundingChunkIndices: []int{0}, Text: "missing", SegmentEndIndex: 99},
		{GroundingChunkIndices: []int{0}, Text: "  ", SegmentEndIndex: 99},
		{Text: "beta"},
	}

	got := AlignSupportsToAnswer(answer, supports)

	want := []model.Support{
		{GroundingChunkIndices: []int{0}, Text: "alpha", SegmentEndIndex: 5},
		{GroundingChunkIndices: []int{1}, Text: "alpha", SegmentEndIndex: 16},
		{GroundingChunkIndices: []int{0}, Text: "beta", SegmentEndIndex: 10},
		{GroundingChunkIndices: []int{}, Text: "beta", SegmentEndIndex: 10},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got  %+v\nwant %+v", got, want)
	}
}

func TestAlignSupportsToAnswer_EmptyInputs(t *testing.T) {
	if got := AlignSupportsToAnswer("", []model.Support{{Text: "x"}}); got == nil || len(got) != 0 {
		t.Errorf("empty answer: got %#v", got)
	}
	if got := AlignSupportsToAnswer("answer", nil); got == nil || len(got) != 0 {
		t.Errorf("no supports: got %#v", got)
	}
}
