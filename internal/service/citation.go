// Package service provides business logic for the answer API: the Gemini
// client, the answer modes, auth, and the citation alignment engine.
//
// The alignment engine (dedup, renumber, index mapping, segment location,
// normalization) is pure: it works on in-memory strings, never logs and
// never fails. All text offsets it produces or consumes are rune offsets.
package service

import (
	"strings"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

// AlignStats summarizes how supports were placed during one alignment.
type AlignStats struct {
	RawSupports int
	Window      int
	Global      int
	Estimate    int
	// Dropped counts raw supports that did not survive alignment and
	// normalization.
	Dropped      int
	FallbackUsed bool
}

// AlignCitations re-aligns the grounding metadata computed against metaText
// onto targetText and returns the payload for renderers.
//
// Each support is placed by the SegmentLocator. A placed support is kept only
// when it lands strictly after the start of the target and has at least one
// chunk index. If nothing survives while raw supports existed, the forward
// scanning fallback (AlignSupportsToAnswer) is tried instead.
func AlignCitations(metaText, targetText string, gm *model.GroundingMetadata) (*model.CitationPayload, AlignStats) {
	var stats AlignStats
	if gm == nil {
		return model.EmptyCitationPayload(), stats
	}

	sources, raw, queries := ExtractGrounding(gm)
	stats.RawSupports = len(raw)

	payload := &model.CitationPayload{
		Sources:  sources,
		Supports: []model.Support{},
		Queries:  queries,
	}
	if len(raw) == 0 {
		return payload, stats
	}

	locator := NewSegmentLocator(metaText, targetText)
	targetLen := locator.TargetLen()

	aligned := make([]model.Support, 0, len(raw))
	for _, sup := range raw {
		segText := strings.TrimSpace(sup.Text)
		j, strategy := locator.Locate(segText, sup.SegmentEndIndex)
		switch strategy {
		case LocateWindow:
			stats.Window++
		case LocateGlobal:
			stats.Global++
		default:
			stats.Estimate++
		}

		if j > 0 && j <= targetLen && len(sup.GroundingChunkIndices) > 0 {
			aligned = append(aligned, model.Support{
				GroundingChunkIndices: sup.GroundingChunkIndices,
				Text:                  segText,
				SegmentEndIndex:       j,
			})
		}
	}

	aligned = NormalizeSupports(aligned, len(sources), targetLen)

	if len(aligned) == 0 {
		stats.FallbackUsed = true
		aligned = NormalizeSupports(AlignSupportsToAnswer(targetText, raw), len(sources), targetLen)
	}

	stats.Dropped = len(raw) - len(aligned)
	payload.Supports = aligned
	return payload, stats
}

// AlignSupportsToAnswer places supports by plain substring search over the
// answer text, moving a single cursor forward: each segment is searched from
// the end of the previous match first, then from the start of the text.
// Supports whose trimmed text is empty or absent from the answer are dropped.
func AlignSupportsToAnswer(answerText string, supports []model.Support) []model.Support {
	aligned := []model.Support{}
	if answerText == "" || len(supports) == 0 {
		return aligned
	}

	answer := []rune(answerText)
	scanFrom := 0

	for _, s := range supports {
		segText := strings.TrimSpace(s.Text)
		if segText == "" {
			continue
		}
		seg := []rune(segText)

		i := indexRunes(answer, seg, scanFrom, len(answer))
		if i == -1 {
			i = indexRunes(answer, seg, 0, len(answer))
		}
		if i == -1 {
			continue
		}

		end := i + len(seg)
		scanFrom = end

		idxs := s.GroundingChunkIndices
		if idxs == nil {
			idxs = []int{}
		}
		aligned = append(aligned, model.Support{
			GroundingChunkIndices: idxs,
			Text:                  segText,
			SegmentEndIndex:       end,
		})
	}

	return aligned
}
