package service

import (
	"sort"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

// NormalizeSupports makes aligned supports safe to apply to a text of
// targetLen runes backed by numSources sources:
//   - segment end clamped to [0, targetLen]
//   - chunk indices deduplicated and limited to [0, numSources)
//   - supports left with no valid index dropped
//   - result sorted ascending by segment end
//
// Ascending order lets a renderer splice markers from the last support
// backwards without invalidating earlier offsets.
func NormalizeSupports(supports []model.Support, numSources, targetLen int) []model.Support {
	out := make([]model.Support, 0, len(supports))

	for _, s := range supports {
		end := clamp(s.SegmentEndIndex, 0, targetLen)

		seen := make(map[int]bool, len(s.GroundingChunkIndices))
		idxs := make([]int, 0, len(s.GroundingChunkIndices))
		for _, k := range s.GroundingChunkIndices {
			if k < 0 || k >= numSources || seen[k] {
				continue
			}
			seen[k] = true
			idxs = append(idxs, k)
		}
		if len(idxs) == 0 {
			continue
		}

		out = append(out, model.Support{
			GroundingChunkIndices: idxs,
			Text:                  s.Text,
			SegmentEndIndex:       end,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SegmentEndIndex < out[j].SegmentEndIndex
	})

	return out
}
