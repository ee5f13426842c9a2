package service

import (
	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

// ChunkIndexMap maps an original grounding chunk position to its
// deduplicated source index.
type ChunkIndexMap map[int]int

// DedupSources collapses grounding chunks into a unique, first-seen ordered
// list of source URIs. Every chunk with a URI gets a map entry, including
// chunks whose URI was already seen; chunks without a URI get none.
func DedupSources(chunks []*model.GroundingChunk) ([]string, ChunkIndexMap) {
	sources := []string{}
	idxMap := make(ChunkIndexMap, len(chunks))
	uriToIdx := make(map[string]int, len(chunks))

	for origIdx, ch := range chunks {
		uri := ch.URI()
		if uri == "" {
			continue
		}
		idx, ok := uriToIdx[uri]
		if !ok {
			idx = len(sources)
			uriToIdx[uri] = idx
			sources = append(sources, uri)
		}
		idxMap[origIdx] = idx
	}

	return sources, idxMap
}

// RenumberSupport rewrites a support's chunk indices through idxMap.
// Malformed indices and indices with no mapping are skipped, duplicates keep
// their first occurrence. Segment text and end offset pass through untouched.
func RenumberSupport(sup *model.GroundingSupport, idxMap ChunkIndexMap) model.Support {
	newIdxs := []int{}
	seen := make(map[int]bool)

	if sup != nil {
		for _, ci := range sup.GroundingChunkIndices {
			k, ok := ci.Int()
			if !ok {
				continue
			}
			mapped, ok := idxMap[k]
			if !ok || seen[mapped] {
				continue
			}
			seen[mapped] = true
			newIdxs = append(newIdxs, mapped)
		}
	}

	return model.Support{
		GroundingChunkIndices: newIdxs,
		Text:                  sup.SegmentText(),
		SegmentEndIndex:       sup.SegmentEnd(),
	}
}

// ExtractGrounding runs deduplication and renumbering over a whole grounding
// metadata block. The returned supports are still in metadata-text
// coordinates. Nil metadata yields empty, non-nil slices.
func ExtractGrounding(gm *model.GroundingMetadata) (sources []string, supports []model.Support, queries []string) {
	if gm == nil {
		return []string{}, []model.Support{}, []string{}
	}

	sources, idxMap := DedupSources(gm.GroundingChunks)

	supports = make([]model.Support, 0, len(gm.GroundingSupports))
	for _, sup := range gm.GroundingSupports {
		supports = append(supports, RenumberSupport(sup, idxMap))
	}

	return sources, supports, gm.Queries()
}
