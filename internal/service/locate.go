package service

import (
	"slices"
	"unicode"
)

const (
	minSearchWindow = 20
	maxSearchWindow = 200
	// maxWordExtension caps how far a match end is pushed forward to reach
	// the end of the word it landed in.
	maxWordExtension = 8
)

// LocateStrategy records which step of the locator produced an offset.
type LocateStrategy string

const (
	// LocateWindow: exact match near the diff estimate.
	LocateWindow LocateStrategy = "window"
	// LocateGlobal: exact match elsewhere in the target text.
	LocateGlobal LocateStrategy = "global"
	// LocateEstimate: no exact match, diff estimate used as is.
	LocateEstimate LocateStrategy = "estimate"
)

// SegmentLocator finds where citation segments end in a target text.
type SegmentLocator struct {
	target []rune
	mapper *IndexMapper
}

// NewSegmentLocator builds a locator for segments cited against metaText,
// to be placed in targetText.
func NewSegmentLocator(metaText, targetText string) *SegmentLocator {
	target := []rune(targetText)
	return &SegmentLocator{
		target: target,
		mapper: NewIndexMapper([]rune(metaText), target),
	}
}

// Locate returns the end offset in the target text for a segment whose text
// is segText and which ends at metaEnd in the metadata text.
//
// Order: exact match inside a window around the diff estimate, then the
// first exact match anywhere, then the diff estimate itself. Exact matches
// are snapped forward to the end of the word they end in.
func (l *SegmentLocator) Locate(segText string, metaEnd int) (int, LocateStrategy) {
	seg := []rune(segText)

	if len(seg) > 0 {
		hint := l.mapper.Map(metaEnd)
		window := max(minSearchWindow, min(maxSearchWindow, 3*len(seg)))
		// window extends on both sides of the hint, not window/2.
		start := max(0, hint-window)
		end := min(len(l.target), hint+window)

		strategy := LocateWindow
		k := indexRunes(l.target, seg, start, end)
		if k == -1 {
			strategy = LocateGlobal
			k = indexRunes(l.target, seg, 0, len(l.target))
		}
		if k != -1 {
			return extendToWordEnd(l.target, k+len(seg)), strategy
		}
	}

	return l.mapper.Map(metaEnd), LocateEstimate
}

// TargetLen is the target text length in runes.
func (l *SegmentLocator) TargetLen() int {
	return len(l.target)
}

// indexRunes returns the first position p >= from with needle fully inside
// hay[from:to], or -1.
func indexRunes(hay, needle []rune, from, to int) int {
	from = max(from, 0)
	to = min(to, len(hay))
	last := to - len(needle)
	for p := from; p <= last; p++ {
		if slices.Equal(hay[p:p+len(needle)], needle) {
			return p
		}
	}
	return -1
}

func extendToWordEnd(text []rune, j int) int {
	if j >= len(text) || !isAlnum(text[j]) {
		return j
	}
	limit := min(len(text), j+maxWordExtension)
	for j < limit && isAlnum(text[j]) {
		j++
	}
	return j
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
