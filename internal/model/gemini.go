package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Gemini generateContent response types. Every field the backend may omit is
// optional here, and the accessors below return zero values instead of
// failing when a level of the tree is missing.

// GenerateContentResponse is one generateContent response, or one SSE event
// of a streamGenerateContent response.
type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

// Candidate is a single generated answer.
type Candidate struct {
	Content           *Content           `json:"content,omitempty"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

// Content is a role-tagged list of parts, used both in requests and responses.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a text part. Thought parts are excluded from answer text.
type Part struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

// UsageMetadata reports token counts.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// GroundingMetadata is the backend's evidence for a generated answer.
type GroundingMetadata struct {
	GroundingChunks   []*GroundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []*GroundingSupport `json:"groundingSupports,omitempty"`
	RetrievalQueries  []*string           `json:"retrievalQueries,omitempty"`
}

// GroundingChunk is one retrieved context reference.
type GroundingChunk struct {
	RetrievedContext *RetrievedContext `json:"retrievedContext,omitempty"`
}

// RetrievedContext identifies the retrieved document.
type RetrievedContext struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
}

// GroundingSupport associates an answer segment with chunk indices.
type GroundingSupport struct {
	Segment               *Segment     `json:"segment,omitempty"`
	GroundingChunkIndices []ChunkIndex `json:"groundingChunkIndices,omitempty"`
	ConfidenceScores      []float64    `json:"confidenceScores,omitempty"`
}

// Segment is a span of the answer text the support refers to.
type Segment struct {
	PartIndex  int    `json:"partIndex,omitempty"`
	StartIndex int    `json:"startIndex,omitempty"`
	EndIndex   int    `json:"endIndex,omitempty"`
	Text       string `json:"text,omitempty"`
}

// FirstCandidate returns the first candidate or nil.
func (r *GenerateContentResponse) FirstCandidate() *Candidate {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	return &r.Candidates[0]
}

// Text concatenates the non-thought text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	c := r.FirstCandidate()
	if c == nil || c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// Grounding returns the first candidate's grounding metadata or nil.
func (r *GenerateContentResponse) Grounding() *GroundingMetadata {
	c := r.FirstCandidate()
	if c == nil {
		return nil
	}
	return c.GroundingMetadata
}

// URI returns the retrieved context URI, or "" when the chunk has none.
func (c *GroundingChunk) URI() string {
	if c == nil || c.RetrievedContext == nil {
		return ""
	}
	return c.RetrievedContext.URI
}

// SegmentText returns the cited segment text, or "".
func (s *GroundingSupport) SegmentText() string {
	if s == nil || s.Segment == nil {
		return ""
	}
	return s.Segment.Text
}

// SegmentEnd returns the segment end offset, or 0.
func (s *GroundingSupport) SegmentEnd() int {
	if s == nil || s.Segment == nil {
		return 0
	}
	return s.Segment.EndIndex
}

// Queries returns the non-null retrieval queries in source order.
func (g *GroundingMetadata) Queries() []string {
	out := []string{}
	if g == nil {
		return out
	}
	for _, q := range g.RetrievalQueries {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// ChunkIndex is a grounding chunk index as sent by the backend. It is kept
// raw because indices are not guaranteed to be well-formed integers.
type ChunkIndex struct {
	raw json.RawMessage
}

// NewChunkIndex wraps an integer index.
func NewChunkIndex(i int) ChunkIndex {
	return ChunkIndex{raw: json.RawMessage(strconv.Itoa(i))}
}

// RawChunkIndex wraps an arbitrary JSON value.
func RawChunkIndex(raw string) ChunkIndex {
	return ChunkIndex{raw: json.RawMessage(raw)}
}

// UnmarshalJSON keeps a copy of the raw value.
func (c *ChunkIndex) UnmarshalJSON(data []byte) error {
	c.raw = append(c.raw[:0], data...)
	return nil
}

// MarshalJSON writes the raw value back out.
func (c ChunkIndex) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// Int parses the index. Integers, numeric strings and finite floats
// (truncated toward zero) are accepted; anything else reports false.
func (c ChunkIndex) Int() (int, bool) {
	raw := bytes.TrimSpace(c.raw)
	if len(raw) == 0 {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	if n, err := strconv.Atoi(string(raw)); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
