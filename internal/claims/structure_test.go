package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func groundedResponse(text string, supports []*genai.GroundingSupport, chunks []*genai.GroundingChunk) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{{Text: text}},
				},
				GroundingMetadata: &genai.GroundingMetadata{
					GroundingSupports: supports,
					GroundingChunks:   chunks,
				},
			},
		},
	}
}

func webChunk(title, uri string) *genai.GroundingChunk {
	return &genai.GroundingChunk{Web: &genai.GroundingChunkWeb{Title: title, URI: uri}}
}

func TestStructure_CitationSplicing(t *testing.T) {
	t.Parallel()

	res := groundedResponse(
		"Paris is the capital of France.",
		[]*genai.GroundingSupport{
			{
				Segment:               &genai.Segment{StartIndex: 0, EndIndex: 31},
				GroundingChunkIndices: []int32{0},
				ConfidenceScores:      []float32{0.87},
			},
		},
		[]*genai.GroundingChunk{webChunk("Geo", "https://x")},
	)

	analysis := Structure(res)

	assert.Equal(t, "Paris is the capital of France.[1][0.87]", analysis.ClaimAnalysis)
	require.Len(t, analysis.Citations, 1)
	assert.Equal(t, Citation{Title: "Geo", URI: "https://x"}, analysis.Citations[0])
}

func TestStructure_NoGrounding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  *genai.GenerateContentResponse
	}{
		{name: "nil response", res: nil},
		{name: "no candidates", res: &genai.GenerateContentResponse{}},
		{
			name: "no metadata",
			res: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{Content: &genai.Content{Parts: []*genai.Part{{Text: "plain text"}}}},
				},
			},
		},
		{
			name: "empty supports",
			res:  groundedResponse("plain text", nil, []*genai.GroundingChunk{webChunk("a", "b")}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			analysis := Structure(tt.res)
			assert.True(t, analysis.Empty(), "expected empty analysis, got %+v", analysis)
		})
	}
}

func TestStructure_Deterministic(t *testing.T) {
	t.Parallel()

	res := groundedResponse(
		"Claim Analysis: Vitamin C cures colds. The evidence is weak.",
		[]*genai.GroundingSupport{
			{
				Segment:               &genai.Segment{StartIndex: 16, EndIndex: 38},
				GroundingChunkIndices: []int32{0, 1},
				ConfidenceScores:      []float32{0.91, 0.91},
			},
			{
				Segment:               &genai.Segment{StartIndex: 39, EndIndex: 60},
				GroundingChunkIndices: []int32{1},
				ConfidenceScores:      []float32{0.55},
			},
		},
		[]*genai.GroundingChunk{
			webChunk("NIH", "https://nih.example"),
			webChunk("Cochrane", "https://cochrane.example"),
		},
	)

	first := Structure(res)
	second := Structure(res)

	assert.Equal(t, first, second)
	assert.Contains(t, first.ClaimAnalysis, "[1,2][0.91]")
	assert.Contains(t, first.ClaimAnalysis, "[2][0.55]")
	assert.NotContains(t, first.ClaimAnalysis, "Claim Analysis:")
	require.Len(t, first.Citations, 2)
	assert.Equal(t, "NIH", first.Citations[0].Title)
}

func TestStructure_SortsSupportsByStartOffset(t *testing.T) {
	t.Parallel()

	// Supports arrive out of order; output must follow text order.
	res := groundedResponse(
		"alpha beta",
		[]*genai.GroundingSupport{
			{
				Segment:               &genai.Segment{StartIndex: 6, EndIndex: 10},
				GroundingChunkIndices: []int32{1},
				ConfidenceScores:      []float32{0.5},
			},
			{
				Segment:               &genai.Segment{StartIndex: 0, EndIndex: 5},
				GroundingChunkIndices: []int32{0},
				ConfidenceScores:      []float32{0.9},
			},
		},
		[]*genai.GroundingChunk{
			webChunk("one", "https://one"),
			webChunk("two", "https://two"),
		},
	)

	analysis := Structure(res)
	assert.Equal(t, "alpha[1][0.90] beta[2][0.50]", analysis.ClaimAnalysis)
}

func TestStructure_ParsesAlternatives(t *testing.T) {
	t.Parallel()

	text := "Claim Analysis: Overstated.\nAlternatives:\n1. Vitamin C may shorten colds. Explanation: Trials show modest effect.\n2. Evidence is mixed. Explanation: Meta-analyses disagree."
	res := groundedResponse(
		text,
		[]*genai.GroundingSupport{
			{
				Segment:               &genai.Segment{StartIndex: 16, EndIndex: 27},
				GroundingChunkIndices: []int32{0},
				ConfidenceScores:      []float32{0.8},
			},
		},
		[]*genai.GroundingChunk{webChunk("src", "https://src")},
	)

	analysis := Structure(res)

	require.Len(t, analysis.Alternatives, 2)
	assert.Equal(t, "Vitamin C may shorten colds.", analysis.Alternatives[0].ImprovedClaim)
	assert.Equal(t, "Trials show modest effect.", analysis.Alternatives[0].Explanation)
	assert.Equal(t, "Evidence is mixed.", analysis.Alternatives[1].ImprovedClaim)
	assert.Equal(t, "Meta-analyses disagree.", analysis.Alternatives[1].Explanation)
	assert.NotContains(t, analysis.ClaimAnalysis, "Alternatives:")
}

func TestStructure_TrailingTextPreserved(t *testing.T) {
	t.Parallel()

	res := groundedResponse(
		"head middle tail",
		[]*genai.GroundingSupport{
			{
				Segment:               &genai.Segment{StartIndex: 5, EndIndex: 11},
				GroundingChunkIndices: []int32{0},
				ConfidenceScores:      []float32{0.42},
			},
		},
		[]*genai.GroundingChunk{webChunk("t", "https://t")},
	)

	analysis := Structure(res)
	assert.Equal(t, "head middle[1][0.42] tail", analysis.ClaimAnalysis)
}

func TestAnalysisEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, Analysis{}.Empty())
	assert.False(t, Analysis{ClaimAnalysis: "x"}.Empty())
	assert.False(t, Analysis{Citations: []Citation{{}}}.Empty())
}
