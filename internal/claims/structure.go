// Package claims turns grounded generation output into structured claim
// analyses.
//
// The verification model answers with free text plus grounding metadata:
// supports that tie text segments to search-result chunks, and the chunks
// themselves. Structure splices citation markers into the text, renders a
// numbered citations list, and re-parses the combined markdown into the
// Analysis schema surfaced to clients.
package claims

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// Alternative is a suggested rewording of a claim with its rationale.
type Alternative struct {
	ImprovedClaim string `json:"improved_claim"`
	Explanation   string `json:"explanation"`
}

// Citation is a single grounding source reference.
type Citation struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Analysis is the structured result of verifying one claim.
// The zero value means the model produced nothing groundable.
type Analysis struct {
	ClaimAnalysis string        `json:"claim_analysis,omitempty"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
	Citations     []Citation    `json:"citations,omitempty"`
}

// Empty reports whether the analysis carries no content.
func (a Analysis) Empty() bool {
	return a.ClaimAnalysis == "" && len(a.Alternatives) == 0 && len(a.Citations) == 0
}

var (
	alternativesSplit = regexp.MustCompile(`\nAlternatives:`)
	numberedItemSplit = regexp.MustCompile(`\n\d+\.`)
	citationPattern   = regexp.MustCompile(`\d+\.\s+\[(.*?)\]\((.*?)\)`)
	citationsSection  = regexp.MustCompile(`(?s)## Citations.*`)
)

// Structure converts a grounded generation result into an Analysis.
//
// The function is pure and deterministic: identical input always yields
// identical output, and no I/O happens here. A result without grounding
// supports returns the zero Analysis, which callers treat as "nothing to
// format" rather than an error.
func Structure(res *genai.GenerateContentResponse) Analysis {
	text, meta := candidateContent(res)
	if meta == nil || len(meta.GroundingSupports) == 0 {
		return Analysis{}
	}

	processed := spliceCitations(text, meta.GroundingSupports)
	citations := renderCitations(meta.GroundingChunks)

	markdown := processed + "\n\n## Citations\n\n" + strings.Join(citations, "\n")
	return parseAnalysis(markdown)
}

// candidateContent extracts the generated text and grounding metadata from
// the first candidate. Missing pieces yield zero values.
func candidateContent(res *genai.GenerateContentResponse) (string, *genai.GroundingMetadata) {
	if res == nil || len(res.Candidates) == 0 {
		return "", nil
	}
	cand := res.Candidates[0]

	var text string
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				text = part.Text
				break
			}
		}
	}
	return text, cand.GroundingMetadata
}

// spliceCitations walks supports in start-offset order and appends a
// citation marker "[i,j][score]" after each supported segment. Chunk
// indices become 1-based. All confidence scores on a support are assumed
// identical; the first is used.
func spliceCitations(text string, supports []*genai.GroundingSupport) string {
	ordered := make([]*genai.GroundingSupport, len(supports))
	copy(ordered, supports)
	// Stable: ties keep their original relative order.
	sort.SliceStable(ordered, func(i, j int) bool {
		return segmentStart(ordered[i]) < segmentStart(ordered[j])
	})

	var b strings.Builder
	lastEnd := 0
	for _, support := range ordered {
		if support == nil || support.Segment == nil {
			continue
		}
		start := clamp(int(support.Segment.StartIndex), len(text))
		end := clamp(int(support.Segment.EndIndex), len(text))
		if end < start {
			end = start
		}

		indices := make([]string, len(support.GroundingChunkIndices))
		for i, idx := range support.GroundingChunkIndices {
			indices[i] = strconv.Itoa(int(idx) + 1)
		}
		var score float32
		if len(support.ConfidenceScores) > 0 {
			score = support.ConfidenceScores[0]
		}

		if lastEnd < start {
			b.WriteString(text[lastEnd:start])
		}
		b.WriteString(text[start:end])
		fmt.Fprintf(&b, "[%s][%.2f]", strings.Join(indices, ","), score)

		lastEnd = end
	}
	b.WriteString(text[clamp(lastEnd, len(text)):])
	return b.String()
}

// renderCitations builds the 1-indexed "N. [title](uri)" list in chunk order.
func renderCitations(chunks []*genai.GroundingChunk) []string {
	citations := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		var title, uri string
		if chunk != nil && chunk.Web != nil {
			title = chunk.Web.Title
			uri = chunk.Web.URI
		}
		citations = append(citations, fmt.Sprintf("%d. [%s](%s)", i+1, title, uri))
	}
	return citations
}

// parseAnalysis splits the combined markdown back into the Analysis schema.
// The primary analysis ends at the "Alternatives:" marker; each alternative
// is a numbered item split on "Explanation:"; citations are re-extracted
// independently via the "N. [title](uri)" pattern.
func parseAnalysis(text string) Analysis {
	var citations []Citation
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		citations = append(citations, Citation{Title: m[1], URI: m[2]})
	}

	// The citations section trails whichever part came last; drop it before
	// splitting so it never leaks into an alternative's explanation.
	body := citationsSection.ReplaceAllString(text, "")
	parts := alternativesSplit.Split(body, 2)

	claimAnalysis := strings.TrimSpace(strings.ReplaceAll(parts[0], "Claim Analysis:", ""))

	var alternativesText string
	if len(parts) > 1 {
		alternativesText = parts[1]
	}

	var alternatives []Alternative
	for _, alt := range numberedItemSplit.Split(alternativesText, -1) {
		if strings.TrimSpace(alt) == "" {
			continue
		}
		improved, explanation, found := strings.Cut(alt, "Explanation:")
		if !found {
			continue
		}
		alternatives = append(alternatives, Alternative{
			ImprovedClaim: strings.TrimSpace(improved),
			Explanation:   strings.TrimSpace(explanation),
		})
	}

	return Analysis{
		ClaimAnalysis: claimAnalysis,
		Alternatives:  alternatives,
		Citations:     citations,
	}
}

func segmentStart(s *genai.GroundingSupport) int32 {
	if s == nil || s.Segment == nil {
		return 0
	}
	return s.Segment.StartIndex
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
