package retrieval

import (
	"math"
	"strings"
)

// ContextSeparator joins selected chunk texts in the assembled context.
const ContextSeparator = "\n\n---\n\n"

// maxSourceRefs caps the citation list at a small display count even when
// more chunks feed the raw context.
const maxSourceRefs = 5

// Assemble turns a ranked hit list into a bounded context with citations.
//
// Hits are consumed in rank order. The first chunk whose text would push the
// running character count past budgetChars ends assembly: it is dropped
// whole, never truncated mid-chunk, and no later hit is considered. Stopping
// outright keeps the included set a strict prefix of the ranked order, so
// shrinking the budget can only shrink the result. The citation list covers
// the first maxSourceRefs chunks included, with scores rounded for display.
func Assemble(hits []Hit, budgetChars int) *AssembledContext {
	if budgetChars <= 0 {
		budgetChars = DefaultBudgetChars
	}

	var buf strings.Builder
	out := &AssembledContext{}

	for _, h := range hits {
		text := strings.TrimSpace(h.Chunk.Text)
		if text == "" {
			continue
		}

		cost := len(text)
		if buf.Len() > 0 {
			cost += len(ContextSeparator)
		}
		if buf.Len()+cost > budgetChars {
			break
		}

		if buf.Len() > 0 {
			buf.WriteString(ContextSeparator)
		}
		buf.WriteString(text)
		out.Included++

		if len(out.Sources) < maxSourceRefs {
			out.Sources = append(out.Sources, SourceRef{
				Title:      h.Chunk.Title,
				Locator:    h.Chunk.Locator,
				SourceType: h.Chunk.SourceType,
				Score:      roundScore(h.Score),
			})
		}
	}

	out.Text = buf.String()
	return out
}

// roundScore rounds a normalised similarity to three decimal places for
// display in citation lists.
func roundScore(s float64) float64 {
	return math.Round(s*1000) / 1000
}
