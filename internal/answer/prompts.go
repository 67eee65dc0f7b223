package answer

import (
	"fmt"
	"strings"

	"github.com/nova-rag/nova-go/internal/retrieval"
)

// basePrompt establishes the assistant's grounding rules. Every conversation
// gets this regardless of which sources fed the context.
const basePrompt = `You are Nova, a retrieval-augmented assistant. You answer questions using
ONLY the provided context excerpts. Ground every claim in the context; when
the context does not contain the answer, say so plainly instead of guessing.

Rules:
- Cite the source when you use it, e.g. "according to report.pdf (Page 3)".
- Never invent sources, numbers, or quotes that are not in the context.
- If excerpts conflict, note the conflict rather than silently picking one.
- Keep answers concise and direct; use lists only when structure helps.`

// Per-source-type guidance appended to the base prompt. The dominant source
// type of the retrieved context selects which one is used.
var typePrompts = map[retrieval.SourceType]string{
	retrieval.SourceDocument: `
The context comes from documents the user uploaded. Excerpts are labelled with
page locators; cite the page so the user can verify against the original file.`,

	retrieval.SourceDataset: `
The context comes from a tabular dataset. Each excerpt repeats the header row
followed by data rows, labelled with a row-range locator. Answer numerically
where possible, state which rows support the answer, and never extrapolate
beyond the rows shown.`,

	retrieval.SourceWebPage: `
The context comes from web pages the user saved. Cite the page URL so the
user can follow up at the source. Page text may include navigation fragments;
ignore boilerplate and focus on the substantive content.`,

	retrieval.SourcePost: `
The context comes from community posts (Reddit, Stack Overflow, GitHub, Dev.to,
Hacker News). Treat opinions as opinions and distinguish accepted answers or
highly ranked content from speculation where the excerpts make that visible.`,
}

// NoContextAnswer is returned without invoking the model when retrieval finds
// nothing relevant.
const NoContextAnswer = "I could not find any relevant content in the selected sources for this question. " +
	"Try rephrasing the question, or check that the right sources are selected."

// systemPrompt assembles the system prompt for one request: the base rules
// plus guidance for the dominant source type in the citation list.
func systemPrompt(sources []retrieval.SourceRef) string {
	dominant := dominantSourceType(sources)
	if extra, ok := typePrompts[dominant]; ok {
		return basePrompt + "\n" + extra
	}
	return basePrompt
}

// dominantSourceType returns the most frequent source type in the citations.
// Ties go to the earliest (highest ranked) type.
func dominantSourceType(sources []retrieval.SourceRef) retrieval.SourceType {
	if len(sources) == 0 {
		return ""
	}
	counts := make(map[retrieval.SourceType]int, len(sources))
	best := sources[0].SourceType
	for _, s := range sources {
		counts[s.SourceType]++
		if counts[s.SourceType] > counts[best] {
			best = s.SourceType
		}
	}
	return best
}

// contextMessage renders the assembled context into the system message that
// carries the excerpts.
func contextMessage(assembled *retrieval.AssembledContext) string {
	var sb strings.Builder
	sb.WriteString("## Context\n\n")
	sb.WriteString("The following excerpts were retrieved for the user's question. ")
	sb.WriteString("Use them to answer; do not use outside knowledge for factual claims.\n\n")
	for i, src := range assembled.Sources {
		fmt.Fprintf(&sb, "Source %d: %s (%s)\n", i+1, src.Title, src.Locator)
	}
	sb.WriteString("\n")
	sb.WriteString(assembled.Text)
	return sb.String()
}
