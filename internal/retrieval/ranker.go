package retrieval

import (
	"sort"
	"strings"
)

// HitList is one store's raw result for a single query, tagged with the
// store's score direction so hits from different backends can be merged.
type HitList struct {
	// Store is a short label for logging ("qdrant", "pgindex", target id).
	Store string
	// Kind declares the direction of the native scores in Hits.
	Kind ScoreKind
	// Hits is the store's result in its native best-first order.
	Hits []Hit
}

// Rank merges one or more hit lists into a single ordered, deduplicated list
// capped at limit (0 means no cap).
//
// Scores are normalised to similarity in [0,1]: similarity scores are clamped
// and distance scores mapped via 1/(1+d). Backends whose exact conversion is
// known (cosine distance → 1-d) do it at the adapter boundary and declare
// ScoreSimilarity, so the distance branch only covers stores that cannot.
//
// Two hits are duplicates when their chunk text is byte-identical after
// trimming whitespace; the first occurrence in ranked order wins. Equal
// scores are broken by chunk recency (CreatedAt descending), then by
// insertion order across the input lists (stable).
func Rank(lists []HitList, limit int) []Hit {
	total := 0
	for _, l := range lists {
		total += len(l.Hits)
	}
	if total == 0 {
		return nil
	}

	merged := make([]Hit, 0, total)
	for _, l := range lists {
		for _, h := range l.Hits {
			h.Score = normalizeScore(l.Kind, h.Score)
			merged = append(merged, h)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Chunk.CreatedAt.After(merged[j].Chunk.CreatedAt)
	})

	seen := make(map[string]struct{}, len(merged))
	ranked := merged[:0]
	for _, h := range merged {
		key := strings.TrimSpace(h.Chunk.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ranked = append(ranked, h)
		if limit > 0 && len(ranked) == limit {
			break
		}
	}

	return ranked
}

// normalizeScore converts a store-native score to similarity in [0,1].
func normalizeScore(kind ScoreKind, score float64) float64 {
	switch kind {
	case ScoreDistance:
		if score < 0 {
			score = 0
		}
		return 1 / (1 + score)
	default:
		return clamp01(score)
	}
}

// clamp01 clamps v to the closed interval [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
