package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is one entry in the knowledge set served by knowledge_lookup.
type Document struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func registerKnowledgeLookup(reg *Registry, docs []Document) error {
	index := buildKnowledgeIndex(docs)
	return reg.Register(Tool{
		Definition: Definition{
			Name:        "knowledge_lookup",
			Description: "Search the local knowledge base and return the most relevant document snippets.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Search terms.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of documents to return. Default: 3.",
						"minimum":     1,
						"maximum":     10,
					},
				},
				"required": []string{"query"},
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArguments(raw)
			if err != nil {
				return "", err
			}
			query, ok := StringArg(args, "query")
			if !ok || strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is required")
			}
			limit, _ := IntArg(args, "limit")
			if limit <= 0 {
				limit = 3
			}
			return index.lookup(query, limit), nil
		},
	})
}

type knowledgeIndex struct {
	docs   []Document
	tokens []map[string]int
}

func buildKnowledgeIndex(docs []Document) *knowledgeIndex {
	idx := &knowledgeIndex{docs: docs}
	for _, d := range docs {
		idx.tokens = append(idx.tokens, tokenize(d.Title+" "+d.Body))
	}
	return idx
}

// lookup scores documents by query-token overlap, title hits counting
// double, and returns up to limit snippets.
func (idx *knowledgeIndex) lookup(query string, limit int) string {
	qtokens := tokenize(query)
	if len(qtokens) == 0 {
		return "No matching documents."
	}

	type scored struct {
		i     int
		score int
	}
	var hits []scored
	for i, dtokens := range idx.tokens {
		score := 0
		titleTokens := tokenize(idx.docs[i].Title)
		for tok := range qtokens {
			if n, ok := dtokens[tok]; ok {
				score += n
			}
			if _, ok := titleTokens[tok]; ok {
				score += 2
			}
		}
		if score > 0 {
			hits = append(hits, scored{i: i, score: score})
		}
	}
	if len(hits) == 0 {
		return "No matching documents."
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	var sb strings.Builder
	for n, h := range hits {
		if n > 0 {
			sb.WriteString("\n\n")
		}
		doc := idx.docs[h.i]
		fmt.Fprintf(&sb, "## %s\n%s", doc.Title, snippet(doc.Body, 600))
	}
	return sb.String()
}

func tokenize(s string) map[string]int {
	tokens := make(map[string]int)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if len(f) < 2 {
			continue
		}
		tokens[f]++
	}
	return tokens
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
