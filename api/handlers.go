package api

import (
	"encoding/json"
	"net/http"
	"time"

	"veridano/repository"
	"veridano/retrieval"
)

// documentResult is the caller-facing document shape.
type documentResult struct {
	ID            string            `json:"id"`
	Source        string            `json:"source"`
	Title         string            `json:"title"`
	Content       string            `json:"content"`
	DocumentType  string            `json:"document_type"`
	Category      string            `json:"category"`
	PublishedDate string            `json:"published_date,omitempty"`
	URL           string            `json:"url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Score         *float32          `json:"score,omitempty"`
}

func resultDoc(doc repository.CanonicalDocument, score *float32) documentResult {
	out := documentResult{
		ID:           doc.ID,
		Source:       doc.Source,
		Title:        doc.Title,
		Content:      doc.Content,
		DocumentType: doc.DocumentType,
		Category:     doc.Category,
		URL:          doc.URL,
		Metadata:     doc.Metadata,
		Score:        score,
	}
	if doc.PublishedDate != nil {
		out.PublishedDate = doc.PublishedDate.UTC().Format(time.RFC3339)
	}
	return out
}

func searchResponse(query string, results []repository.ScoredDocument) map[string]any {
	docs := make([]documentResult, 0, len(results))
	for _, r := range results {
		score := r.Score
		docs = append(docs, resultDoc(r.Document, &score))
	}
	return map[string]any{
		"documents":     docs,
		"total_results": len(docs),
		"query":         query,
		"timestamp":     now(),
	}
}

func correlateResponse(groups []retrieval.IndicatorGroup) map[string]any {
	type group struct {
		Indicator string           `json:"indicator"`
		Matches   []documentResult `json:"matches"`
	}
	out := make([]group, 0, len(groups))
	total := 0
	for _, g := range groups {
		matches := make([]documentResult, 0, len(g.Matches))
		for _, m := range g.Matches {
			score := m.Score
			matches = append(matches, resultDoc(m.Document, &score))
		}
		total += len(matches)
		out = append(out, group{Indicator: g.Indicator, Matches: matches})
	}
	return map[string]any{
		"groups":        out,
		"total_results": total,
		"timestamp":     now(),
	}
}

func summaryResponse(timeframe string, activity []retrieval.SourceActivity) map[string]any {
	type sourceSummary struct {
		Source        string           `json:"source"`
		DocumentCount int              `json:"document_count"`
		Latest        []documentResult `json:"latest"`
	}
	out := make([]sourceSummary, 0, len(activity))
	total := 0
	for _, a := range activity {
		latest := make([]documentResult, 0, len(a.Latest))
		for _, doc := range a.Latest {
			latest = append(latest, resultDoc(doc, nil))
		}
		total += a.DocumentCount
		out = append(out, sourceSummary{
			Source:        a.Source,
			DocumentCount: a.DocumentCount,
			Latest:        latest,
		})
	}
	return map[string]any{
		"timeframe":     timeframe,
		"sources":       out,
		"total_results": total,
		"timestamp":     now(),
	}
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, retryAfter int) {
	writeJSON(w, status, map[string]any{
		"error": errorBody{Code: code, Message: message, RetryAfter: retryAfter},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
