package vectara

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Query request shaping for the upstream /v2/query endpoint. Field semantics
// are owned by the upstream API; this layer only assembles and forwards them.

type corpusSpec struct {
	CorpusKey            string  `json:"corpus_key"`
	LexicalInterpolation float64 `json:"lexical_interpolation"`
}

type contextConfiguration struct {
	SentencesBefore int `json:"sentences_before"`
	SentencesAfter  int `json:"sentences_after"`
}

type reranker struct {
	Type       string  `json:"type"`
	RerankerID string  `json:"reranker_id"`
	Limit      int     `json:"limit"`
	Cutoff     float64 `json:"cutoff"`
}

type searchParams struct {
	Corpora              []corpusSpec         `json:"corpora"`
	ContextConfiguration contextConfiguration `json:"context_configuration"`
	Reranker             reranker             `json:"reranker"`
}

type citationParams struct {
	Style      string `json:"style"`
	URLPattern string `json:"url_pattern"`
}

type generationParams struct {
	GenerationPresetName          string         `json:"generation_preset_name"`
	MaxUsedSearchResults          int            `json:"max_used_search_results"`
	ResponseLanguage              string         `json:"response_language"`
	Citations                     citationParams `json:"citations"`
	EnableFactualConsistencyScore bool           `json:"enable_factual_consistency_score"`
}

type queryRequest struct {
	Query       string            `json:"query"`
	Search      searchParams      `json:"search"`
	Generation  *generationParams `json:"generation,omitempty"`
	SaveHistory bool              `json:"save_history"`
}

// QueryOptions carries the per-call tuning knobs shared by the RAG and
// search-only tools. Defaults mirror the upstream recommendations.
type QueryOptions struct {
	CorpusKeys           []string
	SentencesBefore      int
	SentencesAfter       int
	LexicalInterpolation float64
}

// GenerationOptions selects the summarizer applied on top of search results.
type GenerationOptions struct {
	PresetName           string
	MaxUsedSearchResults int
	ResponseLanguage     string
}

// QueryResult is the subset of the upstream response the tools surface.
type QueryResult struct {
	Summary                 string          `json:"summary"`
	FactualConsistencyScore float64         `json:"factual_consistency_score"`
	SearchResults           json.RawMessage `json:"search_results"`
}

func (o QueryOptions) search() searchParams {
	corpora := make([]corpusSpec, 0, len(o.CorpusKeys))
	for _, key := range o.CorpusKeys {
		corpora = append(corpora, corpusSpec{CorpusKey: key, LexicalInterpolation: o.LexicalInterpolation})
	}
	return searchParams{
		Corpora: corpora,
		ContextConfiguration: contextConfiguration{
			SentencesBefore: o.SentencesBefore,
			SentencesAfter:  o.SentencesAfter,
		},
		Reranker: reranker{
			Type:       "customer_reranker",
			RerankerID: "rnk_272725719",
			Limit:      100,
			Cutoff:     0.1,
		},
	}
}

// Query runs a RAG query: semantic search plus generated summary when gen is
// non-nil, search-only otherwise.
func (c *Client) Query(ctx context.Context, apiKey, query string, opts QueryOptions, gen *GenerationOptions) (*QueryResult, error) {
	req := queryRequest{
		Query:       query,
		Search:      opts.search(),
		SaveHistory: true,
	}
	if gen != nil {
		req.Generation = &generationParams{
			GenerationPresetName:          gen.PresetName,
			MaxUsedSearchResults:          gen.MaxUsedSearchResults,
			ResponseLanguage:              gen.ResponseLanguage,
			Citations:                     citationParams{Style: "markdown", URLPattern: "{doc.url}"},
			EnableFactualConsistencyScore: true,
		}
	}

	body, err := c.do(ctx, "query", http.MethodPost, "/v2/query", apiKey, req)
	if err != nil {
		return nil, err
	}

	var res QueryResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Kind: KindUpstreamPermanent, Message: fmt.Sprintf("query: decoding response: %v", err)}
	}
	return &res, nil
}

// FormatSearchResults renders the raw search-result payload as readable text
// for search-only calls, where there is no generated summary to return.
func FormatSearchResults(raw json.RawMessage) string {
	var results []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &results); err != nil || len(results) == 0 {
		return string(raw)
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. (score %.3f) %s\n", i+1, r.Score, r.Text)
	}
	return b.String()
}
