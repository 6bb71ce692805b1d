package vectara

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// VHC (Vectara Hallucination Correction) operations: hallucination
// correction and factual consistency scoring of generated text against
// source documents.

type vhcDocument struct {
	Text string `json:"text"`
}

type correctionRequest struct {
	GeneratedText string        `json:"generated_text"`
	Documents     []vhcDocument `json:"documents"`
	Query         string        `json:"query,omitempty"`
	Model         string        `json:"model_name,omitempty"`
}

// Correction is one edit VHC proposes for the generated text.
type Correction struct {
	Original    string `json:"original_text"`
	Corrected   string `json:"corrected_text"`
	Explanation string `json:"explanation"`
}

// CorrectionResult is the hallucination-correction outcome.
type CorrectionResult struct {
	CorrectedText string       `json:"corrected_text"`
	Corrections   []Correction `json:"corrections"`
}

// CorrectHallucinations asks VHC to rewrite generatedText so that it is
// supported by documents, returning the corrected text and the list of edits.
func (c *Client) CorrectHallucinations(ctx context.Context, apiKey, generatedText string, documents []string, query string) (*CorrectionResult, error) {
	docs := make([]vhcDocument, 0, len(documents))
	for _, d := range documents {
		docs = append(docs, vhcDocument{Text: d})
	}
	req := correctionRequest{
		GeneratedText: generatedText,
		Documents:     docs,
		Query:         query,
	}

	body, err := c.do(ctx, "correct_hallucinations", http.MethodPost, "/v2/hallucination_correctors", apiKey, req)
	if err != nil {
		return nil, err
	}

	var res CorrectionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Kind: KindUpstreamPermanent, Message: fmt.Sprintf("correct_hallucinations: decoding response: %v", err)}
	}
	return &res, nil
}

type consistencyRequest struct {
	GeneratedText string   `json:"generated_text"`
	SourceTexts   []string `json:"source_texts"`
}

// ConsistencyResult carries the factual consistency score in [0, 1]; higher
// means better supported by the sources.
type ConsistencyResult struct {
	Score float64 `json:"score"`
}

// EvalFactualConsistency scores generatedText against sourceTexts using the
// upstream factual-consistency evaluator (HHEM).
func (c *Client) EvalFactualConsistency(ctx context.Context, apiKey, generatedText string, sourceTexts []string) (*ConsistencyResult, error) {
	req := consistencyRequest{
		GeneratedText: generatedText,
		SourceTexts:   sourceTexts,
	}

	body, err := c.do(ctx, "eval_factual_consistency", http.MethodPost, "/v2/evaluate_factual_consistency", apiKey, req)
	if err != nil {
		return nil, err
	}

	var res ConsistencyResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &Error{Kind: KindUpstreamPermanent, Message: fmt.Sprintf("eval_factual_consistency: decoding response: %v", err)}
	}
	return &res, nil
}
