package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vectara/vectara-mcp/internal/vectara"
)

// Tool names exposed over every transport.
const (
	ToolAsk             = "ask_vectara"
	ToolSearch          = "search_vectara"
	ToolCorrect         = "correct_hallucinations"
	ToolEvalConsistency = "eval_factual_consistency"
	ToolSetupAPIKey     = "setup_vectara_api_key"
	ToolClearAPIKey     = "clear_vectara_api_key"
)

// Query tuning defaults, matching upstream recommendations.
const (
	defaultSentencesBefore      = 2
	defaultSentencesAfter       = 2
	defaultLexicalInterpolation = 0.005
	defaultMaxUsedSearchResults = 10
	defaultGenerationPreset     = "vectara-summary-table-md-query-ext-jan-2025-gpt-4o"
	defaultResponseLanguage     = "eng"
)

// registration binds one tool name to its schema and handler. The registry
// is static: built once at startup, iterated by MCP(); nothing is discovered
// at runtime.
type registration struct {
	name string
	add  func(*mcp.Server) error
}

func (s *Server) registry() []registration {
	return []registration{
		{ToolAsk, register(ToolAsk,
			"Run a RAG query using Vectara: semantic search over the given corpora plus a generated, cited answer.",
			s.askVectara)},
		{ToolSearch, register(ToolSearch,
			"Run a semantic search query using Vectara, returning matching results without generation.",
			s.searchVectara)},
		{ToolCorrect, register(ToolCorrect,
			"Identify and correct hallucinations in generated text against the given source documents (VHC).",
			s.correctHallucinations)},
		{ToolEvalConsistency, register(ToolEvalConsistency,
			"Score the factual consistency of generated text against source texts (0 to 1, higher is better).",
			s.evalFactualConsistency)},
		{ToolSetupAPIKey, register(ToolSetupAPIKey,
			"Configure the Vectara API key for this server session. The key is validated upstream before being stored, and only a masked confirmation is returned.",
			s.setupAPIKey)},
		{ToolClearAPIKey, register(ToolClearAPIKey,
			"Clear the session Vectara API key from server memory.",
			s.clearAPIKey)},
	}
}

// register wires a typed handler with its inferred input schema.
func register[In any](name, description string, handler func(context.Context, *mcp.CallToolRequest, In) (*mcp.CallToolResult, any, error)) func(*mcp.Server) error {
	return func(srv *mcp.Server) error {
		schema, err := jsonschema.For[In](nil)
		if err != nil {
			return fmt.Errorf("input schema: %w", err)
		}
		mcp.AddTool(srv, &mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: schema,
		}, handler)
		return nil
	}
}

// AskInput is the ask_vectara input. Zero-valued tuning fields select the
// documented defaults.
type AskInput struct {
	Query                string   `json:"query" jsonschema:"The user query to run."`
	CorpusKeys           []string `json:"corpus_keys" jsonschema:"Vectara corpus keys to search."`
	NSentencesBefore     int      `json:"n_sentences_before,omitempty" jsonschema:"Sentences of context before each result. Default 2."`
	NSentencesAfter      int      `json:"n_sentences_after,omitempty" jsonschema:"Sentences of context after each result. Default 2."`
	LexicalInterpolation float64  `json:"lexical_interpolation,omitempty" jsonschema:"Amount of lexical matching blended into semantic search. Default 0.005."`
	MaxUsedSearchResults int      `json:"max_used_search_results,omitempty" jsonschema:"Maximum search results used for generation. Default 10."`
	GenerationPresetName string   `json:"generation_preset_name,omitempty" jsonschema:"Generation preset to use."`
	ResponseLanguage     string   `json:"response_language,omitempty" jsonschema:"Response language code. Default eng."`
}

// SearchInput is the search_vectara input.
type SearchInput struct {
	Query                string   `json:"query" jsonschema:"The user query to run."`
	CorpusKeys           []string `json:"corpus_keys" jsonschema:"Vectara corpus keys to search."`
	NSentencesBefore     int      `json:"n_sentences_before,omitempty" jsonschema:"Sentences of context before each result. Default 2."`
	NSentencesAfter      int      `json:"n_sentences_after,omitempty" jsonschema:"Sentences of context after each result. Default 2."`
	LexicalInterpolation float64  `json:"lexical_interpolation,omitempty" jsonschema:"Amount of lexical matching blended into semantic search. Default 0.005."`
}

// CorrectInput is the correct_hallucinations input.
type CorrectInput struct {
	GeneratedText string   `json:"generated_text" jsonschema:"The generated text to check and correct."`
	Documents     []string `json:"documents" jsonschema:"Source documents the text must be supported by."`
	Query         string   `json:"query,omitempty" jsonschema:"Optional query that produced the generated text."`
}

// EvalInput is the eval_factual_consistency input.
type EvalInput struct {
	GeneratedText string   `json:"generated_text" jsonschema:"The generated text to score."`
	Documents     []string `json:"documents" jsonschema:"Source documents to score against."`
}

func (s *Server) askVectara(ctx context.Context, req *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	if err := validateQueryArgs(in.Query, in.CorpusKeys); err != nil {
		return errorResult(err), nil, nil
	}

	gen := &vectara.GenerationOptions{
		PresetName:           stringOr(in.GenerationPresetName, defaultGenerationPreset),
		MaxUsedSearchResults: intOr(in.MaxUsedSearchResults, defaultMaxUsedSearchResults),
		ResponseLanguage:     stringOr(in.ResponseLanguage, defaultResponseLanguage),
	}

	return s.runQuery(ctx, req, in.Query, queryOptions(in.CorpusKeys, in.NSentencesBefore, in.NSentencesAfter, in.LexicalInterpolation), gen)
}

func (s *Server) searchVectara(ctx context.Context, req *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	if err := validateQueryArgs(in.Query, in.CorpusKeys); err != nil {
		return errorResult(err), nil, nil
	}

	return s.runQuery(ctx, req, in.Query, queryOptions(in.CorpusKeys, in.NSentencesBefore, in.NSentencesAfter, in.LexicalInterpolation), nil)
}

// runQuery is the shared pipeline tail for the two query tools.
func (s *Server) runQuery(ctx context.Context, req *mcp.CallToolRequest, query string, opts vectara.QueryOptions, gen *vectara.GenerationOptions) (*mcp.CallToolResult, any, error) {
	key, err := s.credentials.Get()
	if err != nil {
		return errorResult(err), nil, nil
	}

	tracker := trackerFor(ctx, req, s.logger)
	tracker.Report(StageStarted)
	if tracker.Cancelled() {
		return nil, nil, ctx.Err()
	}

	tracker.Report(StageUpstream)
	res, err := s.upstream.Query(ctx, key, query, opts, gen)
	if err != nil {
		return errorResult(err), nil, nil
	}
	tracker.Report(StageCompleted)

	if gen == nil {
		return textResult(vectara.FormatSearchResults(res.SearchResults)), nil, nil
	}
	return textResult(res.Summary), nil, nil
}

func (s *Server) correctHallucinations(ctx context.Context, req *mcp.CallToolRequest, in CorrectInput) (*mcp.CallToolResult, any, error) {
	if err := validateTextArgs(in.GeneratedText, in.Documents); err != nil {
		return errorResult(err), nil, nil
	}
	key, err := s.credentials.Get()
	if err != nil {
		return errorResult(err), nil, nil
	}

	tracker := trackerFor(ctx, req, s.logger)
	tracker.Report(StageStarted)
	if tracker.Cancelled() {
		return nil, nil, ctx.Err()
	}

	tracker.Report(StageUpstream)
	res, err := s.upstream.CorrectHallucinations(ctx, key, in.GeneratedText, in.Documents, in.Query)
	if err != nil {
		return errorResult(err), nil, nil
	}
	tracker.Report(StageCompleted)

	var b strings.Builder
	b.WriteString(res.CorrectedText)
	if len(res.Corrections) > 0 {
		b.WriteString("\n\nCorrections:\n")
		for i, c := range res.Corrections {
			fmt.Fprintf(&b, "%d. %q -> %q: %s\n", i+1, c.Original, c.Corrected, c.Explanation)
		}
	}
	return textResult(b.String()), nil, nil
}

func (s *Server) evalFactualConsistency(ctx context.Context, req *mcp.CallToolRequest, in EvalInput) (*mcp.CallToolResult, any, error) {
	if err := validateTextArgs(in.GeneratedText, in.Documents); err != nil {
		return errorResult(err), nil, nil
	}
	key, err := s.credentials.Get()
	if err != nil {
		return errorResult(err), nil, nil
	}

	tracker := trackerFor(ctx, req, s.logger)
	tracker.Report(StageStarted)
	if tracker.Cancelled() {
		return nil, nil, ctx.Err()
	}

	tracker.Report(StageUpstream)
	res, err := s.upstream.EvalFactualConsistency(ctx, key, in.GeneratedText, in.Documents)
	if err != nil {
		return errorResult(err), nil, nil
	}
	tracker.Report(StageCompleted)

	return textResult(fmt.Sprintf("Factual consistency score: %.3f", res.Score)), nil, nil
}

// validateQueryArgs fails fast before any credential lookup or upstream
// call.
func validateQueryArgs(query string, corpusKeys []string) error {
	if strings.TrimSpace(query) == "" {
		return &vectara.Error{Kind: vectara.KindValidation, Message: "query is required"}
	}
	if len(corpusKeys) == 0 {
		return &vectara.Error{Kind: vectara.KindValidation, Message: "corpus_keys are required; ask the user to provide one or more corpus keys"}
	}
	return nil
}

func validateTextArgs(generatedText string, documents []string) error {
	if strings.TrimSpace(generatedText) == "" {
		return &vectara.Error{Kind: vectara.KindValidation, Message: "generated_text is required"}
	}
	if len(documents) == 0 {
		return &vectara.Error{Kind: vectara.KindValidation, Message: "documents are required"}
	}
	return nil
}

func queryOptions(keys []string, before, after int, lexical float64) vectara.QueryOptions {
	return vectara.QueryOptions{
		CorpusKeys:           keys,
		SentencesBefore:      intOr(before, defaultSentencesBefore),
		SentencesAfter:       intOr(after, defaultSentencesAfter),
		LexicalInterpolation: floatOr(lexical, defaultLexicalInterpolation),
	}
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func floatOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult maps any failure to the uniform client-facing shape:
// "[Kind] message". Raw internal errors never escape unformatted, and
// credential material never appears in messages.
func errorResult(err error) *mcp.CallToolResult {
	kind := vectara.KindOf(err)
	message := "upstream request failed"

	var ve *vectara.Error
	if errors.As(err, &ve) {
		message = ve.Message
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = vectara.KindUpstreamTransient
		message = "upstream call timed out"
	} else if errors.Is(err, context.Canceled) {
		message = "call canceled"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("[%s] %s", kind, message)}},
		IsError: true,
	}
}
