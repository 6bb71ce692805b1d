package server

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/goleak"

	"github.com/vectara/vectara-mcp/internal/auth"
	"github.com/vectara/vectara-mcp/internal/log"
	"github.com/vectara/vectara-mcp/internal/vectara"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockUpstream counts calls so tests can assert the pipeline short-circuits
// before reaching the network.
type mockUpstream struct {
	mu           sync.Mutex
	queryCalls   int
	correctCalls int
	evalCalls    int

	queryRes   *vectara.QueryResult
	correctRes *vectara.CorrectionResult
	evalRes    *vectara.ConsistencyResult
	err        error
}

func (m *mockUpstream) Query(_ context.Context, _, _ string, _ vectara.QueryOptions, _ *vectara.GenerationOptions) (*vectara.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	return m.queryRes, m.err
}

func (m *mockUpstream) CorrectHallucinations(_ context.Context, _, _ string, _ []string, _ string) (*vectara.CorrectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.correctCalls++
	return m.correctRes, m.err
}

func (m *mockUpstream) EvalFactualConsistency(_ context.Context, _, _ string, _ []string) (*vectara.ConsistencyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalCalls++
	return m.evalRes, m.err
}

func (m *mockUpstream) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls + m.correctCalls + m.evalCalls
}

type okProber struct{}

func (okProber) Probe(context.Context, string) error { return nil }

func newTestServer(t *testing.T, up Upstream, startupKey string) *Server {
	t.Helper()
	creds := auth.NewCredentialStore(startupKey, okProber{}, log.NewNop())
	s, err := New(Config{
		Name:        "vectara-mcp",
		Version:     "test",
		Logger:      log.NewNop(),
		Upstream:    up,
		Credentials: creds,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestAskVectara_ValidationFailureSkipsUpstream(t *testing.T) {
	up := &mockUpstream{}
	s := newTestServer(t, up, "vaa_testkey_0001")

	tests := []struct {
		name string
		in   AskInput
		want string
	}{
		{"missing query", AskInput{CorpusKeys: []string{"docs"}}, "query is required"},
		{"blank query", AskInput{Query: "   ", CorpusKeys: []string{"docs"}}, "query is required"},
		{"missing corpus keys", AskInput{Query: "what is RAG?"}, "corpus_keys are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := s.askVectara(context.Background(), nil, tt.in)
			if err != nil {
				t.Fatalf("askVectara: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected IsError result")
			}
			text := resultText(t, res)
			if !strings.HasPrefix(text, "["+string(vectara.KindValidation)+"]") {
				t.Errorf("text = %q, want [ValidationError] prefix", text)
			}
			if !strings.Contains(text, tt.want) {
				t.Errorf("text = %q, want substring %q", text, tt.want)
			}
		})
	}

	if got := up.calls(); got != 0 {
		t.Errorf("upstream calls = %d, want 0", got)
	}
}

func TestAskVectara_MissingCredentialSkipsUpstream(t *testing.T) {
	up := &mockUpstream{}
	s := newTestServer(t, up, "")

	res, _, err := s.askVectara(context.Background(), nil, AskInput{
		Query:      "what is RAG?",
		CorpusKeys: []string{"docs"},
	})
	if err != nil {
		t.Fatalf("askVectara: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError result")
	}
	text := resultText(t, res)
	if !strings.HasPrefix(text, "["+string(vectara.KindAuth)+"]") {
		t.Errorf("text = %q, want [AuthError] prefix", text)
	}
	if !strings.Contains(text, "setup_vectara_api_key") {
		t.Errorf("text = %q, want remediation hint", text)
	}
	if got := up.calls(); got != 0 {
		t.Errorf("upstream calls = %d, want 0", got)
	}
}

func TestAskVectara_ReturnsSummary(t *testing.T) {
	up := &mockUpstream{queryRes: &vectara.QueryResult{Summary: "RAG combines retrieval with generation."}}
	s := newTestServer(t, up, "vaa_testkey_0001")

	res, _, err := s.askVectara(context.Background(), nil, AskInput{
		Query:      "what is RAG?",
		CorpusKeys: []string{"docs"},
	})
	if err != nil {
		t.Fatalf("askVectara: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if got := resultText(t, res); got != "RAG combines retrieval with generation." {
		t.Errorf("text = %q", got)
	}
	if up.queryCalls != 1 {
		t.Errorf("query calls = %d, want 1", up.queryCalls)
	}
}

func TestSearchVectara_FormatsResultsWithoutGeneration(t *testing.T) {
	up := &mockUpstream{queryRes: &vectara.QueryResult{
		SearchResults: []byte(`[{"text":"first match","score":0.91},{"text":"second match","score":0.74}]`),
	}}
	s := newTestServer(t, up, "vaa_testkey_0001")

	res, _, err := s.searchVectara(context.Background(), nil, SearchInput{
		Query:      "vector search",
		CorpusKeys: []string{"docs"},
	})
	if err != nil {
		t.Fatalf("searchVectara: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	text := resultText(t, res)
	if !strings.Contains(text, "first match") || !strings.Contains(text, "second match") {
		t.Errorf("text = %q, want both matches", text)
	}
}

func TestToolErrors_UniformFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"transient after retries",
			&vectara.Error{Kind: vectara.KindUpstreamTransient, Message: "query failed with status 503", Status: 503},
			"[UpstreamTransient] query failed with status 503",
		},
		{
			"permanent",
			&vectara.Error{Kind: vectara.KindUpstreamPermanent, Message: "query failed with status 400", Status: 400},
			"[UpstreamPermanent] query failed with status 400",
		},
		{
			"overloaded",
			vectara.ErrOverloaded,
			"[Overloaded] too many concurrent upstream calls, try again later",
		},
		{
			"deadline",
			context.DeadlineExceeded,
			"[UpstreamTransient] upstream call timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpstream{err: tt.err}
			s := newTestServer(t, up, "vaa_testkey_0001")

			res, _, err := s.askVectara(context.Background(), nil, AskInput{
				Query:      "q",
				CorpusKeys: []string{"docs"},
			})
			if err != nil {
				t.Fatalf("askVectara: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected IsError result")
			}
			if got := resultText(t, res); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrectHallucinations_ListsCorrections(t *testing.T) {
	up := &mockUpstream{correctRes: &vectara.CorrectionResult{
		CorrectedText: "The tower is 330 meters tall.",
		Corrections: []vectara.Correction{
			{Original: "300 meters", Corrected: "330 meters", Explanation: "height per source document"},
		},
	}}
	s := newTestServer(t, up, "vaa_testkey_0001")

	res, _, err := s.correctHallucinations(context.Background(), nil, CorrectInput{
		GeneratedText: "The tower is 300 meters tall.",
		Documents:     []string{"The tower stands 330 meters tall."},
	})
	if err != nil {
		t.Fatalf("correctHallucinations: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	text := resultText(t, res)
	if !strings.Contains(text, "The tower is 330 meters tall.") {
		t.Errorf("text = %q, want corrected text", text)
	}
	if !strings.Contains(text, "Corrections:") || !strings.Contains(text, "330 meters") {
		t.Errorf("text = %q, want correction listing", text)
	}
}

func TestCorrectHallucinations_RequiresDocuments(t *testing.T) {
	up := &mockUpstream{}
	s := newTestServer(t, up, "vaa_testkey_0001")

	res, _, err := s.correctHallucinations(context.Background(), nil, CorrectInput{
		GeneratedText: "some claim",
	})
	if err != nil {
		t.Fatalf("correctHallucinations: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError result")
	}
	if got := up.calls(); got != 0 {
		t.Errorf("upstream calls = %d, want 0", got)
	}
}

func TestEvalFactualConsistency_ReportsScore(t *testing.T) {
	up := &mockUpstream{evalRes: &vectara.ConsistencyResult{Score: 0.8125}}
	s := newTestServer(t, up, "vaa_testkey_0001")

	res, _, err := s.evalFactualConsistency(context.Background(), nil, EvalInput{
		GeneratedText: "some claim",
		Documents:     []string{"a source"},
	})
	if err != nil {
		t.Fatalf("evalFactualConsistency: %v", err)
	}
	if got := resultText(t, res); got != "Factual consistency score: 0.812" {
		t.Errorf("text = %q", got)
	}
}

func TestSetupAPIKey_ReturnsMaskedConfirmation(t *testing.T) {
	up := &mockUpstream{}
	s := newTestServer(t, up, "")

	res, _, err := s.setupAPIKey(context.Background(), nil, SetupAPIKeyInput{APIKey: "vaa_ABCDEFGH12345678"})
	if err != nil {
		t.Fatalf("setupAPIKey: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	text := resultText(t, res)
	if strings.Contains(text, "ABCDEFGH") {
		t.Fatalf("confirmation leaks the key: %q", text)
	}
	if !strings.Contains(text, "vaa_****5678") {
		t.Errorf("text = %q, want masked key", text)
	}

	// The key must now back tool calls.
	if _, err := s.credentials.Get(); err != nil {
		t.Errorf("Get after setup: %v", err)
	}
}

func TestClearAPIKey_RemovesSessionKey(t *testing.T) {
	up := &mockUpstream{}
	s := newTestServer(t, up, "")

	if _, _, err := s.setupAPIKey(context.Background(), nil, SetupAPIKeyInput{APIKey: "vaa_ABCDEFGH12345678"}); err != nil {
		t.Fatalf("setupAPIKey: %v", err)
	}
	res, _, err := s.clearAPIKey(context.Background(), nil, ClearAPIKeyInput{})
	if err != nil {
		t.Fatalf("clearAPIKey: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if _, err := s.credentials.Get(); err == nil {
		t.Error("Get after clear should fail")
	}
}

func TestMCP_RegistersAllTools(t *testing.T) {
	up := &mockUpstream{}
	s := newTestServer(t, up, "")

	srv, err := s.MCP()
	if err != nil {
		t.Fatalf("MCP: %v", err)
	}
	if srv == nil {
		t.Fatal("nil server")
	}

	want := []string{ToolAsk, ToolSearch, ToolCorrect, ToolEvalConsistency, ToolSetupAPIKey, ToolClearAPIKey}
	got := make(map[string]bool, len(want))
	for _, reg := range s.registry() {
		got[reg.name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("tool %s not in registry", name)
		}
	}
}
