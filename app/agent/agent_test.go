package agent

import (
	"context"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinrag/model"
	"clinrag/types"
)

// hashEmbedder is a deterministic offline stand-in for the embedding
// backend, good enough to drive the index through a full pipeline run.
type hashEmbedder struct {
	variant model.Variant
	dim     int
}

func (h hashEmbedder) Variant() model.Variant { return h.variant }
func (h hashEmbedder) Dimension() int         { return h.dim }

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, h.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(w))
		vec[int(f.Sum32())%h.dim]++
	}
	return model.Normalize(vec), nil
}

// stubMode pins the deployment default so options with an empty mode
// resolve to the offline stub regardless of the environment.
func stubMode(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_MODE", ModeStub)
}

func testRegistry() *model.Registry {
	reg := model.NewRegistry("")
	reg.Register(model.VariantLarge, hashEmbedder{variant: model.VariantLarge, dim: 256})
	reg.Register(model.VariantSmall, hashEmbedder{variant: model.VariantSmall, dim: 128})
	return reg
}

const meningitisNote = `HISTORY OF PRESENT ILLNESS: 62-year-old male with fever, severe headache and neck stiffness for two days.
PHYSICAL EXAM: Temp 39.1, nuchal rigidity present, positive meningeal signs.
LABORATORY: WBC 18.5 elevated.
PLAN: Lumbar puncture, blood cultures, empiric antibiotics.`

func TestAgent_Analyze(t *testing.T) {
	stubMode(t)
	a := New(testRegistry())

	analysis, err := a.Analyze(context.Background(), meningitisNote, AnalyzeOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, analysis.AllChunks)
	require.NotEmpty(t, analysis.Retrieved)
	assert.LessOrEqual(t, len(analysis.Retrieved), DefaultTopK)

	assert.True(t, strings.HasPrefix(analysis.SOAP, "S: "))
	assert.Contains(t, analysis.Facts, "Chief Complaint & Symptoms")

	assert.Empty(t, analysis.DDxParseError)
	require.NotEmpty(t, analysis.DDx)
	diag, conf := analysis.PrimaryDiagnosis()
	assert.Equal(t, "Bacterial Meningitis", diag)
	assert.Equal(t, "High", conf)

	assert.GreaterOrEqual(t, analysis.ProcessingTime, 0.0)
}

func TestAgent_Analyze_TopKClampedToChunkCount(t *testing.T) {
	stubMode(t)
	a := New(testRegistry())

	// a short note yields fewer chunks than the requested depth
	analysis, err := a.Analyze(context.Background(), "PLAN: discharge home.", AnalyzeOptions{TopK: 50})
	require.NoError(t, err)
	assert.Len(t, analysis.Retrieved, len(analysis.AllChunks))
}

func TestAgent_Analyze_SmallVariant(t *testing.T) {
	stubMode(t)
	a := New(testRegistry())

	analysis, err := a.Analyze(context.Background(), meningitisNote, AnalyzeOptions{UseSmallEmbedder: true})
	require.NoError(t, err)
	assert.NotEmpty(t, analysis.Retrieved)
}

func TestAgent_Analyze_EmptyNoteStillAnalyzes(t *testing.T) {
	stubMode(t)
	a := New(testRegistry())

	analysis, err := a.Analyze(context.Background(), "", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, analysis.AllChunks, 1)
	assert.Equal(t, types.UnlabeledSection, analysis.AllChunks[0].Section)
	assert.Len(t, analysis.Retrieved, 1)
}

func TestAgent_Analyze_GenerationFailureContained(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	t.Setenv("LLM_URL", srv.URL)
	t.Setenv("LLM_MODEL", "test-model")

	a := New(testRegistry())
	analysis, err := a.Analyze(context.Background(), meningitisNote, AnalyzeOptions{LLMMode: ModeOllama})
	require.NoError(t, err, "generation failures must not abort the analysis")

	assert.True(t, strings.HasPrefix(analysis.Facts, "ERROR: extract generation failed"))
	assert.True(t, strings.HasPrefix(analysis.DDxRaw, "ERROR: differential generation failed"))
	assert.True(t, strings.HasPrefix(analysis.SOAP, "ERROR: soap generation failed"))
	assert.NotEmpty(t, analysis.DDxParseError)
	assert.Nil(t, analysis.DDx)
	assert.NotEmpty(t, analysis.Retrieved, "retrieval succeeded and must be kept")
}

func TestAgent_Chat(t *testing.T) {
	stubMode(t)
	a := New(testRegistry())

	analysis, err := a.Analyze(context.Background(), meningitisNote, AnalyzeOptions{})
	require.NoError(t, err)

	resp, err := a.Chat(context.Background(), "Why is meningitis suspected?", analysis, nil, AnalyzeOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Answer)
	require.NotEmpty(t, resp.RelevantChunks)
	assert.LessOrEqual(t, len(resp.RelevantChunks), DefaultChatTopK)
	require.Len(t, resp.Sources, len(resp.RelevantChunks))
	for i, r := range resp.RelevantChunks {
		assert.Equal(t, r.ChunkID, resp.Sources[i])
	}
	assert.GreaterOrEqual(t, resp.ProcessingTime, 0.0)
}

func TestAgent_Chat_NoContext(t *testing.T) {
	stubMode(t)
	a := New(testRegistry())

	for _, analysis := range []*types.Analysis{nil, {}} {
		resp, err := a.Chat(context.Background(), "anything", analysis, nil, AnalyzeOptions{})
		require.NoError(t, err)
		assert.Contains(t, resp.Answer, "No analysis context available")
		assert.Empty(t, resp.RelevantChunks)
		assert.Empty(t, resp.Sources)
	}
}

func TestAgent_Chat_HistoryFitsPrompt(t *testing.T) {
	analysis := &types.Analysis{
		SOAP: "S: fever\nO: elevated WBC\nA: infection\nP: antibiotics",
		DDx: []types.DDxItem{
			{Diagnosis: "Sepsis", Confidence: "High", Rationale: "fits the picture"},
		},
	}
	retrieved := []types.RetrievalResult{
		{Chunk: types.Chunk{ChunkID: "5_LABORATORY_0_aaaa1111", Section: "LABORATORY", Text: "WBC elevated"}, Score: 0.8},
	}
	history := make([]types.ChatMessage, 8)
	for i := range history {
		history[i] = types.ChatMessage{Role: "user", Content: strings.Repeat("q", i+1)}
	}

	prompt := chatPrompt("What was the WBC?", analysis, retrieved, history)

	assert.Contains(t, prompt, "SOAP Summary:")
	assert.Contains(t, prompt, "- Sepsis: High confidence - fits the picture")
	assert.Contains(t, prompt, "[5_LABORATORY_0_aaaa1111] (LABORATORY): WBC elevated")
	assert.Contains(t, prompt, "USER QUESTION: What was the WBC?")

	// only the last five history turns are carried
	assert.NotContains(t, prompt, "USER: qqq\n")
	assert.Contains(t, prompt, "USER: qqqq\n")
}

func TestAnswerWithEvidence(t *testing.T) {
	a := New(testRegistry())
	analysis := &types.Analysis{SOAP: "S: fever\nO: stable\nA: viral illness\nP: supportive care"}
	retrieved := []types.RetrievalResult{
		{Chunk: types.Chunk{ChunkID: "6_HPI_0_aaaa1111", Section: "HISTORY OF PRESENT ILLNESS", Text: "fever for three days"}, Score: 0.7},
	}

	resp := a.AnswerWithEvidence(context.Background(), "How long has the fever lasted?", analysis, retrieved, nil, ModeStub)
	assert.NotEmpty(t, resp.Answer)
	assert.Equal(t, []string{"6_HPI_0_aaaa1111"}, resp.Sources)
}
