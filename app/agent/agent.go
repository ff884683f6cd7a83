package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clinrag/model"
	"clinrag/rag"
	"clinrag/types"
)

const (
	// DefaultTopK is the retrieval depth of a full note analysis.
	DefaultTopK = 6
	// DefaultChatTopK is the retrieval depth of a chat turn.
	DefaultChatTopK = 3
)

const (
	extractSystem = "You are a clinical extractor. Extract and organize facts from the provided context into categories. Do not make diagnoses."

	reasonSystem = `You are an expert clinical reasoning engine and diagnostic specialist.
Your task is to analyze the structured clinical facts and produce a comprehensive, evidence-based differential diagnosis.
Be thorough in your clinical reasoning and provide actionable insights.`

	soapSystem = "You are a professional medical summarization agent. Produce a concise, factual SOAP note using only the context given."

	chatSystem = `You are a clinical AI assistant helping users understand a clinical note analysis.
You have access to:
1. The SOAP summary
2. Differential diagnoses with confidence levels
3. Relevant evidence chunks from the original note

Answer the user's question using ONLY the provided context. Be specific and cite chunk IDs when referencing evidence.
If the question cannot be answered from the context, say so clearly.`
)

// AnalyzeOptions tune one analysis run. Zero values mean stub mode,
// DefaultTopK and the large embedding variant.
type AnalyzeOptions struct {
	LLMMode          string
	TopK             int
	UseSmallEmbedder bool
}

// Agent sequences the analysis pipeline: chunk, index, retrieve, then the
// three generation steps. Retrieval failures abort the run; generation
// failures degrade into error text inside the result.
type Agent struct {
	registry *model.Registry
	logger   *slog.Logger
}

func New(registry *model.Registry) *Agent {
	return &Agent{
		registry: registry,
		logger:   slog.Default(),
	}
}

// Analyze runs the full pipeline over one clinical note. The returned
// Analysis always carries the chunk set the evidence citations resolve
// against.
func (a *Agent) Analyze(ctx context.Context, fullText string, opts AnalyzeOptions) (*types.Analysis, error) {
	start := time.Now()

	embedder, err := a.registry.Get(model.VariantFor(opts.UseSmallEmbedder))
	if err != nil {
		return nil, err
	}
	gen := NewGenerator(opts.LLMMode)

	chunks := rag.PrepareChunks(fullText, 0)

	index, err := rag.BuildIndex(ctx, chunks, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > index.Len() {
		topK = index.Len()
	}

	// the whole note is the query: surface the chunks most central to it
	retrieved, err := rag.Retrieve(ctx, fullText, embedder, index, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	evidence := BuildEvidenceContext(retrieved)

	extractUser := fmt.Sprintf(`CONTEXT:
%s

Extract into categories:
1. Patient History & Demographics:
2. Chief Complaint & Symptoms:
3. Physical Exam & Vitals:
4. Key Lab & Imaging Findings:
5. Clinician's Stated Assessment:

Include chunk ids in brackets after each finding.`, evidence)
	facts := a.generate(ctx, gen, "extract", extractSystem, extractUser, 512, 0)

	reasonUser := fmt.Sprintf(`STEP1_OUTPUT (Extracted Clinical Facts):
%s

TASK: Generate a detailed differential diagnosis analysis.

Provide the top 3-5 differential diagnoses as a JSON array. For EACH diagnosis, include:
- "diagnosis": The specific diagnosis name
- "confidence": "High", "Medium", or "Low" based on how well it fits the clinical picture
- "rationale": A detailed 2-4 sentence explanation of the supporting findings and reasoning
- "evidence": List of chunk_id strings that support this diagnosis
- "workup": Recommended diagnostic tests to confirm or rule out this diagnosis
- "red_flags": Any concerning findings that require urgent attention

Consider the most likely diagnosis, cannot-miss diagnoses, and common mimics.

Return ONLY a valid JSON array, no other text.`, facts)
	ddxRaw := a.generate(ctx, gen, "differential", reasonSystem, reasonUser, 1024, 0)

	soapUser := fmt.Sprintf("CONTEXT:\n%s\n\nProduce SOAP: S (Subjective), O (Objective), A (Assessment), P (Plan).", evidence)
	soap := a.generate(ctx, gen, "soap", soapSystem, soapUser, 512, 0)

	analysis := &types.Analysis{
		SOAP:      soap,
		Facts:     facts,
		DDxRaw:    ddxRaw,
		Retrieved: retrieved,
		AllChunks: chunks,
	}
	ddx, parseErr := ParseDDx(ddxRaw)
	if parseErr != nil {
		analysis.DDxParseError = parseErr.Error()
	} else {
		analysis.DDx = ddx
	}

	if dangling := analysis.ResolveEvidence(); len(dangling) > 0 {
		a.logger.Warn("differential cites unresolvable evidence ids", "ids", dangling)
	}

	analysis.ProcessingTime = time.Since(start).Seconds()
	return analysis, nil
}

// Chat answers a follow-up question about an analyzed note. The index is
// rebuilt from the chunk set carried in the analysis context; nothing
// survives between turns.
func (a *Agent) Chat(ctx context.Context, question string, analysis *types.Analysis, history []types.ChatMessage, opts AnalyzeOptions) (*types.ChatResponse, error) {
	start := time.Now()

	if analysis == nil || len(analysis.AllChunks) == 0 {
		return &types.ChatResponse{
			Answer:         "No analysis context available. Please analyze a clinical note first.",
			RelevantChunks: []types.RetrievalResult{},
			Sources:        []string{},
		}, nil
	}

	embedder, err := a.registry.Get(model.VariantFor(opts.UseSmallEmbedder))
	if err != nil {
		return nil, err
	}
	index, err := rag.BuildIndex(ctx, analysis.AllChunks, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultChatTopK
	}
	if topK > index.Len() {
		topK = index.Len()
	}

	retrieved, err := rag.Retrieve(ctx, question, embedder, index, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	resp := a.AnswerWithEvidence(ctx, question, analysis, retrieved, history, opts.LLMMode)
	resp.ProcessingTime = time.Since(start).Seconds()
	return resp, nil
}

// AnswerWithEvidence runs only the generation half of a chat turn, for
// callers that already retrieved evidence (for example a pgvector search
// over a persisted analysis).
func (a *Agent) AnswerWithEvidence(ctx context.Context, question string, analysis *types.Analysis, retrieved []types.RetrievalResult, history []types.ChatMessage, llmMode string) *types.ChatResponse {
	gen := NewGenerator(llmMode)
	answer := a.generate(ctx, gen, "chat", chatSystem, chatPrompt(question, analysis, retrieved, history), 512, 0.3)

	sources := make([]string, len(retrieved))
	for i, r := range retrieved {
		sources[i] = r.ChunkID
	}

	return &types.ChatResponse{
		Answer:         answer,
		RelevantChunks: retrieved,
		Sources:        sources,
	}
}

// generate contains generation-capability failures: the caller always
// gets text, an ERROR string when the backend failed. Nothing past this
// point may panic or abort the analysis because a model timed out.
func (a *Agent) generate(ctx context.Context, gen Generator, step, system, user string, maxTokens int, temperature float64) string {
	logPromptSize(step, system, user)
	out, err := gen.Generate(ctx, system, user, maxTokens, temperature)
	if err != nil {
		a.logger.Error("generation step failed", "step", step, "error", err)
		return fmt.Sprintf("ERROR: %s generation failed: %v", step, err)
	}
	return out
}

// ParseDDx parses the generated differential. Models wrap JSON in prose
// or fences often enough that a bracket-delimited retry is worth it; when
// both attempts fail the raw text is kept by the caller and the error
// reported alongside it.
func ParseDDx(raw string) ([]types.DDxItem, error) {
	var ddx []types.DDxItem
	if err := json.Unmarshal([]byte(raw), &ddx); err == nil {
		return ddx, nil
	}

	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &ddx); err == nil {
			return ddx, nil
		}
	}
	return nil, fmt.Errorf("differential output is not a valid JSON array")
}

func chatPrompt(question string, analysis *types.Analysis, retrieved []types.RetrievalResult, history []types.ChatMessage) string {
	var parts []string
	parts = append(parts, "SOAP Summary:\n"+analysis.SOAP)

	if len(analysis.DDx) > 0 {
		var lines []string
		for _, d := range analysis.DDx {
			lines = append(lines, fmt.Sprintf("- %s: %s confidence - %s", d.Diagnosis, d.Confidence, d.Rationale))
		}
		parts = append(parts, "Differential Diagnoses:\n"+strings.Join(lines, "\n"))
	}

	var chunkLines []string
	for _, r := range retrieved {
		chunkLines = append(chunkLines, fmt.Sprintf("[%s] (%s): %s", r.ChunkID, r.Section, r.Text))
	}
	parts = append(parts, "Relevant Evidence:\n"+strings.Join(chunkLines, "\n\n"))

	prompt := "CONTEXT:\n" + strings.Join(parts, "\n\n") + "\n\n"

	if len(history) > 0 {
		if len(history) > 5 {
			history = history[len(history)-5:]
		}
		var lines []string
		for _, msg := range history {
			lines = append(lines, strings.ToUpper(msg.Role)+": "+msg.Content)
		}
		prompt += "CHAT HISTORY:\n" + strings.Join(lines, "\n") + "\n\n"
	}

	prompt += "USER QUESTION: " + question + "\n\nPlease provide a clear, evidence-based answer citing specific chunk IDs where applicable."
	return prompt
}
