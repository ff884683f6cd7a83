package agent

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"clinrag/types"
)

// maxContextChars bounds the evidence block handed to the generation
// capability. Chunks past the budget are dropped, never truncated
// mid-chunk, so every cited id still maps to full chunk text.
const maxContextChars = 20000

// BuildEvidenceContext renders retrieved chunks as the evidence-delimited
// block the prompts cite from. Each item reads [chunk_id][section]: text,
// so generated output can carry resolvable chunk ids.
func BuildEvidenceContext(results []types.RetrievalResult) string {
	var sb strings.Builder
	for i, r := range results {
		part := fmt.Sprintf("[%s][%s]: %s", r.ChunkID, r.Section, r.Text)
		if sb.Len() > 0 && sb.Len()+len(part) > maxContextChars {
			log.Printf("[CONTEXT] context budget reached (%d chars), using %d of %d chunks", maxContextChars, i, len(results))
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(part)
	}
	return sb.String()
}

// CountTokens reports the token size of a prompt. Accounting only; the
// chunker stays character based.
func CountTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func logPromptSize(step, system, user string) {
	if count, err := CountTokens(system + "\n\n" + user); err == nil {
		log.Printf("[PROMPT] %s: %d tokens, %d chars", step, count, len(system)+len(user))
	}
}
