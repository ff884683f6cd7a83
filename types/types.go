package types

import (
	"time"
)

// UnlabeledSection marks text that precedes the first recognized header,
// or whole documents in which no header matched.
const UnlabeledSection = "UNLABELED"

// Section is a labeled span of a clinical note, produced once per document
// and never mutated. Ordering follows document order.
type Section struct {
	Label string `json:"section"`
	Body  string `json:"body"`
}

// Chunk is a retrievable unit of note text. ChunkID is unique within one
// analysis and is the identifier cited by downstream generated output.
type Chunk struct {
	ChunkID  string `json:"chunk_id"`
	Text     string `json:"text"`
	Section  string `json:"section"`
	DocID    int    `json:"doc_id"`
	ChunkNum int    `json:"chunk_num"`
}

// RetrievalResult is a chunk plus its cosine similarity against the query.
type RetrievalResult struct {
	Chunk
	Score float64 `json:"score"`
}

// DDxItem is one entry of the ranked differential produced by the
// reasoning step.
type DDxItem struct {
	Diagnosis  string   `json:"diagnosis"`
	Confidence string   `json:"confidence"`
	Rationale  string   `json:"rationale"`
	Evidence   []string `json:"evidence"`
	Workup     string   `json:"workup,omitempty"`
	RedFlags   string   `json:"red_flags,omitempty"`
}

// Analysis is the full result of one note analysis. DDx is nil and
// DDxParseError set when the generated differential was not valid JSON;
// DDxRaw always keeps the verbatim model output.
type Analysis struct {
	SOAP           string            `json:"soap"`
	Facts          string            `json:"step1_facts"`
	DDxRaw         string            `json:"step2_ddx_raw"`
	DDx            []DDxItem         `json:"ddx"`
	DDxParseError  string            `json:"ddx_parse_error,omitempty"`
	Retrieved      []RetrievalResult `json:"retrieved_chunks"`
	AllChunks      []Chunk           `json:"all_chunks"`
	ProcessingTime float64           `json:"processing_time"`
}

// ResolveEvidence checks every chunk id cited in the differential against
// the chunk set of this analysis and returns the dangling ones. Evidence
// entries that are not chunk ids at all (the stub emits placeholders such
// as "CLINICAL") are reported too; the caller decides how strict to be.
func (a *Analysis) ResolveEvidence() []string {
	known := make(map[string]struct{}, len(a.AllChunks))
	for _, c := range a.AllChunks {
		known[c.ChunkID] = struct{}{}
	}
	var dangling []string
	seen := make(map[string]struct{})
	for _, d := range a.DDx {
		for _, id := range d.Evidence {
			if _, ok := known[id]; ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			dangling = append(dangling, id)
		}
	}
	return dangling
}

// PrimaryDiagnosis returns the first differential entry, the one the
// history dashboard aggregates on.
func (a *Analysis) PrimaryDiagnosis() (diagnosis, confidence string) {
	if len(a.DDx) == 0 {
		return "", ""
	}
	return a.DDx[0].Diagnosis, a.DDx[0].Confidence
}

// AnalysisRecord is a persisted analysis as stored in Postgres.
// EmbeddingVariant records which embedding variant produced the stored
// chunk vectors; question embeddings against this record must use it.
type AnalysisRecord struct {
	ID               int64     `json:"id"`
	NoteText         string    `json:"note_text,omitempty"`
	SOAP             string    `json:"soap"`
	Facts            string    `json:"step1_facts"`
	DDx              []DDxItem `json:"ddx"`
	PrimaryDiagnosis string    `json:"primary_diagnosis,omitempty"`
	Confidence       string    `json:"confidence,omitempty"`
	EmbeddingVariant string    `json:"embedding_variant,omitempty"`
	ProcessingTime   float64   `json:"processing_time"`
	CreatedAt        time.Time `json:"created_at"`
}

// HistoryPage is one page of persisted analyses.
type HistoryPage struct {
	Records []AnalysisRecord `json:"records"`
	Total   int64            `json:"total"`
	Skip    int              `json:"skip"`
	Limit   int              `json:"limit"`
}

// HistoryStats aggregates the persisted analyses for the dashboard.
type HistoryStats struct {
	TotalAnalyses          int64            `json:"total_analyses"`
	AvgProcessingTime      float64          `json:"avg_processing_time"`
	MostCommonDiagnosis    string           `json:"most_common_diagnosis,omitempty"`
	MostCommonCount        int64            `json:"most_common_count"`
	ConfidenceDistribution map[string]int64 `json:"confidence_distribution"`
}
