package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"clinrag/model"
	"clinrag/types"
)

// DBStorer persists analysis history. This is the durable record of past
// runs; it never backs the in-memory retrieval index of a fresh analysis.
type DBStorer interface {
	SaveAnalysis(ctx context.Context, noteText string, a *types.Analysis, embedder model.Embedder) (int64, error)
	GetAnalysis(ctx context.Context, id int64) (*types.AnalysisRecord, []types.Chunk, error)
	ListAnalyses(ctx context.Context, skip, limit int) (*types.HistoryPage, error)
	DeleteAnalysis(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*types.HistoryStats, error)
	SearchChunks(ctx context.Context, analysisID int64, queryVec []float32, limit int) ([]types.RetrievalResult, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createTables(ctx)
}

func (p *PostgresStore) createTables(ctx context.Context) error {
	query := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS analyses (
		id BIGSERIAL PRIMARY KEY,
		note_text TEXT NOT NULL,
		soap TEXT,
		facts TEXT,
		ddx JSONB,
		primary_diagnosis TEXT,
		confidence TEXT,
		embedding_variant TEXT,
		processing_time DOUBLE PRECISION,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	-- embedding stays untyped: the column holds whichever variant the
	-- analysis was run with (768 or 384). Search is always scoped to one
	-- analysis and the query vector must come from the variant recorded
	-- on the analyses row, so dimensions never mix inside a query
	CREATE TABLE IF NOT EXISTS analysis_chunks (
		analysis_id BIGINT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
		chunk_id TEXT NOT NULL,
		chunk_num INT NOT NULL,
		section TEXT,
		content TEXT NOT NULL,
		embedding vector,
		PRIMARY KEY (analysis_id, chunk_id)
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_chunks_analysis_id ON analysis_chunks(analysis_id);
	CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

// SaveAnalysis writes the record and its chunk rows in one transaction.
// When an embedder is supplied the chunk embeddings are stored too, which
// lets later chat turns search the saved note without re-chunking it.
func (p *PostgresStore) SaveAnalysis(ctx context.Context, noteText string, a *types.Analysis, embedder model.Embedder) (int64, error) {
	ddxJSON, err := json.Marshal(a.DDx)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ddx: %w", err)
	}
	diagnosis, confidence := a.PrimaryDiagnosis()
	variant := ""
	if embedder != nil {
		variant = string(embedder.Variant())
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO analyses (note_text, soap, facts, ddx, primary_diagnosis, confidence, embedding_variant, processing_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		noteText, a.SOAP, a.Facts, ddxJSON, diagnosis, confidence, variant, a.ProcessingTime,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert analysis: %w", err)
	}

	for _, c := range a.AllChunks {
		var emb any
		if embedder != nil {
			vec, err := embedder.Embed(ctx, c.Text)
			if err != nil {
				log.Printf("[STORE] failed to embed chunk %s for persistence: %v", c.ChunkID, err)
			} else {
				emb = pgvector.NewVector(vec)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO analysis_chunks (analysis_id, chunk_id, chunk_num, section, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, c.ChunkID, c.ChunkNum, c.Section, c.Text, emb,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert chunk %s: %w", c.ChunkID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *PostgresStore) GetAnalysis(ctx context.Context, id int64) (*types.AnalysisRecord, []types.Chunk, error) {
	rec := &types.AnalysisRecord{}
	var ddxJSON []byte
	err := p.pool.QueryRow(ctx, `
		SELECT id, note_text, soap, facts, ddx, primary_diagnosis, confidence,
		       COALESCE(embedding_variant, ''), processing_time, created_at
		FROM analyses WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.NoteText, &rec.SOAP, &rec.Facts, &ddxJSON,
		&rec.PrimaryDiagnosis, &rec.Confidence, &rec.EmbeddingVariant, &rec.ProcessingTime, &rec.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, sql.ErrNoRows
		}
		return nil, nil, err
	}
	if len(ddxJSON) > 0 {
		if err := json.Unmarshal(ddxJSON, &rec.DDx); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal ddx: %w", err)
		}
	}

	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, chunk_num, section, content
		FROM analysis_chunks WHERE analysis_id = $1
		ORDER BY chunk_num`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ChunkID, &c.ChunkNum, &c.Section, &c.Text); err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, c)
	}
	return rec, chunks, rows.Err()
}

func (p *PostgresStore) ListAnalyses(ctx context.Context, skip, limit int) (*types.HistoryPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	page := &types.HistoryPage{Records: []types.AnalysisRecord{}, Skip: skip, Limit: limit}
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM analyses`).Scan(&page.Total); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, soap, facts, ddx, primary_diagnosis, confidence, processing_time, created_at
		FROM analyses
		ORDER BY created_at DESC
		OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec types.AnalysisRecord
		var ddxJSON []byte
		if err := rows.Scan(&rec.ID, &rec.SOAP, &rec.Facts, &ddxJSON,
			&rec.PrimaryDiagnosis, &rec.Confidence, &rec.ProcessingTime, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(ddxJSON) > 0 {
			if err := json.Unmarshal(ddxJSON, &rec.DDx); err != nil {
				log.Printf("[STORE] record %d has unreadable ddx json: %v", rec.ID, err)
			}
		}
		page.Records = append(page.Records, rec)
	}
	return page, rows.Err()
}

func (p *PostgresStore) DeleteAnalysis(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresStore) Stats(ctx context.Context) (*types.HistoryStats, error) {
	stats := &types.HistoryStats{ConfidenceDistribution: make(map[string]int64)}

	err := p.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(avg(processing_time), 0) FROM analyses`,
	).Scan(&stats.TotalAnalyses, &stats.AvgProcessingTime)
	if err != nil {
		return nil, err
	}

	err = p.pool.QueryRow(ctx, `
		SELECT primary_diagnosis, count(*)
		FROM analyses
		WHERE primary_diagnosis IS NOT NULL AND primary_diagnosis != ''
		GROUP BY primary_diagnosis
		ORDER BY count(*) DESC
		LIMIT 1`,
	).Scan(&stats.MostCommonDiagnosis, &stats.MostCommonCount)
	if err != nil && err != pgx.ErrNoRows {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT confidence, count(*)
		FROM analyses
		WHERE confidence IS NOT NULL AND confidence != ''
		GROUP BY confidence`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var conf string
		var count int64
		if err := rows.Scan(&conf, &count); err != nil {
			return nil, err
		}
		stats.ConfidenceDistribution[conf] = count
	}
	return stats, rows.Err()
}

// SearchChunks runs a cosine top-k over the persisted chunks of one saved
// analysis. Scoped to a single analysis the scan is small, so no ANN
// index is needed.
func (p *PostgresStore) SearchChunks(ctx context.Context, analysisID int64, queryVec []float32, limit int) ([]types.RetrievalResult, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 5
	}

	vector := pgvector.NewVector(queryVec)
	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, chunk_num, section, content,
		       1 - (embedding <=> $2) AS score
		FROM analysis_chunks
		WHERE analysis_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`, analysisID, vector, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.RetrievalResult
	for rows.Next() {
		var r types.RetrievalResult
		if err := rows.Scan(&r.ChunkID, &r.ChunkNum, &r.Section, &r.Text, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
