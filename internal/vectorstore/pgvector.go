package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dvloznov/finance-advisor/internal/embedding"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var _ Store = (*Pgvector)(nil)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type PgvectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// Pgvector stores records in Postgres with the pgvector extension. One pool
// is shared by the whole process.
type Pgvector struct {
	config   PgvectorConfig
	pool     *pgxpool.Pool
	embedder embedding.Embedder
}

func NewPgvector(ctx context.Context, config PgvectorConfig, embedder embedding.Embedder) (*Pgvector, error) {
	if config.TableName == "" {
		config.TableName = "transaction_vectors"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("NewPgvector: invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	// The extension must exist before connections can register the vector type.
	if err := ensureExtension(ctx, config.ConnString); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("NewPgvector: parsing conn string: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("NewPgvector: connecting: %w", err)
	}

	vs := &Pgvector{config: config, pool: pool, embedder: embedder}
	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

func ensureExtension(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("ensureExtension: connecting: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("ensureExtension: creating vector extension: %w", err)
	}
	return nil
}

func (vs *Pgvector) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			content   TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata  JSONB NOT NULL
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("initialize: creating table: %w", err)
	}

	createIndexes := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS %[1]s_user_idx ON %[1]s ((metadata->>'user_id'));`,
		vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createIndexes); err != nil {
		return fmt.Errorf("initialize: creating indexes: %w", err)
	}
	return nil
}

// Upsert embeds and writes all records in one transaction.
func (vs *Pgvector) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := vs.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "embedding records")
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`, vs.config.TableName)

	batch := &pgx.Batch{}
	for i, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "encoding metadata")
		}
		batch.Queue(stmt, r.ID, r.Text, pgvector.NewVector(vecs[i]), meta)
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "writing records")
	}
	if err := tx.Commit(ctx); err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "committing records")
	}
	return nil
}

// Query returns the k nearest records whose metadata matches the filter.
func (vs *Pgvector) Query(ctx context.Context, text string, k int, filter Filter) ([]Match, error) {
	if filter.Owner == "" {
		return nil, finerr.New(finerr.CodeToolSecurityDenied, "vector query without owner filter")
	}
	if k <= 0 {
		return nil, nil
	}

	vec, err := vs.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "embedding query")
	}

	where, err := json.Marshal(filter.where())
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "encoding filter")
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE metadata @> $2::jsonb
		ORDER BY embedding <=> $1
		LIMIT $3`, vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vec), where, k)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "querying records")
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
			sim  float64
		)
		if err := rows.Scan(&m.ID, &m.Text, &meta, &sim); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "scanning record")
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "decoding metadata")
		}
		m.Similarity = float32(sim)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "iterating records")
	}
	return matches, nil
}

func (vs *Pgvector) Missing(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT want.id
		FROM unnest($1::text[]) AS want(id)
		LEFT JOIN %s v ON v.id = want.id
		WHERE v.id IS NULL`, vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "checking records")
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "collecting missing ids")
	}
	return missing, nil
}

func (vs *Pgvector) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
