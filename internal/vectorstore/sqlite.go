package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dshills/semindex-mcp/internal/embedder"
	"github.com/dshills/semindex-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNoProvider is returned when the store was built without an embedding provider
	ErrNoProvider = errors.New("no embedding provider configured")
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	providerMu sync.RWMutex
	provider   embedder.Provider
}

var _ Store = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a new SQLite-backed vector store. The provider is
// used to embed chunks during Update and queries during Retrieve.
func NewSQLiteStore(dbPath string, provider embedder.Provider) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath, provider: provider}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Provider returns the store's current embedding provider.
func (s *SQLiteStore) Provider() embedder.Provider {
	s.providerMu.RLock()
	defer s.providerMu.RUnlock()
	return s.provider
}

// SetProvider swaps the embedding provider. Existing rows are untouched:
// chunks and cache entries are keyed by model id, so the new provider reads
// and writes its own namespace and never reuses another model's vectors.
func (s *SQLiteStore) SetProvider(provider embedder.Provider) {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()
	s.provider = provider
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Classification

// HasContent reports whether a (content hash, model) pair is fully embedded.
func (s *SQLiteStore) HasContent(ctx context.Context, contentHash, modelID string) (bool, error) {
	return hasContent(ctx, s.db, contentHash, modelID)
}

func hasContent(ctx context.Context, q querier, contentHash, modelID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM content_cache WHERE content_hash = ? AND model_id = ?",
		contentHash, modelID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check content cache: %w", err)
	}
	return true, nil
}

// Index maintenance

// Update applies a classified refresh to the store: Delete items lose their
// tag rows, AddTag items gain a tag row pointing at already cached content,
// and Compute items are chunked, embedded, and cached before tagging.
// Orphaned content is garbage collected at the end. The whole refresh runs
// in one transaction: a cooperative cancel between Compute items rolls
// everything back and returns cancelled=true, leaving the store exactly as
// it was before the call.
func (s *SQLiteStore) Update(ctx context.Context, tag types.IndexTag, refresh *types.RefreshResult, source ChunkSource, onProgress ProgressFunc, cancel *types.CancelFlag) (bool, error) {
	if err := tag.Validate(); err != nil {
		return false, err
	}
	if refresh == nil || refresh.Empty() {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range refresh.Delete {
		if err := s.deleteTag(ctx, tx, tag, item.Path); err != nil {
			return false, err
		}
	}

	for _, item := range refresh.AddTag {
		if err := s.upsertTagWithQuerier(ctx, tx, tag, item.Path, item.ContentHash); err != nil {
			return false, err
		}
	}

	total := len(refresh.Compute)
	for i, item := range refresh.Compute {
		if cancel.IsCancellationRequested() {
			return true, nil // deferred rollback discards the partial run
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if err := s.computeItem(ctx, tx, tag, item, source); err != nil {
			return false, fmt.Errorf("failed to index %s: %w", item.Path, err)
		}

		if onProgress != nil {
			onProgress(types.Progress{
				Workspace:      tag.Directory,
				Phase:          "embedding",
				Processed:      i + 1,
				EstimatedTotal: total,
			})
		}
	}

	if err := s.gcOrphans(ctx, tx); err != nil {
		return false, err
	}
	return false, tx.Commit()
}

// computeItem embeds one file's chunks and records them under the tag,
// within the caller's transaction. Content already present in the cache is
// tagged without recomputation. The cache lookup must go through the same
// transaction: the connection pool is capped at one, so a side query on the
// pool would deadlock against the open transaction.
func (s *SQLiteStore) computeItem(ctx context.Context, tx querier, tag types.IndexTag, item types.ContentChangeItem, source ChunkSource) error {
	cached, err := hasContent(ctx, tx, item.ContentHash, tag.EmbeddingModelID)
	if err != nil {
		return err
	}
	if cached {
		return s.upsertTagWithQuerier(ctx, tx, tag, item.Path, item.ContentHash)
	}

	provider := s.Provider()
	if provider == nil {
		return ErrNoProvider
	}
	if source == nil {
		return fmt.Errorf("no chunk source for uncached content %s", item.ContentHash)
	}

	chunks, err := source.ChunksFor(item.Path, item.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to chunk: %w", err)
	}

	vectors, err := embedChunks(ctx, provider, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed: %w", err)
	}

	now := time.Now()
	for i, chunk := range chunks {
		blob := serializeVector(vectors[i])
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (content_hash, model_id, chunk_hash, content, token_count, start_line, end_line, vector, dimension, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(content_hash, model_id, chunk_hash) DO NOTHING
		`, item.ContentHash, tag.EmbeddingModelID, chunk.ChunkHash, chunk.Content,
			chunk.TokenCount, chunk.StartLine, chunk.EndLine, blob, len(vectors[i]), now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO content_cache (content_hash, model_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash, model_id) DO NOTHING
	`, item.ContentHash, tag.EmbeddingModelID, now)
	if err != nil {
		return fmt.Errorf("failed to record content cache: %w", err)
	}

	return s.upsertTagWithQuerier(ctx, tx, tag, item.Path, item.ContentHash)
}

// embedChunks embeds chunk contents in provider-sized batches.
func embedChunks(ctx context.Context, provider embedder.Provider, chunks []*types.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedder.MaxBatchSize {
		end := start + embedder.MaxBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Content)
		}
		batch, err := provider.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// upsertTagWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStore) upsertTagWithQuerier(ctx context.Context, q querier, tag types.IndexTag, path, contentHash string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tags (directory, branch, model_id, path, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(directory, branch, model_id, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, tag.Directory, tag.Branch, tag.EmbeddingModelID, path, contentHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert tag: %w", err)
	}
	return nil
}

// deleteTag removes one path's tag row. Content GC happens separately.
func (s *SQLiteStore) deleteTag(ctx context.Context, q querier, tag types.IndexTag, path string) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM tags WHERE directory = ? AND branch = ? AND model_id = ? AND path = ?",
		tag.Directory, tag.Branch, tag.EmbeddingModelID, path)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	return nil
}

// gcOrphans removes chunks and cache entries no tag references anymore.
func (s *SQLiteStore) gcOrphans(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM chunks WHERE NOT EXISTS (
			SELECT 1 FROM tags t
			WHERE t.content_hash = chunks.content_hash AND t.model_id = chunks.model_id
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to collect orphaned chunks: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		DELETE FROM content_cache WHERE NOT EXISTS (
			SELECT 1 FROM tags t
			WHERE t.content_hash = content_cache.content_hash AND t.model_id = content_cache.model_id
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to collect orphaned cache entries: %w", err)
	}
	return nil
}

// DeleteIndex removes all tag rows for a tag and garbage collects content
// that is no longer referenced by any tag.
func (s *SQLiteStore) DeleteIndex(ctx context.Context, tag types.IndexTag) error {
	if err := tag.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM tags WHERE directory = ? AND branch = ? AND model_id = ?",
		tag.Directory, tag.Branch, tag.EmbeddingModelID)
	if err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}

	if err := s.gcOrphans(ctx, tx); err != nil {
		return err
	}

	return tx.Commit()
}

// HasIndex reports whether any file is indexed under the tag.
func (s *SQLiteStore) HasIndex(ctx context.Context, tag types.IndexTag) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM tags WHERE directory = ? AND branch = ? AND model_id = ? LIMIT 1",
		tag.Directory, tag.Branch, tag.EmbeddingModelID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	return true, nil
}

// Retrieval

// Retrieve embeds the query and returns the topK most similar chunks across
// the given tags, ranked by cosine similarity.
func (s *SQLiteStore) Retrieve(ctx context.Context, query string, topK int, tags []types.IndexTag) ([]types.RetrievalResult, error) {
	provider := s.Provider()
	if provider == nil {
		return nil, ErrNoProvider
	}
	if query == "" || topK <= 0 || len(tags) == 0 {
		return nil, nil
	}

	vectors, err := provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVector := vectors[0]

	where, args := tagFilter(tags)

	if VectorExtensionAvailable {
		return s.retrieveWithExtension(ctx, queryVector, topK, where, args)
	}
	return s.retrieveFallback(ctx, queryVector, topK, where, args)
}

// tagFilter builds a WHERE clause matching any of the given tags.
func tagFilter(tags []types.IndexTag) (string, []interface{}) {
	clauses := make([]string, 0, len(tags))
	args := make([]interface{}, 0, len(tags)*3)
	for _, tag := range tags {
		clauses = append(clauses, "(t.directory = ? AND t.branch = ? AND t.model_id = ?)")
		args = append(args, tag.Directory, tag.Branch, tag.EmbeddingModelID)
	}
	return strings.Join(clauses, " OR "), args
}

const retrieveSelect = `
	SELECT t.path, t.directory, t.branch, t.model_id,
	       c.content, c.start_line, c.end_line, c.vector, c.dimension
	FROM tags t
	JOIN chunks c ON c.content_hash = t.content_hash AND c.model_id = t.model_id
`

// retrieveWithExtension ranks candidates in SQL using the sqlite-vec
// extension's cosine distance.
func (s *SQLiteStore) retrieveWithExtension(ctx context.Context, queryVector []float32, topK int, where string, args []interface{}) ([]types.RetrievalResult, error) {
	query := retrieveSelect + `
	WHERE ` + where + `
	ORDER BY vec_distance_cosine(c.vector, ?) ASC
	LIMIT ?`
	args = append(args, serializeVector(queryVector), topK)

	candidates, err := s.scanCandidates(ctx, query, args, queryVector)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	return rankResults(candidates, topK), nil
}

// retrieveFallback loads candidate vectors and scores them in Go. Used when
// building without the sqlite-vec extension.
func (s *SQLiteStore) retrieveFallback(ctx context.Context, queryVector []float32, topK int, where string, args []interface{}) ([]types.RetrievalResult, error) {
	query := retrieveSelect + `
	WHERE ` + where
	candidates, err := s.scanCandidates(ctx, query, args, queryVector)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	return rankResults(candidates, topK), nil
}

// scanCandidates executes a retrieval query and scores each row against the
// query vector.
func (s *SQLiteStore) scanCandidates(ctx context.Context, query string, args []interface{}, queryVector []float32) ([]candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []candidate
	for rows.Next() {
		var (
			c         candidate
			directory string
			branch    string
			modelID   string
			blob      []byte
			dimension int
		)
		if err := rows.Scan(&c.path, &directory, &branch, &modelID,
			&c.content, &c.startLine, &c.endLine, &blob, &dimension); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}

		vector, err := deserializeVector(blob, dimension)
		if err != nil {
			return nil, err
		}
		c.score = cosineSimilarity(queryVector, vector)
		c.tagKey = types.IndexTag{Directory: directory, Branch: branch, EmbeddingModelID: modelID}.Key()
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// rankResults converts sorted candidates to ranked results with relevance
// mapped from cosine similarity [-1, 1] to [0, 1].
func rankResults(candidates []candidate, topK int) []types.RetrievalResult {
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]types.RetrievalResult, 0, len(candidates))
	for i, c := range candidates {
		parts := strings.SplitN(c.tagKey, "\x1f", 3)
		tag := types.IndexTag{Directory: parts[0], Branch: parts[1], EmbeddingModelID: parts[2]}
		results = append(results, types.RetrievalResult{
			Path:           c.path,
			Rank:           i + 1,
			RelevanceScore: (c.score + 1) / 2,
			Content:        c.content,
			StartLine:      c.startLine,
			EndLine:        c.endLine,
			Tag:            tag,
		})
	}
	return results
}

// Stats

// GetIndexStats summarizes the index size for one tag.
func (s *SQLiteStore) GetIndexStats(ctx context.Context, tag types.IndexTag) (*types.IndexStats, error) {
	stats := &types.IndexStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT content_hash)
		FROM tags WHERE directory = ? AND branch = ? AND model_id = ?
	`, tag.Directory, tag.Branch, tag.EmbeddingModelID).Scan(&stats.Files, &stats.DistinctHashes)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chunks c
		WHERE EXISTS (
			SELECT 1 FROM tags t
			WHERE t.content_hash = c.content_hash AND t.model_id = c.model_id
			  AND t.directory = ? AND t.branch = ? AND t.model_id = ?
		)
	`, tag.Directory, tag.Branch, tag.EmbeddingModelID).Scan(&stats.Chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT branch || char(31) || model_id) FROM tags WHERE directory = ?",
		tag.Directory).Scan(&stats.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to count tags: %w", err)
	}

	stats.IndexSizeMB = s.databaseSizeMB()
	return stats, nil
}

// GetDetailedStats summarizes the whole store with a per-tag breakdown.
func (s *SQLiteStore) GetDetailedStats(ctx context.Context) (*types.DetailedStats, error) {
	stats := &types.DetailedStats{}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT content_hash) FROM tags").Scan(&stats.Files, &stats.DistinctHashes)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.directory, t.branch, t.model_id, COUNT(*),
		       (SELECT COUNT(*) FROM chunks c
		        WHERE EXISTS (
		            SELECT 1 FROM tags t2
		            WHERE t2.content_hash = c.content_hash AND t2.model_id = c.model_id
		              AND t2.directory = t.directory AND t2.branch = t.branch AND t2.model_id = t.model_id
		        ))
		FROM tags t
		GROUP BY t.directory, t.branch, t.model_id
		ORDER BY t.directory, t.branch, t.model_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query per-tag stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ts types.TagStats
		if err := rows.Scan(&ts.Tag.Directory, &ts.Tag.Branch, &ts.Tag.EmbeddingModelID,
			&ts.Files, &ts.Chunks); err != nil {
			return nil, fmt.Errorf("failed to scan tag stats: %w", err)
		}
		stats.PerTag = append(stats.PerTag, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.Tags = len(stats.PerTag)
	stats.IndexSizeMB = s.databaseSizeMB()
	return stats, nil
}

// databaseSizeMB returns the database file size in megabytes, 0 on error.
func (s *SQLiteStore) databaseSizeMB() float64 {
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}
