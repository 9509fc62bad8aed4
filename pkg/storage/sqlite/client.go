// Package sqlite provides the SQLite implementation of the memory store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale deployments. Vectors are stored as JSON strings in TEXT
// fields; the dedup key (owner, content) is enforced with a UNIQUE constraint
// so concurrent upserts for the same key serialize inside the database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// tableName is the name of the table storing memories.
	tableName string
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table to use. Defaults to "memories".
	TableName string
}

// NewClient creates a new SQLite store client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}

	client := &Client{
		db:        db,
		tableName: tableName,
	}

	// Initialize table structure
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table structure.
//
// Vectors, tags, and source metadata are stored as JSON strings in TEXT
// fields. The UNIQUE(owner, content) constraint is the dedup key.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'fact',
			tags TEXT,
			embedding TEXT NOT NULL,
			salience REAL NOT NULL DEFAULT 0.6,
			decay_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			source TEXT,
			UNIQUE(owner, content)
		)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner)
	`, c.tableName, c.tableName)
	_, err = c.db.ExecContext(ctx, indexQuery)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// FindActive returns all memories for owner whose decay_at is absent or in
// the future.
func (c *Client) FindActive(ctx context.Context, owner string) ([]*storage.Memory, error) {
	query := fmt.Sprintf(`
		SELECT id, owner, content, kind, tags, embedding, salience,
		       decay_at, created_at, updated_at, source
		FROM %s
		WHERE owner = ? AND (decay_at IS NULL OR decay_at > ?)
		ORDER BY updated_at DESC
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query, owner, time.Now())
	if err != nil {
		return nil, fmt.Errorf("FindActive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("FindActive: %w", err)
		}
		memories = append(memories, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindActive: %w", err)
	}

	return memories, nil
}

// Upsert inserts a memory or refreshes the existing (owner, content) record.
//
// On conflict the embedding, tags, source, and kind are replaced and
// updated_at is bumped; salience and created_at keep their stored values.
func (c *Client) Upsert(ctx context.Context, memory *storage.Memory) (int64, error) {
	embeddingJSON, err := json.Marshal(memory.Embedding)
	if err != nil {
		return 0, fmt.Errorf("Upsert: %w", err)
	}
	tagsJSON, err := json.Marshal(memory.Tags)
	if err != nil {
		return 0, fmt.Errorf("Upsert: %w", err)
	}
	sourceJSON, err := json.Marshal(memory.Source)
	if err != nil {
		return 0, fmt.Errorf("Upsert: %w", err)
	}

	now := time.Now()
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner, content, kind, tags, embedding, salience, decay_at, created_at, updated_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, content) DO UPDATE SET
			kind = excluded.kind,
			tags = excluded.tags,
			embedding = excluded.embedding,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		memory.ID,
		memory.Owner,
		memory.Content,
		string(memory.Kind),
		string(tagsJSON),
		string(embeddingJSON),
		memory.Salience,
		memory.DecayAt,
		now,
		now,
		string(sourceJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("Upsert: %w", err)
	}

	// Resolve the stored ID: on a conflict the existing record keeps its ID,
	// not the one supplied for the insert case.
	var id int64
	idQuery := fmt.Sprintf("SELECT id FROM %s WHERE owner = ? AND content = ?", c.tableName)
	if err := c.db.QueryRowContext(ctx, idQuery, memory.Owner, memory.Content).Scan(&id); err != nil {
		return 0, fmt.Errorf("Upsert: %w", err)
	}

	return id, nil
}

// BumpSalience atomically increments salience for the given ids, clamping
// each affected record to at most 1.0.
func (c *Client) BumpSalience(ctx context.Context, ids []int64, delta float64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := []interface{}{delta, time.Now()}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET salience = MIN(1.0, salience + ?), updated_at = ?
		WHERE id IN (%s)
	`, c.tableName, strings.Join(placeholders, ", "))

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("BumpSalience: %w", err)
	}

	return nil
}

// DeleteAllFor removes every memory owned by owner and returns the count.
func (c *Client) DeleteAllFor(ctx context.Context, owner string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE owner = ?", c.tableName)

	result, err := c.db.ExecContext(ctx, query, owner)
	if err != nil {
		return 0, fmt.Errorf("DeleteAllFor: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteAllFor: %w", err)
	}

	return deleted, nil
}

// CountFor returns the number of memories owned by owner.
func (c *Client) CountFor(ctx context.Context, owner string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE owner = ?", c.tableName)

	var count int64
	if err := c.db.QueryRowContext(ctx, query, owner).Scan(&count); err != nil {
		return 0, fmt.Errorf("CountFor: %w", err)
	}

	return count, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// scanMemory scans a memory from a database rows cursor.
func scanMemory(rows *sql.Rows) (*storage.Memory, error) {
	var memory storage.Memory
	var kind string
	var tagsStr sql.NullString
	var embeddingStr string
	var sourceStr sql.NullString
	var decayAt sql.NullTime

	err := rows.Scan(
		&memory.ID,
		&memory.Owner,
		&memory.Content,
		&kind,
		&tagsStr,
		&embeddingStr,
		&memory.Salience,
		&decayAt,
		&memory.CreatedAt,
		&memory.UpdatedAt,
		&sourceStr,
	)
	if err != nil {
		return nil, err
	}

	memory.Kind = storage.Kind(kind)

	if err := json.Unmarshal([]byte(embeddingStr), &memory.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}

	if tagsStr.Valid && tagsStr.String != "" {
		if err := json.Unmarshal([]byte(tagsStr.String), &memory.Tags); err != nil {
			return nil, fmt.Errorf("parse tags: %w", err)
		}
	}

	if sourceStr.Valid && sourceStr.String != "" {
		if err := json.Unmarshal([]byte(sourceStr.String), &memory.Source); err != nil {
			return nil, fmt.Errorf("parse source: %w", err)
		}
	}

	if decayAt.Valid {
		memory.DecayAt = &decayAt.Time
	}

	return &memory, nil
}
