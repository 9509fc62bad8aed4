// Package mysql provides the MySQL implementation of the memory store.
//
// It also covers MySQL-compatible databases such as OceanBase. MySQL cannot
// place a UNIQUE constraint on an unbounded TEXT column, so the dedup key is
// (owner, content_hash) with an MD5 hash of the content, following the hash
// column convention of mem0-style schemas.
package mysql

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.Store using MySQL as the backend.
type Client struct {
	db        *sql.DB
	tableName string
}

// Config contains MySQL configuration.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	TableName string
}

// NewClient creates a new MySQL store client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "memories"
	}

	client := &Client{
		db:        db,
		tableName: tableName,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database table.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			owner VARCHAR(255) NOT NULL,
			content LONGTEXT NOT NULL,
			content_hash CHAR(32) NOT NULL,
			kind VARCHAR(32) NOT NULL DEFAULT 'fact',
			tags JSON,
			embedding JSON NOT NULL,
			salience DOUBLE NOT NULL DEFAULT 0.6,
			decay_at DATETIME NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			source JSON,
			UNIQUE KEY uniq_owner_content (owner, content_hash),
			INDEX idx_owner (owner)
		)
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// contentHash returns the MD5 hex digest used in the dedup key.
func contentHash(content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(content)))
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
	hash := contentHash(memory.Content)
	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, owner, content, content_hash, kind, tags, embedding, salience, decay_at, created_at, updated_at, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			kind = VALUES(kind),
			tags = VALUES(tags),
			embedding = VALUES(embedding),
			source = VALUES(source),
			updated_at = VALUES(updated_at)
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		memory.ID,
		memory.Owner,
		memory.Content,
		hash,
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

	// Resolve the stored ID: on a duplicate key the existing record keeps
	// its ID, not the one supplied for the insert case.
	var id int64
	idQuery := fmt.Sprintf("SELECT id FROM %s WHERE owner = ? AND content_hash = ?", c.tableName)
	if err := c.db.QueryRowContext(ctx, idQuery, memory.Owner, hash).Scan(&id); err != nil {
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
		SET salience = LEAST(1.0, salience + ?), updated_at = ?
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
