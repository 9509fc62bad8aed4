// Package storage provides interfaces and types for memory store backends.
//
// It defines the Store interface that all backends must satisfy, along with
// the Memory record type and its lifecycle fields. The store is the only
// shared mutable resource in the retrieval engine: all mutation is expressed
// as dedup-keyed upserts or atomic salience increments.
package storage

import (
	"context"
	"time"
)

// Kind classifies a memory for downstream consumers. It does not affect
// ranking.
type Kind string

const (
	// KindPreference marks a stated user preference.
	KindPreference Kind = "preference"

	// KindProject marks knowledge about an ongoing project or activity.
	KindProject Kind = "project"

	// KindFact marks a general durable fact about the user.
	KindFact Kind = "fact"

	// KindProfile marks profile-level information (name, role, location).
	KindProfile Kind = "profile"
)

// Source records where a memory came from. Informational only; never used
// in ranking math.
type Source struct {
	// Origin names the ingestion path, e.g. "conversation" or "activity_analysis".
	Origin string `json:"origin"`

	// Reference is an optional identifier of the originating record,
	// e.g. a conversation ID.
	Reference string `json:"reference,omitempty"`

	// ExtractedAt is when the fact was distilled (zero if not applicable).
	ExtractedAt time.Time `json:"extracted_at,omitempty"`
}

// Memory is the unit of stored knowledge.
//
// The natural dedup key is (Owner, Content): upserting a memory with an
// identical owner and content updates the existing record in place rather
// than creating a duplicate. Embedding is immutable once set except through
// a full replace via Upsert.
type Memory struct {
	// ID is the unique identifier, assigned at creation.
	ID int64 `json:"id"`

	// Owner identifies the user this memory belongs to. Immutable.
	Owner string `json:"owner"`

	// Content is the factual statement. Required, non-empty.
	Content string `json:"content"`

	// Kind classifies the memory (preference, project, fact, profile).
	Kind Kind `json:"kind"`

	// Tags is an unordered set of short strings for filtering and search.
	Tags []string `json:"tags,omitempty"`

	// Embedding is the vector representation, produced externally at write
	// time. Omitted from JSON to reduce payload size.
	Embedding []float64 `json:"-"`

	// Salience is the importance/recency-weighted usefulness in [0.0, 1.0].
	Salience float64 `json:"salience"`

	// DecayAt, if set and in the past, excludes the memory from retrieval.
	// Soft-delete by time; the record is not physically removed.
	DecayAt *time.Time `json:"decay_at,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// Source is provenance metadata.
	Source Source `json:"source"`
}

// Expired reports whether the memory's decay timestamp has passed.
func (m *Memory) Expired(now time.Time) bool {
	return m.DecayAt != nil && m.DecayAt.Before(now)
}

// Store defines the interface for memory store backends.
//
// All backends (SQLite, PostgreSQL, MySQL) must implement this interface.
// Implementations must serialize concurrent upserts for the same
// (owner, content) key (last-writer-wins on the mutable fields) and must
// apply BumpSalience as an atomic increment-with-clamp.
type Store interface {
	// FindActive returns every memory owned by owner whose DecayAt is
	// absent or in the future.
	FindActive(ctx context.Context, owner string) ([]*Memory, error)

	// Upsert inserts a memory or, if a record with the same (owner, content)
	// exists, replaces its embedding, tags, source, and kind and bumps
	// UpdatedAt; stored salience and CreatedAt are preserved. The memory's ID
	// must be set by the caller for the insert case; the stored record's ID
	// is returned either way.
	Upsert(ctx context.Context, memory *Memory) (int64, error)

	// BumpSalience atomically increments salience for each id by delta,
	// clamping every affected record to at most 1.0, and stamps UpdatedAt.
	BumpSalience(ctx context.Context, ids []int64, delta float64) error

	// DeleteAllFor bulk-removes every memory owned by owner and returns
	// the number of records deleted.
	DeleteAllFor(ctx context.Context, owner string) (int64, error)

	// CountFor returns the number of memories owned by owner, including
	// expired ones.
	CountFor(ctx context.Context, owner string) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}
