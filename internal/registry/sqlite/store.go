package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/registry"
)

const entryColumns = `doc_id, chunk_id, context_id, kind, path, recorded_at`

// entryModel is the row shape of chunk_outputs. Times are Unix nanoseconds.
type entryModel struct {
	DocID      string
	ChunkID    string
	ContextID  string
	Kind       string
	Path       string
	RecordedAt int64
}

func toEntryModel(e registry.Entry) entryModel {
	return entryModel{
		DocID:      e.DocID,
		ChunkID:    e.ChunkID,
		ContextID:  e.ContextID,
		Kind:       string(e.Kind),
		Path:       e.Path,
		RecordedAt: e.RecordedAt.UnixNano(),
	}
}

func (m entryModel) toDomain() registry.Entry {
	return registry.Entry{
		DocID:      m.DocID,
		ChunkID:    m.ChunkID,
		ContextID:  m.ContextID,
		Kind:       paths.OutputKind(m.Kind),
		Path:       m.Path,
		RecordedAt: time.Unix(0, m.RecordedAt),
	}
}

// Store implements registry.Registry over the chunk_outputs table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

var _ registry.Registry = (*Store)(nil)

func (s *Store) Purge(ctx context.Context, docID, chunkID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunk_outputs WHERE doc_id = ? AND chunk_id = ?`, docID, chunkID)
	if err != nil {
		return fmt.Errorf("failed to purge chunk outputs: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, e registry.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now()
	}
	m := toEntryModel(e)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_outputs (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_id, chunk_id, context_id, kind, path)
		DO UPDATE SET recorded_at = excluded.recorded_at`,
		m.DocID, m.ChunkID, m.ContextID, m.Kind, m.Path, m.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record chunk output: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, docID, chunkID string) ([]registry.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM chunk_outputs
		WHERE doc_id = ? AND chunk_id = ?
		ORDER BY recorded_at, path`, docID, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []registry.Entry
	for rows.Next() {
		var m entryModel
		if err := rows.Scan(&m.DocID, &m.ChunkID, &m.ContextID, &m.Kind, &m.Path, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk output: %w", err)
		}
		out = append(out, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk outputs: %w", err)
	}
	return out, nil
}
