package batch

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore keeps open batches in the batches and batch_items tables, so
// several processes on one host can share them through the same database file.
// Each method runs in its own transaction; open the database with immediate
// transaction locking (see db.Open) to serialise writers.
//
// Binary handles and payloads are stored as JSON and come back in their
// decoded JSON form.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an initialised database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Name returns "sqlite".
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Add inserts an item, creating the session's batch if needed.
func (s *SQLiteStore) Add(key SessionKey, item *BatchItem) (Stats, error) {
	binary, err := marshalNullable(item.Binary)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to marshal binary: %w", err)
	}
	payload, err := marshalNullable(item.Payload)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	arrived := item.ArrivedAt.UnixNano()

	// last_arrival never moves backwards
	_, err = tx.Exec(`
		INSERT INTO batches (session_key, first_arrival, last_arrival)
		VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			last_arrival = MAX(last_arrival, excluded.last_arrival)
	`, string(key), arrived, arrived)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to upsert batch: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO batch_items (item_id, session_key, url, caption, sender_id, arrived_at, binary_ref, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(item.ID), string(key), item.URL, item.Caption, item.SenderID, arrived, binary, payload)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to insert item: %w", err)
	}

	stats, err := s.stats(tx, key)
	if err != nil {
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("failed to commit: %w", err)
	}

	return *stats, nil
}

// Take removes and returns the session's batch.
func (s *SQLiteStore) Take(key SessionKey) (*Batch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b, err := s.load(tx, key)
	if err != nil || b == nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM batch_items WHERE session_key = ?`, string(key)); err != nil {
		return nil, fmt.Errorf("failed to delete items: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM batches WHERE session_key = ?`, string(key)); err != nil {
		return nil, fmt.Errorf("failed to delete batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return b, nil
}

// Peek returns the session's batch without removing it.
func (s *SQLiteStore) Peek(key SessionKey) (*Batch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return s.load(tx, key)
}

// List returns the stats of every open batch.
func (s *SQLiteStore) List() ([]Stats, error) {
	rows, err := s.db.Query(`
		SELECT b.session_key, b.first_arrival, b.last_arrival, COUNT(i.item_id)
		FROM batches b
		LEFT JOIN batch_items i ON i.session_key = b.session_key
		GROUP BY b.session_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var stats []Stats
	for rows.Next() {
		var key string
		var first, last int64
		var count int
		if err := rows.Scan(&key, &first, &last, &count); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		stats = append(stats, Stats{
			Session:      SessionKey(key),
			Count:        count,
			FirstArrival: time.Unix(0, first),
			LastArrival:  time.Unix(0, last),
		})
	}

	return stats, rows.Err()
}

// Clear removes all open batches.
func (s *SQLiteStore) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM batch_items`); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM batches`); err != nil {
		return fmt.Errorf("failed to clear batches: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) stats(tx *sql.Tx, key SessionKey) (*Stats, error) {
	var first, last int64
	var count int

	err := tx.QueryRow(`
		SELECT b.first_arrival, b.last_arrival,
			(SELECT COUNT(*) FROM batch_items WHERE session_key = b.session_key)
		FROM batches b WHERE b.session_key = ?
	`, string(key)).Scan(&first, &last, &count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}

	return &Stats{
		Session:      key,
		Count:        count,
		FirstArrival: time.Unix(0, first),
		LastArrival:  time.Unix(0, last),
	}, nil
}

func (s *SQLiteStore) load(tx *sql.Tx, key SessionKey) (*Batch, error) {
	stats, err := s.stats(tx, key)
	if err != nil || stats == nil {
		return nil, err
	}

	b := newBatch(key, stats.FirstArrival)
	b.LastArrival = stats.LastArrival

	rows, err := tx.Query(`
		SELECT item_id, url, caption, sender_id, arrived_at, binary_ref, payload
		FROM batch_items WHERE session_key = ?
	`, string(key))
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, url string
		var caption, senderID, binary, payload sql.NullString
		var arrived int64

		if err := rows.Scan(&id, &url, &caption, &senderID, &arrived, &binary, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		item := &BatchItem{
			ID:        ItemID(id),
			URL:       url,
			Caption:   caption.String,
			SenderID:  senderID.String,
			ArrivedAt: time.Unix(0, arrived),
		}
		if binary.Valid {
			if err := json.Unmarshal([]byte(binary.String), &item.Binary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal binary: %w", err)
			}
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &item.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		b.Items[item.ID] = item
	}

	return b, rows.Err()
}

// marshalNullable encodes v as JSON, mapping nil to SQL NULL.
func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
