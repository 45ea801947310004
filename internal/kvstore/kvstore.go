// Package kvstore provides the byte-prefixed, batched, transactional,
// prefix-scannable key/value store the wallet module is built on (spec
// §6). It is backed by sqlite in WAL mode, generalizing the teacher's
// per-feature SQL table pattern into a single generic key/value table so
// every component can own its own key prefix without a schema migration.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a sqlite connection presenting a generic byte-keyed KV
// interface with snapshot reads and atomic batched writes.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) a sqlite-backed KV store at path,
// with WAL mode and a busy timeout so the broadcaster's read-only scans
// never block the consensus thread's writes.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create kv store directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kv store %q: %w", path, err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping kv store: %w", err)
	}

	if _, err := conn.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   BLOB PRIMARY KEY,
			value BLOB NOT NULL
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	slog.Debug("kv store opened", "path", path)
	return &Store{conn: conn, path: path}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	slog.Info("closing kv store", "path", s.path)
	return s.conn.Close()
}

// Get fetches a single value. found is false if the key is absent.
func (s *Store) Get(key []byte) (value []byte, found bool, err error) {
	row := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key)
	err = row.Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get key: %w", err)
	}
	return value, true, nil
}

// KV is a single key/value pair returned by PrefixScan.
type KV struct {
	Key   []byte
	Value []byte
}

// PrefixScan returns every entry whose key starts with prefix, ascending
// by key. This defines the KV's "natural outpoint ordering" used to break
// UTXO-selection ties deterministically across peers.
func (s *Store) PrefixScan(prefix []byte) ([]KV, error) {
	upper := prefixUpperBound(prefix)
	var rows *sql.Rows
	var err error
	if upper == nil {
		rows, err = s.conn.Query(`SELECT key, value FROM kv WHERE key >= ? ORDER BY key ASC`, prefix)
	} else {
		rows, err = s.conn.Query(`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key ASC`, prefix, upper)
	}
	if err != nil {
		return nil, fmt.Errorf("prefix scan: %w", err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan kv row: %w", err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv rows: %w", err)
	}
	return out, nil
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, or nil if prefix is all 0xFF bytes (scan
// to the end of the keyspace).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// op is one write queued in a Batch.
type op struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch accumulates writes to be committed atomically. Batches are the
// sole write path; the consensus thread is the sole writer, matching the
// single-writer/many-reader discipline spec §5 requires.
type Batch struct {
	ops []op
}

// NewBatch returns an empty batch.
func (s *Store) NewBatch() *Batch { return &Batch{} }

// Put stages a write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, op{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Delete stages a deletion.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: append([]byte(nil), key...), delete: true})
}

// Commit applies every staged write atomically. A failure here is, per
// spec §7, a fatal federation-break condition — callers are expected to
// escalate via walleterr.Fatal rather than swallow it.
func (s *Store) Commit(b *Batch) error {
	if len(b.ops) == 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	for _, o := range b.ops {
		if o.delete {
			if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, o.key); err != nil {
				tx.Rollback()
				return fmt.Errorf("batch delete: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, o.key, o.value); err != nil {
			tx.Rollback()
			return fmt.Errorf("batch put: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	slog.Debug("kv batch committed", "ops", len(b.ops))
	return nil
}

// Snapshot is a consistent read-only view for use alongside an
// in-progress Batch, taken via a dedicated read transaction so the
// broadcaster's prefix scans never observe a partially-applied epoch
// batch.
type Snapshot struct {
	tx *sql.Tx
}

// NewSnapshot opens a read-only snapshot.
func (s *Store) NewSnapshot() (*Snapshot, error) {
	tx, err := s.conn.BeginTx(context.Background(), &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	return &Snapshot{tx: tx}, nil
}

// Close releases the snapshot's read transaction.
func (s *Snapshot) Close() error { return s.tx.Rollback() }

// Get reads a single key within the snapshot.
func (s *Snapshot) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot get: %w", err)
	}
	return value, true, nil
}

// PrefixScan scans within the snapshot.
func (s *Snapshot) PrefixScan(prefix []byte) ([]KV, error) {
	upper := prefixUpperBound(prefix)
	var rows *sql.Rows
	var err error
	if upper == nil {
		rows, err = s.tx.Query(`SELECT key, value FROM kv WHERE key >= ? ORDER BY key ASC`, prefix)
	} else {
		rows, err = s.tx.Query(`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key ASC`, prefix, upper)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot prefix scan: %w", err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}
