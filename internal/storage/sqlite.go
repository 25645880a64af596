package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"

	"github.com/dshills/codelocal/pkg/types"
)

const (
	metaGeneration  = "generation"
	metaNextOrdinal = "next_ordinal"
)

// SQLiteStorage implements Backend on a SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite benefits from a single writer; one connection also keeps
	// :memory: databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the metadata database at dbPath
// and brings its schema up to date
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load reads every chunk, file record, the stored generation and the
// allocation cursor
func (s *SQLiteStorage) Load(ctx context.Context) (*State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	state := &State{Chunks: make(map[types.Ordinal]string)}

	if err := loadChunks(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := loadFiles(ctx, tx, state); err != nil {
		return nil, err
	}

	if state.Generation, err = getMetaUint(ctx, tx, metaGeneration); err != nil {
		return nil, err
	}
	next, err := getMetaUint(ctx, tx, metaNextOrdinal)
	if err != nil {
		return nil, err
	}
	if next > math.MaxUint32 {
		return nil, fmt.Errorf("invalid stored %s %d", metaNextOrdinal, next)
	}
	state.NextOrdinal = types.Ordinal(next)

	return state, nil
}

// getMetaUint reads a numeric meta value; a missing key reads as 0
func getMetaUint(ctx context.Context, q querier, key string) (uint64, error) {
	raw, err := getMeta(ctx, q, key)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored %s %q: %w", key, raw, err)
	}
	return v, nil
}

func loadChunks(ctx context.Context, q querier, state *State) error {
	rows, err := q.QueryContext(ctx, "SELECT ordinal, text FROM chunks")
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ord int64
		var text string
		if err := rows.Scan(&ord, &text); err != nil {
			return err
		}
		state.Chunks[types.Ordinal(ord)] = text
	}
	return rows.Err()
}

func loadFiles(ctx context.Context, q querier, state *State) error {
	rows, err := q.QueryContext(ctx, "SELECT path, content_hash FROM files ORDER BY path")
	if err != nil {
		return fmt.Errorf("failed to load files: %w", err)
	}
	index := make(map[string]int)
	for rows.Next() {
		var rec types.FileRecord
		var hash []byte
		if err := rows.Scan(&rec.Path, &hash); err != nil {
			_ = rows.Close()
			return err
		}
		// a hash of the wrong length loads as the zero digest, forcing a re-index
		rec.Hash, _ = types.DigestFromBytes(hash)
		index[rec.Path] = len(state.Files)
		state.Files = append(state.Files, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, "SELECT path, ordinal FROM file_ordinals ORDER BY path, position")
	if err != nil {
		return fmt.Errorf("failed to load file ordinals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var path string
		var ord int64
		if err := rows.Scan(&path, &ord); err != nil {
			return err
		}
		i, ok := index[path]
		if !ok {
			continue
		}
		state.Files[i].Ordinals = append(state.Files[i].Ordinals, types.Ordinal(ord))
	}
	return rows.Err()
}

// Apply writes a changeset in a single transaction
func (s *SQLiteStorage) Apply(ctx context.Context, cs *Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := applyChangeset(ctx, tx, cs); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

func applyChangeset(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	if cs.Full {
		for _, table := range []string{"file_ordinals", "files", "chunks"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
	}

	if err := deleteChunks(ctx, tx, cs.DeletedChunks); err != nil {
		return err
	}
	if err := deleteFiles(ctx, tx, cs.DeletedFiles); err != nil {
		return err
	}
	// replaced records are removed first so ordinals moving between paths
	// never collide on the unique ordinal index
	paths := make([]string, len(cs.Files))
	for i, rec := range cs.Files {
		paths[i] = rec.Path
	}
	if err := deleteFiles(ctx, tx, paths); err != nil {
		return err
	}
	if err := putChunks(ctx, tx, cs.Chunks); err != nil {
		return err
	}
	if err := putFiles(ctx, tx, cs.Files); err != nil {
		return err
	}

	if err := setMeta(ctx, tx, metaGeneration, strconv.FormatUint(cs.Generation, 10)); err != nil {
		return err
	}
	return setMeta(ctx, tx, metaNextOrdinal, strconv.FormatUint(uint64(cs.NextOrdinal), 10))
}

func deleteChunks(ctx context.Context, tx *sql.Tx, ords []types.Ordinal) error {
	if len(ords) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM chunks WHERE ordinal = ?")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, ord := range ords {
		if _, err := stmt.ExecContext(ctx, int64(ord)); err != nil {
			return fmt.Errorf("failed to delete chunk %d: %w", ord, err)
		}
	}
	return nil
}

func putChunks(ctx context.Context, tx *sql.Tx, chunks map[types.Ordinal]string) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (ordinal, text) VALUES (?, ?)
		ON CONFLICT(ordinal) DO UPDATE SET text = excluded.text
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for ord, text := range chunks {
		if _, err := stmt.ExecContext(ctx, int64(ord), text); err != nil {
			return fmt.Errorf("failed to store chunk %d: %w", ord, err)
		}
	}
	return nil
}

func deleteFiles(ctx context.Context, tx *sql.Tx, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM files WHERE path = ?")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	// file_ordinals rows go with the file through ON DELETE CASCADE
	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to delete file %s: %w", p, err)
		}
	}
	return nil
}

func putFiles(ctx context.Context, tx *sql.Tx, recs []types.FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	fileStmt, err := tx.PrepareContext(ctx, "INSERT INTO files (path, content_hash) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = fileStmt.Close() }()

	ordStmt, err := tx.PrepareContext(ctx, "INSERT INTO file_ordinals (path, position, ordinal) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = ordStmt.Close() }()

	for _, rec := range recs {
		hash := []byte{}
		if !rec.Hash.IsZero() {
			hash = rec.Hash[:]
		}
		if _, err := fileStmt.ExecContext(ctx, rec.Path, hash); err != nil {
			return fmt.Errorf("failed to store file %s: %w", rec.Path, err)
		}
		for pos, ord := range rec.Ordinals {
			if _, err := ordStmt.ExecContext(ctx, rec.Path, pos, int64(ord)); err != nil {
				return fmt.Errorf("failed to store ordinal %d of %s: %w", ord, rec.Path, err)
			}
		}
	}
	return nil
}

func getMeta(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SchemaVersion returns the applied schema version
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (string, error) {
	v, err := currentVersion(ctx, s.db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
