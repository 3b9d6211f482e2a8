package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// import the SQLite driver to register it with the database/sql package.
	_ "modernc.org/sqlite"
)

type Storage struct {
	Connection *sql.DB
}

func NewSQLiteStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("can't create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("can't open database: %w", err)
	}

	// a single writer avoids SQLITE_BUSY between concurrent archive inserts
	conn.SetMaxOpenConns(1)

	if err = conn.Ping(); err != nil {
		return nil, fmt.Errorf("can't connect to database: %w", err)
	}

	return &Storage{Connection: conn}, nil
}

func (that *Storage) Init(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS room_archive (
		room_id      TEXT PRIMARY KEY,
		code         TEXT NOT NULL,
		game_type    TEXT NOT NULL DEFAULT '',
		host_name    TEXT NOT NULL DEFAULT '',
		player_names TEXT NOT NULL DEFAULT '[]',
		created_at   INTEGER NOT NULL,
		finished_at  INTEGER NOT NULL
	)`

	_, err := that.Connection.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("can't create table: %w", err)
	}

	return nil
}

func (that *Storage) Close() error {
	return that.Connection.Close()
}
