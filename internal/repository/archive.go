package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

type ArchiveRepository interface {
	Save(ctx context.Context, archive *entity.RoomArchive) error
	ListRecent(ctx context.Context, limit int) ([]*entity.RoomArchive, error)
}

type archiveRepository struct {
	conn *sql.DB
}

func NewArchiveRepository(conn *sql.DB) ArchiveRepository {
	return &archiveRepository{
		conn: conn,
	}
}

func (that *archiveRepository) Save(ctx context.Context, archive *entity.RoomArchive) error {
	query := `INSERT OR REPLACE INTO room_archive
		(room_id, code, game_type, host_name, player_names, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	names, err := json.Marshal(archive.PlayerNames)
	if err != nil {
		return fmt.Errorf("can't marshal player names: %w", err)
	}

	_, err = that.conn.ExecContext(ctx, query,
		archive.RoomID,
		archive.Code,
		string(archive.GameType),
		archive.HostName,
		string(names),
		archive.CreatedAt.UnixMilli(),
		archive.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("can't save room archive: %w", err)
	}

	return nil
}

func (that *archiveRepository) ListRecent(ctx context.Context, limit int) ([]*entity.RoomArchive, error) {
	query := `SELECT room_id, code, game_type, host_name, player_names, created_at, finished_at
		FROM room_archive ORDER BY finished_at DESC LIMIT ?`

	rows, err := that.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("can't list room archive: %w", err)
	}
	defer rows.Close()

	archives := make([]*entity.RoomArchive, 0, limit)

	for rows.Next() {
		var (
			archive               entity.RoomArchive
			gameType, names       string
			createdAt, finishedAt int64
		)

		err = rows.Scan(&archive.RoomID, &archive.Code, &gameType, &archive.HostName, &names, &createdAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("can't scan room archive: %w", err)
		}

		if err = json.Unmarshal([]byte(names), &archive.PlayerNames); err != nil {
			return nil, fmt.Errorf("can't unmarshal player names: %w", err)
		}

		archive.GameType = entity.GameType(gameType)
		archive.CreatedAt = time.UnixMilli(createdAt).UTC()
		archive.FinishedAt = time.UnixMilli(finishedAt).UTC()

		archives = append(archives, &archive)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("can't read room archive: %w", err)
	}

	return archives, nil
}
