package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// SnapshotStore：保存成功后的版本留痕（file_id, version, content）。
// 审计/回滚用，不在保存的关键路径上。
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveFileSnapshot(ctx context.Context, fileID string, version uint64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_snapshots (file_id, version, content) VALUES (?, ?, ?)`,
		fileID,
		version,
		content,
	)
	if err != nil {
		// 1062 = duplicate key：同版本快照已存在，不算错误
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return err
	}
	return nil
}
