package pgsync

import (
	"context"

	"github.com/BearBump/BoxSync/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) InsertSyncLog(ctx context.Context, l *models.SyncLog) error {
	nos := l.ContainerNos
	if nos == nil {
		nos = []string{}
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO sync_logs (
  id, job, batch_no, container_nos, requested, succeeded, failed, error, started_at, finished_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, l.ID, l.Job, l.BatchNo, nos, l.Requested, l.Succeeded, l.Failed, l.Error,
		l.StartedAt.UTC(), l.FinishedAt.UTC())
	return errors.Wrap(err, "insert sync log")
}

// ListSyncLogs returns the latest logs, optionally for one job.
func (s *Storage) ListSyncLogs(ctx context.Context, job string, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
SELECT id, job, batch_no, container_nos, requested, succeeded, failed, error, started_at, finished_at
FROM sync_logs
WHERE $1 = '' OR job = $1
ORDER BY started_at DESC
LIMIT $2
`, job, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select sync logs")
	}
	defer rows.Close()

	var out []*models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		if err := rows.Scan(
			&l.ID, &l.Job, &l.BatchNo, &l.ContainerNos, &l.Requested, &l.Succeeded, &l.Failed,
			&l.Error, &l.StartedAt, &l.FinishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan sync log")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
