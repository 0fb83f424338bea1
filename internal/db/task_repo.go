package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"podconnect/internal/types"
)

// SourceRow is one row of the podcastSources/podcasts join as stored.
// The source name is kept raw so an unknown name fails only its own task.
type SourceRow struct {
	AccountID       int64
	SourceName      string
	SourcePodcastID string
	EncryptedKeys   string
	PodName         string
}

// ToTask resolves the source name and returns the PodcastTask.
// Credentials are left empty until the blob is decrypted.
func (r SourceRow) ToTask() (types.PodcastTask, error) {
	src, err := types.ParseSource(r.SourceName)
	if err != nil {
		return types.PodcastTask{AccountID: r.AccountID, PodName: r.PodName}, err
	}
	return types.PodcastTask{
		AccountID:       r.AccountID,
		Source:          src,
		SourcePodcastID: r.SourcePodcastID,
		PodName:         r.PodName,
		EncryptedKeys:   r.EncryptedKeys,
	}, nil
}

const selectSources = `SELECT s.account_id, s.source_name, s.source_podcast_id,
        s.source_access_keys_encrypted, p.pod_name
   FROM podcastSources s
   JOIN podcasts p USING (account_id)`

// TaskRepository reads and updates the podcastSources credential store.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

// ListSources returns every configured (account, source) row ordered by
// account and source name.
func (r *TaskRepository) ListSources(ctx context.Context) ([]SourceRow, error) {
	rows, err := r.db.Query(ctx, selectSources+` ORDER BY s.account_id, s.source_name`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list podcast sources", err)
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var row SourceRow
		if err := rows.Scan(&row.AccountID, &row.SourceName, &row.SourcePodcastID, &row.EncryptedKeys, &row.PodName); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan podcast source", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate podcast sources", err)
	}
	return out, nil
}

// GetSource returns the row for one (account, source) pair.
func (r *TaskRepository) GetSource(ctx context.Context, accountID int64, sourceName string) (SourceRow, error) {
	var row SourceRow
	err := r.db.QueryRow(ctx,
		selectSources+` WHERE s.account_id = $1 AND s.source_name = $2`,
		accountID, sourceName,
	).Scan(&row.AccountID, &row.SourceName, &row.SourcePodcastID, &row.EncryptedKeys, &row.PodName)
	if errors.Is(err, pgx.ErrNoRows) {
		return SourceRow{}, types.NewAppErrorWithDetails(types.ErrCodeConfigInvalidTask,
			"podcast source not found", err,
			map[string]any{"account_id": accountID, "source": sourceName})
	}
	if err != nil {
		return SourceRow{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load podcast source", err)
	}
	return row, nil
}

// UpdateEncryptedKeys replaces the credential blob of one (account, source)
// row and returns the number of rows affected. Callers decide whether a
// count other than one is an error.
func (r *TaskRepository) UpdateEncryptedKeys(ctx context.Context, accountID int64, source types.Source, blob string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE podcastSources
		    SET source_access_keys_encrypted = $1
		  WHERE account_id = $2 AND source_name = $3`,
		blob, accountID, string(source),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB,
			fmt.Sprintf("failed to update credentials for account %d", accountID), err)
	}
	return tag.RowsAffected(), nil
}
