package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NewTrack inserts a new pending item for a playlist track. The source URL is
// unique; enqueueing the same URL twice returns the existing item unchanged.
func (s *Store) NewTrack(ctx context.Context, sourceURL, genre, subgenre string, tags []string) (*Item, error) {
	if existing, err := s.FindBySourceURL(ctx, sourceURL); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var tagsJSON any
	if len(tags) > 0 {
		data, err := json.Marshal(tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags: %w", err)
		}
		tagsJSON = string(data)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO pipeline_items (
            source_url, genre, subgenre, tags_json, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sourceURL,
		nullableString(genre),
		nullableString(subgenre),
		tagsJSON,
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert track: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches an item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM pipeline_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindBySourceURL returns the item enqueued for a source URL, or nil.
func (s *Store) FindBySourceURL(ctx context.Context, sourceURL string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM pipeline_items WHERE source_url = ? LIMIT 1`,
		sourceURL,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source url: %w", err)
	}
	return item, nil
}

// FindByFingerprint returns the first item matching a content fingerprint.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM pipeline_items WHERE fingerprint = ? ORDER BY id LIMIT 1`,
		fingerprint,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE pipeline_items
         SET source_url = ?, title = ?, genre = ?, subgenre = ?, tags_json = ?,
             status = ?, stage_states = ?, local_path = ?, fingerprint = ?,
             quality_score = ?, feature_ref = ?, cache_hit = ?, output_path = ?,
             metadata_json = ?, error_message = ?, reason_code = ?, updated_at = ?
         WHERE id = ?`,
		item.SourceURL,
		nullableString(item.Title),
		nullableString(item.Genre),
		nullableString(item.Subgenre),
		nullableString(item.TagsJSON),
		item.Status,
		nullableString(item.StageStates),
		nullableString(item.LocalPath),
		nullableString(item.Fingerprint),
		nullableFloat(item.QualityScore),
		nullableString(item.FeatureRef),
		boolToInt(item.CacheHit),
		nullableString(item.OutputPath),
		nullableString(item.MetadataJSON),
		nullableString(item.ErrorMessage),
		nullableString(item.ReasonCode),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// ItemsByStatus returns items matching a status ordered by identifier.
func (s *Store) ItemsByStatus(ctx context.Context, status Status) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM pipeline_items WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// List returns items filtered by status set, or all items when no status is
// provided, ordered by identifier.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM pipeline_items`
	orderClause := ` ORDER BY id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ResetFailed returns failed items to pending so the next run retries them
// from the stage that failed. Clears the error fields but keeps stage states,
// fingerprint and any downloaded file so finished stages are not repeated.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	items, err := s.ItemsByStatus(ctx, StatusFailed)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, item := range items {
		states := ParseStageStates(item.StageStates)
		for stage, state := range states {
			if state.Status == StageFailed || state.Status == StageRunning {
				delete(states, stage)
			}
		}
		item.StageStates = states.Encode()
		item.Status = StatusPending
		item.ErrorMessage = ""
		item.ReasonCode = ""
		if err := s.Update(ctx, item); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pipeline_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all items.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pipeline_items`)
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes only completed items.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pipeline_items WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed items.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pipeline_items WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Health reports aggregated item counts.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM pipeline_items GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("query health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			statusStr string
			count     int
		)
		if err := rows.Scan(&statusStr, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch status := Status(statusStr); {
		case status == StatusPending:
			summary.Pending += count
		case status == StatusFailed:
			summary.Failed += count
		case status == StatusCompleted:
			summary.Completed += count
		case IsProcessingStatus(status):
			summary.Processing += count
		}
	}
	return summary, rows.Err()
}
