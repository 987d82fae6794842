package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, source_url, title, genre, subgenre, tags_json, status, stage_states, local_path, fingerprint, quality_score, feature_ref, cache_hit, output_path, metadata_json, error_message, reason_code, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		sourceURL    string
		title        sql.NullString
		genre        sql.NullString
		subgenre     sql.NullString
		tagsJSON     sql.NullString
		statusStr    string
		stageStates  sql.NullString
		localPath    sql.NullString
		fingerprint  sql.NullString
		qualityScore sql.NullFloat64
		featureRef   sql.NullString
		cacheHit     sql.NullInt64
		outputPath   sql.NullString
		metadata     sql.NullString
		errorMessage sql.NullString
		reasonCode   sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceURL,
		&title,
		&genre,
		&subgenre,
		&tagsJSON,
		&statusStr,
		&stageStates,
		&localPath,
		&fingerprint,
		&qualityScore,
		&featureRef,
		&cacheHit,
		&outputPath,
		&metadata,
		&errorMessage,
		&reasonCode,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		SourceURL:    sourceURL,
		Title:        title.String,
		Genre:        genre.String,
		Subgenre:     subgenre.String,
		TagsJSON:     tagsJSON.String,
		Status:       Status(statusStr),
		StageStates:  stageStates.String,
		LocalPath:    localPath.String,
		Fingerprint:  fingerprint.String,
		FeatureRef:   featureRef.String,
		OutputPath:   outputPath.String,
		MetadataJSON: metadata.String,
		ErrorMessage: errorMessage.String,
		ReasonCode:   reasonCode.String,
	}
	if qualityScore.Valid {
		score := qualityScore.Float64
		item.QualityScore = &score
	}
	if cacheHit.Valid {
		item.CacheHit = cacheHit.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
