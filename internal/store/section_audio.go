package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// Upsert creates the (section, voice) record on first write and merges the
// supplied fields into the existing record otherwise. The UNIQUE constraint
// on (section_id, voice_id) is what enforces the one-record-per-pair
// invariant; COALESCE keeps columns the update did not supply. The error
// column is the exception: it belongs to ERROR rows only, so any write that
// moves the record to another status drops it.
func (s *Store) Upsert(
	ctx context.Context,
	sectionID, voiceID string,
	update core.SectionAudioUpdate,
) (core.SectionAudio, error) {
	now := timestamp(time.Now())

	var metadataJSON any

	if update.Metadata != nil {
		encoded, err := json.Marshal(update.Metadata)
		if err != nil {
			return core.SectionAudio{}, fmt.Errorf("marshal metadata: %w", err)
		}

		metadataJSON = string(encoded)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO section_audio (
            section_id, voice_id, status, audio_url, duration_sec, checksum,
            transcript, error, metadata_json, started_at, completed_at,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (section_id, voice_id) DO UPDATE SET
            status        = excluded.status,
            audio_url     = COALESCE(excluded.audio_url, section_audio.audio_url),
            duration_sec  = COALESCE(excluded.duration_sec, section_audio.duration_sec),
            checksum      = COALESCE(excluded.checksum, section_audio.checksum),
            transcript    = COALESCE(excluded.transcript, section_audio.transcript),
            error         = CASE
                                WHEN excluded.status = 'ERROR'
                                    THEN COALESCE(excluded.error, section_audio.error)
                                ELSE NULL
                            END,
            metadata_json = COALESCE(excluded.metadata_json, section_audio.metadata_json),
            started_at    = COALESCE(excluded.started_at, section_audio.started_at),
            completed_at  = COALESCE(excluded.completed_at, section_audio.completed_at),
            updated_at    = excluded.updated_at`,
		sectionID,
		voiceID,
		string(update.Status),
		nullableString(update.AudioURL),
		nullableFloat(update.DurationSec),
		nullableString(update.Checksum),
		nullableString(update.Transcript),
		nullableString(update.Error),
		metadataJSON,
		nullableTime(update.StartedAt),
		nullableTime(update.CompletedAt),
		now,
		now,
	)
	if err != nil {
		return core.SectionAudio{}, fmt.Errorf("upsert section audio (%s, %s): %w", sectionID, voiceID, err)
	}

	return s.Get(ctx, sectionID, voiceID)
}

// Get returns the record for one (section, voice) pair, or core.ErrNotFound.
func (s *Store) Get(ctx context.Context, sectionID, voiceID string) (core.SectionAudio, error) {
	row := s.db.QueryRowContext(
		ctx,
		sectionAudioSelect+` WHERE section_id = ? AND voice_id = ?`,
		sectionID,
		voiceID,
	)

	record, err := scanSectionAudio(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SectionAudio{}, fmt.Errorf(
				"section audio (%s, %s): %w", sectionID, voiceID, core.ErrNotFound,
			)
		}

		return core.SectionAudio{}, fmt.Errorf("get section audio (%s, %s): %w", sectionID, voiceID, err)
	}

	return record, nil
}

// ListByStoryVoice returns every record for the story's sections under the
// given voice, ordered by section index.
func (s *Store) ListByStoryVoice(ctx context.Context, storyID, voiceID string) ([]core.SectionAudio, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT sa.id, sa.section_id, sa.voice_id, sa.status, sa.audio_url,
                sa.duration_sec, sa.checksum, sa.transcript, sa.error,
                sa.metadata_json, sa.started_at, sa.completed_at,
                sa.created_at, sa.updated_at
           FROM section_audio sa
           JOIN sections sec ON sec.id = sa.section_id
          WHERE sec.story_id = ? AND sa.voice_id = ?
          ORDER BY sec.section_index ASC`,
		storyID,
		voiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list section audio for (%s, %s): %w", storyID, voiceID, err)
	}
	defer rows.Close()

	var records []core.SectionAudio

	for rows.Next() {
		record, scanErr := scanSectionAudio(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan section audio row: %w", scanErr)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate section audio rows: %w", err)
	}

	return records, nil
}

const sectionAudioSelect = `
SELECT id, section_id, voice_id, status, audio_url, duration_sec, checksum,
       transcript, error, metadata_json, started_at, completed_at,
       created_at, updated_at
  FROM section_audio`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSectionAudio(row rowScanner) (core.SectionAudio, error) {
	var (
		record       core.SectionAudio
		status       string
		audioURL     sql.NullString
		durationSec  sql.NullFloat64
		checksum     sql.NullString
		transcript   sql.NullString
		errMessage   sql.NullString
		metadataJSON sql.NullString
		startedAt    sql.NullString
		completedAt  sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&record.ID,
		&record.SectionID,
		&record.VoiceID,
		&status,
		&audioURL,
		&durationSec,
		&checksum,
		&transcript,
		&errMessage,
		&metadataJSON,
		&startedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return core.SectionAudio{}, err
	}

	record.Status = core.AudioStatus(status)
	record.AudioURL = audioURL.String
	record.DurationSec = durationSec.Float64
	record.Checksum = checksum.String
	record.Transcript = transcript.String
	record.Error = errMessage.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &record.Metadata); err != nil {
			return core.SectionAudio{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	if record.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return core.SectionAudio{}, err
	}

	if record.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return core.SectionAudio{}, err
	}

	if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return core.SectionAudio{}, fmt.Errorf("parse created_at: %w", err)
	}

	if record.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return core.SectionAudio{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return record, nil
}
