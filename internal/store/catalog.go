package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/book-expert/narration-service/internal/core"
)

// Story returns the story with the given id.
func (s *Store) Story(ctx context.Context, id string) (core.Story, error) {
	var story core.Story

	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, title FROM stories WHERE id = ?`,
		id,
	).Scan(&story.ID, &story.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Story{}, fmt.Errorf("story %q: %w", id, core.ErrStoryNotFound)
		}

		return core.Story{}, fmt.Errorf("query story %q: %w", id, err)
	}

	return story, nil
}

// SectionsByStory returns the story's sections in ascending index order.
// Ordering here is what the worker's progress and playback guarantees rest on.
func (s *Store) SectionsByStory(ctx context.Context, storyID string) ([]core.Section, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, story_id, section_index, text
           FROM sections
          WHERE story_id = ?
          ORDER BY section_index ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sections for story %q: %w", storyID, err)
	}
	defer rows.Close()

	var sections []core.Section

	for rows.Next() {
		var section core.Section

		scanErr := rows.Scan(&section.ID, &section.StoryID, &section.Index, &section.Text)
		if scanErr != nil {
			return nil, fmt.Errorf("scan section row: %w", scanErr)
		}

		sections = append(sections, section)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate section rows: %w", err)
	}

	return sections, nil
}

// Voice returns the voice profile with the given id.
func (s *Store) Voice(ctx context.Context, id string) (core.VoiceProfile, error) {
	var voice core.VoiceProfile

	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, provider, provider_ref, model_id FROM voices WHERE id = ?`,
		id,
	).Scan(&voice.ID, &voice.Provider, &voice.ProviderRef, &voice.ModelID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.VoiceProfile{}, fmt.Errorf("voice %q: %w", id, core.ErrVoiceNotFound)
		}

		return core.VoiceProfile{}, fmt.Errorf("query voice %q: %w", id, err)
	}

	return voice, nil
}

// PutStory writes a story and its sections. The catalog is owned by the
// external ingestion system; this write path exists for that collaborator
// and for tests.
func (s *Store) PutStory(ctx context.Context, story core.Story, sections []core.Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin story tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO stories (id, title) VALUES (?, ?)
         ON CONFLICT (id) DO UPDATE SET title = excluded.title`,
		story.ID,
		story.Title,
	)
	if err != nil {
		return fmt.Errorf("upsert story %q: %w", story.ID, err)
	}

	for _, section := range sections {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO sections (id, story_id, section_index, text)
             VALUES (?, ?, ?, ?)
             ON CONFLICT (id) DO UPDATE SET
                 story_id = excluded.story_id,
                 section_index = excluded.section_index,
                 text = excluded.text`,
			section.ID,
			story.ID,
			section.Index,
			section.Text,
		)
		if err != nil {
			return fmt.Errorf("upsert section %q: %w", section.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit story tx: %w", err)
	}

	return nil
}

// PutVoice writes a voice profile. See PutStory for ownership notes.
func (s *Store) PutVoice(ctx context.Context, voice core.VoiceProfile) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO voices (id, provider, provider_ref, model_id)
         VALUES (?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
             provider = excluded.provider,
             provider_ref = excluded.provider_ref,
             model_id = excluded.model_id`,
		voice.ID,
		voice.Provider,
		voice.ProviderRef,
		voice.ModelID,
	)
	if err != nil {
		return fmt.Errorf("upsert voice %q: %w", voice.ID, err)
	}

	return nil
}
