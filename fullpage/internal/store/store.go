// CLAUDE:SUMMARY SQLite result store: one last-writer-wins "latest" slot plus per-tab slots, never mutated on read.
// Package store keeps finished screenshots until a consumer fetches them.
//
// Two kinds of slot exist: the single "latest" slot, overwritten by every
// capture, and one slot per tab, dropped when the tab goes away. Reads
// never consume or modify a slot.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pagesnap/dbopen"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Schema is the DDL for the screenshots table.
const Schema = `
CREATE TABLE IF NOT EXISTS screenshots (
    slot TEXT PRIMARY KEY,
    result_id TEXT NOT NULL,
    tab_id TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL,
    image BLOB,
    data_url TEXT,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    has_gaps INTEGER NOT NULL DEFAULT 0,
    scaled INTEGER NOT NULL DEFAULT 0,
    quality INTEGER NOT NULL DEFAULT 0,
    original_width INTEGER NOT NULL DEFAULT 0,
    original_height INTEGER NOT NULL DEFAULT 0,
    segments TEXT,
    captured_at INTEGER NOT NULL,
    stored_at INTEGER NOT NULL
);
`

const latestSlot = "latest"

func tabSlot(tabID string) string { return "tab:" + tabID }

// ErrNotFound is returned when a slot is empty.
type ErrNotFound struct {
	Slot string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("screenshot data not found (%s)", e.Slot)
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// Store persists results in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps db. The schema must already be applied (dbopen.WithSchema(Schema)).
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// PutLatest overwrites the latest slot. dataURL is an optional fallback
// used when r carries no image bytes.
func (s *Store) PutLatest(ctx context.Context, r *shot.Result, dataURL string) error {
	return s.put(ctx, latestSlot, r, dataURL)
}

// Latest returns the latest slot.
func (s *Store) Latest(ctx context.Context) (*shot.Result, error) {
	return s.get(ctx, latestSlot)
}

// PutTab stores r in the slot of tabID.
func (s *Store) PutTab(ctx context.Context, tabID string, r *shot.Result, dataURL string) error {
	return s.put(ctx, tabSlot(tabID), r, dataURL)
}

// Tab returns the slot of tabID.
func (s *Store) Tab(ctx context.Context, tabID string) (*shot.Result, error) {
	return s.get(ctx, tabSlot(tabID))
}

// DeleteTab drops the slot of tabID. Deleting an empty slot is not an error.
func (s *Store) DeleteTab(ctx context.Context, tabID string) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM screenshots WHERE slot = ?`, tabSlot(tabID)); err != nil {
		return fmt.Errorf("store: delete %s: %w", tabID, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, slot string, r *shot.Result, dataURL string) error {
	if r == nil {
		return fmt.Errorf("store: put %s: nil result", slot)
	}
	if len(r.Image) == 0 && dataURL == "" {
		return fmt.Errorf("store: put %s: no image data", slot)
	}

	var image any
	if len(r.Image) > 0 {
		image = r.Image
	}
	var fallback any
	if dataURL != "" {
		fallback = dataURL
	}
	var segs any
	if len(r.Segments) > 0 {
		b, err := json.Marshal(r.Segments)
		if err != nil {
			return fmt.Errorf("store: marshal segments: %w", err)
		}
		segs = string(b)
	}
	captured := r.CapturedAt
	if captured.IsZero() {
		captured = s.now()
	}

	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO screenshots (slot, result_id, tab_id, url, format, image, data_url,
			width, height, has_gaps, scaled, quality, original_width, original_height,
			segments, captured_at, stored_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(slot) DO UPDATE SET
			result_id = excluded.result_id, tab_id = excluded.tab_id, url = excluded.url,
			format = excluded.format, image = excluded.image, data_url = excluded.data_url,
			width = excluded.width, height = excluded.height, has_gaps = excluded.has_gaps,
			scaled = excluded.scaled, quality = excluded.quality,
			original_width = excluded.original_width, original_height = excluded.original_height,
			segments = excluded.segments, captured_at = excluded.captured_at,
			stored_at = excluded.stored_at`,
		slot, r.ID, r.TabID, r.URL, string(r.Format), image, fallback,
		r.Width, r.Height, r.HasGaps, r.Scaled, r.Quality, r.Original.Width, r.Original.Height,
		segs, captured.UnixMilli(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", slot, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, slot string) (*shot.Result, error) {
	var (
		r        shot.Result
		format   string
		image    []byte
		dataURL  sql.NullString
		segs     sql.NullString
		captured int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT result_id, tab_id, url, format, image, data_url, width, height,
			has_gaps, scaled, quality, original_width, original_height, segments, captured_at
		FROM screenshots WHERE slot = ?`, slot).Scan(
		&r.ID, &r.TabID, &r.URL, &format, &image, &dataURL, &r.Width, &r.Height,
		&r.HasGaps, &r.Scaled, &r.Quality, &r.Original.Width, &r.Original.Height, &segs, &captured)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Slot: slot}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", slot, err)
	}

	r.Format = shot.Format(format)
	r.Image = image
	r.CapturedAt = time.UnixMilli(captured).UTC()
	if len(r.Image) == 0 && dataURL.Valid {
		f, img, err := shot.DecodeDataURL(dataURL.String)
		if err != nil {
			return nil, fmt.Errorf("store: get %s: fallback: %w", slot, err)
		}
		r.Format, r.Image = f, img
	}
	if segs.Valid {
		if err := json.Unmarshal([]byte(segs.String), &r.Segments); err != nil {
			return nil, fmt.Errorf("store: get %s: segments: %w", slot, err)
		}
	}
	return &r, nil
}
