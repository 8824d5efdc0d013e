package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DeliveryKind distinguishes per-video notifications from digests.
type DeliveryKind string

const (
	KindVideo    DeliveryKind = "video"
	KindBriefing DeliveryKind = "briefing"
)

// DeliveryStatus is the outcome of one notification attempt.
type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
	StatusSkipped DeliveryStatus = "skipped"
)

// Delivery is one row of notification history.
type Delivery struct {
	ID        string
	SweepID   string
	ChannelID string
	VideoID   string
	Kind      DeliveryKind
	Status    DeliveryStatus
	SummaryOK bool
	CreatedAt time.Time
}

// ChannelCheck records the last time a channel was swept and what it saw.
type ChannelCheck struct {
	ChannelID       string
	LastCheckedAt   time.Time
	CheckedVideoIDs []string
}

// DeliveryLog is an append-only notification history in SQLite. It never
// gates pipeline state; the JSON documents remain the source of truth.
type DeliveryLog struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenDeliveryLog opens or creates the database at path and initializes the schema.
func OpenDeliveryLog(path string) (*DeliveryLog, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DeliveryLog{conn: conn, now: time.Now}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DeliveryLog) Close() error {
	return db.conn.Close()
}

func (db *DeliveryLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		sweep_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		summary_ok INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_created_at ON deliveries(created_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_video ON deliveries(video_id);

	CREATE TABLE IF NOT EXISTS channel_checks (
		channel_id TEXT PRIMARY KEY,
		last_checked_at TEXT NOT NULL,
		checked_video_ids TEXT NOT NULL DEFAULT '[]'
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RecordDelivery appends a history row. ID and CreatedAt are filled when empty.
func (db *DeliveryLog) RecordDelivery(ctx context.Context, d Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = db.now()
	}
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO deliveries (id, sweep_id, channel_id, video_id, kind, status, summary_ok, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SweepID, d.ChannelID, d.VideoID, string(d.Kind), string(d.Status),
		boolToInt(d.SummaryOK), d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns up to limit rows, newest first.
func (db *DeliveryLog) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, sweep_id, channel_id, video_id, kind, status, summary_ok, created_at
	FROM deliveries
	ORDER BY created_at DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d         Delivery
			kind, st  string
			summaryOK int
			created   string
		)
		if err := rows.Scan(&d.ID, &d.SweepID, &d.ChannelID, &d.VideoID, &kind, &st, &summaryOK, &created); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Kind = DeliveryKind(kind)
		d.Status = DeliveryStatus(st)
		d.SummaryOK = summaryOK != 0
		d.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// WasDelivered reports whether a video has a sent row.
func (db *DeliveryLog) WasDelivered(ctx context.Context, videoID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE video_id = ? AND status = ?`,
		videoID, string(StatusSent)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count deliveries: %w", err)
	}
	return n > 0, nil
}

// RecordCheck upserts the last sweep time and seen ids for a channel.
func (db *DeliveryLog) RecordCheck(ctx context.Context, channelID string, videoIDs []string) error {
	if videoIDs == nil {
		videoIDs = []string{}
	}
	ids, err := json.Marshal(videoIDs)
	if err != nil {
		return fmt.Errorf("marshal video ids: %w", err)
	}
	_, err = db.conn.ExecContext(ctx, `
	INSERT INTO channel_checks (channel_id, last_checked_at, checked_video_ids)
	VALUES (?, ?, ?)
	ON CONFLICT(channel_id) DO UPDATE SET
		last_checked_at = excluded.last_checked_at,
		checked_video_ids = excluded.checked_video_ids`,
		channelID, db.now().UTC().Format(time.RFC3339Nano), string(ids))
	if err != nil {
		return fmt.Errorf("upsert channel check: %w", err)
	}
	return nil
}

// GetCheck returns the last check for a channel, or ErrNotFound.
func (db *DeliveryLog) GetCheck(ctx context.Context, channelID string) (*ChannelCheck, error) {
	var checked, ids string
	err := db.conn.QueryRowContext(ctx,
		`SELECT last_checked_at, checked_video_ids FROM channel_checks WHERE channel_id = ?`,
		channelID).Scan(&checked, &ids)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "channel_check", ID: channelID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("query channel check: %w", err)
	}

	c := &ChannelCheck{ChannelID: channelID}
	if c.LastCheckedAt, err = time.Parse(time.RFC3339Nano, checked); err != nil {
		return nil, fmt.Errorf("parse last_checked_at: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &c.CheckedVideoIDs); err != nil {
		return nil, fmt.Errorf("unmarshal checked ids: %w", err)
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
