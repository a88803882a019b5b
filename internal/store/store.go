package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event names a system message trigger.
type Event string

const (
	EventWelcome Event = "welcome"
	// EventRejoin replaces welcome for members who left shortly before.
	EventRejoin  Event = "rejoin"
	EventGoodbye Event = "goodbye"
	EventBoost   Event = "boost"
)

// Events lists every event in display order.
var Events = []Event{EventWelcome, EventRejoin, EventGoodbye, EventBoost}

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventWelcome, EventRejoin, EventGoodbye, EventBoost:
		return true
	}
	return false
}

// MaxMessagesPerEvent is how many channels of one guild may receive the same
// event.
const MaxMessagesPerEvent = 3

const (
	writeAttempts = 5
	lockedBackoff = 100 * time.Millisecond
)

// Message is a stored system message template.
type Message struct {
	GuildID     string
	ChannelID   string
	Event       Event
	Template    string
	DeleteAfter int
}

// Schedule is a template sent to a channel every Interval.
type Schedule struct {
	GuildID   string
	ChannelID string
	Template  string
	Interval  time.Duration
	NextRun   time.Time
}

// Settings are per-guild toggles.
type Settings struct {
	GuildID        string
	WelcomeRemoval bool
}

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a single connection keeps :memory: databases shared and avoids writer
	// contention
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS system_messages (
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			event TEXT NOT NULL,
			template TEXT NOT NULL,
			delete_after INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (guild_id, channel_id, event)
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			welcome_removal BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_messages (
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			template TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			next_run INTEGER NOT NULL,
			PRIMARY KEY (guild_id, channel_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_messages_next_run ON scheduled_messages(next_run)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// exec retries writes while sqlite reports the database as locked.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for i := 0; i < writeAttempts; i++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "database is locked") {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockedBackoff):
		}
	}
	return nil, lastErr
}

// UpsertMessage stores m, replacing the template of an existing
// guild/channel/event. It reports whether a new row was created.
func (s *Store) UpsertMessage(ctx context.Context, m Message) (bool, error) {
	if !m.Event.Valid() {
		return false, fmt.Errorf("unknown event %q", m.Event)
	}
	existing, err := s.Message(ctx, m.GuildID, m.ChannelID, m.Event)
	if err != nil {
		return false, err
	}
	_, err = s.exec(ctx, `INSERT INTO system_messages (guild_id, channel_id, event, template, delete_after)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, channel_id, event)
		DO UPDATE SET template = excluded.template, delete_after = excluded.delete_after`,
		m.GuildID, m.ChannelID, string(m.Event), m.Template, m.DeleteAfter)
	if err != nil {
		return false, fmt.Errorf("upsert %s message: %w", m.Event, err)
	}
	return existing == nil, nil
}

// Message returns the template for one channel, or nil when none is stored.
func (s *Store) Message(ctx context.Context, guildID, channelID string, event Event) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT guild_id, channel_id, event, template, delete_after
		FROM system_messages WHERE guild_id = ? AND channel_id = ? AND event = ?`,
		guildID, channelID, string(event))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s message: %w", event, err)
	}
	return m, nil
}

// Messages returns every template of a guild for event, ordered by channel.
func (s *Store) Messages(ctx context.Context, guildID string, event Event) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, channel_id, event, template, delete_after
		FROM system_messages WHERE guild_id = ? AND event = ? ORDER BY channel_id`,
		guildID, string(event))
	if err != nil {
		return nil, fmt.Errorf("list %s messages: %w", event, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s message: %w", event, err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteMessage removes one template and reports whether it existed.
func (s *Store) DeleteMessage(ctx context.Context, guildID, channelID string, event Event) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM system_messages WHERE guild_id = ? AND channel_id = ? AND event = ?`,
		guildID, channelID, string(event))
	if err != nil {
		return false, fmt.Errorf("delete %s message: %w", event, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearMessages removes every template of a guild for event.
func (s *Store) ClearMessages(ctx context.Context, guildID string, event Event) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM system_messages WHERE guild_id = ? AND event = ?`,
		guildID, string(event))
	if err != nil {
		return 0, fmt.Errorf("clear %s messages: %w", event, err)
	}
	return res.RowsAffected()
}

// Settings returns the guild's settings, defaulting every toggle to off.
func (s *Store) Settings(ctx context.Context, guildID string) (Settings, error) {
	settings := Settings{GuildID: guildID}
	err := s.db.QueryRowContext(ctx, `SELECT welcome_removal FROM guild_settings WHERE guild_id = ?`, guildID).
		Scan(&settings.WelcomeRemoval)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return settings, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SetWelcomeRemoval(ctx context.Context, guildID string, enabled bool) error {
	_, err := s.exec(ctx, `INSERT INTO guild_settings (guild_id, welcome_removal) VALUES (?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET welcome_removal = excluded.welcome_removal`,
		guildID, enabled)
	if err != nil {
		return fmt.Errorf("set welcome removal: %w", err)
	}
	return nil
}

// UpsertSchedule stores sch, replacing the schedule of its channel. It
// reports whether a new row was created.
func (s *Store) UpsertSchedule(ctx context.Context, sch Schedule) (bool, error) {
	if sch.Interval < time.Second {
		return false, fmt.Errorf("schedule interval %s is too short", sch.Interval)
	}
	existing, err := s.Schedule(ctx, sch.GuildID, sch.ChannelID)
	if err != nil {
		return false, err
	}
	_, err = s.exec(ctx, `INSERT INTO scheduled_messages (guild_id, channel_id, template, interval_seconds, next_run)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, channel_id)
		DO UPDATE SET template = excluded.template, interval_seconds = excluded.interval_seconds, next_run = excluded.next_run`,
		sch.GuildID, sch.ChannelID, sch.Template, int64(sch.Interval/time.Second), sch.NextRun.Unix())
	if err != nil {
		return false, fmt.Errorf("upsert schedule: %w", err)
	}
	return existing == nil, nil
}

// Schedule returns the schedule of one channel, or nil when none is stored.
func (s *Store) Schedule(ctx context.Context, guildID, channelID string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT guild_id, channel_id, template, interval_seconds, next_run
		FROM scheduled_messages WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
	sch, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sch, nil
}

// Schedules returns every schedule of a guild, ordered by channel.
func (s *Store) Schedules(ctx context.Context, guildID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, channel_id, template, interval_seconds, next_run
		FROM scheduled_messages WHERE guild_id = ? ORDER BY channel_id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// ClaimDueSchedules returns the schedules whose next run is at or before now
// and moves each one's next run to now plus its interval.
func (s *Store) ClaimDueSchedules(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `UPDATE scheduled_messages
		SET next_run = ? + interval_seconds
		WHERE next_run <= ?
		RETURNING guild_id, channel_id, template, interval_seconds, next_run`,
		now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	return collectSchedules(rows)
}

// DeleteSchedule removes one schedule and reports whether it existed.
func (s *Store) DeleteSchedule(ctx context.Context, guildID, channelID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM scheduled_messages WHERE guild_id = ? AND channel_id = ?`, guildID, channelID)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearSchedules removes every schedule of a guild.
func (s *Store) ClearSchedules(ctx context.Context, guildID string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM scheduled_messages WHERE guild_id = ?`, guildID)
	if err != nil {
		return 0, fmt.Errorf("clear schedules: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*Message, error) {
	var (
		m     Message
		event string
	)
	if err := sc.Scan(&m.GuildID, &m.ChannelID, &event, &m.Template, &m.DeleteAfter); err != nil {
		return nil, err
	}
	m.Event = Event(event)
	return &m, nil
}

func scanSchedule(sc scanner) (*Schedule, error) {
	var (
		sch      Schedule
		interval int64
		nextRun  int64
	)
	if err := sc.Scan(&sch.GuildID, &sch.ChannelID, &sch.Template, &interval, &nextRun); err != nil {
		return nil, err
	}
	sch.Interval = time.Duration(interval) * time.Second
	sch.NextRun = time.Unix(nextRun, 0)
	return &sch, nil
}

func collectSchedules(rows *sql.Rows) ([]Schedule, error) {
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}
