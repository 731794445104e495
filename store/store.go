package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // database/sql driver

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	node_id     TEXT NOT NULL,
	direction   TEXT,
	peer_id     TEXT,
	packet_id   TEXT,
	amount      TEXT,
	destination TEXT,
	payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_peer_id ON events(peer_id);
CREATE INDEX IF NOT EXISTS idx_events_packet_id ON events(packet_id);
`

// Config is the event store config.
type Config struct {
	// Path of the sqlite database file; ":memory:" keeps it in process.
	Path string
	// MaxEventCount is the newest-rows retention cap.
	MaxEventCount int
	// MaxAge is the age retention cap.
	MaxAge time.Duration
	// RetentionInterval is how often RunRetention applies both caps.
	RetentionInterval time.Duration
}

// DefaultConfig returns the default event store config.
func DefaultConfig() Config {
	return Config{
		Path:              "events.db",
		MaxEventCount:     1_000_000,
		MaxAge:            7 * 24 * time.Hour,
		RetentionInterval: time.Hour,
	}
}

// StoredEvent is one event-store row.
type StoredEvent struct {
	ID          int64               `json:"id"`
	Type        telemetry.EventType `json:"type"`
	TimestampMs int64               `json:"timestampMs"`
	NodeID      string              `json:"nodeId"`
	Direction   telemetry.Direction `json:"direction,omitempty"`
	PeerID      ilp.PeerID          `json:"peerId,omitempty"`
	PacketID    string              `json:"packetId,omitempty"`
	Amount      string              `json:"amount,omitempty"`
	Destination ilp.Address         `json:"destination,omitempty"`
	Payload     json.RawMessage     `json:"payload"`
}

// Filter selects rows for QueryEvents and CountEvents. Zero values match
// everything.
type Filter struct {
	EventTypes []telemetry.EventType
	Since      int64
	Until      int64
	PeerID     ilp.PeerID
	PacketID   string
	Direction  telemetry.Direction
	Limit      int
	Offset     int
}

// EventStore is the append-only telemetry archive backed by an embedded
// sqlite file. Writes are funneled through a single connection since sqlite
// permits one writer at a time.
type EventStore struct {
	cfg Config
	log logger.Logger
	db  *sql.DB
}

// Open opens the database and applies the schema.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*EventStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("event store path is not configured")
	}
	if cfg.MaxEventCount <= 0 {
		cfg.MaxEventCount = DefaultConfig().MaxEventCount
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = DefaultConfig().RetentionInterval
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open event store at %s", cfg.Path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "failed to apply event store schema")
	}

	return &EventStore{
		cfg: cfg,
		log: log,
		db:  db,
	}, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return errors.Wrap(s.db.Close(), "failed to close event store")
}

// StoreEvent appends one event and returns its row id.
func (s *EventStore) StoreEvent(ctx context.Context, event telemetry.Event) (int64, error) {
	ids, err := s.StoreEvents(ctx, []telemetry.Event{event})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// StoreEvents appends the batch atomically and returns the row ids in input
// order.
func (s *EventStore) StoreEvents(ctx context.Context, events []telemetry.Event) ([]int64, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin event store tx")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_type, timestamp, node_id, direction, peer_id, packet_id, amount, destination, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare event insert")
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode event payload, type:%s", event.Type)
		}
		indexed := telemetry.Extract(event)

		res, err := stmt.ExecContext(ctx,
			string(event.Type),
			event.Timestamp,
			event.NodeID,
			nullable(string(indexed.Direction)),
			nullable(string(indexed.PeerID)),
			nullable(indexed.PacketID),
			nullable(indexed.Amount),
			nullable(string(indexed.Destination)),
			string(payload),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to insert event, type:%s", event.Type)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read inserted event id")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit event batch")
	}
	return ids, nil
}

// QueryEvents returns matching rows ordered by timestamp descending. The
// default limit is 50.
func (s *EventStore) QueryEvents(ctx context.Context, filter Filter) ([]StoredEvent, error) {
	where, args := buildWhere(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, event_type, timestamp, node_id, direction, peer_id, packet_id, amount, destination, payload
		FROM events %s
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, where)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			event                                            StoredEvent
			direction, peerID, packetID, amount, destination sql.NullString
			payload                                          string
		)
		if err := rows.Scan(&event.ID, &event.Type, &event.TimestampMs, &event.NodeID,
			&direction, &peerID, &packetID, &amount, &destination, &payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan event row")
		}
		event.Direction = telemetry.Direction(direction.String)
		event.PeerID = ilp.PeerID(peerID.String)
		event.PacketID = packetID.String
		event.Amount = amount.String
		event.Destination = ilp.Address(destination.String)
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	return events, errors.Wrap(rows.Err(), "failed to iterate event rows")
}

// CountEvents returns the number of rows matching the filter.
func (s *EventStore) CountEvents(ctx context.Context, filter Filter) (int, error) {
	where, args := buildWhere(filter)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&count)
	return count, errors.Wrap(err, "failed to count events")
}

// PruneByAge deletes rows older than MaxAge and returns the number deleted.
func (s *EventStore) PruneByAge(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.MaxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune events by age")
	}
	deleted, err := res.RowsAffected()
	return deleted, errors.Wrap(err, "failed to read pruned row count")
}

// PruneByCount retains only the newest MaxEventCount rows and returns the
// number deleted.
func (s *EventStore) PruneByCount(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, s.cfg.MaxEventCount)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune events by count")
	}
	deleted, err := res.RowsAffected()
	return deleted, errors.Wrap(err, "failed to read pruned row count")
}

// RunRetentionPolicy applies both retention caps once.
func (s *EventStore) RunRetentionPolicy(ctx context.Context) error {
	byAge, err := s.PruneByAge(ctx)
	if err != nil {
		return err
	}
	byCount, err := s.PruneByCount(ctx)
	if err != nil {
		return err
	}
	if byAge+byCount > 0 {
		s.log.Info(ctx, "Pruned telemetry events",
			zap.Int64("byAge", byAge), zap.Int64("byCount", byCount))
	}
	return nil
}

// RunRetention applies the retention policy periodically until ctx is
// canceled.
func (s *EventStore) RunRetention(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			if err := s.RunRetentionPolicy(ctx); err != nil {
				s.log.Error(ctx, "Retention run failed", zap.Error(err))
			}
		}
	}
}

func buildWhere(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(filter.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
		conds = append(conds, fmt.Sprintf("event_type IN (%s)", placeholders))
		for _, t := range filter.EventTypes {
			args = append(args, string(t))
		}
	}
	if filter.Since > 0 {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if filter.Until > 0 {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}
	if filter.PeerID != "" {
		conds = append(conds, "peer_id = ?")
		args = append(args, string(filter.PeerID))
	}
	if filter.PacketID != "" {
		conds = append(conds, "packet_id = ?")
		args = append(args, filter.PacketID)
	}
	if filter.Direction != "" {
		conds = append(conds, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
