package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mirrorlake/warden/internal/history"
)

// Sink appends audit events to ClickHouse via the official native client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port), verifies connectivity, and ensures the
// table exists.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(3),
		kind String,
		service String,
		from_state String,
		to_state String,
		detail String
	) ENGINE = MergeTree() ORDER BY (service, occurred_at)`, s.table)
	if err := s.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Record(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, kind, service, from_state, to_state, detail)
		VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query, e.Time, e.Kind, e.Service, e.From, e.To, e.Detail); err != nil {
		return fmt.Errorf("insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
