// Package recorder stores framed packets in SQLite. Packets reach it through
// a reader queue drained by Consume.
package recorder

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/serialframe/internal/monitoring"
	"github.com/banshee-data/serialframe/internal/timeutil"
)

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
const DefaultRecentLimit = 100

// Recorder is a SQLite-backed packet store.
type Recorder struct {
	*sql.DB

	path  string
	clock timeutil.Clock
}

// Packet is one stored packet.
type Packet struct {
	ID         int64     `json:"id"`
	Header     byte      `json:"header"`
	Name       string    `json:"name"`
	Payload    []byte    `json:"-"`
	PayloadHex string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations. A nil clock uses the wall clock.
func Open(path string, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}
	// one writer; also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	r := &Recorder{DB: db, path: path, clock: clock}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the database path passed to Open.
func (r *Recorder) Path() string { return r.path }

// Record stores one packet stamped with the recorder clock.
func (r *Recorder) Record(ctx context.Context, name string, packet []byte) error {
	if len(packet) == 0 {
		return fmt.Errorf("empty packet")
	}
	_, err := r.ExecContext(ctx,
		`INSERT INTO packets (header, name, payload, payload_hex, received_ns) VALUES (?, ?, ?, ?, ?)`,
		int(packet[0]), name, packet, strings.ToUpper(hex.EncodeToString(packet)), r.clock.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s packet: %w", name, err)
	}
	return nil
}

// Consume records every packet received on queue until ctx is cancelled or
// queue is closed. Storage failures are logged and do not stop consumption.
func (r *Recorder) Consume(ctx context.Context, name string, queue <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-queue:
			if !ok {
				return
			}
			if err := r.Record(ctx, name, packet); err != nil {
				monitoring.Logf("[RECORDER] %v", err)
			}
		}
	}
}

// Recent returns up to limit packets, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Packet, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := r.QueryContext(ctx,
		`SELECT packet_id, header, name, payload, payload_hex, received_ns
		   FROM packets ORDER BY received_ns DESC, packet_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var packets []Packet
	for rows.Next() {
		var (
			p      Packet
			header int
			ns     int64
		)
		if err := rows.Scan(&p.ID, &header, &p.Name, &p.Payload, &p.PayloadHex, &ns); err != nil {
			return nil, err
		}
		p.Header = byte(header)
		p.ReceivedAt = time.Unix(0, ns).UTC()
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return packets, nil
}

// CountByHeader returns the number of stored packets per header.
func (r *Recorder) CountByHeader(ctx context.Context) (map[byte]int64, error) {
	rows, err := r.QueryContext(ctx, `SELECT header, COUNT(*) FROM packets GROUP BY header`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[byte]int64)
	for rows.Next() {
		var header int
		var n int64
		if err := rows.Scan(&header, &n); err != nil {
			return nil, err
		}
		counts[byte(header)] = n
	}
	return counts, rows.Err()
}
