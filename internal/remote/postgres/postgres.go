// Package postgres is the remote adapter backed by a Postgres database. Rows
// are read and written through database/sql with the pgx driver, and change
// feeds are fed by LISTEN/NOTIFY on a per-table channel.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

//go:embed schema.sql
var schema string

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// columns whitelists the writable columns of every table, in insert order.
var columns = map[finance.Table][]string{
	finance.TableGoals: {
		"id", "user_id", "name", "description", "target_amount", "current_amount", "deadline",
		"priority", "color", "image_url", "version", "is_deleted", "created_at", "updated_at",
	},
	finance.TableTransactions: {
		"id", "user_id", "type", "amount", "category", "note", "date", "goal_id", "decision_type",
		"version", "is_deleted", "created_at", "updated_at",
	},
	finance.TableRoutines: {
		"id", "user_id", "name", "objective", "category", "frequency", "difficulty", "xp_value",
		"completed_dates", "streak", "version", "is_deleted", "created_at", "updated_at",
	},
	finance.TableFixedExpenses: {
		"id", "user_id", "name", "amount", "category", "frequency", "next_due_date", "active",
		"version", "is_deleted", "created_at", "updated_at",
	},
	finance.TableProfiles: {
		"user_id", "name", "currency", "income_sources", "total_xp", "xp_log", "earned_badge_ids",
		"envelopes_enabled", "envelope_rules", "updated_at",
	},
}

var jsonColumns = map[string]bool{
	"completed_dates":  true,
	"income_sources":   true,
	"xp_log":           true,
	"earned_badge_ids": true,
	"envelope_rules":   true,
}

type Client struct {
	db     *sql.DB
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

var _ remote.Client = (*Client)(nil)

func New(db *sql.DB, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{db: db, logger: logger.With("component", "postgres"), sleep: sleepCtx}
}

// Migrate creates the synced tables and their notify triggers.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging remote: %w", err)
	}

	return nil
}

func (c *Client) Upsert(ctx context.Context, table finance.Table, row remote.Row) error {
	query, args, err := upsertQuery(table, row)
	if err != nil {
		return err
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting into %s: %w", table, mapError(err))
	}

	return nil
}

func (c *Client) Delete(ctx context.Context, table finance.Table, id, userID string) error {
	if _, ok := columns[table]; !ok || table == finance.TableProfiles {
		return fmt.Errorf("deleting from %s: %w", table, remote.ErrSchemaAbsent)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, pgx.Identifier{string(table)}.Sanitize())

	res, err := c.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}

	if n == 0 {
		return remote.ErrNotFound
	}

	return nil
}

// Select returns every row of table owned by userID. Rows are encoded with
// row_to_json so values look exactly like notification payloads.
func (c *Client) Select(ctx context.Context, table finance.Table, userID string) ([]remote.Row, error) {
	if _, ok := columns[table]; !ok {
		return nil, fmt.Errorf("selecting from %s: %w", table, remote.ErrSchemaAbsent)
	}

	order := "t.created_at, t.id"
	if table == finance.TableProfiles {
		order = "t.user_id"
	}

	query := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t WHERE t.user_id = $1 ORDER BY %s`,
		pgx.Identifier{string(table)}.Sanitize(), order)

	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", table, mapError(err))
	}
	defer rows.Close()

	var out []remote.Row

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}

		r, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", table, err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", table, mapError(err))
	}

	return out, nil
}

// upsertQuery builds an INSERT ... ON CONFLICT statement from the whitelisted
// columns present in row.
func upsertQuery(table finance.Table, row remote.Row) (string, []any, error) {
	allowed, ok := columns[table]
	if !ok {
		return "", nil, fmt.Errorf("upserting into %s: %w", table, remote.ErrSchemaAbsent)
	}

	key := remote.ConflictKey(table)
	if row.String(key) == "" {
		return "", nil, fmt.Errorf("upserting into %s: missing %s", table, key)
	}

	var (
		cols         []string
		placeholders []string
		updates      []string
		args         []any
	)

	for _, col := range allowed {
		v, ok := row[col]
		if !ok {
			continue
		}

		arg, err := encodeValue(col, v)
		if err != nil {
			return "", nil, fmt.Errorf("encoding %s.%s: %w", table, col, err)
		}

		args = append(args, arg)
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))

		if col != key {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s`,
		pgx.Identifier{string(table)}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		key,
		conflict,
	)

	return query, args, nil
}

// encodeValue converts a mapped column value into a driver argument. JSONB
// columns are marshalled; decimal strings and timestamps travel as text and
// are cast by Postgres.
func encodeValue(col string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if jsonColumns[col] {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}

		return string(raw), nil
	}

	switch n := v.(type) {
	case json.Number:
		return n.String(), nil
	case float64:
		// Values decoded from JSON carry integers as floats.
		if n == float64(int64(n)) && slices.Contains([]string{"version", "streak", "xp_value", "total_xp"}, col) {
			return int64(n), nil
		}

		return n, nil
	default:
		return v, nil
	}
}

func decodeRow(raw []byte) (remote.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var r remote.Row
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}

	return r, nil
}

// mapError translates Postgres error codes into remote sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %s", remote.ErrSchemaAbsent, pgErr.Message)
	}

	return err
}
