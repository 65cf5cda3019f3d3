package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

// notification is the payload published by the notify_sync_change trigger.
type notification struct {
	Type   remote.EventType `json:"type"`
	Table  finance.Table    `json:"table"`
	UserID string           `json:"user_id"`
	New    json.RawMessage  `json:"new"`
	Old    json.RawMessage  `json:"old"`
}

// Channel is the notification channel of table.
func Channel(table finance.Table) string {
	return "sync_" + string(table)
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})

	return nil
}

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// attachFunc runs one change feed until it fails, calling started once the
// feed is listening.
type attachFunc func(ctx context.Context, started func()) error

// Subscribe holds a dedicated connection listening on the table's channel and
// delivers events for userID to h until unsubscribed. A dropped connection is
// replaced; notifications sent while reconnecting are lost.
func (c *Client) Subscribe(ctx context.Context, table finance.Table, userID string, h remote.Handler) (remote.Subscription, error) {
	if _, ok := columns[table]; !ok {
		return nil, fmt.Errorf("subscribing to %s: %w", table, remote.ErrSchemaAbsent)
	}

	attach := func(ctx context.Context, started func()) error {
		conn, err := c.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("acquiring listen connection: %w", err)
		}
		defer conn.Close()

		return conn.Raw(func(driverConn any) error {
			pc, ok := driverConn.(*stdlib.Conn)
			if !ok {
				return fmt.Errorf("unexpected driver connection %T", driverConn)
			}

			return c.listen(ctx, pc.Conn(), table, userID, h, started)
		})
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	ready := make(chan error, 1)

	go func() {
		defer close(sub.done)
		c.supervise(listenCtx, table, attach, ready)
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-sub.done

			return nil, fmt.Errorf("listening on %s: %w", table, mapError(err))
		}
	case <-ctx.Done():
		cancel()
		<-sub.done

		return nil, ctx.Err()
	}

	c.logger.Debug("change feed started", "table", table, "user_id", userID)

	return sub, nil
}

// supervise runs attach until ctx ends. The outcome of the first attempt goes
// to ready; a failed first attempt ends the feed. After a feed has started,
// drops are retried with exponential backoff capped at reconnectMax, and the
// delay resets whenever a feed starts again.
func (c *Client) supervise(ctx context.Context, table finance.Table, attach attachFunc, ready chan<- error) {
	first := true
	delay := reconnectBase

	for {
		err := attach(ctx, func() {
			delay = reconnectBase

			if first {
				first = false
				ready <- nil
			}
		})

		if ctx.Err() != nil {
			return
		}

		if first {
			if err == nil {
				err = errors.New("change feed ended before listening")
			}

			ready <- err

			return
		}

		c.logger.Warn("change feed dropped, reconnecting", "table", table, "error", err, "delay", delay)

		if err := c.sleep(ctx, delay); err != nil {
			return
		}

		delay = min(delay*2, reconnectMax)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) listen(ctx context.Context, conn *pgx.Conn, table finance.Table, userID string, h remote.Handler, started func()) error {
	channel := pgx.Identifier{Channel(table)}.Sanitize()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}

	started()

	defer func() {
		// The connection goes back to the pool; stop listening on it.
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+channel)
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		ev, owner, err := decodeNotification([]byte(n.Payload))
		if err != nil {
			c.logger.Warn("skipping malformed notification", "table", table, "error", err)
			continue
		}

		if owner != userID {
			continue
		}

		h(ev)
	}
}

func decodeNotification(payload []byte) (remote.Event, string, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return remote.Event{}, "", err
	}

	ev := remote.Event{Type: n.Type, Table: n.Table}

	var err error
	if ev.New, err = rawRow(n.New); err != nil {
		return remote.Event{}, "", fmt.Errorf("decoding new row: %w", err)
	}

	if ev.Old, err = rawRow(n.Old); err != nil {
		return remote.Event{}, "", fmt.Errorf("decoding old row: %w", err)
	}

	switch ev.Type {
	case remote.EventInsert, remote.EventUpdate, remote.EventDelete:
	default:
		return remote.Event{}, "", fmt.Errorf("unknown event type %q", n.Type)
	}

	return ev, n.UserID, nil
}

func rawRow(raw json.RawMessage) (remote.Row, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	return decodeRow(raw)
}
