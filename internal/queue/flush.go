package queue

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

// Flush sends the queue to client (or the cached client when nil) in FIFO
// order. At most one flush runs at a time; a call made while another is in
// progress schedules one more pass of the running flush instead. Failed
// entries stay in place and are retried on the following pass after a
// backoff sleep, until they succeed or exhaust MaxRetries.
func (q *Queue) Flush(ctx context.Context, client remote.Writer) FlushResult {
	q.mu.Lock()

	if client == nil {
		client = q.client
	}

	if q.flushing {
		q.rerun = true
		q.mu.Unlock()

		return FlushResult{Skipped: true}
	}

	if !q.online || client == nil || len(q.entries) == 0 {
		q.mu.Unlock()
		return FlushResult{Skipped: true}
	}

	q.flushing = true
	q.mu.Unlock()
	q.emit()

	var res FlushResult

	for {
		retry := q.pass(ctx, client, &res)

		q.mu.Lock()
		again := (retry || q.rerun) && q.online && ctx.Err() == nil && len(q.entries) > 0
		q.rerun = false

		if !again {
			q.flushing = false
			q.mu.Unlock()

			break
		}
		q.mu.Unlock()
	}

	q.emit()

	return res
}

// pass sends one snapshot of the queue and reports whether any entry is
// waiting to be retried.
func (q *Queue) pass(ctx context.Context, client remote.Writer, res *FlushResult) bool {
	q.mu.Lock()
	snapshot := slices.Clone(q.entries)
	q.mu.Unlock()

	var (
		done    = make(map[string]bool, len(snapshot))
		dropped []Entry
		failed  bool
		retry   bool
	)

	for _, e := range snapshot {
		if ctx.Err() != nil {
			break
		}

		err := send(ctx, client, e)
		if err == nil {
			done[e.ID] = true
			res.Sent++

			if e.Operation == OpDelete {
				q.scheduleTombstoneClear(e)
			}

			continue
		}

		failed = true
		res.Failed++

		retries, ok := q.bumpRetries(e.ID)
		if !ok {
			// Replaced or absorbed while in flight.
			continue
		}

		if retries >= q.cfg.MaxRetries {
			q.logger.Error("dropping operation after exhausting retries",
				"error", err, "operation", e.Operation, "key", e.Key(), "retries", retries)

			done[e.ID] = true
			dropped = append(dropped, e)
			res.Dropped++

			if e.Operation == OpDelete {
				q.scheduleTombstoneClear(e)
			}

			continue
		}

		delay := q.backoff(retries)
		q.logger.Warn("flush failed, backing off",
			"error", err, "operation", e.Operation, "key", e.Key(), "retries", retries, "delay", delay)

		retry = true

		if err := q.clock.Sleep(ctx, delay); err != nil {
			break
		}
	}

	q.mu.Lock()
	q.entries = slices.DeleteFunc(q.entries, func(e Entry) bool { return done[e.ID] })
	q.failed = failed
	q.persistLocked()
	onDrop := q.onDrop
	q.mu.Unlock()

	if onDrop != nil {
		for _, e := range dropped {
			onDrop(e)
		}
	}

	q.emit()

	return retry
}

func send(ctx context.Context, client remote.Writer, e Entry) error {
	switch e.Operation {
	case OpDelete:
		err := client.Delete(ctx, e.Table, remote.RowKey(e.Table, e.Payload), e.UserID)
		if err != nil && !isGone(err) {
			return fmt.Errorf("deleting %s: %w", e.Key(), err)
		}

		return nil
	case OpUpsert:
		if err := client.Upsert(ctx, e.Table, e.Payload); err != nil {
			return fmt.Errorf("upserting %s: %w", e.Key(), err)
		}

		return nil
	default:
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
}

func (q *Queue) bumpRetries(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Retries++
			return q.entries[i].Retries, true
		}
	}

	return 0, false
}

// backoff is BaseDelay·2^(retries-1).
func (q *Queue) backoff(retries int) time.Duration {
	return q.cfg.BaseDelay << (retries - 1)
}

// scheduleTombstoneClear starts the grace timer of the tombstone behind a
// flushed DELETE, unless a newer DELETE for the same key is still queued.
func (q *Queue) scheduleTombstoneClear(sent Entry) {
	key := sent.Key()

	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tombstones[key]
	if !ok || t.timer != nil {
		return
	}

	for _, e := range q.entries {
		if e.Operation == OpDelete && e.ID != sent.ID && e.Key() == key {
			return
		}
	}

	t.timer = q.clock.AfterFunc(q.cfg.TombstoneGrace, func() {
		q.clearTombstone(key, t)
	})
}
