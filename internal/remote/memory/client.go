package memory

import (
	"context"
	"sync"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

// Client is one device's connection to a Backend.
type Client struct {
	b *Backend

	mu       sync.Mutex
	offline  bool
	failWith error
}

var _ remote.Client = (*Client)(nil)

// SetOffline cuts the device off: calls fail with ErrOffline and realtime
// events are not delivered to it.
func (c *Client) SetOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offline = offline
}

func (c *Client) Offline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.offline
}

// FailWrites makes every Upsert and Delete return err; nil restores normal
// behaviour.
func (c *Client) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failWith = err
}

func (c *Client) check(ctx context.Context, write bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.offline {
		return ErrOffline
	}

	if write && c.failWith != nil {
		return c.failWith
	}

	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.check(ctx, false)
}

func (c *Client) Upsert(ctx context.Context, table finance.Table, row remote.Row) error {
	if err := c.check(ctx, true); err != nil {
		return err
	}

	return c.b.upsert(table, row)
}

func (c *Client) Delete(ctx context.Context, table finance.Table, id, userID string) error {
	if err := c.check(ctx, true); err != nil {
		return err
	}

	return c.b.delete(table, id, userID)
}

func (c *Client) Select(ctx context.Context, table finance.Table, userID string) ([]remote.Row, error) {
	if err := c.check(ctx, false); err != nil {
		return nil, err
	}

	return c.b.selectRows(table, userID)
}

type handle struct {
	b  *Backend
	id int
}

func (h handle) Unsubscribe() error {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	delete(h.b.subs, h.id)

	return nil
}

// Subscribe registers h even while the device is offline; events are only
// delivered once it is back online.
func (c *Client) Subscribe(ctx context.Context, table finance.Table, userID string, h remote.Handler) (remote.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if c.b.absent[table] {
		return nil, remote.ErrSchemaAbsent
	}

	id := c.b.nextID
	c.b.nextID++
	c.b.subs[id] = subscription{client: c, table: table, userID: userID, h: h}

	return handle{b: c.b, id: id}, nil
}
