package queue

import (
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

type Operation string

const (
	OpUpsert Operation = "UPSERT"
	OpDelete Operation = "DELETE"
)

// Entry is one pending outbound operation. Its JSON form is the persisted
// queue layout.
type Entry struct {
	ID        string        `json:"id"`
	Operation Operation     `json:"operation"`
	Table     finance.Table `json:"table"`
	Payload   remote.Row    `json:"payload"`
	UserID    string        `json:"userId"`
	Retries   int           `json:"retries"`
	CreatedAt int64         `json:"createdAt"`
}

// Key is the "table:id" identity the entry operates on.
func (e Entry) Key() string {
	return finance.Key(e.Table, remote.RowKey(e.Table, e.Payload))
}

// Status is published to subscribers on every queue change.
type Status struct {
	Size     int  `json:"size"`
	Flushing bool `json:"flushing"`
	// Failed is set when the last flush pass had at least one failed send.
	Failed bool `json:"failed"`
}

// FlushResult summarises one Flush call.
type FlushResult struct {
	Sent    int
	Failed  int
	Dropped int
	// Skipped is set when nothing ran: offline, no client, or another flush
	// already in progress.
	Skipped bool
}
