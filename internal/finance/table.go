package finance

// Table names a remote collection.
type Table string

const (
	TableGoals         Table = "goals"
	TableTransactions  Table = "transactions"
	TableRoutines      Table = "routines"
	TableFixedExpenses Table = "fixed_expenses"
	TableProfiles      Table = "profiles"
)

// EntityTables lists the per-entity tables in the order they are synced.
var EntityTables = []Table{TableGoals, TableTransactions, TableRoutines, TableFixedExpenses}

// Key builds the "table:id" key used by tombstones and dedup.
func Key(t Table, id string) string {
	return string(t) + ":" + id
}

// Stamp is the last-writer-wins ordering of a record.
type Stamp struct {
	Version   int   `json:"version"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Newer reports whether s orders strictly after o, comparing version first
// and updatedAt second.
func (s Stamp) Newer(o Stamp) bool {
	if s.Version != o.Version {
		return s.Version > o.Version
	}

	return s.UpdatedAt > o.UpdatedAt
}

// Entity is implemented by every per-table record.
type Entity interface {
	EntityID() string
	EntityTable() Table
	EntityStamp() Stamp
	Created() int64
}
