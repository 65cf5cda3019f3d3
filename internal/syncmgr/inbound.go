package syncmgr

import (
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

func (m *Manager) handler(gen int, t finance.Table) remote.Handler {
	return func(ev remote.Event) {
		m.handle(gen, t, ev)
	}
}

// handle turns one change event into a sync action. The suppression counter
// is raised before dispatching so the resulting state change is not echoed.
func (m *Manager) handle(gen int, t finance.Table, ev remote.Event) {
	action, ok := m.translate(t, ev)
	if !ok {
		return
	}

	m.mu.Lock()

	if m.gen != gen || m.dispatch == nil {
		m.mu.Unlock()
		return
	}

	switch a := action.(type) {
	case store.SyncUpsert:
		if m.q.IsTombstoned(t, a.Item.EntityID()) {
			m.mu.Unlock()
			m.logger.Debug("ignoring inbound upsert of deleted record", "table", t, "id", a.Item.EntityID())

			return
		}

		m.synced[finance.Key(t, a.Item.EntityID())] = a.Item.EntityStamp()
	case store.SyncRemove:
		delete(m.synced, finance.Key(t, a.ID))
	case store.SyncProfile:
		m.profileAt = a.Profile.UpdatedAt
		m.profileSent = true
	}

	m.suppress++
	d := m.dispatch
	m.mu.Unlock()

	if err := d.Dispatch(action); err != nil {
		m.mu.Lock()
		if m.gen == gen && m.suppress > 0 {
			m.suppress--
		}
		m.mu.Unlock()

		m.logger.Warn("inbound change rejected", "table", t, "event", ev.Type, "error", err)
	}
}

func (m *Manager) translate(t finance.Table, ev remote.Event) (store.Action, bool) {
	if t == finance.TableProfiles {
		if ev.Type == remote.EventDelete || ev.New == nil {
			return nil, false
		}

		return store.SyncProfile{ProfileRecord: mapper.ProfileFromRemote(ev.New)}, true
	}

	if ev.Type == remote.EventDelete {
		id := ev.Old.ID()
		if id == "" {
			id = ev.New.ID()
		}

		return store.SyncRemove{Table: t, ID: id}, id != ""
	}

	if ev.New == nil || ev.New.ID() == "" {
		return nil, false
	}

	if mapper.IsDeleted(ev.New) {
		return store.SyncRemove{Table: t, ID: ev.New.ID()}, true
	}

	e, err := m.mapper.FromRemote(t, ev.New)
	if err != nil {
		m.logger.Error("failed to map inbound row", "table", t, "error", err)
		return nil, false
	}

	return store.SyncUpsert{Table: t, Item: e}, true
}
