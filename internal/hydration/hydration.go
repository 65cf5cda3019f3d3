// Package hydration performs the one-shot boot merge of the local snapshot
// with the user's remote dataset.
package hydration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/mapper"
	"github.com/MrJamesThe3rd/finnysync/internal/remote"
)

const DefaultTimeout = 8 * time.Second

type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceMerged Source = "merged"
)

type Result struct {
	Data   finance.State
	Source Source
	// NeedsMigration asks the sync manager for one full outbound pass right
	// after it subscribes.
	NeedsMigration bool
}

type Service struct {
	kv      localstore.KV
	reader  remote.Reader
	mapper  mapper.Mapper
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	done map[string]Result
}

// New builds the service. A nil reader means no remote is configured.
func New(kv localstore.KV, reader remote.Reader, m mapper.Mapper, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Service{
		kv:      kv,
		reader:  reader,
		mapper:  m,
		timeout: timeout,
		logger:  logger.With("component", "hydration"),
		done:    make(map[string]Result),
	}
}

// Hydrate runs once per user: later calls for the same user return the first
// result until Forget is called.
func (s *Service) Hydrate(ctx context.Context, userID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res, ok := s.done[userID]; ok && userID != "" {
		return res
	}

	res := s.hydrate(ctx, userID)

	if userID != "" {
		s.done[userID] = res
	}

	return res
}

// Forget drops the memoised result so the next session hydrates again.
func (s *Service) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.done, userID)
}

func (s *Service) hydrate(ctx context.Context, userID string) Result {
	local := localstore.LoadState(s.kv, s.logger)

	if userID == "" || s.reader == nil {
		return Result{Data: local, Source: SourceLocal}
	}

	snap, err := s.fetch(ctx, userID)
	if err != nil {
		s.logger.Warn("remote snapshot unavailable, using local data", "error", err, "user_id", userID)
		return Result{Data: local, Source: SourceLocal}
	}

	localHas, remoteHas := local.HasData(), snap.state.HasData()

	switch {
	case !localHas && !remoteHas:
		return Result{Data: local, Source: SourceLocal}
	case localHas && !remoteHas:
		return Result{Data: local, Source: SourceLocal, NeedsMigration: true}
	case !localHas && remoteHas:
		data := snap.state
		data.Onboarded = true
		s.save(data)

		return Result{Data: data, Source: SourceRemote}
	default:
		merged := Merge(local, snap)
		s.save(merged)

		return Result{Data: merged, Source: SourceMerged, NeedsMigration: true}
	}
}

func (s *Service) save(st finance.State) {
	if err := localstore.SaveState(s.kv, st); err != nil {
		s.logger.Error("failed to write hydrated snapshot", "error", err)
	}
}

// Snapshot is the remote dataset of one user.
type Snapshot struct {
	state        finance.State
	hasEnvelopes bool
}

func NewSnapshot(st finance.State, hasEnvelopes bool) Snapshot {
	return Snapshot{state: st, hasEnvelopes: hasEnvelopes}
}

// fetch reads every table in parallel, bounded by the hydration timeout. The
// deadline is enforced here even if the reader ignores its context.
func (s *Service) fetch(ctx context.Context, userID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tables := append([]finance.Table{finance.TableProfiles}, finance.EntityTables...)
	rows := make([][]remote.Row, len(tables))

	g, gctx := errgroup.WithContext(ctx)

	for i, t := range tables {
		g.Go(func() error {
			r, err := s.reader.Select(gctx, t, userID)
			if errors.Is(err, remote.ErrSchemaAbsent) {
				s.logger.Warn("remote table not provisioned, treating as empty", "table", t)
				return nil
			}

			if err != nil {
				return fmt.Errorf("selecting %s: %w", t, err)
			}

			rows[i] = r

			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("reading remote snapshot: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Snapshot{}, err
		}
	}

	return s.build(rows[0], rows[1:]), nil
}

func (s *Service) build(profiles []remote.Row, entities [][]remote.Row) Snapshot {
	var snap Snapshot

	snap.state.Profile.ApplyDefaults()

	if len(profiles) > 0 {
		rec := mapper.ProfileFromRemote(profiles[0])
		snap.state.Profile = rec.Profile
		snap.state.Gamification = rec.Gamification
		snap.state.Envelopes = rec.Envelopes
		snap.hasEnvelopes = rec.HasEnvelopes
	}

	for i, t := range finance.EntityTables {
		for _, r := range entities[i] {
			if mapper.IsDeleted(r) {
				continue
			}

			e, err := s.mapper.FromRemote(t, r)
			if err != nil {
				s.logger.Error("skipping unmappable remote row", "table", t, "error", err)
				continue
			}

			switch v := e.(type) {
			case finance.Goal:
				snap.state.Goals = append(snap.state.Goals, v)
			case finance.Transaction:
				snap.state.Transactions = append(snap.state.Transactions, v)
			case finance.Routine:
				snap.state.Routines = append(snap.state.Routines, v)
			case finance.FixedExpense:
				snap.state.FixedExpenses = append(snap.state.FixedExpenses, v)
			}
		}
	}

	return snap
}
