package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MrJamesThe3rd/finnysync/internal/localstore"
	"github.com/MrJamesThe3rd/finnysync/internal/matching"
)

// Store keeps category rules in the local key-value store. Rules are local to
// the device and never synced.
type Store struct {
	mu sync.Mutex
	kv localstore.KV
}

func New(kv localstore.KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) load() ([]matching.Rule, error) {
	var rules []matching.Rule
	if _, err := localstore.GetJSON(s.kv, localstore.KeyCategoryRules, &rules); err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	return rules, nil
}

// FindMatch picks the longest pattern contained in description, ignoring case.
// Among equally long patterns the most recently learned wins.
func (s *Store) FindMatch(description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.load()
	if err != nil {
		return "", err
	}

	desc := strings.ToLower(description)
	best := -1

	for i, r := range rules {
		if !strings.Contains(desc, strings.ToLower(r.Pattern)) {
			continue
		}

		if best < 0 || len(r.Pattern) >= len(rules[best].Pattern) {
			best = i
		}
	}

	if best < 0 {
		return "", nil
	}

	return rules[best].Category, nil
}

// CreateMapping appends a rule. Relearning a pattern moves it to the end with
// its new category.
func (s *Store) CreateMapping(pattern, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.load()
	if err != nil {
		return err
	}

	kept := rules[:0]

	for _, r := range rules {
		if !strings.EqualFold(r.Pattern, pattern) {
			kept = append(kept, r)
		}
	}

	kept = append(kept, matching.Rule{Pattern: pattern, Category: category})

	if err := localstore.SetJSON(s.kv, localstore.KeyCategoryRules, kept); err != nil {
		return fmt.Errorf("creating mapping: %w", err)
	}

	return nil
}

func (s *Store) Rules() ([]matching.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.load()
	if rules == nil && err == nil {
		rules = []matching.Rule{}
	}

	return rules, err
}
