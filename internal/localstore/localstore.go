// Package localstore is the synchronous, durable key-value store that keeps
// the client usable offline. Values are JSON documents.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Reserved keys.
const (
	KeyGoals         = "goals"
	KeyTransactions  = "transactions"
	KeyRoutines      = "routines"
	KeyFixedExpenses = "fixedExpenses"
	KeyProfile       = "profile"
	KeyGamification  = "gamification"
	KeyEnvelopes     = "envelopes"
	KeyWriteQueue    = "writeQueue"
	KeyOnboarded     = "onboardedFlag"
	KeySkippedLogin  = "skippedLoginFlag"
	KeyCategoryRules = "categoryRules"
)

// KV is the local persistence contract. Get reports ok=false for a missing key.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// GetJSON decodes the value at key into v.
func GetJSON(kv KV, key string, v any) (bool, error) {
	b, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}

	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}

	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	return kv.Set(key, b)
}

// ErrQuotaExceeded is returned by Memory when its byte limit would be passed.
var ErrQuotaExceeded = errors.New("local store quota exceeded")

// Memory is an in-process KV. A positive Quota caps the total stored bytes.
type Memory struct {
	mu    sync.RWMutex
	data  map[string][]byte
	Quota int
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), b...), true, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Quota > 0 {
		total := len(value)

		for k, v := range m.data {
			if k != key {
				total += len(v)
			}
		}

		if total > m.Quota {
			return ErrQuotaExceeded
		}
	}

	m.data[key] = append([]byte(nil), value...)

	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)

	return nil
}
