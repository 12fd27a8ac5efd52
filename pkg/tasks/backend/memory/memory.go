// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory provides the reference StorageBackend: a concurrent map
// held entirely in process memory. It is the backend tests reach for and
// the one single-process deployments need no database to use.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mcp-tasks/core/pkg/tasks"
)

// Compile-time assertion that Backend satisfies the contract.
var _ tasks.StorageBackend = (*Backend)(nil)

type entry struct {
	payload []byte
	version uint64
}

// Backend is an in-memory StorageBackend guarded by a single RWMutex.
// Every entry is read or mutated while the lock is held, and the lock is
// never held across any call that could block — there are none here, but
// the discipline matters if this type is ever extended.
type Backend struct {
	mu   sync.RWMutex
	data map[string]*entry
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{data: make(map[string]*entry)}
}

func (b *Backend) Get(_ context.Context, key string) (tasks.VersionedRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.data[key]
	if !ok {
		return tasks.VersionedRecord{}, tasks.ErrNotFound
	}
	// Clone the payload out so callers can't mutate our stored bytes.
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	return tasks.VersionedRecord{Payload: payload, Version: e.version}, nil
}

func (b *Backend) Put(_ context.Context, key string, payload []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)

	e, ok := b.data[key]
	if !ok {
		e = &entry{payload: stored, version: 1}
		b.data[key] = e
		return 1, nil
	}
	e.payload = stored
	e.version++
	return e.version, nil
}

func (b *Backend) PutIfVersion(_ context.Context, key string, payload []byte, expected uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.data[key]
	if !ok {
		return 0, &tasks.VersionConflictError{Key: key, Expected: expected, Actual: 0}
	}
	if e.version != expected {
		return 0, &tasks.VersionConflictError{Key: key, Expected: expected, Actual: e.version}
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	e.payload = stored
	e.version++
	return e.version, nil
}

func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, existed := b.data[key]
	delete(b.data, key)
	return existed, nil
}

func (b *Backend) ListByPrefix(_ context.Context, prefix string) ([]tasks.KeyedRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []tasks.KeyedRecord
	for k, e := range b.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		payload := make([]byte, len(e.payload))
		copy(payload, e.payload)
		out = append(out, tasks.KeyedRecord{
			Key:    k,
			Record: tasks.VersionedRecord{Payload: payload, Version: e.version},
		})
	}
	return out, nil
}

// expiryEnvelope is the minimal shape cleanup needs to read out of an
// otherwise opaque payload. The backend does not otherwise interpret
// stored bytes.
type expiryEnvelope struct {
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (b *Backend) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, e := range b.data {
		var env expiryEnvelope
		if err := json.Unmarshal(e.payload, &env); err != nil {
			continue
		}
		if env.ExpiresAt != nil && env.ExpiresAt.Before(now) {
			delete(b.data, k)
			removed++
		}
	}
	return removed, nil
}
