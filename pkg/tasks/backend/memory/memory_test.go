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

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mcp-tasks/core/pkg/tasks"
)

func TestBackend_PutAndGet(t *testing.T) {
	b := New()
	ctx := context.Background()

	version, err := b.Put(ctx, "k1", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}

	rec, err := b.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(rec.Payload) != `{"a":1}` {
		t.Errorf("expected payload {\"a\":1}, got %s", rec.Payload)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}

	version, err = b.Put(ctx, "k1", []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2 on overwrite, got %d", version)
	}
}

func TestBackend_GetMissingReturnsNotFound(t *testing.T) {
	b := New()
	_, err := b.Get(context.Background(), "missing")
	if err != tasks.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBackend_PutIfVersion(t *testing.T) {
	b := New()
	ctx := context.Background()

	if _, err := b.Put(ctx, "k1", []byte(`{}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	version, err := b.PutIfVersion(ctx, "k1", []byte(`{"updated":true}`), 1)
	if err != nil {
		t.Fatalf("put_if_version failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	_, err = b.PutIfVersion(ctx, "k1", []byte(`{"stale":true}`), 1)
	var conflict *tasks.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *VersionConflictError, got %T: %v", err, err)
	}
	if conflict.Expected != 1 || conflict.Actual != 2 {
		t.Errorf("expected conflict{expected:1 actual:2}, got %+v", conflict)
	}
}

func TestBackend_PutIfVersionOnMissingKeyReportsActualZero(t *testing.T) {
	b := New()
	_, err := b.PutIfVersion(context.Background(), "missing", []byte(`{}`), 1)
	var conflict *tasks.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *VersionConflictError, got %T: %v", err, err)
	}
	if conflict.Actual != 0 {
		t.Errorf("expected Actual=0 for a never-existed key, got %d", conflict.Actual)
	}
}

func TestBackend_Delete(t *testing.T) {
	b := New()
	ctx := context.Background()

	existed, err := b.Delete(ctx, "missing")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if existed {
		t.Error("expected existed=false for a key never written")
	}

	if _, err := b.Put(ctx, "k1", []byte(`{}`)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	existed, err = b.Delete(ctx, "k1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !existed {
		t.Error("expected existed=true")
	}

	if _, err := b.Get(ctx, "k1"); err != tasks.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBackend_ListByPrefix(t *testing.T) {
	b := New()
	ctx := context.Background()

	for _, key := range []string{"alice:1", "alice:2", "bob:1"} {
		if _, err := b.Put(ctx, key, []byte(`{}`)); err != nil {
			t.Fatalf("put %s failed: %v", key, err)
		}
	}

	recs, err := b.ListByPrefix(ctx, "alice:")
	if err != nil {
		t.Fatalf("list_by_prefix failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records for alice:, got %d", len(recs))
	}
}

func TestBackend_CleanupExpired(t *testing.T) {
	b := New()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	expired, _ := json.Marshal(map[string]any{"expiresAt": past})
	alive, _ := json.Marshal(map[string]any{"expiresAt": future})
	noExpiry, _ := json.Marshal(map[string]any{"value": 1})

	if _, err := b.Put(ctx, "expired", expired); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := b.Put(ctx, "alive", alive); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := b.Put(ctx, "no-expiry", noExpiry); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	removed, err := b.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup_expired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	if _, err := b.Get(ctx, "expired"); err != tasks.ErrNotFound {
		t.Error("expected the expired record to be gone")
	}
	if _, err := b.Get(ctx, "alive"); err != nil {
		t.Error("expected the not-yet-expired record to survive")
	}
	if _, err := b.Get(ctx, "no-expiry"); err != nil {
		t.Error("expected the no-expiry record to survive")
	}
}
