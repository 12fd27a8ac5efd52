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

// Package tasks: storage.go defines the dumb, versioned key-value contract
// every backend implements. Backends never parse the byte payload they
// store and never enforce domain rules (ownership, TTL, schema, size) —
// all of that lives one layer up in GenericTaskStore.
package tasks

import (
	"context"
	"errors"
	"fmt"
)

// VersionedRecord pairs an opaque byte payload with its monotonic version.
// Version is 1 on create and increments on every successful write.
type VersionedRecord struct {
	Payload []byte
	Version uint64
}

// KeyedRecord is one entry of a ListByPrefix result.
type KeyedRecord struct {
	Key    string
	Record VersionedRecord
}

// StorageBackend is the six-operation contract every backend must
// implement. All operations are cancel-safe with respect to ctx.
//
// Implementations must keep versions strictly monotonic per key: a
// successful PutIfVersion(expected=N) guarantees no other successful
// write to that key observed version N since the read that obtained it.
type StorageBackend interface {
	// Get returns the current record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (VersionedRecord, error)

	// Put writes payload unconditionally, assigning version 1 on create
	// or previous+1 on overwrite.
	Put(ctx context.Context, key string, payload []byte) (uint64, error)

	// PutIfVersion writes payload only if the stored version equals
	// expected. On a missing key it returns *VersionConflictError with
	// Actual=0 — callers must treat a missing key as a conflict, not an
	// implicit create.
	PutIfVersion(ctx context.Context, key string, payload []byte, expected uint64) (uint64, error)

	// Delete removes key. It reports whether a record existed; deleting
	// an absent key is not an error.
	Delete(ctx context.Context, key string) (bool, error)

	// ListByPrefix returns every record whose key starts with prefix, in
	// unspecified order.
	ListByPrefix(ctx context.Context, prefix string) ([]KeyedRecord, error)

	// CleanupExpired removes records past their expiry and reports how
	// many were removed. Best-effort; may be a no-op for backends with
	// native TTL enforcement.
	CleanupExpired(ctx context.Context) (int, error)
}

// ErrNotFound is returned by Get for a missing key. PutIfVersion reports a
// missing key as *VersionConflictError with Actual=0 instead.
var ErrNotFound = errors.New("storage: not found")

// VersionConflictError is returned by PutIfVersion when the stored
// version does not match the expected one, including the missing-key case
// (Actual == 0).
type VersionConflictError struct {
	Key      string
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, actual %d", e.Key, e.Expected, e.Actual)
}

// CapacityExceededError is returned when a backend has no more room to
// accept writes.
type CapacityExceededError struct{}

func (e *CapacityExceededError) Error() string { return "storage backend capacity exceeded" }

// BackendError wraps an unexpected backend-level failure (connection
// loss, serialization failure at the storage layer, unexpected shape).
type BackendError struct {
	Message string
	Cause   error
}

func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BackendError) Unwrap() error { return e.Cause }

// mapStorageError maps a StorageBackend error onto the domain TaskError
// taxonomy. taskID is used only to build a NotFoundError's message; it
// never reveals whether the underlying cause was "absent" or
// "foreign-owned" because callers only invoke this after already deciding
// the operation is a NotFound case, or because the backend itself
// returned ErrNotFound.
func mapStorageError(err error, taskID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{TaskID: taskID}
	}
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return &ConcurrentModificationError{Expected: vc.Expected, Actual: vc.Actual}
	}
	var capErr *CapacityExceededError
	if errors.As(err, &capErr) {
		return &StorageFullError{}
	}
	return &StoreError{Message: "storage backend error", Cause: err}
}
