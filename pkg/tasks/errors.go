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

package tasks

import "fmt"

// JSON-RPC error codes this module's errors map onto. The transport layer
// that owns the actual JSON-RPC envelope is out of scope; these constants
// exist so callers of the router can build that envelope without
// re-deriving the mapping.
const (
	RPCCodeTasksNotEnabled = -32601
	RPCCodeInvalidParams   = -32602
	RPCCodeInternal        = -32603
)

// TaskError is implemented by every error kind this package produces. Code
// reports the JSON-RPC error code a transport should surface to the
// client.
type TaskError interface {
	error
	Code() int
}

// NotFoundError is returned whether a task id was never created, has
// expired past physical removal, or belongs to a different owner. All
// three cases are indistinguishable by design.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

func (e *NotFoundError) Code() int { return RPCCodeInvalidParams }

// InvalidTransitionError is returned when a status transition is not in
// the state machine, including any attempted self-transition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Code() int { return RPCCodeInvalidParams }

// ExpiredError is returned by mutation operations on a task whose expiry
// has passed. Reads are unaffected: expired records remain readable until
// physically removed by cleanup.
type ExpiredError struct {
	TaskID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("task expired: %s", e.TaskID)
}

func (e *ExpiredError) Code() int { return RPCCodeInvalidParams }

// ResourceExhaustedError is returned when an owner has reached its task
// quota. It is a safety-net limit, not an exact billing boundary — see
// GenericTaskStore.Create.
type ResourceExhaustedError struct {
	OwnerID string
	Limit   int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("owner %s has reached its task limit of %d", e.OwnerID, e.Limit)
}

func (e *ResourceExhaustedError) Code() int { return RPCCodeInvalidParams }

// VariableSizeExceededError is returned when a merged variables map would
// exceed the configured serialized size limit. The commit is rejected
// before any write.
type VariableSizeExceededError struct {
	SizeBytes  int
	LimitBytes int
}

func (e *VariableSizeExceededError) Error() string {
	return fmt.Sprintf("variables size %d bytes exceeds limit of %d bytes", e.SizeBytes, e.LimitBytes)
}

func (e *VariableSizeExceededError) Code() int { return RPCCodeInvalidParams }

// VariableSchemaError is returned when a candidate variable value violates
// the depth or string-length guard.
type VariableSchemaError struct {
	Field  string
	Reason string
}

func (e *VariableSchemaError) Error() string {
	return fmt.Sprintf("variable %s violates schema: %s", e.Field, e.Reason)
}

func (e *VariableSchemaError) Code() int { return RPCCodeInvalidParams }

// ConcurrentModificationError surfaces a backend CAS conflict verbatim.
// The store never retries; the caller decides.
type ConcurrentModificationError struct {
	Expected uint64
	Actual   uint64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification: expected version %d, actual %d", e.Expected, e.Actual)
}

func (e *ConcurrentModificationError) Code() int { return RPCCodeInvalidParams }

// StorageFullError is returned when the backend reports it has no more
// capacity.
type StorageFullError struct{}

func (e *StorageFullError) Error() string { return "storage backend is at capacity" }

func (e *StorageFullError) Code() int { return RPCCodeInternal }

// StoreError wraps an unexpected backend or serialization failure. The
// underlying cause is preserved for errors.Is/errors.As but never
// included verbatim in the client-visible message.
type StoreError struct {
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	return e.Message
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Code() int { return RPCCodeInternal }

// AnonymousDeniedError is returned when the store is configured to reject
// anonymous (owner == "" or owner == "local") access and the caller is
// anonymous.
type AnonymousDeniedError struct{}

func (e *AnonymousDeniedError) Error() string { return "anonymous task access is not permitted" }

func (e *AnonymousDeniedError) Code() int { return RPCCodeInvalidParams }

// TTLExceededError is returned when a create call's requested TTL exceeds
// the configured maximum. The TTL is hard-rejected, never clamped.
type TTLExceededError struct {
	RequestedMS int64
	MaxMS       int64
}

func (e *TTLExceededError) Error() string {
	return fmt.Sprintf("requested ttl %dms exceeds maximum of %dms", e.RequestedMS, e.MaxMS)
}

func (e *TTLExceededError) Code() int { return RPCCodeInvalidParams }

// ResultNotReadyError is returned by get_result when the task has not yet
// reached a terminal status.
type ResultNotReadyError struct {
	TaskID string
	Status Status
}

func (e *ResultNotReadyError) Error() string {
	return fmt.Sprintf("task %s has no result yet (status: %s)", e.TaskID, e.Status)
}

func (e *ResultNotReadyError) Code() int { return RPCCodeInvalidParams }
