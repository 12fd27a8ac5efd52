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

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Config controls a GenericTaskStore's defaults and hard limits. Zero
// values are not sensible defaults — callers should start from
// DefaultConfig and override only what they need.
type Config struct {
	// DefaultTTL is applied to Create when no explicit TTL is given.
	DefaultTTL time.Duration
	// MaxTTL is a hard ceiling on Create's requested TTL. Exceeding it
	// rejects the call; it is never clamped down to fit.
	MaxTTL time.Duration

	// MaxVariableSizeBytes bounds the serialized size of a task's
	// variables map after a merge.
	MaxVariableSizeBytes int
	// MaxVariableDepth bounds how deeply a single variable value may nest.
	MaxVariableDepth int
	// MaxStringLength bounds any single string found inside a variable
	// value.
	MaxStringLength int

	// DefaultPollIntervalMS is an advisory hint returned to clients
	// polling a task's status; it is not enforced by this store.
	DefaultPollIntervalMS int64

	// MaxTasksPerOwner is the per-owner task quota, checked on Create.
	// May be observed off-by-one under concurrent creates.
	MaxTasksPerOwner int
	// AllowAnonymous permits owner == "" or owner == AnonymousOwner.
	AllowAnonymous bool
}

// AnonymousOwner is the distinguished owner identifier representing
// unauthenticated access.
const AnonymousOwner = "local"

// DefaultConfig returns the store's documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:            time.Hour,
		MaxTTL:                24 * time.Hour,
		MaxVariableSizeBytes:  256 * 1024,
		MaxVariableDepth:      10,
		MaxStringLength:       65536,
		DefaultPollIntervalMS: 500,
		MaxTasksPerOwner:      100,
		AllowAnonymous:        false,
	}
}

// GenericTaskStore implements the full task lifecycle on top of any
// StorageBackend. It owns every domain rule the backend itself does not
// enforce: owner isolation, the state machine, TTL, variable validation,
// and quota.
type GenericTaskStore struct {
	backend StorageBackend
	cfg     Config
}

// NewGenericTaskStore constructs a store over backend using cfg.
func NewGenericTaskStore(backend StorageBackend, cfg Config) *GenericTaskStore {
	return &GenericTaskStore{backend: backend, cfg: cfg}
}

func recordKey(owner, taskID string) string {
	return owner + ":" + taskID
}

func ownerPrefix(owner string) string {
	return owner + ":"
}

func newTaskID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("tasks: generate id: %w", err)
	}
	return id.String(), nil
}

func (s *GenericTaskStore) checkOwnerAllowed(owner string) error {
	if s.cfg.AllowAnonymous {
		return nil
	}
	if owner == "" || owner == AnonymousOwner {
		return &AnonymousDeniedError{}
	}
	return nil
}

func (s *GenericTaskStore) countOwnerTasks(ctx context.Context, owner string) (int, error) {
	records, err := s.backend.ListByPrefix(ctx, ownerPrefix(owner))
	if err != nil {
		return 0, mapStorageError(err, "")
	}
	return len(records), nil
}

// Create allocates a new task for owner, recording requestMethod and an
// expiry computed from ttl (or the configured default when ttl is zero).
func (s *GenericTaskStore) Create(ctx context.Context, owner, requestMethod string, ttl time.Duration) (*TaskRecord, error) {
	if err := s.checkOwnerAllowed(owner); err != nil {
		return nil, err
	}

	count, err := s.countOwnerTasks(ctx, owner)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxTasksPerOwner {
		return nil, &ResourceExhaustedError{OwnerID: owner, Limit: s.cfg.MaxTasksPerOwner}
	}

	if ttl > s.cfg.MaxTTL {
		return nil, &TTLExceededError{RequestedMS: ttl.Milliseconds(), MaxMS: s.cfg.MaxTTL.Milliseconds()}
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	taskID, err := newTaskID()
	if err != nil {
		return nil, &StoreError{Message: "create task id", Cause: err}
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	record := &TaskRecord{
		Task: Task{
			TaskID:        taskID,
			Status:        StatusWorking,
			CreatedAt:     now,
			LastUpdatedAt: now,
			CreatedMethod: requestMethod,
			ExpiresAt:     &expiresAt,
		},
		OwnerID:       owner,
		Variables:     map[string]any{},
		RequestMethod: requestMethod,
	}

	payload, err := encodeRecord(record)
	if err != nil {
		return nil, &StoreError{Message: "encode task record", Cause: err}
	}
	if _, err := s.backend.Put(ctx, recordKey(owner, taskID), payload); err != nil {
		return nil, mapStorageError(err, taskID)
	}
	return record, nil
}

// getRaw fetches and decodes the record at (owner, taskID) along with its
// storage version, without any owner or expiry check. Callers apply those
// themselves because the checks differ between reads and mutations.
func (s *GenericTaskStore) getRaw(ctx context.Context, owner, taskID string) (*TaskRecord, uint64, error) {
	vr, err := s.backend.Get(ctx, recordKey(owner, taskID))
	if err != nil {
		return nil, 0, mapStorageError(err, taskID)
	}
	record, err := decodeRecord(vr.Payload)
	if err != nil {
		return nil, 0, &StoreError{Message: "decode task record", Cause: err}
	}
	return record, vr.Version, nil
}

// Get returns the task at taskID owned by owner. Expired records are
// still returned; only mutations reject on expiry.
func (s *GenericTaskStore) Get(ctx context.Context, owner, taskID string) (*TaskRecord, error) {
	record, _, err := s.getRaw(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if record.OwnerID != owner {
		return nil, &NotFoundError{TaskID: taskID}
	}
	return record, nil
}

// loadForMutation fetches the record, verifies ownership, and rejects if
// the task has expired. It is the shared preamble for every mutating
// operation.
func (s *GenericTaskStore) loadForMutation(ctx context.Context, owner, taskID string) (*TaskRecord, uint64, error) {
	record, version, err := s.getRaw(ctx, owner, taskID)
	if err != nil {
		return nil, 0, err
	}
	if record.OwnerID != owner {
		return nil, 0, &NotFoundError{TaskID: taskID}
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now().UTC()) {
		return nil, 0, &ExpiredError{TaskID: taskID}
	}
	return record, version, nil
}

func (s *GenericTaskStore) commit(ctx context.Context, owner string, record *TaskRecord, version uint64) error {
	payload, err := encodeRecord(record)
	if err != nil {
		return &StoreError{Message: "encode task record", Cause: err}
	}
	if _, err := s.backend.PutIfVersion(ctx, recordKey(owner, record.TaskID), payload, version); err != nil {
		return mapStorageError(err, record.TaskID)
	}
	return nil
}

// UpdateStatus validates and applies a status transition, optionally
// attaching a status message.
func (s *GenericTaskStore) UpdateStatus(ctx context.Context, owner, taskID string, newStatus Status, message string) (*TaskRecord, error) {
	record, version, err := s.loadForMutation(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if !ValidateTransition(record.Status, newStatus) {
		return nil, &InvalidTransitionError{From: record.Status, To: newStatus}
	}

	record.Status = newStatus
	record.StatusMessage = message
	record.LastUpdatedAt = time.Now().UTC()

	if err := s.commit(ctx, owner, record, version); err != nil {
		return nil, err
	}
	return record, nil
}

// SetVariables merges incoming values into the task's variables. A nil
// value for a key removes that key. The merge, and its size check, run on
// a clone; nothing commits until the merged set is known to fit.
func (s *GenericTaskStore) SetVariables(ctx context.Context, owner, taskID string, updates map[string]any) (*TaskRecord, error) {
	record, version, err := s.loadForMutation(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}

	merged := cloneVariables(record.Variables)
	for k, v := range updates {
		if v == nil {
			delete(merged, k)
			continue
		}
		if err := validateVariable(k, v, s.cfg.MaxVariableDepth, s.cfg.MaxStringLength); err != nil {
			return nil, err
		}
		merged[k] = v
	}

	size, err := variablesSize(merged)
	if err != nil {
		return nil, &StoreError{Message: "measure variables size", Cause: err}
	}
	if size > s.cfg.MaxVariableSizeBytes {
		return nil, &VariableSizeExceededError{SizeBytes: size, LimitBytes: s.cfg.MaxVariableSizeBytes}
	}

	record.Variables = merged
	record.LastUpdatedAt = time.Now().UTC()

	if err := s.commit(ctx, owner, record, version); err != nil {
		return nil, err
	}
	return record, nil
}

// CompleteWithResult atomically transitions the task to Completed and
// stores result, in a single CAS write. This store deliberately has no
// standalone set-result operation: a result always travels with the
// terminal transition that produced it.
func (s *GenericTaskStore) CompleteWithResult(ctx context.Context, owner, taskID string, result any) (*TaskRecord, error) {
	record, version, err := s.loadForMutation(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if !ValidateTransition(record.Status, StatusCompleted) {
		return nil, &InvalidTransitionError{From: record.Status, To: StatusCompleted}
	}

	record.Status = StatusCompleted
	record.Result = result
	record.LastUpdatedAt = time.Now().UTC()

	if err := s.commit(ctx, owner, record, version); err != nil {
		return nil, err
	}
	return record, nil
}

// GetResult returns the stored result. The task must be in a terminal
// status; otherwise ResultNotReadyError is returned.
func (s *GenericTaskStore) GetResult(ctx context.Context, owner, taskID string) (any, error) {
	record, err := s.Get(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if !record.Status.IsTerminal() {
		return nil, &ResultNotReadyError{TaskID: taskID, Status: record.Status}
	}
	return record.Result, nil
}

// Cancel transitions the task to Cancelled, or — when result is non-nil —
// completes it with that result instead. This is the cancel-as-completion
// path used by client-driven workflow termination: tasks/cancel carrying
// a result means "we're done", not "abandon this".
func (s *GenericTaskStore) Cancel(ctx context.Context, owner, taskID string, result any) (*TaskRecord, error) {
	if result != nil {
		return s.CompleteWithResult(ctx, owner, taskID, result)
	}
	return s.UpdateStatus(ctx, owner, taskID, StatusCancelled, "")
}

// List returns up to limit tasks owned by owner, ordered newest-created
// first with id as a tie-break, starting after cursor (the task id last
// returned by a previous call).
func (s *GenericTaskStore) List(ctx context.Context, owner, cursor string, limit int) ([]*TaskRecord, string, error) {
	records, err := s.backend.ListByPrefix(ctx, ownerPrefix(owner))
	if err != nil {
		return nil, "", mapStorageError(err, "")
	}

	decoded := make([]*TaskRecord, 0, len(records))
	for _, kr := range records {
		record, err := decodeRecord(kr.Record.Payload)
		if err != nil {
			continue
		}
		decoded = append(decoded, record)
	}

	sort.Slice(decoded, func(i, j int) bool {
		if !decoded[i].CreatedAt.Equal(decoded[j].CreatedAt) {
			return decoded[i].CreatedAt.After(decoded[j].CreatedAt)
		}
		return decoded[i].TaskID < decoded[j].TaskID
	})

	start := 0
	if cursor != "" {
		for i, r := range decoded {
			if r.TaskID == cursor {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(decoded) || limit <= 0 {
		end = len(decoded)
	}
	if start > len(decoded) {
		start = len(decoded)
	}

	page := decoded[start:end]
	nextCursor := ""
	if end < len(decoded) {
		nextCursor = page[len(page)-1].TaskID
	}
	return page, nextCursor, nil
}

// CleanupExpired delegates to the backend's own cleanup and reports how
// many records were removed.
func (s *GenericTaskStore) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.backend.CleanupExpired(ctx)
	if err != nil {
		return 0, mapStorageError(err, "")
	}
	return n, nil
}

// encodeRecord serializes a TaskRecord deterministically. encoding/json
// preserves struct field declaration order, which is the stability this
// store relies on; map-valued fields (Variables, Meta) are left to Go's
// own sorted-key map encoding, which is itself deterministic.
func encodeRecord(r *TaskRecord) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(payload []byte) (*TaskRecord, error) {
	var r TaskRecord
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func cloneVariables(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func variablesSize(vars map[string]any) (int, error) {
	b, err := json.Marshal(vars)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// validateVariable enforces the depth and string-length guards against a
// single candidate value before it is merged in.
func validateVariable(key string, value any, maxDepth, maxStringLength int) error {
	return checkDepth(key, value, 1, maxDepth, maxStringLength)
}

func checkDepth(key string, value any, depth, maxDepth, maxStringLength int) error {
	if depth > maxDepth {
		return &VariableSchemaError{Field: key, Reason: fmt.Sprintf("exceeds max depth %d", maxDepth)}
	}
	switch v := value.(type) {
	case string:
		if len(v) > maxStringLength {
			return &VariableSchemaError{Field: key, Reason: fmt.Sprintf("string exceeds max length %d", maxStringLength)}
		}
	case map[string]any:
		for k, nested := range v {
			if err := checkDepth(key+"."+k, nested, depth+1, maxDepth, maxStringLength); err != nil {
				return err
			}
		}
	case []any:
		for i, nested := range v {
			if err := checkDepth(fmt.Sprintf("%s[%d]", key, i), nested, depth+1, maxDepth, maxStringLength); err != nil {
				return err
			}
		}
	}
	return nil
}
