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
)

// TaskContext is a cheap-to-clone handle on one task: a store reference
// plus the task and owner ids. Handlers carry it by value; nothing here
// holds a lock or a connection.
type TaskContext struct {
	store   *GenericTaskStore
	taskID  string
	ownerID string
}

// NewTaskContext binds a handle to one task owned by owner.
func NewTaskContext(store *GenericTaskStore, taskID, ownerID string) TaskContext {
	return TaskContext{store: store, taskID: taskID, ownerID: ownerID}
}

// TaskID returns the bound task's id.
func (tc TaskContext) TaskID() string { return tc.taskID }

// OwnerID returns the bound task's owner.
func (tc TaskContext) OwnerID() string { return tc.ownerID }

func (tc TaskContext) variables(ctx context.Context) map[string]any {
	record, err := tc.store.Get(ctx, tc.ownerID, tc.taskID)
	if err != nil {
		return nil
	}
	return record.Variables
}

// GetString returns the string variable at key, or "", false if it is
// absent or not a string.
func (tc TaskContext) GetString(ctx context.Context, key string) (string, bool) {
	v, ok := tc.variables(ctx)[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt64 returns the integer variable at key. JSON numbers decode as
// float64, so this also accepts a float64 with no fractional part.
func (tc TaskContext) GetInt64(ctx context.Context, key string) (int64, bool) {
	v, ok := tc.variables(ctx)[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// GetFloat64 returns the numeric variable at key, or 0, false if absent or
// not numeric.
func (tc TaskContext) GetFloat64(ctx context.Context, key string) (float64, bool) {
	v, ok := tc.variables(ctx)[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// GetBool returns the boolean variable at key, or false, false if absent
// or not a bool.
func (tc TaskContext) GetBool(ctx context.Context, key string) (bool, bool) {
	v, ok := tc.variables(ctx)[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetInto deserializes the variable at key into a value of type T. It
// returns false rather than an error on a missing key or a failed
// conversion, preserving the loosely-typed variable model: callers treat
// "absent" and "wrong shape" identically.
func GetInto[T any](ctx context.Context, tc TaskContext, key string) (T, bool) {
	var zero T
	v, ok := tc.variables(ctx)[key]
	if !ok {
		return zero, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, false
	}
	return out, true
}

// Set writes a single variable.
func (tc TaskContext) Set(ctx context.Context, key string, value any) error {
	_, err := tc.store.SetVariables(ctx, tc.ownerID, tc.taskID, map[string]any{key: value})
	return err
}

// Merge writes several variables in one commit.
func (tc TaskContext) Merge(ctx context.Context, updates map[string]any) error {
	_, err := tc.store.SetVariables(ctx, tc.ownerID, tc.taskID, updates)
	return err
}

// Delete removes a variable.
func (tc TaskContext) Delete(ctx context.Context, key string) error {
	_, err := tc.store.SetVariables(ctx, tc.ownerID, tc.taskID, map[string]any{key: nil})
	return err
}

// Complete transitions the task to Completed and stores value as its
// result in one CAS write.
func (tc TaskContext) Complete(ctx context.Context, value any) error {
	_, err := tc.store.CompleteWithResult(ctx, tc.ownerID, tc.taskID, value)
	return err
}

// Fail transitions the task to Failed with msg as its status message.
func (tc TaskContext) Fail(ctx context.Context, msg string) error {
	_, err := tc.store.UpdateStatus(ctx, tc.ownerID, tc.taskID, StatusFailed, msg)
	return err
}

// RequireInput transitions the task to InputRequired with msg as its
// status message.
func (tc TaskContext) RequireInput(ctx context.Context, msg string) error {
	_, err := tc.store.UpdateStatus(ctx, tc.ownerID, tc.taskID, StatusInputRequired, msg)
	return err
}

// Resume transitions the task from InputRequired back to Working.
func (tc TaskContext) Resume(ctx context.Context) error {
	_, err := tc.store.UpdateStatus(ctx, tc.ownerID, tc.taskID, StatusWorking, "")
	return err
}

// Cancel transitions the task to Cancelled.
func (tc TaskContext) Cancel(ctx context.Context) error {
	_, err := tc.store.Cancel(ctx, tc.ownerID, tc.taskID, nil)
	return err
}
