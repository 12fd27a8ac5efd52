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

// Package tasks: router.go adapts GenericTaskStore to a server's request
// dispatch. Every operation here takes and returns plain JSON values
// (map[string]any, or values that marshal cleanly) so this package never
// depends on any particular transport's request/response types.
package tasks

import (
	"context"
	"log/slog"
	"time"
)

// ToolMetadataLookup reports a registered tool's execution metadata. The
// embedding server's tool registry implements this; the router only ever
// reads taskSupport.
type ToolMetadataLookup interface {
	ToolExecution(toolName string) (ToolExecution, bool)
}

// TaskRouter adapts store operations to a server's dispatch.
type TaskRouter struct {
	store    *GenericTaskStore
	registry ToolMetadataLookup
	logger   *slog.Logger
}

// NewTaskRouter constructs a router over store, consulting registry to
// decide whether a tool requires task-backed execution.
func NewTaskRouter(store *GenericTaskStore, registry ToolMetadataLookup, logger *slog.Logger) *TaskRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRouter{store: store, registry: registry, logger: logger}
}

// SetRegistry attaches (or replaces) the tool metadata lookup consulted by
// ToolRequiresTask. Useful when the registry and the router are
// constructed in different places and wired together afterward.
func (r *TaskRouter) SetRegistry(registry ToolMetadataLookup) {
	r.registry = registry
}

// ToolRequiresTask reports whether toolName declares `taskSupport:
// required` in its registered metadata.
func (r *TaskRouter) ToolRequiresTask(toolName string) bool {
	if r.registry == nil {
		return false
	}
	exec, ok := r.registry.ToolExecution(toolName)
	if !ok {
		return false
	}
	return exec.TaskSupport == TaskSupportRequired
}

// HandleTaskCall creates a task backing a tool invocation, seeding its
// variables with the tool name, its arguments, and any progress token, and
// returns the wire-form CreateTaskResult.
func (r *TaskRouter) HandleTaskCall(ctx context.Context, toolName string, arguments map[string]any, ttlHint time.Duration, progressToken string, owner string) (CreateTaskResult, error) {
	record, err := r.store.Create(ctx, owner, toolName, ttlHint)
	if err != nil {
		return CreateTaskResult{}, err
	}

	vars := map[string]any{
		"toolName":  toolName,
		"arguments": arguments,
	}
	if progressToken != "" {
		vars["progressToken"] = progressToken
	}
	updated, err := r.store.SetVariables(ctx, owner, record.TaskID, vars)
	if err != nil {
		return CreateTaskResult{}, err
	}

	return CreateTaskResult{Task: updated.Task}, nil
}

// HandleTasksGet returns the wire-form task for task_id.
func (r *TaskRouter) HandleTasksGet(ctx context.Context, taskID, owner string) (GetTaskResult, error) {
	record, err := r.store.Get(ctx, owner, taskID)
	if err != nil {
		return Task{}, err
	}
	return record.Task, nil
}

// HandleTasksResult returns the stored result for a terminal task, wrapped
// with the related-task meta entry clients use to correlate it back to
// the originating task.
func (r *TaskRouter) HandleTasksResult(ctx context.Context, taskID, owner string) (map[string]any, error) {
	result, err := r.store.GetResult(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result": result,
		MetaKey: map[string]any{
			RelatedTaskMetaKey: map[string]any{"taskId": taskID},
		},
	}, nil
}

// HandleTasksList returns owner's tasks, paginated.
func (r *TaskRouter) HandleTasksList(ctx context.Context, owner, cursor string, limit int) (ListTasksResult, error) {
	records, nextCursor, err := r.store.List(ctx, owner, cursor, limit)
	if err != nil {
		return ListTasksResult{}, err
	}
	taskList := make([]Task, 0, len(records))
	for _, rec := range records {
		taskList = append(taskList, rec.Task)
	}
	return ListTasksResult{Tasks: taskList, NextCursor: nextCursor}, nil
}

// HandleTasksCancel cancels task_id, or — when result is non-nil —
// completes it with that result instead (cancel-as-completion).
func (r *TaskRouter) HandleTasksCancel(ctx context.Context, taskID, owner string, result any) (CancelTaskResult, error) {
	record, err := r.store.Cancel(ctx, owner, taskID, result)
	if err != nil {
		return Task{}, err
	}
	return record.Task, nil
}

// HandleWorkflowContinuation advances task_id's workflow progress, if any,
// in response to a completed tool call. Continuation errors are logged,
// never propagated: the caller has already seen the tool's own result by
// the time this runs, and a recording failure must not retroactively
// change that outcome.
func (r *TaskRouter) HandleWorkflowContinuation(ctx context.Context, taskID, owner, toolName string, toolResult any) {
	record, err := r.store.Get(ctx, owner, taskID)
	if err != nil {
		r.logger.Warn("workflow continuation: load task failed", "task_id", taskID, "error", err)
		return
	}

	progress := decodeWorkflowProgress(record.Variables)
	progress, updates := ApplyContinuation(progress, toolName, toolResult)
	updates[VarWorkflowProgress] = progress

	if _, err := r.store.SetVariables(ctx, owner, taskID, updates); err != nil {
		r.logger.Warn("workflow continuation: commit failed", "task_id", taskID, "error", err)
	}
}
