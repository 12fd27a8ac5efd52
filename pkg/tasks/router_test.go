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
	"testing"
	"time"

	"github.com/mcp-tasks/core/pkg/tasks/backend/memory"
)

type fakeRegistry map[string]ToolExecution

func (r fakeRegistry) ToolExecution(toolName string) (ToolExecution, bool) {
	exec, ok := r[toolName]
	return exec, ok
}

func newTestRouter(t *testing.T, registry ToolMetadataLookup) *TaskRouter {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AllowAnonymous = true
	store := NewGenericTaskStore(memory.New(), cfg)
	return NewTaskRouter(store, registry, nil)
}

func TestToolRequiresTask(t *testing.T) {
	router := newTestRouter(t, fakeRegistry{"run": {TaskSupport: TaskSupportRequired}})

	if !router.ToolRequiresTask("run") {
		t.Error("expected run to require a task")
	}
	if router.ToolRequiresTask("other") {
		t.Error("expected an unregistered tool to not require a task")
	}
}

func TestToolRequiresTaskWithNilRegistry(t *testing.T) {
	router := newTestRouter(t, nil)
	if router.ToolRequiresTask("run") {
		t.Error("expected no registry to mean no tool requires a task")
	}
}

func TestSetRegistryAttachesAfterConstruction(t *testing.T) {
	router := newTestRouter(t, nil)
	router.SetRegistry(fakeRegistry{"run": {TaskSupport: TaskSupportRequired}})

	if !router.ToolRequiresTask("run") {
		t.Error("expected SetRegistry to take effect")
	}
}

func TestHandleTaskCallSeedsVariables(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()

	created, err := router.HandleTaskCall(ctx, "run", map[string]any{"x": 1.0}, time.Hour, "progress-token", "u1")
	if err != nil {
		t.Fatalf("handle task call failed: %v", err)
	}
	if created.Task.Status != StatusWorking {
		t.Errorf("expected a freshly created task to be working, got %v", created.Task.Status)
	}

	got, err := router.HandleTasksGet(ctx, created.Task.TaskID, "u1")
	if err != nil {
		t.Fatalf("handle tasks get failed: %v", err)
	}
	if got.TaskID != created.Task.TaskID {
		t.Errorf("expected matching task id, got %s", got.TaskID)
	}
}

func TestHandleTasksResultWrapsMeta(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()

	created, err := router.HandleTaskCall(ctx, "run", nil, time.Hour, "", "u1")
	if err != nil {
		t.Fatalf("handle task call failed: %v", err)
	}

	if _, err := router.store.CompleteWithResult(ctx, "u1", created.Task.TaskID, map[string]any{"answer": 42.0}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	wrapped, err := router.HandleTasksResult(ctx, created.Task.TaskID, "u1")
	if err != nil {
		t.Fatalf("handle tasks result failed: %v", err)
	}

	meta, ok := wrapped[MetaKey].(map[string]any)
	if !ok {
		t.Fatalf("expected a _meta entry, got %#v", wrapped[MetaKey])
	}
	related, ok := meta[RelatedTaskMetaKey].(map[string]any)
	if !ok || related["taskId"] != created.Task.TaskID {
		t.Errorf("expected related-task meta to carry the task id, got %#v", meta[RelatedTaskMetaKey])
	}
}

func TestHandleTasksListPagination(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := router.HandleTaskCall(ctx, "run", nil, time.Hour, "", "u1"); err != nil {
			t.Fatalf("handle task call failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	result, err := router.HandleTasksList(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("handle tasks list failed: %v", err)
	}
	if len(result.Tasks) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(result.Tasks))
	}
}

func TestHandleTasksCancelAsCompletion(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()

	created, err := router.HandleTaskCall(ctx, "run", nil, time.Hour, "", "u1")
	if err != nil {
		t.Fatalf("handle task call failed: %v", err)
	}

	cancelled, err := router.HandleTasksCancel(ctx, created.Task.TaskID, "u1", map[string]any{"partial": true})
	if err != nil {
		t.Fatalf("handle tasks cancel failed: %v", err)
	}
	if cancelled.Status != StatusCompleted {
		t.Errorf("expected a non-nil cancel result to complete the task, got %v", cancelled.Status)
	}
}

func TestHandleTasksCancelWithoutResult(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()

	created, err := router.HandleTaskCall(ctx, "run", nil, time.Hour, "", "u1")
	if err != nil {
		t.Fatalf("handle task call failed: %v", err)
	}

	cancelled, err := router.HandleTasksCancel(ctx, created.Task.TaskID, "u1", nil)
	if err != nil {
		t.Fatalf("handle tasks cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %v", cancelled.Status)
	}
}

func TestHandleWorkflowContinuationAdvancesStep(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx := context.Background()

	created, err := router.HandleTaskCall(ctx, "orchestrator", nil, time.Hour, "", "u1")
	if err != nil {
		t.Fatalf("handle task call failed: %v", err)
	}

	progress := WorkflowProgress{Steps: []WorkflowStep{{Name: "fetch-a", ToolName: "fetch", Status: StepPending}}}
	if _, err := router.store.SetVariables(ctx, "u1", created.Task.TaskID, map[string]any{VarWorkflowProgress: progress}); err != nil {
		t.Fatalf("seed progress failed: %v", err)
	}

	router.HandleWorkflowContinuation(ctx, created.Task.TaskID, "u1", "fetch", map[string]any{"ok": true})

	record, err := router.store.Get(ctx, "u1", created.Task.TaskID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Variables[VarWorkflowResultPrefix+"fetch-a"] == nil {
		t.Error("expected the step result to be recorded")
	}
}

func TestHandleWorkflowContinuationOnMissingTaskDoesNotPanic(t *testing.T) {
	router := newTestRouter(t, nil)
	router.HandleWorkflowContinuation(context.Background(), "nonexistent", "u1", "fetch", map[string]any{})
}
