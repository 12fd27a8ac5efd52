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

// Package tasks implements the durable, owner-isolated task subsystem that
// sits underneath an MCP server's tools/call dispatch: creating tasks,
// polling and resuming them across calls, and matching tool results against
// an evolving workflow plan.
//
// Three layers compose this package: StorageBackend (pkg/tasks/backend/...)
// is a dumb versioned key-value store; GenericTaskStore owns all domain
// logic (state machine, owner isolation, TTL, variable validation, cursor
// pagination) on top of any backend; TaskRouter adapts the store to a
// server's request dispatch using only JSON values, so this package never
// needs to depend on a transport implementation.
package tasks
