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
)

func TestResolveOwner(t *testing.T) {
	cases := []struct {
		name string
		id   Identity
		want string
	}{
		{"subject wins over everything", Identity{Subject: "sub", ClientID: "client", SessionID: "session"}, "sub"},
		{"client id used when subject absent", Identity{ClientID: "client", SessionID: "session"}, "client"},
		{"session id used when subject and client absent", Identity{SessionID: "session"}, "session"},
		{"anonymous when nothing is set", Identity{}, AnonymousOwner},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveOwner(tc.id); got != tc.want {
				t.Errorf("ResolveOwner(%+v) = %q, want %q", tc.id, got, tc.want)
			}
		})
	}
}

func TestContextWithIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := IdentityFromContext(ctx); got != (Identity{}) {
		t.Errorf("expected zero Identity on a bare context, got %+v", got)
	}

	id := Identity{Subject: "sub"}
	ctx = ContextWithIdentity(ctx, id)
	if got := IdentityFromContext(ctx); got != id {
		t.Errorf("expected %+v, got %+v", id, got)
	}
}
