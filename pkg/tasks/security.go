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

import "context"

// Identity carries whatever an embedding server's own authentication
// middleware was able to establish about the caller. This package never
// parses credentials; it only resolves an owner string from the pieces
// handed to it.
type Identity struct {
	Subject   string
	ClientID  string
	SessionID string
}

// ResolveOwner picks the owner identifier for a call: the authenticated
// subject if present, else the client id, else the session id, else the
// anonymous owner. Empty strings are skipped at every step, never
// produced as the result of a non-fallback branch.
func ResolveOwner(id Identity) string {
	if id.Subject != "" {
		return id.Subject
	}
	if id.ClientID != "" {
		return id.ClientID
	}
	if id.SessionID != "" {
		return id.SessionID
	}
	return AnonymousOwner
}

type identityContextKey struct{}

// ContextWithIdentity attaches id to ctx for later retrieval by
// IdentityFromContext. Authentication middleware upstream of this package
// is expected to call this once it has established the caller's identity.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the Identity attached by
// ContextWithIdentity, or the zero Identity if none was attached.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}
