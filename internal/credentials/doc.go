// Package credentials keeps a long-running process authenticated against
// Microsoft Graph.
//
// Manager owns the OAuth2 token lifecycle for one identity: it loads the cached
// token state from the state store, refreshes proactively once fewer than the
// configured margin of validity remains, and persists every new token before
// handing it out. Concurrent callers that find the token stale are serialized
// behind a single refresh so only one request reaches the token endpoint.
//
// Grants come from golang.org/x/oauth2: refresh_token for delegated access,
// client_credentials for app-only access, and authorization_code for the
// one-time consent bootstrap.
package credentials
