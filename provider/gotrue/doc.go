// Package gotrue adapts a GoTrue-compatible HTTP auth backend to
// goGate.IdentityProvider.
//
// The client half of the session (access and refresh token) is cached in a
// store.Store so it survives a restart when the store does. GetVerifiedUser
// always performs a live GET /user; the cached access token is only decoded
// for its aal claim after the server has accepted it.
//
// Backend failures are returned as *goGate.ProviderError. Raw backend text
// stays inside the error and is never meant for end users.
package gotrue
