// Package jwt reads and mints the provider access tokens this core consumes.
//
// The external identity backend signs access tokens whose claims carry the
// server-issued authority attributes (app_metadata) and the authentication
// assurance level (aal). Providers parse them here after a live server round
// trip; the in-process test backend also mints them here.
//
// # What this package must NOT do
//
//   - Decide privilege. Role narrowing lives in the root package.
//   - Trust user_metadata for anything but presentation.
package jwt
