// Package middleware exposes net/http guards over goGate.Engine access
// decisions.
//
// # Guards
//
//   - [Guard] admits the roles it is given, or any role when none are.
//   - [RequireSignedIn] admits any signed-in user.
//   - [RequireStaff] admits teachers, admins and developers.
//
// Each guard calls Engine.Authorize and answers 503 while loading, 401 when
// signed out and 403 for a pending step-up or a role mismatch. A pending
// step-up also saves the request path as the resume intent. Allowed
// requests carry the resolved user in their context, see [UserFromContext].
//
// # What this package must NOT do
//
//   - Read tokens or cookies (the engine owns the session).
//   - Inspect user metadata or profile rows for privilege.
//   - Decide anything beyond the engine's Decision.
package middleware
