// Package httpapi serves the goGate engine over HTTP with gin.
//
// Routes:
//
//	POST /auth/sign-in         {"email","password"}
//	POST /auth/sign-up         {"email","password","display_name"}
//	POST /auth/sign-out
//	POST /auth/password-reset  {"email"}, always 202
//	GET  /auth/session
//	GET  /auth/mfa
//	POST /auth/mfa/verify      {"code"}
//
// Protected application routes mount behind [RequireAccess], which maps
// Engine.Authorize onto 503, 401 and 403. Error bodies carry a stable code
// and the engine's user-facing message, never backend text.
package httpapi
