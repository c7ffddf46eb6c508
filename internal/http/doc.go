// Package http exposes the medication reminder services over a chi router.
//
// Public endpoints:
//   - POST /auth/signup, POST /auth/signin: body {"email","password"} plus
//     "display_name" and "timezone" on sign up. Responds with
//     {"token","expires_at","user"}; the token is also set as the
//     `X-Session-Token` header and a `session_token` cookie.
//   - POST /auth/signout: revokes the presented token. 204 No Content.
//   - POST /auth/password-reset {"email"} answers 202 whether or not the email
//     is registered; POST /auth/password-reset/confirm {"token","password"}.
//
// Session endpoints accept the token as `Authorization: Bearer <token>`, the
// `X-Session-Token` header, or the cookie:
//   - GET/PUT /profile
//   - GET /medications, POST /medications, PUT /medications/{id},
//     DELETE /medications/{id}
//   - GET /doses/today?date=YYYY-MM-DD
//   - POST /doses/{medicationID}/{scheduleID}/taken|missed|snooze with an
//     optional body {"date","minutes"}
//   - GET /history?status=all|taken|missed|snoozed&limit=N
//   - GET /export, POST /import
//
// Errors are JSON {"error_code","message","errors"}: validation failures map
// to 422, authentication failures to 401, ownership failures to 403, missing
// resources to 404, duplicates to 409 and collaborator failures to 502.
package http
