// ABOUTME: Package auth implements signed-request authentication for devices
// ABOUTME: Ed25519 signatures over a canonical request string, plus operator tokens
//
// Package auth authenticates requests from registered devices.
//
// Every device owns an Ed25519 key pair whose public half (SPKI DER,
// base64-encoded) is registered with the server. A device signs each request
// by building a canonical string
//
//	METHOD\n<path>\n<timestamp-ms>\n<sha256-hex-of-body>
//
// and sending the signature plus its identity in four headers:
// X-User-Id, X-Device-Id, X-Ts, and X-Sig. The Verifier reconstructs the
// canonical string server-side and checks the signature against the device's
// registered key. Timestamps older (or newer) than the freshness window are
// rejected, which bounds the replay exposure of a captured request. There is
// deliberately no nonce tracking: replaying an identical request inside the
// window succeeds, and endpoints are expected to be idempotent where that
// matters.
//
// Failures carry a Kind and an HTTP status so handlers surface a stable
// status code without string-matching error messages.
//
// The package also provides HS256 operator tokens (JWTVerifier) for the
// small admin surface, and HTTP middleware for both schemes.
package auth
