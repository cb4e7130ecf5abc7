// Package roleguard decides, for every inbound page request, whether it may
// proceed or must be redirected.
//
// Paths are classified by a static Table into public, common-authenticated
// or role-owned areas. The caller's access credential is verified into a
// Verdict, and Decide combines both into a Decision. Gate wraps that pure
// function as HTTP middleware backed by the request's cookie jar.
package roleguard
