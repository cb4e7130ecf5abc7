// Package credstore holds the named secrets (access and refresh credentials)
// shared by the fetch gateway and the route gate.
//
// A Store is the single authoritative place credentials live. Writers rotate
// or delete through it and readers always go back to it; nothing caches a
// credential beside the store.
package credstore
