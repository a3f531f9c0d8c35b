// Package server hosts the Fiber HTTP service, the request middleware chain and
// the ordered route table that decides which handler serves a request.
// Static routes resolve to a named cache-first profile, dynamic routes carry
// their own Fiber handler, and anything unmatched falls through to the proxy's
// network passthrough. Keep exports narrow and accept explicit dependencies.
package server
