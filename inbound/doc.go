// Package inbound routes provider-originated webhook requests into the
// approval engine.
//
// The Router verifies method, rate, payload shape and signature before any
// state is touched, then dispatches by payload event type. Routing errors
// never escape Handle; they convert to {success, message} results with an
// HTTP-equivalent status code. Handler adapts the router to net/http for
// mounting at the canonical webhook paths.
package inbound
