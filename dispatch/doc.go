// Package dispatch runs one tool call end to end: lookup, input validation,
// admission, worker execution, output splitting and output validation.
//
// A Dispatcher shares nothing between calls except the read-only registry and
// the admission semaphore, so transports may call Dispatch from as many
// goroutines as they like.
package dispatch
