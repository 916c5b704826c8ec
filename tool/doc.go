// Package tool defines the contract boundary between petalstat and its
// external analysis workers.
//
// The package is split by concern:
//   - definition/registry: the immutable catalogue of tool definitions
//   - validate/type_system: structural argument and result checks
//   - executor/process: the worker subprocess lifecycle
//   - splitter: separation of presentation metadata from the result body
//   - error: the ToolError taxonomy shared by every transport
//
// Nothing in this package holds per-call state; the dispatch package owns the
// call lifecycle and composes these pieces.
package tool
