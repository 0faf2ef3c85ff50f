// Package tools defines the Tool contract, the capability matrix that gates
// each tool on its configuration, and the registry that dispatches tool calls.
//
// A call flows through the registry in a fixed order: tool lookup,
// capability check, argument decoding, input validation and finally
// the downstream call. Every failure is returned as a *toolerr.Error.
package tools
