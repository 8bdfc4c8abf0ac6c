// Package mcp implements the client side of the Model Context Protocol:
// a JSON-RPC 2.0 request/response protocol spoken to tool servers over the
// standard streams of an externally spawned subprocess.
//
// The package is organized leaf-first:
//
//   - [Transport] frames and delivers raw JSON-RPC messages to one child
//     process and reports its exit.
//   - [Session] owns a Transport, performs the capability handshake, tracks
//     in-flight requests by correlation id, and exposes the discovered tool
//     and resource manifests.
//   - [Manager] owns the set of named sessions for an agent.
//   - [LocalServer] is an in-process server implementing the same session
//     surface with no subprocess, for embedding and tests.
package mcp
