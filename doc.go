// Package taskqueue provides an in-process worker-pool abstraction:
// callers register a named job type with a handler and a capacity
// bound, the Manager spawns isolated execution units on demand, and
// submitted payloads are routed to an available unit and resolved
// asynchronously through a ResultHandle.
//
// A durable SQLite-backed queue (queue/sqlite) and a polling Consumer
// connect the pools to work that must survive the process.
package taskqueue
