// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// The service is registered as "Reloader". Request and response types live in
// types.go; keep them backwards compatible so an older CLI can still talk to a
// newer daemon.
package ipc
