// Package preflight provides readiness checks for the directories, binaries
// and remote channel the reloader depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll on start and logs every failed check, so a
//     misconfigured host shows up before the first apply fails.
//   - The CLI "status" command renders the same checks next to the daemon
//     state, including when the daemon is not running.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
