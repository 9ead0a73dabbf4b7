// Package daemon owns the long-running reloader process.
//
// It takes the single-instance lock, runs the watch loop, the remote reload
// subscription and the optional metrics endpoint, and answers the admin
// requests served by package ipc. Reconciliation itself lives in package
// reconciler; the daemon only decides when it runs.
package daemon
