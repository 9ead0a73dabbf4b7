// Package logging builds the slog loggers used by the reloader daemon and CLI.
//
// Console output is a compact human format with the component, trigger and
// attempt of each line in the header; JSON output is meant for files and log
// shippers. Context helpers carry the apply attempt ID so every line logged
// while an attempt runs can be correlated with its history record.
package logging
