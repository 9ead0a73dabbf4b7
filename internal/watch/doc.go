// Package watch drives the reconciler from filesystem notifications.
//
// Loop.Run waits for the watched directory to exist, installs fsnotify
// watches on it and its parent, applies once, and then coalesces change
// notifications into a dirty flag that is drained on a fixed tick. Losing the
// root (removal, rename, or a watcher failure) sends the loop back to polling
// for the directory.
package watch
