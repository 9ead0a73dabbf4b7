// Command nginx-config-reloader installs a user-editable nginx configuration
// tree into the running nginx.
//
// "run" watches the tree in the foreground, "apply" installs it once, and
// start/stop/status/reload/events/history control a background daemon over
// its administrative socket.
package main
