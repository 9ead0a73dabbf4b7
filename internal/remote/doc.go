// Package remote connects the reloader to a NATS subject shared by every host
// serving the same configuration. A successful local apply is published as a
// reload request; requests received from the subject only reload nginx, so a
// published request never echoes back into another publish.
package remote
