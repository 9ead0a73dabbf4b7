package reconciler

import (
	"context"

	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/policy"
)

// Scanner screens the watched tree.
type Scanner interface {
	Scan(ctx context.Context, root string) (*policy.Violation, error)
}

// Installer stages the watched tree into place and rolls it back.
type Installer interface {
	FixPermissions(ctx context.Context) error
	Stage(ctx context.Context) error
	Restore() error
}

// Validator checks the installed configuration.
type Validator interface {
	Validate(ctx context.Context) error
}

// Reloader activates the installed configuration.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Publisher fans a reload out to every peer listening on the remote channel.
type Publisher interface {
	PublishReload(ctx context.Context) error
}

// MagentoLinker switches the Magento include between versions.
type MagentoLinker interface {
	Link() (string, error)
}

// MountChecker reports whether a directory is an inactive mount.
type MountChecker interface {
	Unmounted(ctx context.Context, path string) (bool, error)
}

// Observer is told about every finished attempt.
type Observer interface {
	Observe(Result)
}

// EventSink receives reload events.
type EventSink interface {
	Publish(events.Event) events.Event
}

// Dependencies are the collaborators of a Reconciler. Publisher, Magento,
// Mounts, Events and Observers are optional.
type Dependencies struct {
	Scanner   Scanner
	Installer Installer
	Validator Validator
	Reloader  Reloader
	Publisher Publisher
	Magento   MagentoLinker
	Mounts    MountChecker
	Events    EventSink
	Observers []Observer
}
