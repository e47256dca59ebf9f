// Package notify implements the one-shot change-notification primitive:
// a Subscription, once armed, sets an event on the next change to its
// resource and then stays quiet until it is armed again.
package notify

import (
	"errors"

	"github.com/microsoft/wil-sub001/internal/resource"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// Arm outcomes other than nil. Callers classify with errors.Is.
var (
	// ErrResourceGone means the watched object no longer exists. Terminal.
	ErrResourceGone = errors.New("watched resource no longer exists")
	// ErrAccessRevoked means the watcher lost permission to the object. Terminal.
	ErrAccessRevoked = errors.New("access to watched resource revoked")
	// ErrPartialAccess means the subscription is armed but some nested
	// directories could not be watched.
	ErrPartialAccess = errors.New("some nested resources are not watched")
	// ErrClosed is returned by Arm after Close.
	ErrClosed = errors.New("subscription closed")
)

// Notifier opens subscriptions against watched resources.
type Notifier interface {
	Open(h *resource.Handle, recursive bool) (Subscription, error)
}

// Subscription is a re-armable, one-shot change notification.
type Subscription interface {
	// Arm requests exactly one future notification. ev is set asynchronously
	// on the next change or terminal condition. Arm also reports the current
	// state of the resource; see the package errors.
	Arm(ev *waitable.Event) error
	// Close stops delivery and releases OS resources.
	Close() error
}

// Armed reports whether err from Arm left the subscription armed.
func Armed(err error) bool {
	return err == nil || errors.Is(err, ErrPartialAccess)
}
