package browser

import (
	"errors"
	"time"
)

// ErrTimeout reports that a bounded wait expired before the target element
// became available or interactable.
var ErrTimeout = errors.New("browser: wait timed out")

// Session is the page-automation capability the solve pipeline drives. It
// exposes element lookup by locator, bounded waits, attribute reads, form
// fills, and frame-focus switching; it knows nothing about any particular
// page. Implementations are not safe for concurrent use - a session is owned
// exclusively by one caller at a time.
type Session interface {
	// Goto navigates to url and waits for the page to settle.
	Goto(url string) error

	// Click waits up to timeout for the element matched by selector to
	// become interactable, then clicks it. Wait expiry is reported as
	// ErrTimeout.
	Click(selector string, timeout time.Duration) error

	// WaitVisible waits up to timeout for the element matched by selector
	// to be present and visible.
	WaitVisible(selector string, timeout time.Duration) error

	// Attribute waits up to timeout for the element matched by selector,
	// then returns the value of the named attribute. A present but empty
	// attribute yields "".
	Attribute(selector, name string, timeout time.Duration) (string, error)

	// Fill replaces the current value of the element matched by selector.
	Fill(selector, value string) error

	// FocusFrame scopes subsequent lookups to the child frame whose name or
	// URL matches nameOrURL.
	FocusFrame(nameOrURL string) error

	// FocusMainFrame resets lookups to the page's default frame. Safe to
	// call at any time, including when focus is already on the main frame.
	FocusMainFrame()

	// URL returns the current page address.
	URL() string

	// Close releases the underlying browser resources.
	Close() error
}
