package domain

import (
	"context"
	"time"
)

// BrowserSession is the minimum browser capability used by the fetch
// pipeline. Implementations own one logged-in tab; no two calls may run
// concurrently on the same session.
type BrowserSession interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until selector is visible or the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// IsPresent reports whether selector exists in the DOM right now.
	IsPresent(ctx context.Context, selector string) (bool, error)
	// Click dispatches a click on the first node matching selector.
	Click(ctx context.Context, selector string) error
	// Fill focuses selector, clears it and types value.
	Fill(ctx context.Context, selector, value string) error
	// PressKey sends a keyboard key (e.g. "Tab") to the focused element.
	PressKey(ctx context.Context, key string) error
	// Evaluate runs a JavaScript expression and unmarshals the result.
	Evaluate(ctx context.Context, expr string, out any) error
	// ScrollBy scrolls the viewport by the given vertical delta.
	ScrollBy(ctx context.Context, deltaY int) error
	// Subscribe registers a standing interceptor for responses whose URL
	// contains urlPart. The returned cancel func releases the interceptor.
	Subscribe(urlPart string) (<-chan []byte, func())
	// Cookies reads the current cookie jar.
	Cookies(ctx context.Context) ([]Cookie, error)
	// Close tears the tab and browser down.
	Close() error
}

// Classifier evaluates a final record against the task's criteria and
// returns a validated analysis. Implementations own retry and repair.
type Classifier interface {
	Classify(ctx context.Context, record *FinalRecord, prompt string, imageURLs []string) (*AIAnalysis, error)
	// ConsecutiveFailures reports how many calls in a row have failed.
	ConsecutiveFailures() int
	// ResetFailures clears the consecutive-failure counter.
	ResetFailures()
}

// Notifier is one outbound notification channel.
type Notifier interface {
	Name() string
	Enabled() bool
	SendTest(ctx context.Context) error
	SendProduct(ctx context.Context, record *FinalRecord, reason string) error
	SendTaskStart(ctx context.Context, taskName, reason string) error
	SendTaskComplete(ctx context.Context, taskName, reason string, processed, recommended int) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for cookie fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}
