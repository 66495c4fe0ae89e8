// Package pagination turns sentinel visibility into page loads.
package pagination

import (
	"context"
	"sync"
)

// Loader is the slice of the conversation list the controller drives.
type Loader interface {
	LoadMore(ctx context.Context) error
	HasMore() bool
	Loading() bool
}

// Controller loads the next page when the end-of-list sentinel becomes
// visible. It fires once per hidden-to-visible transition; the sentinel has
// to be hidden again before it can fire another load.
type Controller struct {
	loader Loader

	mu    sync.Mutex
	armed bool
}

// New creates an armed controller.
func New(loader Loader) *Controller {
	return &Controller{loader: loader, armed: true}
}

// OnSentinelVisible requests the next page if the controller is armed, more
// pages exist and no load is in flight. It reports whether a load ran.
func (c *Controller) OnSentinelVisible(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.armed || !c.loader.HasMore() || c.loader.Loading() {
		c.mu.Unlock()
		return false, nil
	}
	c.armed = false
	c.mu.Unlock()

	return true, c.loader.LoadMore(ctx)
}

// OnSentinelHidden re-arms the controller.
func (c *Controller) OnSentinelHidden() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

// HasMore reports whether another page can be loaded.
func (c *Controller) HasMore() bool {
	return c.loader.HasMore()
}

// Armed reports whether the next visibility will trigger a load.
func (c *Controller) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}
