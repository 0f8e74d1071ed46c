package sync

import "context"

// Advertiser publishes this instance's presence on the LAN so peer browsers
// can find it.
type Advertiser interface {
	Start() error
	Stop()
}

// Browser watches the LAN for peer advertisements and feeds observations
// back into the engine.
type Browser interface {
	Start(ctx context.Context) error
	Stop()
}
