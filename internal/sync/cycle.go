package sync

import (
	"context"
	"fmt"
	"time"
)

// cycleResult carries the record counts of one completed cycle: pulled is
// what came from the peer (step 1), pushed is what went to it (step 3).
type cycleResult struct {
	pulled int
	pushed int
}

// runCycle executes one bidirectional replication round against the active
// peer: pull the peer's changes, replay them into the local backend, pull
// local changes, replay them to the peer. The order is fixed so at most one
// request is in flight at a time. Any failed step aborts the rest; the
// caller keeps the cursor unchanged so the next cycle retries the same
// window. Steps 2 and 4 are skipped when there is nothing to replay.
func runCycle(ctx context.Context, local, peer *Client, localPort, peerPort uint16, since *time.Time) (cycleResult, error) {
	localDevice := fmt.Sprintf("local-%d", localPort)
	peerDevice := fmt.Sprintf("peer-%d", peerPort)

	var res cycleResult

	incoming, err := peer.Pull(ctx, since, localDevice)
	if err != nil {
		return res, fmt.Errorf("pull from peer: %w", err)
	}
	res.pulled = len(incoming)

	if len(incoming) > 0 {
		if err := local.Push(ctx, peerDevice, incoming); err != nil {
			return res, fmt.Errorf("push to local: %w", err)
		}
	}

	outgoing, err := local.Pull(ctx, since, peerDevice)
	if err != nil {
		return res, fmt.Errorf("pull from local: %w", err)
	}
	res.pushed = len(outgoing)

	if len(outgoing) > 0 {
		if err := peer.Push(ctx, localDevice, outgoing); err != nil {
			return res, fmt.Errorf("push to peer: %w", err)
		}
	}

	return res, nil
}
