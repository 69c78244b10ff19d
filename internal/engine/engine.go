// Package engine defines the contract between the lifecycle layer and a
// concrete wallet implementation. The daemon never touches chain logic
// directly; it drives whatever engine is wired in through these interfaces.
package engine

import "context"

// SyncInfo reports a wallet's position relative to the network.
type SyncInfo struct {
	// WalletHeight is the last block the wallet has processed.
	WalletHeight uint64

	// NetworkHeight is the chain tip reported by the connected node.
	NetworkHeight uint64
}

// Delta returns how many blocks the wallet is behind the network.
// A wallet ahead of the reported tip (stale node data) counts as zero.
func (s SyncInfo) Delta() uint64 {
	if s.WalletHeight >= s.NetworkHeight {
		return 0
	}
	return s.NetworkHeight - s.WalletHeight
}

// syncedThreshold is the block delta at or under which a wallet is
// considered usable without waiting.
const syncedThreshold = 2

// IsSynced reports whether the wallet is close enough to the tip to serve
// requests.
func (s SyncInfo) IsSynced() bool {
	return s.Delta() <= syncedThreshold
}

// Wallet is a running wallet instance bound to one daemon peer.
//
// Stop closes the peer connection and stops event delivery; it must not
// invalidate data already read from the wallet, so handlers holding a
// superseded instance can finish their in-flight work.
type Wallet interface {
	// Daemon returns the peer this instance is connected to.
	Daemon() (host string, port int)

	// SyncStatus reports the wallet and network heights.
	SyncStatus(ctx context.Context) (SyncInfo, error)

	// Rewind moves the wallet's scan position back by distance blocks so
	// the next sync re-processes them.
	Rewind(ctx context.Context, distance uint64) error

	// Serialize produces the wallet's full persistent state as plaintext
	// bytes. Callers are responsible for encryption.
	Serialize(ctx context.Context) ([]byte, error)

	// SubscribeSync returns a channel that receives a signal on each sync
	// progress event, and a cancel func that releases the subscription.
	SubscribeSync() (<-chan struct{}, func())

	// Stop shuts down the instance.
	Stop(ctx context.Context) error
}

// Factory constructs wallet instances against a daemon peer.
type Factory interface {
	// Create builds a brand-new wallet from a seed.
	Create(ctx context.Context, seed []byte, host string, port int) (Wallet, error)

	// Restore rebuilds a wallet from previously serialized state.
	Restore(ctx context.Context, blob []byte, host string, port int) (Wallet, error)
}

// NodeDropper deprioritizes a daemon peer that failed to feed a wallet
// during a sync wait.
type NodeDropper interface {
	DropNode(ctx context.Context, host string, port int) error
}
