package proofs

import "time"

// Verification policy defaults
const (
	// DefaultMaxProofAge is the freshness window for proof timestamps.
	// A proof older than this is rejected before any network I/O.
	DefaultMaxProofAge = 30 * time.Minute

	// DefaultRequiredConfirmations is how many blocks must sit on top of a
	// transaction before it counts as final.
	DefaultRequiredConfirmations = 3

	// DefaultRPCTimeout bounds each JSON-RPC read to the node provider.
	DefaultRPCTimeout = 10 * time.Second
)
