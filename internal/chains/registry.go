package chains

import "fmt"

// Network describes an EVM network supported for payment verification.
type Network struct {
	Name    string
	ChainID int64
	// USDC is the canonical USDC contract address on this network. Payments
	// are settled exclusively in the platform stablecoin; a typo'd or
	// unofficial token contract means funds are unrecoverable, so only
	// vetted deployments belong in this table.
	USDC string
}

// registry maps network names to their verification parameters.
var registry = map[string]Network{
	"ethereum": {
		Name:    "ethereum",
		ChainID: 1,
		USDC:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	},
	"sepolia": {
		Name:    "sepolia",
		ChainID: 11155111,
		USDC:    "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	},
	"base": {
		Name:    "base",
		ChainID: 8453,
		USDC:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	},
	"base-sepolia": {
		Name:    "base-sepolia",
		ChainID: 84532,
		USDC:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	},
	"polygon": {
		Name:    "polygon",
		ChainID: 137,
		USDC:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	},
}

// Resolve returns the verification parameters for a named network.
// An unknown network is a configuration error, not a per-request failure.
func Resolve(name string) (Network, error) {
	network, ok := registry[name]
	if !ok {
		return Network{}, fmt.Errorf("chains: unsupported network %q (supported: %v)", name, Supported())
	}
	return network, nil
}

// IsSupported reports whether a network name is in the registry.
func IsSupported(name string) bool {
	_, ok := registry[name]
	return ok
}

// Supported returns the names of all supported networks.
func Supported() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
