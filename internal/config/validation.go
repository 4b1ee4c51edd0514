package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bloom-paywall/server/internal/chains"
)

// finalize applies defaults and validates the configuration.
// Validation failures here are fatal: the server must not start when the
// verification policy is incomplete, because every later payment check
// depends on a known-good recipient and token contract.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Verification.MaxProofAge.Duration <= 0 {
		c.Verification.MaxProofAge = Duration{Duration: 30 * time.Minute}
	}
	if c.Verification.RequiredConfirmations == 0 {
		c.Verification.RequiredConfirmations = 3
	}
	if c.Verification.RPCTimeout.Duration <= 0 {
		c.Verification.RPCTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}
	if c.Storage.Archival.RetentionPeriod.Duration <= 0 {
		c.Storage.Archival.RetentionPeriod = Duration{Duration: 90 * 24 * time.Hour}
	}
	if c.Storage.Archival.RunInterval.Duration <= 0 {
		c.Storage.Archival.RunInterval = Duration{Duration: 24 * time.Hour}
	}

	return c.validate()
}

// validate checks the configuration for fatal errors.
func (c *Config) validate() error {
	if c.Verification.PlatformWallet == "" {
		return errors.New("config: verification.platform_wallet is required (set BLOOM_PLATFORM_WALLET)")
	}
	if !common.IsHexAddress(c.Verification.PlatformWallet) {
		return fmt.Errorf("config: verification.platform_wallet %q is not a valid address", c.Verification.PlatformWallet)
	}

	network, err := chains.Resolve(c.Verification.Network)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Derive the stablecoin from the network registry unless explicitly overridden.
	if c.Verification.StablecoinAddress == "" {
		c.Verification.StablecoinAddress = network.USDC
	} else if !common.IsHexAddress(c.Verification.StablecoinAddress) {
		return fmt.Errorf("config: verification.stablecoin_address %q is not a valid address", c.Verification.StablecoinAddress)
	}

	if c.Verification.RPCURL == "" {
		return errors.New("config: verification.rpc_url is required")
	}

	for id, resource := range c.Content.Resources {
		if resource.ContentID == "" {
			resource.ContentID = id
			c.Content.Resources[id] = resource
		}
		if strings.TrimSpace(resource.PriceAtomic) == "" {
			return fmt.Errorf("config: content %q has no price_atomic", id)
		}
		if _, ok := new(big.Int).SetString(resource.PriceAtomic, 10); !ok {
			return fmt.Errorf("config: content %q price_atomic %q is not a decimal integer", id, resource.PriceAtomic)
		}
		if resource.Creator != "" && !common.IsHexAddress(resource.Creator) {
			return fmt.Errorf("config: content %q creator %q is not a valid address", id, resource.Creator)
		}
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return errors.New("config: storage.backend=postgres requires storage.postgres_url")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return errors.New("config: storage.backend=mongodb requires storage.mongodb_url")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

// ChainID returns the chain id of the configured network.
// Only valid after Load has succeeded.
func (c *Config) ChainID() int64 {
	network, err := chains.Resolve(c.Verification.Network)
	if err != nil {
		return 0
	}
	return network.ChainID
}
