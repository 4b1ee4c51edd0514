package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use BLOOM_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "BLOOM_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "BLOOM_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "BLOOM_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "BLOOM_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "BLOOM_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "BLOOM_ENVIRONMENT")

	// Verification config
	setIfEnv(&c.Verification.Network, "BLOOM_NETWORK")
	setIfEnv(&c.Verification.RPCURL, "BLOOM_RPC_URL")
	setIfEnv(&c.Verification.PlatformWallet, "BLOOM_PLATFORM_WALLET")
	setIfEnv(&c.Verification.StablecoinAddress, "BLOOM_STABLECOIN_ADDRESS")
	setDurationIfEnv(&c.Verification.MaxProofAge, "BLOOM_MAX_PROOF_AGE")
	setDurationIfEnv(&c.Verification.RPCTimeout, "BLOOM_RPC_TIMEOUT")
	setUintIfEnv(&c.Verification.RequiredConfirmations, "BLOOM_REQUIRED_CONFIRMATIONS")
	setBoolIfEnv(&c.Verification.RequireSignatureVerification, "BLOOM_REQUIRE_SIGNATURE_VERIFICATION")

	// Storage config
	setIfEnv(&c.Storage.Backend, "BLOOM_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "BLOOM_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "BLOOM_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "BLOOM_STORAGE_MONGODB_DATABASE")
	setIfEnv(&c.Storage.TableName, "BLOOM_STORAGE_TABLE_NAME")
	setBoolIfEnv(&c.Storage.Archival.Enabled, "BLOOM_STORAGE_ARCHIVAL_ENABLED")
	setDurationIfEnv(&c.Storage.Archival.RetentionPeriod, "BLOOM_STORAGE_RETENTION_PERIOD")

	// Callbacks config
	setIfEnv(&c.Callbacks.PaymentSuccessURL, "CALLBACK_PAYMENT_SUCCESS_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "CALLBACK_TIMEOUT")
	// Load callback headers (CALLBACK_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "CALLBACK_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "CALLBACK_HEADER_")
		if name == "" {
			continue
		}
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = parts[1]
	}
}

// setIfEnv sets target to the env value when the variable is present and non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setBoolIfEnv parses boolean env values ("true", "1", "yes", case-insensitive).
func setBoolIfEnv(target *bool, key string) {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "true", "1", "yes":
		*target = true
	case "false", "0", "no":
		*target = false
	}
}

// setDurationIfEnv parses Go-style duration env values.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setUintIfEnv parses unsigned integer env values.
func setUintIfEnv(target *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*target = n
		}
	}
}

// normalizeRoutePrefix ensures a prefix has a leading slash and no trailing slash.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
