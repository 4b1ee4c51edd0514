package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "BLOOM_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"BLOOM_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "BLOOM_ROUTE_PREFIX is normalized",
			envVars: map[string]string{
				"BLOOM_ROUTE_PREFIX": "api/",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_VerificationConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "BLOOM_PLATFORM_WALLET override",
			envVars: map[string]string{
				"BLOOM_PLATFORM_WALLET": testWallet,
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Verification.PlatformWallet != testWallet {
					t.Errorf("Expected %s, got %s", testWallet, cfg.Verification.PlatformWallet)
				}
			},
		},
		{
			name: "BLOOM_NETWORK and BLOOM_RPC_URL override",
			envVars: map[string]string{
				"BLOOM_NETWORK": "sepolia",
				"BLOOM_RPC_URL": "https://rpc.sepolia.org",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Verification.Network != "sepolia" {
					t.Errorf("Expected sepolia, got %s", cfg.Verification.Network)
				}
				if cfg.Verification.RPCURL != "https://rpc.sepolia.org" {
					t.Errorf("Expected sepolia RPC url, got %s", cfg.Verification.RPCURL)
				}
			},
		},
		{
			name: "BLOOM_MAX_PROOF_AGE duration override",
			envVars: map[string]string{
				"BLOOM_MAX_PROOF_AGE": "15m",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Verification.MaxProofAge.Duration != 15*time.Minute {
					t.Errorf("Expected 15m, got %v", cfg.Verification.MaxProofAge.Duration)
				}
			},
		},
		{
			name: "BLOOM_REQUIRED_CONFIRMATIONS numeric override",
			envVars: map[string]string{
				"BLOOM_REQUIRED_CONFIRMATIONS": "12",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Verification.RequiredConfirmations != 12 {
					t.Errorf("Expected 12, got %d", cfg.Verification.RequiredConfirmations)
				}
			},
		},
		{
			name: "BLOOM_REQUIRE_SIGNATURE_VERIFICATION boolean override",
			envVars: map[string]string{
				"BLOOM_REQUIRE_SIGNATURE_VERIFICATION": "true",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.Verification.RequireSignatureVerification {
					t.Error("Expected RequireSignatureVerification to be true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_StorageConfig(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()

	os.Setenv("BLOOM_STORAGE_BACKEND", "postgres")
	os.Setenv("BLOOM_STORAGE_POSTGRES_URL", "postgres://localhost/bloom")
	os.Setenv("BLOOM_STORAGE_TABLE_NAME", "used_payments")
	os.Setenv("BLOOM_STORAGE_ARCHIVAL_ENABLED", "yes")
	os.Setenv("BLOOM_STORAGE_RETENTION_PERIOD", "720h")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Storage.Backend != "postgres" {
		t.Errorf("Backend = %q, want postgres", cfg.Storage.Backend)
	}
	if cfg.Storage.PostgresURL != "postgres://localhost/bloom" {
		t.Errorf("PostgresURL = %q", cfg.Storage.PostgresURL)
	}
	if cfg.Storage.TableName != "used_payments" {
		t.Errorf("TableName = %q, want used_payments", cfg.Storage.TableName)
	}
	if !cfg.Storage.Archival.Enabled {
		t.Error("Archival.Enabled = false, want true")
	}
	if cfg.Storage.Archival.RetentionPeriod.Duration != 720*time.Hour {
		t.Errorf("RetentionPeriod = %v, want 720h", cfg.Storage.Archival.RetentionPeriod.Duration)
	}
}

func TestEnvOverrides_CallbackHeaders(t *testing.T) {
	defer os.Clearenv()
	os.Clearenv()

	os.Setenv("CALLBACK_PAYMENT_SUCCESS_URL", "https://example.com/hooks/payment")
	os.Setenv("CALLBACK_HEADER_AUTHORIZATION", "Bearer secret")
	os.Setenv("CALLBACK_HEADER_X_CUSTOM_TAG", "bloom")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Callbacks.PaymentSuccessURL != "https://example.com/hooks/payment" {
		t.Errorf("PaymentSuccessURL = %q", cfg.Callbacks.PaymentSuccessURL)
	}
	if got := cfg.Callbacks.Headers["Authorization"]; got != "Bearer secret" {
		t.Errorf("Authorization header = %q, want Bearer secret", got)
	}
	if got := cfg.Callbacks.Headers["X-Custom-Tag"]; got != "bloom" {
		t.Errorf("X-Custom-Tag header = %q, want bloom", got)
	}
}
