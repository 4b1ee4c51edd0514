package chains

import (
	"strings"
	"testing"
)

func TestResolve_KnownNetworks(t *testing.T) {
	tests := []struct {
		name    string
		chainID int64
	}{
		{"ethereum", 1},
		{"sepolia", 11155111},
		{"base", 8453},
		{"base-sepolia", 84532},
		{"polygon", 137},
	}

	for _, tt := range tests {
		network, err := Resolve(tt.name)
		if err != nil {
			t.Fatalf("Resolve(%q) returned error: %v", tt.name, err)
		}
		if network.ChainID != tt.chainID {
			t.Errorf("Resolve(%q).ChainID = %d, want %d", tt.name, network.ChainID, tt.chainID)
		}
		if !strings.HasPrefix(network.USDC, "0x") || len(network.USDC) != 42 {
			t.Errorf("Resolve(%q).USDC = %q, not a valid address", tt.name, network.USDC)
		}
	}
}

func TestResolve_UnknownNetwork(t *testing.T) {
	_, err := Resolve("dogechain")
	if err == nil {
		t.Fatal("expected error for unsupported network")
	}
	if !strings.Contains(err.Error(), "unsupported network") {
		t.Errorf("error %q does not name the unsupported network", err)
	}
}

func TestIsSupported(t *testing.T) {
	if !IsSupported("base") {
		t.Error("base should be supported")
	}
	if IsSupported("") {
		t.Error("empty network name should not be supported")
	}
}
