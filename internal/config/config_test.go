package config

import "testing"

func validConfig() *Config {
	return &Config{
		Network:            "testnet",
		Port:               8080,
		PeerID:             1,
		NumPeers:           4,
		Threshold:          3,
		ConfirmationTarget: 10,
		BitcoindRPCURLs:    []string{"http://127.0.0.1:18332"},
	}
}

func TestValidate_Valid(t *testing.T) {
	for _, network := range []string{"mainnet", "testnet", "signet", "regtest"} {
		cfg := validConfig()
		cfg.Network = network
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v, want nil for network=%q", err, network)
		}
	}
}

func TestValidate_InvalidNetwork(t *testing.T) {
	tests := []string{"", "foobar", "Mainnet", "devnet"}
	for _, network := range tests {
		t.Run(network, func(t *testing.T) {
			cfg := validConfig()
			cfg.Network = network
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate() expected error for network=%q, got nil", network)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536, 100000} {
		cfg := validConfig()
		cfg.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("Validate() expected error for port=%d, got nil", port)
		}
	}
}

func TestValidate_ThresholdBounds(t *testing.T) {
	tests := []struct {
		name      string
		threshold uint32
		numPeers  uint32
		wantErr   bool
	}{
		{"threshold zero", 0, 4, true},
		{"threshold above n", 5, 4, true},
		{"threshold equals n", 4, 4, false},
		{"threshold below n", 3, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Threshold = tt.threshold
			cfg.NumPeers = tt.numPeers
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_PeerIDBounds(t *testing.T) {
	cfg := validConfig()
	cfg.PeerID = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for peer_id=0")
	}

	cfg = validConfig()
	cfg.PeerID = cfg.NumPeers + 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for peer_id > num_peers")
	}
}

func TestValidate_RequiresBitcoindRPCURL(t *testing.T) {
	cfg := validConfig()
	cfg.BitcoindRPCURLs = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty RPC URL list")
	}

	cfg = validConfig()
	cfg.BitcoindRPCURLs = []string{" "}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank RPC URL")
	}
}
