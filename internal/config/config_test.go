package config

import (
	"testing"
	"time"
)

func validNetwork() Network {
	return Network{
		ID:                    0,
		Name:                  "regtest",
		Description:           "local regtest",
		NetworkType:           NetworkRegtest,
		FirstTrackedHeight:    0,
		MaxInterestingHeights: 100,
		Nodes: []NodeConfig{
			{ID: 0, Name: "node-0", URL: "http://127.0.0.1:18443", Timeout: 8 * time.Second},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: Config{
				Networks:      []Network{validNetwork()},
				Redis:         RedisConfig{URL: "127.0.0.1:6379"},
				QueryInterval: 30 * time.Second,
			},
			wantErr: false,
		},
		{
			name: "no networks",
			config: Config{
				Redis:         RedisConfig{URL: "127.0.0.1:6379"},
				QueryInterval: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "duplicate network id",
			config: Config{
				Networks:      []Network{validNetwork(), validNetwork()},
				Redis:         RedisConfig{URL: "127.0.0.1:6379"},
				QueryInterval: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "network with no nodes",
			config: Config{
				Networks: []Network{{
					ID:   1,
					Name: "empty",
				}},
				Redis:         RedisConfig{URL: "127.0.0.1:6379"},
				QueryInterval: 30 * time.Second,
			},
			wantErr: true,
		},
		{
			name: "zero query interval",
			config: Config{
				Networks: []Network{validNetwork()},
				Redis:    RedisConfig{URL: "127.0.0.1:6379"},
			},
			wantErr: true,
		},
		{
			name: "missing redis url",
			config: Config{
				Networks:      []Network{validNetwork()},
				QueryInterval: 30 * time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsRegtest(t *testing.T) {
	n := validNetwork()
	if !n.IsRegtest() {
		t.Error("expected regtest network to report IsRegtest() == true")
	}

	n.NetworkType = NetworkMainnet
	if n.IsRegtest() {
		t.Error("expected mainnet network to report IsRegtest() == false")
	}
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected Load to fail for a config file that does not exist")
	}
	_ = cfg
}
