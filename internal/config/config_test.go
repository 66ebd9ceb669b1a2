package config

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Network:            "testnet",
			Port:               8080,
			WalletID:           "default",
			SupportFeeBrackets: "0:4000,100000:2500",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"mainnet", func(c *Config) { c.Network = "mainnet" }, false},
		{"bad network", func(c *Config) { c.Network = "regtest" }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"empty wallet id", func(c *Config) { c.WalletID = "" }, true},
		{"bad brackets", func(c *Config) { c.SupportFeeBrackets = "nope" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseFeeBrackets(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []FeeBracket
		wantErr bool
	}{
		{
			name:  "three brackets",
			input: "0:4000,100000:2500,1000000:1000",
			want: []FeeBracket{
				{ThresholdSats: 0, PPM: 4000},
				{ThresholdSats: 100000, PPM: 2500},
				{ThresholdSats: 1000000, PPM: 1000},
			},
		},
		{name: "empty disables", input: "", want: nil},
		{name: "whitespace tolerated", input: " 0:100 , 50:200 ", want: []FeeBracket{{0, 100}, {50, 200}}},
		{name: "missing colon", input: "0:100,banana", wantErr: true},
		{name: "non-numeric threshold", input: "x:100", wantErr: true},
		{name: "non-numeric ppm", input: "0:x", wantErr: true},
		{name: "negative ppm", input: "0:-5", wantErr: true},
		{name: "unsorted thresholds", input: "0:100,500:50,500:40", wantErr: true},
		{name: "first not zero", input: "10:100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{SupportFeeBrackets: tt.input}
			got, err := cfg.ParseFeeBrackets()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFeeBrackets() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseFeeBrackets() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("bracket[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
