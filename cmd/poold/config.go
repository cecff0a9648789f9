// config.go - Configuration management for the pool daemon
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"veilpool/internal/merkle"
	"veilpool/internal/policy"
	"veilpool/internal/pool"
	"veilpool/internal/snark"
)

// Config represents the daemon configuration
type Config struct {
	// Pool structure
	TreeDepth       int    `json:"tree_depth"`
	HistoryCapacity int    `json:"history_capacity"`
	Hasher          string `json:"hasher"`

	// Initialization material. The pool auto-initializes at startup when
	// Authority and WithdrawVKPath are both set and no snapshot already
	// carries an initialized state.
	Authority        string `json:"authority"`
	DepositAmount    uint64 `json:"deposit_amount"`
	BaseFee          uint64 `json:"base_fee"`
	PercentageFeeBps uint64 `json:"percentage_fee_bps"`
	WithdrawVKPath   string `json:"withdraw_vk_path"`
	DepositVKPath    string `json:"deposit_vk_path,omitempty"`

	// Safety rails
	MaxEmergencyMultiplier uint64 `json:"max_emergency_multiplier"`
	ReconcileTolerance     uint64 `json:"reconcile_tolerance"`
	ConsistencyCheck       bool   `json:"consistency_check"`

	// File paths. Empty NullifierDBPath keeps the registry in memory;
	// empty SnapshotPath disables persistence.
	SnapshotPath    string `json:"snapshot_path"`
	NullifierDBPath string `json:"nullifier_db_path"`

	// HTTP server
	ListenAddr              string `json:"listen_addr"`
	RequestTimeoutSeconds   int    `json:"request_timeout_seconds"`
	SnapshotIntervalSeconds int    `json:"snapshot_interval_seconds"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogPretty bool   `json:"log_pretty"`

	// Rate limiting, token bucket per client address. Zero burst disables.
	RateLimitBurst     int `json:"rate_limit_burst"`
	RateLimitPerSecond int `json:"rate_limit_per_second"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		TreeDepth:               merkle.DefaultDepth,
		HistoryCapacity:         merkle.DefaultHistoryCapacity,
		Hasher:                  merkle.HasherMiMC,
		DepositAmount:           1_000_000,
		BaseFee:                 0,
		PercentageFeeBps:        policy.DefaultPercentageFeeBps,
		WithdrawVKPath:          "withdraw_vk.json",
		MaxEmergencyMultiplier:  policy.DefaultMaxEmergencyMultiplier,
		ReconcileTolerance:      0,
		ConsistencyCheck:        true,
		SnapshotPath:            "pool_state.json",
		NullifierDBPath:         "nullifiers.db",
		ListenAddr:              "127.0.0.1:8546",
		RequestTimeoutSeconds:   30,
		SnapshotIntervalSeconds: 60,
		LogLevel:                "info",
		LogPretty:               false,
		RateLimitBurst:          20,
		RateLimitPerSecond:      5,
	}
}

// LoadConfig loads configuration from file or creates the default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}

		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.TreeDepth < 1 || c.TreeDepth > merkle.MaxDepth {
		return fmt.Errorf("tree_depth must be in [1,%d]", merkle.MaxDepth)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive")
	}
	if c.Authority != "" && !common.IsHexAddress(c.Authority) {
		return fmt.Errorf("authority %q is not a hex address", c.Authority)
	}
	if c.Authority != "" && c.DepositAmount == 0 {
		return fmt.Errorf("deposit_amount must be positive")
	}
	if c.PercentageFeeBps > policy.BpsDenominator {
		return fmt.Errorf("percentage_fee_bps must not exceed %d", policy.BpsDenominator)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive")
	}
	if c.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("snapshot_interval_seconds must be positive")
	}
	if c.RateLimitBurst < 0 || c.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.RateLimitBurst > 0 && c.RateLimitPerSecond == 0 {
		return fmt.Errorf("rate_limit_per_second must be positive when rate limiting is on")
	}
	return nil
}

// poolConfig maps the daemon configuration onto the library configuration.
func (c *Config) poolConfig() pool.Config {
	return pool.Config{
		TreeDepth:              c.TreeDepth,
		HistoryCapacity:        c.HistoryCapacity,
		Hasher:                 c.Hasher,
		MaxEmergencyMultiplier: c.MaxEmergencyMultiplier,
		ReconcileTolerance:     c.ReconcileTolerance,
		ConsistencyCheck:       c.ConsistencyCheck,
	}
}

// initParams assembles the one-time initialization arguments from the
// configured key material. Returns nil when the config does not carry
// enough to initialize.
func (c *Config) initParams() (*pool.InitParams, error) {
	if c.Authority == "" || c.WithdrawVKPath == "" {
		return nil, nil
	}

	withdrawVK, err := loadVerifyingKey(c.WithdrawVKPath)
	if err != nil {
		return nil, fmt.Errorf("withdraw verifying key: %w", err)
	}

	var depositVK *snark.VerifyingKey
	if c.DepositVKPath != "" {
		depositVK, err = loadVerifyingKey(c.DepositVKPath)
		if err != nil {
			return nil, fmt.Errorf("deposit verifying key: %w", err)
		}
	}

	return &pool.InitParams{
		Authority:     common.HexToAddress(c.Authority),
		DepositAmount: c.DepositAmount,
		Fees: policy.FeeSchedule{
			BaseFee:          c.BaseFee,
			PercentageFeeBps: c.PercentageFeeBps,
		},
		WithdrawVK: withdrawVK,
		DepositVK:  depositVK,
	}, nil
}

// loadVerifyingKey reads a verification_key.json in the snarkjs layout.
func loadVerifyingKey(path string) (*snark.VerifyingKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	defer file.Close()

	var vk snark.VerifyingKey
	if err := json.NewDecoder(file).Decode(&vk); err != nil {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}
	if err := vk.Validate(); err != nil {
		return nil, err
	}
	return &vk, nil
}
