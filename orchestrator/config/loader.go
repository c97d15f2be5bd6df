package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/funds"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/storage"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// DefaultFileReader implements FileReader using os.ReadFile
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Loader reads and verifies the daemon configuration.
type Loader struct {
	fileReader FileReader
}

func NewLoader(fileReader FileReader) *Loader {
	return &Loader{fileReader: fileReader}
}

// NewDefaultLoader creates a Loader reading from disk
func NewDefaultLoader() *Loader {
	return NewLoader(&DefaultFileReader{})
}

// Load reads the config at configPath, fills defaults and verifies it.
func (l *Loader) Load(configPath string) (*Config, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}
	body, err := l.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(body)
}

// Parse decodes a TOML document. Unknown keys are rejected so a typo does
// not silently fall back to a default.
func Parse(body []byte) (*Config, error) {
	var config Config
	dec := toml.NewDecoder(bytes.NewReader(body)).DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return nil, fmt.Errorf("failed to unmarshal config: unknown keys %s", strings.Join(keys, ", "))
		}
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&config)
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ServiceName == "" {
		c.Server.ServiceName = "wrap-and-send"
	}
	if c.Saga.ShortfallPolicy == "" {
		c.Saga.ShortfallPolicy = string(saga.ShortfallRefund)
	}
	if c.Saga.TransferTimeout == 0 {
		c.Saga.TransferTimeout = Duration(saga.DefaultTransferTimeout)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = storage.DriverMemory
	}
	if c.FeeOracle.Mode == "" {
		c.FeeOracle.Mode = FeeOracleStatic
	}
	if c.Localnet.ChainID == "" {
		c.Localnet.ChainID = "localnet-1"
	}
	if c.Localnet.Bech32Prefix == "" {
		c.Localnet.Bech32Prefix = "neutron"
	}
	if len(c.Localnet.Channels) == 0 {
		c.Localnet.Channels = []string{"channel-0"}
	}
	if c.Localnet.SwapRate.IsZero() {
		c.Localnet.SwapRate = decimal.NewFromInt(1)
	}
}

func verifyConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if config.Server.RatePerMinute < 0 || config.Server.MaxConcurrentRequests < 0 {
		return fmt.Errorf("rate_per_minute and max_concurrent_requests must not be negative")
	}

	if err := funds.ValidateDenom(config.Saga.CanonicalDenom); err != nil {
		return fmt.Errorf("saga.canonical_denom: %w", err)
	}
	if err := funds.ValidateDenom(config.Saga.BridgedDenom); err != nil {
		return fmt.Errorf("saga.bridged_denom: %w", err)
	}
	if config.Saga.CanonicalDenom == config.Saga.BridgedDenom {
		return fmt.Errorf("saga.canonical_denom and saga.bridged_denom must differ")
	}
	if config.Saga.TransferTimeout < 0 {
		return fmt.Errorf("saga.transfer_timeout must be positive")
	}
	switch saga.ShortfallPolicy(config.Saga.ShortfallPolicy) {
	case saga.ShortfallRefund, saga.ShortfallAbort:
	default:
		return fmt.Errorf("saga.shortfall_policy must be refund or abort, got %q", config.Saga.ShortfallPolicy)
	}

	switch config.Store.Driver {
	case storage.DriverMemory:
	case storage.DriverSQLite:
		if config.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case storage.DriverPostgres:
		if config.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", config.Store.Driver)
	}

	switch config.FeeOracle.Mode {
	case FeeOracleStatic:
		if _, err := config.FeeOracle.StaticFee(); err != nil {
			return err
		}
	case FeeOracleREST:
		if len(config.FeeOracle.URLs) == 0 {
			return fmt.Errorf("fee_oracle.urls is required for rest mode")
		}
		for _, url := range config.FeeOracle.URLs {
			if url == "" {
				return fmt.Errorf("fee_oracle.urls must not be empty")
			}
		}
	default:
		return fmt.Errorf("unknown fee_oracle.mode %q", config.FeeOracle.Mode)
	}

	if !config.Localnet.SwapRate.IsPositive() {
		return fmt.Errorf("localnet.swap_rate must be positive")
	}
	if config.Localnet.CustodyReserve.IsNegative() {
		return fmt.Errorf("localnet.custody_reserve must not be negative")
	}
	if _, err := funds.ParseCoins(config.Localnet.RouterReserve); err != nil {
		return fmt.Errorf("localnet.router_reserve: %w", err)
	}
	return nil
}

// StaticFee parses the fixed fee lists of static mode.
func (f FeeOracleConfig) StaticFee() (wasm.IbcFee, error) {
	recv, err := funds.ParseCoins(f.RecvFee)
	if err != nil {
		return wasm.IbcFee{}, fmt.Errorf("fee_oracle.recv_fee: %w", err)
	}
	ack, err := funds.ParseCoins(f.AckFee)
	if err != nil {
		return wasm.IbcFee{}, fmt.Errorf("fee_oracle.ack_fee: %w", err)
	}
	timeout, err := funds.ParseCoins(f.TimeoutFee)
	if err != nil {
		return wasm.IbcFee{}, fmt.Errorf("fee_oracle.timeout_fee: %w", err)
	}
	return wasm.IbcFee{RecvFee: recv, AckFee: ack, TimeoutFee: timeout}, nil
}

// Params converts the file section into the orchestrator config. The
// address prefix is left to the deployment.
func (s SagaConfig) Params() saga.Config {
	return saga.Config{
		CustodyContract: s.CustodyContract,
		SwapRouter:      s.SwapRouter,
		CanonicalDenom:  s.CanonicalDenom,
		BridgedDenom:    s.BridgedDenom,
		TransferTimeout: s.TransferTimeout.Std(),
		ShortfallPolicy: saga.ShortfallPolicy(s.ShortfallPolicy),
	}
}

// Reserves returns the parsed router reserve. Only valid after verification.
func (l LocalnetConfig) Reserves() (decimal.Decimal, funds.Coins) {
	router, _ := funds.ParseCoins(l.RouterReserve)
	return l.CustodyReserve, router
}
