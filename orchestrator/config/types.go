package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the daemon configuration file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Saga      SagaConfig      `toml:"saga"`
	Store     StoreConfig     `toml:"store"`
	FeeOracle FeeOracleConfig `toml:"fee_oracle"`
	Localnet  LocalnetConfig  `toml:"localnet"`
}

type ServerConfig struct {
	// rpc configs
	Port int    `toml:"port"`
	Host string `toml:"host"`

	// CORS configs
	AllowedOrigins []string `toml:"allowed_origins"`

	// exposes faucet, relayer and mock knobs
	EnableLocalnet bool `toml:"enable_localnet"`

	// rate limiting configs
	RatePerMinute         int `toml:"rate_per_minute"`
	MaxConcurrentRequests int `toml:"max_concurrent_requests"`

	// OpenTelemetry configs
	ServiceName    string `toml:"service_name"`
	ServiceVersion string `toml:"service_version"`
	Environment    string `toml:"environment"`
	EnableTracing  bool   `toml:"enable_tracing"`
	UseOTLPTraces  bool   `toml:"use_otlp_traces"`
	OTLPTracesURL  string `toml:"otlp_traces_url"`
	EnableMetrics  bool   `toml:"enable_metrics"`
	UsePrometheus  bool   `toml:"use_prometheus"`
	UseOTLPMetrics bool   `toml:"use_otlp_metrics"`
	OTLPMetricsURL string `toml:"otlp_metrics_url"`
	EnableLogs     bool   `toml:"enable_logs"`
	UseOTLPLogs    bool   `toml:"use_otlp_logs"`
	OTLPLogsURL    string `toml:"otlp_logs_url"`

	InsecureOTLP bool `toml:"insecure_otlp"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `toml:"development_mode"`
}

// Address is host:port.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SagaConfig is persisted by the orchestrator on first start and must not
// change afterwards. Contract addresses may be left empty on a local chain,
// where they are derived from the contract labels.
type SagaConfig struct {
	CustodyContract string   `toml:"custody_contract"`
	SwapRouter      string   `toml:"swap_router"`
	CanonicalDenom  string   `toml:"canonical_denom"`
	BridgedDenom    string   `toml:"bridged_denom"`
	TransferTimeout Duration `toml:"transfer_timeout"`
	ShortfallPolicy string   `toml:"shortfall_policy"` // refund | abort
}

type StoreConfig struct {
	Driver string `toml:"driver"` // memory | sqlite | postgres
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

const (
	FeeOracleStatic = "static"
	FeeOracleREST   = "rest"
)

// FeeOracleConfig selects where the minimum relayer fee comes from.
type FeeOracleConfig struct {
	Mode string `toml:"mode"`

	// static mode, coin lists like "20untrn"
	RecvFee    string `toml:"recv_fee"`
	AckFee     string `toml:"ack_fee"`
	TimeoutFee string `toml:"timeout_fee"`

	// rest mode, first url is the primary
	URLs       []string `toml:"urls"`
	MaxRetries int      `toml:"max_retries"`
	Timeout    Duration `toml:"timeout"`
}

type LocalnetConfig struct {
	ChainID      string   `toml:"chain_id"`
	Bech32Prefix string   `toml:"bech32_prefix"`
	Relayer      string   `toml:"relayer"`
	Channels     []string `toml:"channels"`

	// mock router price of one canonical unit in the ask denom
	SwapRate decimal.Decimal `toml:"swap_rate"`

	// funds the mocks on first deployment
	CustodyReserve decimal.Decimal `toml:"custody_reserve"`
	RouterReserve  string          `toml:"router_reserve"`
}

// Duration reads "20m" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
