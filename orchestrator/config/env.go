package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WRAP_SERVER_PORT or
// WRAP_SAGA_CANONICAL_DENOM.
const EnvPrefix = "WRAP"

// envKeys lists every config key so Unmarshal sees values that only exist
// in the environment.
var envKeys = []string{
	"server.port", "server.host", "server.allowed_origins", "server.enable_localnet",
	"server.rate_per_minute", "server.max_concurrent_requests",
	"server.service_name", "server.service_version", "server.environment",
	"server.enable_tracing", "server.use_otlp_traces", "server.otlp_traces_url",
	"server.enable_metrics", "server.use_prometheus", "server.use_otlp_metrics", "server.otlp_metrics_url",
	"server.enable_logs", "server.use_otlp_logs", "server.otlp_logs_url",
	"server.insecure_otlp", "server.development_mode",

	"saga.custody_contract", "saga.swap_router", "saga.canonical_denom", "saga.bridged_denom",
	"saga.transfer_timeout", "saga.shortfall_policy",

	"store.driver", "store.path", "store.dsn",

	"fee_oracle.mode", "fee_oracle.recv_fee", "fee_oracle.ack_fee", "fee_oracle.timeout_fee",
	"fee_oracle.urls", "fee_oracle.max_retries", "fee_oracle.timeout",

	"localnet.chain_id", "localnet.bech32_prefix", "localnet.relayer", "localnet.channels",
	"localnet.swap_rate", "localnet.custody_reserve", "localnet.router_reserve",
}

// LoadFromEnv builds the config from WRAP_* variables, for deployments
// without a config file. A .env file in the working directory is read
// first if present.
func LoadFromEnv() (*Config, error) {
	// env can also come from docker or systemd, a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	var config Config
	err := v.Unmarshal(&config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	applyDefaults(&config)
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}
