package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	liststr "skillproof/pkg/platform/strings"
)

const (
	envPrefix = "SKILLPROOF_"
	envConfig = "SKILLPROOF_CONFIG"
)

var listFields = map[string]bool{
	"server.allowed_origins": true,
	"kafka.brokers":          true,
}

// Load layers configuration (low -> high precedence):
//  1. Default()
//  2. YAML file named by SKILLPROOF_CONFIG, if set
//  3. environment, SKILLPROOF_ prefix, "__" separates sections
//     (SKILLPROOF_CHAIN__RPC_URL -> chain.rpc_url)
func Load() (Config, error) {
	return load(os.Getenv(envConfig))
}

func load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, err
		}
	}

	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if key == envConfigKey() {
			return "", nil
		}
		if listFields[key] {
			return key, liststr.SplitList(value, ",")
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, err
	}
	cfg.Server.AllowedOrigins = liststr.Dedupe(cfg.Server.AllowedOrigins)
	cfg.Kafka.Brokers = liststr.Dedupe(cfg.Kafka.Brokers)
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = append([]string(nil), defaultAllowedOrigins...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envConfigKey() string {
	return strings.ToLower(strings.TrimPrefix(envConfig, envPrefix))
}
