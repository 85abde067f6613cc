package config

import (
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database   *dbConfig
	Service    *svcConfig
	Pool       *poolConfig
	Validation *validationConfig
}

type dbConfig struct {
	Path string `envconfig:"IDS_VALIDATOR_DB_PATH" default:"ids-validator.db"`
}

type svcConfig struct {
	Address        string `envconfig:"IDS_VALIDATOR_ADDRESS" default:":8080"`
	MetricsAddress string `envconfig:"IDS_VALIDATOR_METRICS_ADDRESS" default:":8081"`
	LogLevel       string `envconfig:"IDS_VALIDATOR_LOG_LEVEL" default:"info"`
}

type poolConfig struct {
	// Units is the number of extraction units. Zero picks one per spare CPU.
	Units     int `envconfig:"IDS_VALIDATOR_POOL_UNITS" default:"0"`
	BatchSize int `envconfig:"IDS_VALIDATOR_POOL_BATCH_SIZE" default:"500"`
}

type validationConfig struct {
	ChunkSize    int    `envconfig:"IDS_VALIDATOR_CHUNK_SIZE" default:"200"`
	OpaWorkers   int    `envconfig:"IDS_VALIDATOR_OPA_WORKERS" default:"0"`
	PoliciesDir  string `envconfig:"IDS_VALIDATOR_POLICIES_DIR" default:""`
	ReportFormat string `envconfig:"IDS_VALIDATOR_REPORT_FORMAT" default:"csv"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			singleConfig = nil
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a fresh configuration built from the defaults and the
// environment, bypassing the cached instance.
func NewDefault() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
