package main

import (
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/keyproof/keyproofd/pkg/log"
)

type Mode string

const (
	ModeProduction Mode = "production"
	ModeTest       Mode = "test"
)

const (
	configDirPathEnv     = "KEYPROOFD_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
)

// ServerConfig holds the listen addresses of the two HTTP surfaces.
type ServerConfig struct {
	ListenAddr        string `env:"KEYPROOFD_LISTEN_ADDR" env-default:":8000"`
	MetricsListenAddr string `env:"KEYPROOFD_METRICS_LISTEN_ADDR" env-default:":4242"`
}

// Config represents the overall application configuration
type Config struct {
	mode       Mode
	chains     []ChainConfig
	dbConf     DatabaseConfig
	serverConf ServerConfig
}

// LoadConfig builds configuration from environment variables and the chains
// file in the configuration directory.
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	// Load .env files
	configDotEnvPath := filepath.Join(configDirPath, ".env")
	logger.Info("loading .env file", "path", configDotEnvPath)
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Warn(".env file not found")
	}

	mode := Mode(os.Getenv("KEYPROOFD_MODE"))
	if mode == "" {
		mode = ModeProduction
	} else if mode != ModeProduction && mode != ModeTest {
		logger.Fatal("invalid KEYPROOFD_MODE value", "value", mode)
	}
	logger.Info("set mode", "value", mode)

	// Get database URL from environment variables
	var dbConf DatabaseConfig
	dbURL := os.Getenv("KEYPROOFD_DATABASE_URL")

	// If DATABASE_URL is not empty, parse the connection string
	// Otherwise, read the envs in usual way
	if dbURL != "" {
		var err error
		dbConf, err = ParseConnectionString(dbURL)
		if err != nil {
			logger.Error("failed to parse connection string", "err", err)
			return nil, err
		}
	} else {
		// Read db config
		if err := cleanenv.ReadEnv(&dbConf); err != nil {
			logger.Error("failed to read env", "err", err)
			return nil, err
		}
	}

	var serverConf ServerConfig
	if err := cleanenv.ReadEnv(&serverConf); err != nil {
		logger.Error("failed to read env", "err", err)
		return nil, err
	}

	chains, err := LoadChains(configDirPath)
	if err != nil {
		logger.Fatal("failed to load chains", "error", err)
	}
	logger.Info("loaded chains", "count", len(chains))

	config := Config{
		mode:       mode,
		chains:     chains,
		dbConf:     dbConf,
		serverConf: serverConf,
	}

	return &config, nil
}
