package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/log"
)

const (
	chainsFileName    = "chains.yaml"
	defaultMaxRetries = 2
)

var chainNameRegex = regexp.MustCompile(`^[a-z][a-z_]+[a-z]$`)

// ChainsConfig represents the root configuration structure for all chain
// settings: search defaults that apply unless overridden, and a list of
// individual chain configurations.
type ChainsConfig struct {
	Defaults SearchDefaultsConfig `yaml:"defaults"`
	Chains   []ChainConfig        `yaml:"chains" validate:"dive"`
}

// SearchDefaultsConfig holds per-endpoint search parameters applied to every
// chain that does not override them.
type SearchDefaultsConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`
	MaxRetries     int `yaml:"max_retries" validate:"gte=0"`
	ScanDepth      int `yaml:"scan_depth" validate:"gte=0"`
}

// ChainConfig represents configuration for a single chain: identity,
// search priority, and backend endpoints.
type ChainConfig struct {
	// Name is the chain identifier (e.g., "polygon", "base_sepolia")
	// Must match pattern: lowercase letters and underscores only
	Name string `yaml:"name"`
	// ID is the chain ID, used for signing-hash reconstruction
	ID uint64 `yaml:"id" validate:"required"`
	// Disabled determines if this chain participates in searches
	Disabled bool `yaml:"disabled"`
	// Priority orders search tiers; lower values are searched first
	Priority int `yaml:"priority" validate:"gte=0"`
	// TimeoutSeconds bounds one probe against this chain's endpoints
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0"`
	// MaxRetries is the retry budget for timeouts and rate limits
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`
	// ScanDepth caps how many recent transactions a probe inspects
	ScanDepth int `yaml:"scan_depth" validate:"gte=0"`

	// RPCURL is populated from environment variable <NAME>_RPC_URL
	RPCURL string
	// ExplorerURL is populated from environment variable <NAME>_EXPLORER_URL
	ExplorerURL string
	// ExplorerAPIKey is populated from <NAME>_EXPLORER_API_KEY
	ExplorerAPIKey string
}

// LoadChains loads and validates chain configurations from a YAML file.
// It reads from <configDirPath>/chains.yaml, validates all settings, reads
// endpoint URLs from the environment, and returns the enabled chains sorted
// by priority.
func LoadChains(configDirPath string) ([]ChainConfig, error) {
	chainsPath := filepath.Join(configDirPath, chainsFileName)
	f, err := os.Open(chainsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg ChainsConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.verifyVariables(); err != nil {
		return nil, err
	}

	if err := cfg.readEndpointEnvs(); err != nil {
		return nil, err
	}

	enabled := cfg.getEnabled()
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled, nil
}

// verifyVariables validates the configuration structure and applies
// defaults. This method modifies the config in place.
func (cfg *ChainsConfig) verifyVariables() error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	seen := make(map[uint64]string)
	for i, chain := range cfg.Chains {
		if chain.Disabled {
			continue
		}

		if !chainNameRegex.MatchString(chain.Name) {
			return fmt.Errorf("invalid chain name '%s', should match snake_case format", chain.Name)
		}
		if prev, dup := seen[chain.ID]; dup {
			return fmt.Errorf("chains '%s' and '%s' declare the same chain id %d", prev, chain.Name, chain.ID)
		}
		seen[chain.ID] = chain.Name

		if chain.TimeoutSeconds == 0 {
			cfg.Chains[i].TimeoutSeconds = cfg.Defaults.TimeoutSeconds
		}
		if chain.MaxRetries == 0 {
			if cfg.Defaults.MaxRetries > 0 {
				cfg.Chains[i].MaxRetries = cfg.Defaults.MaxRetries
			} else {
				cfg.Chains[i].MaxRetries = defaultMaxRetries
			}
		}
		if chain.ScanDepth == 0 {
			cfg.Chains[i].ScanDepth = cfg.Defaults.ScanDepth
		}
	}

	return nil
}

// readEndpointEnvs reads backend URLs for all enabled chains from
// environment variables following the patterns <NAME_UPPERCASE>_RPC_URL and
// <NAME_UPPERCASE>_EXPLORER_URL. At least one backend is required per chain.
func (cfg *ChainsConfig) readEndpointEnvs() error {
	for i, chain := range cfg.Chains {
		if chain.Disabled {
			continue
		}

		prefix := strings.ToUpper(chain.Name)
		rpcURL := os.Getenv(prefix + "_RPC_URL")
		explorerURL := os.Getenv(prefix + "_EXPLORER_URL")
		if rpcURL == "" && explorerURL == "" {
			return fmt.Errorf("missing both RPC and explorer URL for chain '%s'", chain.Name)
		}

		cfg.Chains[i].RPCURL = rpcURL
		cfg.Chains[i].ExplorerURL = explorerURL
		cfg.Chains[i].ExplorerAPIKey = os.Getenv(prefix + "_EXPLORER_API_KEY")
	}

	return nil
}

// getEnabled returns the chains that participate in searches.
func (cfg *ChainsConfig) getEnabled() []ChainConfig {
	var enabled []ChainConfig
	for _, chain := range cfg.Chains {
		if !chain.Disabled {
			enabled = append(enabled, chain)
		}
	}
	return enabled
}

// BuildEndpoints turns chain configurations into search endpoints. A chain
// with both backends contributes the RPC source at its configured priority
// and the explorer source right behind it as a fallback tier.
func BuildEndpoints(chains []ChainConfig, logger log.Logger) ([]chainsearch.Endpoint, error) {
	var endpoints []chainsearch.Endpoint
	for _, chain := range chains {
		timeout := time.Duration(chain.TimeoutSeconds) * time.Second

		// Each chain owns a pair of search tiers so that an explorer
		// fallback stays behind the chain's own RPC endpoint without
		// spilling into the next chain's tier.
		basePriority := chain.Priority * 2

		if chain.RPCURL != "" {
			source, err := chainsearch.NewRPCSource(chain.RPCURL, chain.ID)
			if err != nil {
				return nil, fmt.Errorf("chain '%s': %w", chain.Name, err)
			}
			endpoints = append(endpoints, chainsearch.Endpoint{
				Source:     source,
				Priority:   basePriority,
				Timeout:    timeout,
				MaxRetries: chain.MaxRetries,
				ScanDepth:  chain.ScanDepth,
			})
			logger.Info("registered rpc endpoint", "chain", chain.Name, "priority", basePriority)
		}

		if chain.ExplorerURL != "" {
			priority := basePriority
			if chain.RPCURL != "" {
				priority++
			}
			endpoints = append(endpoints, chainsearch.Endpoint{
				Source:     chainsearch.NewExplorerSource(chain.ExplorerURL, chain.ExplorerAPIKey, chain.ID),
				Priority:   priority,
				Timeout:    timeout,
				MaxRetries: chain.MaxRetries,
				ScanDepth:  chain.ScanDepth,
			})
			logger.Info("registered explorer endpoint", "chain", chain.Name, "priority", priority)
		}
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no chain endpoints configured")
	}
	return endpoints, nil
}
