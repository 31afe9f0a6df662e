package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"evetrade-sync/pkg/confkit"
	"evetrade-sync/pkg/esi"
	"evetrade-sync/pkg/universe"
)

// ElasticConf points at the search index sink.
type ElasticConf struct {
	Addresses []string `json:",optional"`
	Username  string   `json:",optional"`
	Password  string   `json:",optional"`
	Index     string   `json:",default=market-data"`
}

// SyncConf tunes one sync pass.
type SyncConf struct {
	// RegionConcurrency bounds parallel region fetches.
	RegionConcurrency int `json:",default=8"`
	// StructureConcurrency bounds parallel structure fetches.
	StructureConcurrency int `json:",default=4"`
	// RecordTTL (seconds) caps how long a cache key survives without being
	// rewritten by a later run.
	RecordTTL int `json:",default=86400"`
	// IncludeStructures toggles the authed player-structure feed.
	IncludeStructures bool `json:",default=true"`
	// JournalDir, when set, receives one JSON run record per sync pass.
	JournalDir string `json:",optional"`
}

// CheckConf tunes the freshness check.
type CheckConf struct {
	// ThresholdSeconds is the maximum tolerated staleness of the newest
	// indexed record.
	ThresholdSeconds int `json:",default=3600"`
}

type Config struct {
	// Env indicates the running environment: test | dev | prod.
	Env      string          `json:",default=test"`
	Redis    redis.RedisConf `json:",optional"`
	Elastic  ElasticConf     `json:",optional"`
	Sync     SyncConf        `json:",optional"`
	Check    CheckConf       `json:",optional"`
	Universe universe.Config `json:",optional"`

	ESI confkit.Section[esi.Config] `json:",optional"`

	mainPath string
	baseDir  string
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ESI.Hydrate(cfg.baseDir, esi.LoadConfig); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if c.Sync.RegionConcurrency <= 0 {
		return errors.New("config: sync.regionConcurrency must be positive")
	}
	if c.Sync.StructureConcurrency <= 0 {
		return errors.New("config: sync.structureConcurrency must be positive")
	}
	if c.Sync.RecordTTL <= 0 {
		return errors.New("config: sync.recordTTL must be positive")
	}
	if c.Check.ThresholdSeconds <= 0 {
		return errors.New("config: check.thresholdSeconds must be positive")
	}
	return nil
}

// ValidateSinks enforces the sink endpoints required to run a sync pass or
// a freshness check. Kept separate from Validate so config files can be
// linted without live credentials.
func (c *Config) ValidateSinks() error {
	if strings.TrimSpace(c.Redis.Host) == "" {
		return errors.New("config: redis.host is required")
	}
	if len(c.Elastic.Addresses) == 0 {
		return errors.New("config: elastic.addresses is required")
	}
	if strings.TrimSpace(c.Elastic.Index) == "" {
		return errors.New("config: elastic.index is required")
	}
	return nil
}

// BaseDir returns the directory the main config was loaded from.
func (c *Config) BaseDir() string {
	return c.baseDir
}
