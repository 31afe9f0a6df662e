package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"evetrade-sync/internal/config"
	"evetrade-sync/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("Elastic: %s (index %q)", presence(len(cfg.Elastic.Addresses) > 0), cfg.Elastic.Index),
		fmt.Sprintf("Sync: %d region workers, %d structure workers, structures %s",
			cfg.Sync.RegionConcurrency, cfg.Sync.StructureConcurrency, onOff(cfg.Sync.IncludeStructures)),
		fmt.Sprintf("Record TTL: %ds", cfg.Sync.RecordTTL),
		fmt.Sprintf("Freshness threshold: %ds", cfg.Check.ThresholdSeconds),
		sectionLine("ESI config", cfg.ESI),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func onOff(ok bool) string {
	if ok {
		return "on"
	}
	return "off"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
