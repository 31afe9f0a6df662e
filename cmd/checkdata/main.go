// Command checkdata probes the search index for data freshness. Exit code
// zero means the newest indexed record is within the configured staleness
// threshold; anything else means stale data or an unanswerable probe.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"evetrade-sync/internal/check"
	"evetrade-sync/internal/config"
	"evetrade-sync/internal/svc"
)

var configFile = flag.String("f", "etc/evetrade.yaml", "config file")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configFile)
	if err != nil {
		logx.Errorf("load config: %v", err)
		return 1
	}

	sc, err := svc.NewServiceContext(cfg)
	if err != nil {
		logx.Errorf("build service context: %v", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := sc.Checker.Check(ctx, sc.CheckThreshold())
	if err != nil {
		var stale *check.StaleDataError
		if errors.As(err, &stale) {
			logx.Errorf("freshness check failed: %v", err)
			return 1
		}
		var unavailable *check.CheckUnavailableError
		if errors.As(err, &unavailable) {
			logx.Errorf("freshness check inconclusive: %v", err)
			return 2
		}
		logx.Errorf("freshness check error: %v", err)
		return 1
	}

	logx.Infof("data fresh: latest record issued %s, staleness %s (threshold %s)",
		report.Latest.Format(time.RFC3339), report.Staleness.Round(time.Second), report.Threshold)
	return 0
}
