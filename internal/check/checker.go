// Package check implements the standalone freshness probe: it asks the
// search index for the most recently issued record and compares its age
// against a staleness threshold.
package check

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evetrade-sync/internal/sink"
)

// StaleDataError means the freshest indexed record is older than the
// threshold, i.e. the sync pipeline has likely stopped producing.
type StaleDataError struct {
	Latest    time.Time
	Staleness time.Duration
	Threshold time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("check: latest record issued %s is %s old, threshold %s",
		e.Latest.Format(time.RFC3339), e.Staleness.Round(time.Second), e.Threshold)
}

// CheckUnavailableError means freshness could not be determined at all:
// the index is unreachable or holds no documents. Deliberately distinct
// from StaleDataError so operators can tell "pipeline stopped" apart from
// "probe blind".
type CheckUnavailableError struct {
	Err error
}

func (e *CheckUnavailableError) Error() string {
	return fmt.Sprintf("check: freshness unavailable: %v", e.Err)
}

func (e *CheckUnavailableError) Unwrap() error {
	return e.Err
}

// FreshnessReport is the outcome of one probe.
type FreshnessReport struct {
	Latest    time.Time
	Staleness time.Duration
	Threshold time.Duration
	Passed    bool
}

// Checker probes one index for data freshness.
type Checker struct {
	index sink.Index

	// now is swappable in tests.
	now func() time.Time
}

func New(index sink.Index) *Checker {
	return &Checker{index: index, now: time.Now}
}

// Check reads the latest issued timestamp and judges it against threshold.
// A record exactly at the threshold still passes; staleness must exceed it
// to fail.
func (c *Checker) Check(ctx context.Context, threshold time.Duration) (*FreshnessReport, error) {
	latest, err := c.index.LatestIssued(ctx)
	if err != nil {
		if errors.Is(err, sink.ErrNoDocuments) {
			return nil, &CheckUnavailableError{Err: err}
		}
		return nil, &CheckUnavailableError{Err: fmt.Errorf("query index: %w", err)}
	}

	staleness := c.now().Sub(latest)
	report := &FreshnessReport{
		Latest:    latest,
		Staleness: staleness,
		Threshold: threshold,
		Passed:    staleness <= threshold,
	}
	if !report.Passed {
		return report, &StaleDataError{Latest: latest, Staleness: staleness, Threshold: threshold}
	}
	return report, nil
}
