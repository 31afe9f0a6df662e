// Package pipeline drives one sync pass end to end: fetch every feed,
// normalize, diff against the previous run's cached keys, and apply the
// resulting change set to both sinks in a fixed order.
package pipeline

import (
	"sort"

	"evetrade-sync/internal/record"
)

// ChangeSet is the outcome of reconciling a fresh snapshot against the
// previous run's keys. Every current record is an upsert: order prices and
// volumes churn constantly, so diffing values against the cache would save
// almost no writes and cost a full read of it. Deletes are the keys that
// existed last run but produced no record this run.
type ChangeSet struct {
	Upserts []record.TradeRecord
	Deletes []string
}

// Empty reports whether the change set requires no sink writes at all.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Upserts) == 0 && len(cs.Deletes) == 0
}

// Reconcile diffs the current snapshot against last run's identity keys.
// An empty snapshot returns *EmptyFetchError: it is indistinguishable from
// an upstream outage and must never translate into a mass delete.
func Reconcile(previous []string, current record.State) (*ChangeSet, error) {
	if len(current) == 0 {
		return nil, &EmptyFetchError{PreviousKeys: len(previous)}
	}

	cs := &ChangeSet{Upserts: current.Records()}
	for _, key := range previous {
		id, err := record.ParseIdentity(key)
		if err != nil {
			// Unparseable keys are foreign to this pipeline; leave them alone.
			continue
		}
		if _, ok := current[id]; !ok {
			cs.Deletes = append(cs.Deletes, key)
		}
	}
	sort.Strings(cs.Deletes)
	return cs, nil
}
