// Package rebase implements the history-compaction algorithm of spec.md
// §4.8: scan operations below a watermark, fold them per-OID into new
// baselines, delete the folded rows. Grounded on the teacher's
// index_manager.go background-task shape (a long-running scan owning its
// own prometheus counters) and merge.go's old-to-new fold idiom.
package rebase

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fork-archive-hub/lo-fi/docmodel"
	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/internal/logging"
	"github.com/fork-archive-hub/lo-fi/oid"
	"github.com/fork-archive-hub/lo-fi/patch"
	"github.com/fork-archive-hub/lo-fi/store"
)

// Tx is the subset of pebble's IndexedBatch that Run needs: a combined
// reader/writer so baseline lookups observe this transaction's own deletes,
// matching spec.md §5's "addOperations and rebase execute within one
// transaction" requirement.
type Tx interface {
	pebble.Reader
	pebble.Writer
}

// Engine runs the rebase algorithm against an OperationsStore and
// BaselinesStore. It holds no pebble handle itself; the caller (the root
// facade) owns transaction lifetime and commits after Run returns.
type Engine struct {
	ops       store.OperationsStore
	baselines store.BaselinesStore
	log       logging.Logger

	runs        prometheus.Counter
	foldedTotal prometheus.Counter
	duration    prometheus.Histogram
}

func NewEngine(ops store.OperationsStore, baselines store.BaselinesStore, log logging.Logger, reg prometheus.Registerer) *Engine {
	e := &Engine{
		ops:       ops,
		baselines: baselines,
		log:       log,
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lofi_rebase_runs_total",
			Help: "Total number of rebase engine runs.",
		}),
		foldedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lofi_rebase_folded_operations_total",
			Help: "Total number of operations folded into baselines.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "lofi_rebase_duration_seconds",
			Help: "Duration of a single rebase engine run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(e.runs, e.foldedTotal, e.duration)
	}
	return e
}

// Run implements runRebase(T): scan operations ≤ watermark, fold per-OID
// into baselines at Tmax (the max timestamp actually scanned — spec.md
// §9's first Open Question, preserved as specified), delete folded
// operation rows, and return the list of new baselines for the caller's
// rebase event. closed is checked at the top and between OIDs so Close()
// short-circuits future work without cancelling an in-flight transaction.
func (e *Engine) Run(ctx context.Context, tx Tx, watermark hlc.Timestamp, closed *atomic.Bool) ([]store.Baseline, error) {
	if closed != nil && closed.Load() {
		return nil, nil
	}

	touched, tmax, err := e.scan(tx, watermark)
	if err != nil {
		return nil, errors.Wrap(err, "rebase: scan")
	}
	if touched.Cardinality() == 0 {
		return nil, nil
	}

	var result []store.Baseline
	folded := 0
	for _, at := range touched.ToSlice() {
		if closed != nil && closed.Load() {
			break
		}
		b, n, err := e.rebaseOne(tx, at, tmax)
		if err != nil {
			return nil, errors.Wrapf(err, "rebase: fold %s", at)
		}
		folded += n
		if b != nil {
			result = append(result, *b)
		}
	}

	e.runs.Inc()
	e.foldedTotal.Add(float64(folded))
	e.log.InfoCtx(ctx, "rebase run complete", "watermark", string(watermark), "tmax", string(tmax), "oids", touched.Cardinality(), "folded", folded)
	return result, nil
}

func (e *Engine) scan(tx Tx, watermark hlc.Timestamp) (mapset.Set[oid.OID], hlc.Timestamp, error) {
	touched := mapset.NewSet[oid.OID]()
	var tmax hlc.Timestamp
	err := e.ops.IterateOverAllOperations(tx, &watermark, func(_ oid.OID, op patch.Operation) error {
		touched.Add(op.OID)
		if tmax == "" || hlc.Less(tmax, op.Timestamp) {
			tmax = op.Timestamp
		}
		return nil
	})
	return touched, tmax, err
}

// rebaseOne folds every operation for at up to and including tmax onto its
// current baseline (if any), deletes every scanned operation row, and
// writes the resulting baseline — or deletes it if the fold left the
// sub-object absent. It returns the new baseline (nil if deleted) and the
// count of operations folded.
func (e *Engine) rebaseOne(tx Tx, at oid.OID, tmax hlc.Timestamp) (*store.Baseline, int, error) {
	existing, err := e.baselines.Get(tx, at)
	if err != nil {
		return nil, 0, err
	}

	var cur docmodel.NormalizedObject
	var baselineTs hlc.Timestamp
	if existing != nil {
		cur = existing.Snapshot
		baselineTs = existing.Timestamp
	}

	root := at.DocumentRoot()
	var scanned []hlc.Timestamp
	err = e.ops.IterateOverAllOperationsForEntity(tx, root, at, &tmax, func(op patch.Operation) error {
		scanned = append(scanned, op.Timestamp)
		if existing != nil && !hlc.Less(baselineTs, op.Timestamp) {
			// Already folded into the baseline; re-skip defensively.
			return nil
		}
		next, err := patch.Apply(cur, op.Data)
		if err != nil {
			return err
		}
		cur = next
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	for _, ts := range scanned {
		if err := e.ops.DeleteOperation(tx, root, at, ts); err != nil {
			return nil, 0, err
		}
	}

	if cur == nil {
		if existing != nil {
			if err := e.baselines.Delete(tx, at); err != nil {
				return nil, len(scanned), err
			}
		}
		return nil, len(scanned), nil
	}

	b := store.Baseline{OID: at, Snapshot: cur, Timestamp: tmax}
	if err := e.baselines.Set(tx, b); err != nil {
		return nil, len(scanned), err
	}
	return &b, len(scanned), nil
}
