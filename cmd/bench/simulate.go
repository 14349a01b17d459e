package bench

import (
	"context"
	"io"
	"time"

	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/block"
	"github.com/ValentinKolb/mvkv/lib/mvcc/util"
	"github.com/ValentinKolb/mvkv/lib/mvcc/versioned"
	"github.com/ValentinKolb/mvkv/lib/statekey"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/crypto/sha3"
)

var plog = logger.GetLogger(common.LoggerBench)

// placeholder is written for every declared write before the block starts
var placeholder = statekey.NewBlob(nil)

// --------------------------------------------------------------------------
// Report
// --------------------------------------------------------------------------

// BlockReport describes the execution of one block
type BlockReport struct {
	Height             uint64
	Duration           time.Duration
	Reexecutions       int // aborted first incarnations
	ValidationFailures int // transactions re-executed by the validation pass
	Code               versioned.Info
	Data               versioned.Info
	Summary            block.Summary
	Traced             *TracedValue // nil unless a trace key is configured
}

// TracedValue is the committed value of the trace key after a block
type TracedValue struct {
	Key     statekey.Key
	Hash    mvcc.Hash
	Size    int
	Changed bool // the block changed the value
}

// Report is the result of a simulation
type Report struct {
	Blocks   []BlockReport
	Duration time.Duration
	Metrics  *benchMetrics
}

// --------------------------------------------------------------------------
// Simulation
// --------------------------------------------------------------------------

// Run executes cfg.Blocks simulated blocks in parallel on the versioned
// stores and checks every block against a sequential execution of the same
// transactions. prom may be nil, otherwise the store metrics of the last block
// and the process metrics are written to it in Prometheus text format.
func Run(ctx context.Context, cfg *common.BenchConfig, prom io.Writer) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := generateWorkload(cfg)
	state := genesisState(w.keys)

	var traced *statekey.Key
	if cfg.TraceKey != "" {
		key, err := statekey.ParseKey(cfg.TraceKey)
		if err != nil {
			return nil, errors.Wrap(err, "trace key")
		}
		if _, ok := state[key]; !ok {
			return nil, errors.Newf("trace key %s is not part of the workload", key)
		}
		traced = &key
	}
	bases := block.NewBases(cfg.Store.BaseCacheSize)
	report := &Report{Metrics: newBenchMetrics()}

	start := time.Now()
	for b, txns := range w.blocks {
		height := uint64(b + 1)

		expected := executeSequential(state, txns, height)

		e := newExecutor(cfg, height, bases, state, txns, report.Metrics)
		br, next, err := e.run(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", height)
		}

		if err := compareStates(expected, next); err != nil {
			return nil, errors.Wrapf(err, "block %d", height)
		}

		if prom != nil && b == len(w.blocks)-1 {
			e.blk.Code().WritePrometheus(prom)
			e.blk.Data().WritePrometheus(prom)
			metrics.WriteProcessMetrics(prom)
		}

		br.Summary = e.blk.Finish()
		if err := checkBases(bases, next); err != nil {
			return nil, errors.Wrapf(err, "block %d", height)
		}

		if traced != nil {
			br.Traced = &TracedValue{
				Key:     *traced,
				Hash:    next[*traced].ContentHash(),
				Size:    next[*traced].Len(),
				Changed: !next[*traced].Equal(state[*traced]),
			}
		}

		report.Blocks = append(report.Blocks, br)
		state = next

		plog.Infof("block %d: %d txns in %s, %d re-executions, %d validation failures",
			height, len(txns), br.Duration, br.Reexecutions, br.ValidationFailures)
	}
	report.Duration = time.Since(start)

	return report, nil
}

// compareStates returns an error for the first key whose parallel result
// differs from the sequential one
func compareStates(expected, actual map[statekey.Key]statekey.Blob) error {
	if len(expected) != len(actual) {
		return errors.AssertionFailedf("state has %d keys, expected %d", len(actual), len(expected))
	}
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !got.Equal(want) {
			return errors.AssertionFailedf("state mismatch at %s: got %q, expected %q", key, got, want)
		}
	}
	return nil
}

// checkBases verifies that every cached executable belongs to the committed
// content of its key
func checkBases(bases *block.Bases, state map[statekey.Key]statekey.Blob) error {
	for key, blob := range state {
		if module, ok := bases.Code.Get(key); ok && module.Hash != blob.ContentHash() {
			return errors.AssertionFailedf("stale code executable for %s: %s, committed %s",
				key, module.Hash.Short(), blob.ContentHash().Short())
		}
		if module, ok := bases.Data.Get(key); ok && module.Hash != blob.ContentHash() {
			return errors.AssertionFailedf("stale data executable for %s", key)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Parallel executor (one block)
// --------------------------------------------------------------------------

// readRecord is one observed read, used to validate the transaction later
type readRecord struct {
	key       statekey.Key
	fromBlock bool // false: read from storage or the base store
	index     mvcc.TxnIndex
	hash      mvcc.Hash
}

// completion is sent by the workers to the committer
type completion struct {
	idx          mvcc.TxnIndex
	incarnations int
	finished     time.Time
}

type executor struct {
	cfg     *common.BenchConfig
	height  uint64
	blk     *block.Block
	state   map[statekey.Key]statekey.Blob // committed state, read-only during the block
	txns    []*txn
	metrics *benchMetrics

	// indexed by transaction, each slot is only written by the txn's own worker
	done    []chan struct{}
	reads   [][]readRecord
	results []map[statekey.Key]statekey.Blob
}

func newExecutor(cfg *common.BenchConfig, height uint64, bases *block.Bases, state map[statekey.Key]statekey.Blob, txns []*txn, m *benchMetrics) *executor {
	e := &executor{
		cfg:     cfg,
		height:  height,
		blk:     block.New(height, bases, &cfg.Store),
		state:   state,
		txns:    txns,
		metrics: m,
		done:    make([]chan struct{}, len(txns)),
		reads:   make([][]readRecord, len(txns)),
		results: make([]map[statekey.Key]statekey.Blob, len(txns)),
	}
	for i := range e.done {
		e.done[i] = make(chan struct{})
	}
	return e
}

// run executes the block and returns the state after it
func (e *executor) run(ctx context.Context) (BlockReport, map[statekey.Key]statekey.Blob, error) {
	br := BlockReport{Height: e.height}
	start := time.Now()

	// declared writes are estimates until their transaction has run
	for _, t := range e.txns {
		for _, key := range t.writes {
			store := e.blk.StoreFor(key)
			store.Write(key, t.idx, placeholder)
			store.MarkEstimate(key, t.idx)
		}
	}

	completions := util.NewLockFreeMPSC[completion]()
	committed := make(chan error, 1)
	go func() {
		committed <- e.commitLoop(completions)
	}()

	// tasks are handed to the workers in index order, a transaction only waits
	// for lower indices, so the lowest running transaction always progresses
	p := pool.New().WithMaxGoroutines(e.cfg.Workers).WithContext(ctx).WithCancelOnError()
	for _, t := range e.txns {
		if t.reexecute {
			br.Reexecutions++
		}
		p.Go(func(ctx context.Context) error {
			c, err := e.executeTxn(ctx, t)
			if err != nil {
				return err
			}
			completions.Push(c)
			return nil
		})
	}
	err := p.Wait()
	completions.Close()
	commitErr := <-committed
	if err != nil {
		return br, nil, err
	}
	if commitErr != nil {
		return br, nil, commitErr
	}

	failures, err := e.validate()
	if err != nil {
		return br, nil, err
	}
	br.ValidationFailures = failures

	next := make(map[statekey.Key]statekey.Blob, len(e.state))
	for key, value := range e.state {
		next[key] = value
	}
	for _, writes := range e.results {
		for key, value := range writes {
			next[key] = value
		}
	}

	br.Code = e.blk.Code().Info()
	br.Data = e.blk.Data().Info()
	br.Duration = time.Since(start)
	e.metrics.blocks.Update(br.Duration)

	return br, next, nil
}

// executeTxn runs all incarnations of t
func (e *executor) executeTxn(ctx context.Context, t *txn) (*completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	incarnations := 1

	if t.reexecute {
		// the aborted incarnation published values that may already have
		// been read, they turn into estimates until the final incarnation
		for _, key := range t.writes {
			e.blk.StoreFor(key).Write(key, t.idx, abortedValue(key, e.height, t.idx))
		}
		for _, key := range t.writes {
			e.blk.StoreFor(key).MarkEstimate(key, t.idx)
		}
		incarnations++
		e.metrics.reexecutions.Inc(1)
	}

	reads, writes, err := e.execute(ctx, t)
	if err != nil {
		return nil, err
	}
	e.apply(t, writes, true)
	e.reads[t.idx] = reads
	e.results[t.idx] = writes
	close(e.done[t.idx])

	e.metrics.txns.UpdateSince(start)
	return &completion{idx: t.idx, incarnations: incarnations, finished: time.Now()}, nil
}

// execute performs the reads of t and computes its writes
func (e *executor) execute(ctx context.Context, t *txn) ([]readRecord, map[statekey.Key]statekey.Blob, error) {
	h := sha3.New256()
	reads := make([]readRecord, 0, len(t.reads))

	for _, key := range t.reads {
		content, rec, err := e.read(ctx, key, t.idx)
		if err != nil {
			return nil, nil, err
		}
		reads = append(reads, rec)
		h.Write(key.Bytes())
		h.Write(content)
	}
	digest := h.Sum(nil)

	writes := make(map[statekey.Key]statekey.Blob, len(t.writes))
	for n, key := range t.writes {
		if !t.skip[n] {
			writes[key] = outputValue(key, e.height, t.idx, digest)
		}
	}
	return reads, writes, nil
}

// apply publishes the writes of t. Declared writes that were skipped are
// deleted once, when the transaction first finishes.
func (e *executor) apply(t *txn, writes map[statekey.Key]statekey.Blob, first bool) {
	for n, key := range t.writes {
		store := e.blk.StoreFor(key)
		if t.skip[n] {
			if first {
				store.Delete(key, t.idx)
			}
			continue
		}
		store.Write(key, t.idx, writes[key])
	}
}

// read returns the content of key visible to idx, waiting for the
// transaction that blocks it
func (e *executor) read(ctx context.Context, key statekey.Key, idx mvcc.TxnIndex) ([]byte, readRecord, error) {
	store := e.blk.StoreFor(key)

	for {
		out, err := store.Fetch(key, idx)

		if blocking, ok := mvcc.IsDependency(err); ok {
			e.metrics.dependencies.Inc(1)
			waitStart := time.Now()
			select {
			case <-e.done[blocking]:
				e.metrics.waits.UpdateSince(waitStart)
				continue
			case <-ctx.Done():
				return nil, readRecord{}, ctx.Err()
			}
		}

		if errors.Is(err, mvcc.ErrNotFound) {
			content, err := e.readStorage(store, key)
			return content, readRecord{key: key}, err
		}
		if err != nil {
			return nil, readRecord{}, err
		}

		rec := readRecord{key: key, fromBlock: !out.FromBase, index: out.Index, hash: out.Hash}

		if out.Kind == mvcc.OutputExecutable {
			if out.FromBase {
				e.metrics.baseHits.Inc(1)
			} else {
				e.metrics.cacheHits.Inc(1)
			}
			return contentOf(out.Executable), rec, nil
		}

		if !key.IsCode() {
			return out.Value.Bytes(), rec, nil
		}

		module, err := out.Value.ToExecutable()
		if err != nil {
			return nil, rec, errors.Wrapf(err, "txn %d: loading %s", idx, key)
		}
		store.StoreExecutable(key, mvcc.InBlock{Hash: out.Hash}, module)
		e.metrics.loads.Inc(1)
		return contentOf(module), rec, nil
	}
}

// readStorage reads key from the committed state. Code loaded from storage
// is cached in the base store.
func (e *executor) readStorage(store *block.Store, key statekey.Key) ([]byte, error) {
	blob, ok := e.state[key]
	if !ok {
		return nil, nil
	}
	if !key.IsCode() {
		return blob.Bytes(), nil
	}

	module, err := blob.ToExecutable()
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s from storage", key)
	}
	store.StoreExecutable(key, mvcc.FromBase{}, module)
	e.metrics.loads.Inc(1)
	return contentOf(module), nil
}

// commitLoop receives completions in any order and releases them in index
// order. Fails if a transaction completes twice or the committed prefix does
// not cover the whole block.
func (e *executor) commitLoop(q *util.LockFreeMPSC[completion]) error {
	pending := util.NewMapHeap[*completion]()
	next := uint64(0)
	var err error

	for c := range q.Recv() {
		idx := uint64(c.idx)
		if idx < next || pending.Contains(idx) {
			if err == nil {
				err = errors.AssertionFailedf("transaction %d completed twice", idx)
			}
			continue
		}
		pending.AddItem(idx, idx, c)
		e.metrics.backlog.Update(int64(pending.Len()))

		for {
			item, ok := pending.Peek()
			if !ok || item.Priority != next {
				break
			}
			pending.PopMin()
			e.metrics.commitDelay.UpdateSince(item.Value.finished)
			next++
		}
	}

	if err == nil && next != uint64(len(e.txns)) {
		err = errors.AssertionFailedf("committed %d of %d transactions", next, len(e.txns))
	}
	return err
}

// validate re-checks the reads of every transaction in index order and
// re-executes those that observed a value which is no longer current. All
// transactions below the one being validated are final at that point.
func (e *executor) validate() (int, error) {
	failures := 0

	for _, t := range e.txns {
		if e.readsValid(t.idx) {
			continue
		}

		failures++
		e.metrics.validationFailures.Inc(1)

		reads, writes, err := e.execute(context.Background(), t)
		if err != nil {
			return failures, err
		}
		e.apply(t, writes, false)
		e.reads[t.idx] = reads
		e.results[t.idx] = writes
	}

	return failures, nil
}

func (e *executor) readsValid(idx mvcc.TxnIndex) bool {
	for _, rec := range e.reads[idx] {
		res := e.blk.StoreFor(rec.key).Read(rec.key, idx)
		if !rec.fromBlock {
			if res.Status != mvcc.ReadNotFound {
				return false
			}
			continue
		}
		if res.Status != mvcc.ReadDone || res.Index != rec.index || res.Hash != rec.hash {
			return false
		}
	}
	return true
}
