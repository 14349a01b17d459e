package bench

import (
	"fmt"
	"math/rand"

	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/statekey"
)

// zipfSkew controls how strongly the accesses concentrate on few hot keys
const zipfSkew = 1.2

// txn is the static description of one transaction. The read and write sets
// are fixed up front, only the written values depend on what was read.
type txn struct {
	idx       mvcc.TxnIndex
	reads     []statekey.Key
	writes    []statekey.Key
	skip      []bool // skip[n]: writes[n] is declared but not written by the final incarnation
	reexecute bool   // the first incarnation is aborted and its writes become estimates
}

// workload is the deterministic input of a simulation
type workload struct {
	keys   []statekey.Key
	blocks [][]*txn
}

// generateWorkload creates the key set and the transactions of all blocks
// from cfg.Seed. Key popularity follows a zipf distribution, so a few keys are
// read and written by many transactions of a block.
func generateWorkload(cfg *common.BenchConfig) *workload {
	rng := rand.New(rand.NewSource(cfg.Seed))

	w := &workload{keys: make([]statekey.Key, cfg.Keys)}
	for i := range w.keys {
		addr := statekey.MustParseAddress(fmt.Sprintf("0x%x", 0x100+i%16))
		if i < cfg.CodeKeys {
			w.keys[i] = statekey.CodeKey(addr, fmt.Sprintf("module_%d", i))
		} else {
			w.keys[i] = statekey.ResourceKey(addr, fmt.Sprintf("0x1::bench::Resource%d", i))
		}
	}

	// shuffle so that the hot keys are a mix of code and data
	hot := rng.Perm(len(w.keys))
	zipf := rand.NewZipf(rng, zipfSkew, 1, uint64(len(w.keys)-1))
	pick := func() int {
		return hot[zipf.Uint64()]
	}

	w.blocks = make([][]*txn, cfg.Blocks)
	for b := range w.blocks {
		txns := make([]*txn, cfg.Transactions)
		for i := range txns {
			t := &txn{
				idx:       mvcc.TxnIndex(i),
				reads:     make([]statekey.Key, cfg.ReadsPerTxn),
				writes:    distinctKeys(w.keys, cfg.WritesPerTxn, pick),
				reexecute: rng.Float64() < cfg.ReexecutionRate,
			}
			for r := range t.reads {
				t.reads[r] = w.keys[pick()]
			}
			t.skip = make([]bool, len(t.writes))
			for n := range t.skip {
				t.skip[n] = rng.Float64() < cfg.SkipWriteRate
			}
			txns[i] = t
		}
		w.blocks[b] = txns
	}

	return w
}

// distinctKeys picks n different keys, falling back to a linear scan when the
// distribution keeps returning the same few hot keys
func distinctKeys(keys []statekey.Key, n int, pick func() int) []statekey.Key {
	seen := make(map[int]bool, n)
	out := make([]statekey.Key, 0, n)

	for attempts := 0; len(out) < n && attempts < 8*n; attempts++ {
		if i := pick(); !seen[i] {
			seen[i] = true
			out = append(out, keys[i])
		}
	}
	for i := 0; len(out) < n; i++ {
		if !seen[i] {
			seen[i] = true
			out = append(out, keys[i])
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Values
// --------------------------------------------------------------------------

// genesisState returns the committed state before the first block
func genesisState(keys []statekey.Key) map[statekey.Key]statekey.Blob {
	state := make(map[statekey.Key]statekey.Blob, len(keys))
	for _, key := range keys {
		if key.IsCode() {
			state[key] = statekey.NewBlob(statekey.EncodeModule(key.Path, []byte("genesis")))
		} else {
			state[key] = statekey.NewBlob([]byte("genesis:" + key.Path))
		}
	}
	return state
}

// outputValue is the value the final incarnation of a transaction writes to
// key. It depends on everything the transaction read (digest).
func outputValue(key statekey.Key, height uint64, idx mvcc.TxnIndex, digest []byte) statekey.Blob {
	payload := fmt.Appendf(nil, "%d/%d/%x", height, idx, digest[:8])
	if key.IsCode() {
		return statekey.NewBlob(statekey.EncodeModule(key.Path, payload))
	}
	return statekey.NewBlob(payload)
}

// abortedValue is written by an incarnation that is aborted afterwards
func abortedValue(key statekey.Key, height uint64, idx mvcc.TxnIndex) statekey.Blob {
	payload := fmt.Appendf(nil, "aborted/%d/%d", height, idx)
	if key.IsCode() {
		return statekey.NewBlob(statekey.EncodeModule(key.Path, payload))
	}
	return statekey.NewBlob(payload)
}

// contentOf is what a transaction observes when reading a value. Code is
// observed through its module, so an executable from any cache must yield
// the same bytes as decoding the stored blob.
func contentOf(module *statekey.Module) []byte {
	return statekey.EncodeModule(module.Name, module.Code)
}
