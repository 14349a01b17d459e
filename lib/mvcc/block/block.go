// Package block bundles the versioned stores of one block.
//
// A Block is created by the block executor when a block starts and finished
// once all transactions are committed. The base stores it falls back to are
// owned by the host (Bases) and live across blocks, the Block itself and its
// stores are discarded after Finish.
package block

import (
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/common"
	"github.com/ValentinKolb/mvkv/lib/mvcc"
	"github.com/ValentinKolb/mvkv/lib/mvcc/base"
	"github.com/ValentinKolb/mvkv/lib/mvcc/versioned"
	"github.com/ValentinKolb/mvkv/lib/statekey"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var plog = logger.GetLogger(common.LoggerBlock)

// Store is the versioned store type used for both key kinds. For code keys the
// executables are deserialized modules, for resources decoded layouts.
type Store = versioned.Store[statekey.Key, statekey.Blob, *statekey.Module]

// --------------------------------------------------------------------------
// Bases (host owned)
// --------------------------------------------------------------------------

// Bases are the cross-block executable caches, one per key kind
type Bases struct {
	Code *base.Store[statekey.Key, *statekey.Module]
	Data *base.Store[statekey.Key, *statekey.Module]
}

// NewBases creates both base stores with the given capacity
func NewBases(capacity int) *Bases {
	return &Bases{
		Code: base.New[statekey.Key, *statekey.Module](capacity),
		Data: base.New[statekey.Key, *statekey.Module](capacity),
	}
}

// --------------------------------------------------------------------------
// Block
// --------------------------------------------------------------------------

// Block is the per-block context of the executor
type Block struct {
	height   uint64
	code     *Store
	data     *Store
	finished atomic.Bool
}

// Summary is returned by Finish
type Summary struct {
	Height uint64               `json:"height"`
	Code   mvcc.PromotionResult `json:"code"`
	Data   mvcc.PromotionResult `json:"data"`
}

// New starts a block at the given height on top of the host owned bases.
// cfg may be nil to use the default store options.
func New(height uint64, bases *Bases, cfg *common.StoreConfig) *Block {
	if bases == nil || bases.Code == nil || bases.Data == nil {
		panic(errors.AssertionFailedf("block: bases must not be nil"))
	}

	codeOpts := versioned.DefaultOptions()
	dataOpts := versioned.DefaultOptions()
	if cfg != nil {
		codeOpts.NumShards, dataOpts.NumShards = cfg.NumShards, cfg.NumShards
		codeOpts.PromotionWorkers, dataOpts.PromotionWorkers = cfg.PromotionWorkers, cfg.PromotionWorkers
	}
	codeOpts.Name, dataOpts.Name = "code", "data"

	plog.Debugf("starting block %d", height)

	return &Block{
		height: height,
		code:   versioned.New[statekey.Key, statekey.Blob, *statekey.Module](bases.Code, codeOpts),
		data:   versioned.New[statekey.Key, statekey.Blob, *statekey.Module](bases.Data, dataOpts),
	}
}

// Height returns the height of the block
func (b *Block) Height() uint64 {
	return b.height
}

// Code returns the store for code keys
func (b *Block) Code() *Store {
	b.mustBeRunning()
	return b.code
}

// Data returns the store for resource keys
func (b *Block) Data() *Store {
	b.mustBeRunning()
	return b.data
}

// StoreFor returns the store responsible for key
func (b *Block) StoreFor(key statekey.Key) *Store {
	if key.IsCode() {
		return b.Code()
	}
	return b.Data()
}

// Finish promotes the executables of both stores into the bases. It must be
// called once, after every transaction of the block was committed. The block
// must not be used afterwards.
func (b *Block) Finish() Summary {
	if !b.finished.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("block %d: finished twice", b.height))
	}

	summary := Summary{
		Height: b.height,
		Code:   b.code.UpdateBaseExecutables(),
		Data:   b.data.UpdateBaseExecutables(),
	}

	plog.Infof("block %d finished: code %d/%d promoted/evicted, data %d/%d promoted/evicted",
		b.height, summary.Code.Promoted, summary.Code.Evicted, summary.Data.Promoted, summary.Data.Evicted)

	return summary
}

func (b *Block) mustBeRunning() {
	if b.finished.Load() {
		panic(errors.AssertionFailedf("block %d: used after finish", b.height))
	}
}
