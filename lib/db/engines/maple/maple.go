package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dDB/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "DDBMAPLE" // File format identifier
	mapleVersion = 1          // Snapshot format version
	maxKeyLen    = 1<<16 - 1  // Keys are stored with a 16 bit length prefix
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory database with sharded data
type mapleImpl struct {
	mu        sync.RWMutex      // guards the shard slice against Load swapping it
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	currIndex atomic.Uint64     // Current logical timestamp
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	newDB := &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
		shards:    newShards(opts.NumShards),
	}
	newDB.currIndex.Store(0)

	return newDB
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := 0; i < n; i++ {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shardFor returns the shard responsible for a key
//
// Thread-safety: the caller must hold maple.mu (read or write).
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Set inserts or updates an entry with the given key, value, and currentIndex.
// If the key already exists, the old value is overwritten unless the stored entry
// was written at a newer index (stale writes are ignored).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Set(key string, value []byte, writeIdx uint64) {
	maple.SetWriteIdx(writeIdx)

	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	maple.mu.RLock()
	defer maple.mu.RUnlock()

	maple.shardFor(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if loaded && writeIdx < old.Index {
			return old, false
		}
		return internal.Entry{Value: valueCopy, Index: writeIdx}, false
	})
}

// Delete removes an entry with the specified key.
// A delete older than the stored entry is ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, writeIdx uint64) {
	maple.SetWriteIdx(writeIdx)

	maple.mu.RLock()
	defer maple.mu.RUnlock()

	maple.shardFor(key).Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return old, true // set delete to true because else the value will be created
		}
		if writeIdx < old.Index {
			return old, false
		}
		return old, true
	})
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a value for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return nil, false
	}
	data := make([]byte, len(e.Value))
	copy(data, e.Value)
	return data, true
}

// Has checks if a key exists in the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	_, ok := maple.shardFor(key).Data.Load(key)
	return ok
}

// Range visits all entries whose key starts with prefix.
// The scan is not a consistent cut: concurrent writes may or may not be observed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// fn must not write to the database.
func (maple *mapleImpl) Range(prefix string, fn func(key string, value []byte) bool) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	for _, shard := range maple.shards {
		cont := true
		shard.Data.Range(func(key string, e internal.Entry) bool {
			if !strings.HasPrefix(key, prefix) {
				return true
			}
			value := make([]byte, len(e.Value))
			copy(value, e.Value)
			cont = fn(key, value)
			return cont
		})
		if !cont {
			return
		}
	}
}

// Len returns the number of stored keys
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Len() int {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	n := 0
	for _, shard := range maple.shards {
		n += shard.Data.Size()
	}
	return n
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer
// Concurrent reading and writing is allowed during Save operation
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load. It takes snapshots of the data without blocking modifications.
func (maple *mapleImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type entryToSave struct {
		key   string
		entry internal.Entry
	}

	var dataEntries []entryToSave

	// Collect snapshots of all shards
	maple.mu.RLock()
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, entry internal.Entry) bool {
			// Create deep copy
			entryCopy := internal.Entry{
				Index: entry.Index,
				Value: make([]byte, len(entry.Value)),
			}
			copy(entryCopy.Value, entry.Value)

			dataEntries = append(dataEntries, entryToSave{key, entryCopy})
			return true
		})
	}
	seed := maple.seed
	maple.mu.RUnlock()

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write maple version
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	// Write seed
	if err := binary.Write(bw, binary.LittleEndian, seed); err != nil {
		return err
	}

	// Write total data entries count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(dataEntries))); err != nil {
		return err
	}

	// Write data entries
	for _, item := range dataEntries {
		if len(item.key) > maxKeyLen {
			return fmt.Errorf("key too long to persist: %d bytes", len(item.key))
		}

		// Write key
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(item.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(item.key); err != nil {
			return err
		}

		// Write created index
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Index); err != nil {
			return err
		}

		// Write value length
		valueLen := uint32(len(item.entry.Value))
		if err := binary.Write(bw, binary.LittleEndian, valueLen); err != nil {
			return err
		}

		// Write value bytes
		if _, err := bw.Write(item.entry.Value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load restores a database from the reader, replacing the current content
//
// Thread-safety: Load blocks all other operations while the new shards are built.
func (maple *mapleImpl) Load(r io.Reader) error {

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}

	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}

	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	// Read seed
	var seed uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}

	// Read data entries count
	var dataCount uint64
	if err := binary.Read(br, binary.LittleEndian, &dataCount); err != nil {
		return err
	}

	shards := newShards(maple.numShards)

	// Track the highest index seen during load
	var maxIndex uint64 = 0

	// Read data entries
	for i := uint64(0); i < dataCount; i++ {
		// Read key
		var keyLen uint16
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(br, keyBytes); err != nil {
			return err
		}
		key := string(keyBytes)

		// Read created index
		var createdIndex uint64
		if err := binary.Read(br, binary.LittleEndian, &createdIndex); err != nil {
			return err
		}

		// Track the highest index
		if createdIndex > maxIndex {
			maxIndex = createdIndex
		}

		// Read value length
		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}

		// Read value bytes
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		shard := internal.GetShard(util.HashString(key, seed), shards)
		shard.Data.Store(key, internal.Entry{
			Value: value,
			Index: createdIndex,
		})
	}

	// swap in the loaded state
	maple.mu.Lock()
	maple.shards = shards
	maple.seed = seed
	maple.mu.Unlock()

	// Update current index to the highest seen during load
	maple.SetWriteIdx(maxIndex)

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	// create a size histogram for the info
	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))

	shardSizes := make([]float64, len(maple.shards))

	// concurrently collect samples from all shards
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, entry internal.Entry) bool {
				histogram.AddSample(len(key) + len(entry.Value))

				// only sample a few entries per shard
				count++
				return count < samplesPerShard
			})
			shardSizes[i] = float64(s.Data.Size())
		}(shardIndex, shard)
	}

	// wait for all shards to finish
	wg.Wait()

	keys := 0
	for _, n := range shardSizes {
		keys += int(n)
	}

	// calculate size
	entryOverhead := 12 // index and value length
	medianSize := histogram.MedianEstimate() + entryOverhead
	avgSize := histogram.AverageSize() + entryOverhead

	// weighted estimate (60% median, 40% average)
	sizeBytes := (medianSize*60 + avgSize*40) / 100 * keys

	// Metadata for this specific database implementation
	meta := &struct {
		CurrentWriteIndex uint64                 `json:"current_write_index"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		Info              string                 `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		Info:              "SizeBytes is an estimate based on sampled entries.",
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		Keys:              keys,
		DbType:            db.ImplMaple,
		SupportedFeatures: supportedFeatures,
		Metadata:          meta,
	}
}

var supportedFeatures = []db.Feature{
	db.FeatureSet, db.FeatureGet, db.FeatureDelete, db.FeatureHas,
	db.FeatureRange, db.FeatureSave, db.FeatureLoad,
}

// SupportsFeature reports whether all requested feature bits are supported
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	var all db.Feature
	for _, f := range supportedFeatures {
		all |= f
	}
	return feature&all == feature
}

// --------------------------------------------------------------------------
// Write Index Operations
// --------------------------------------------------------------------------

// SetWriteIdx raises the current index, lower values are ignored
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(index uint64) {
	for {
		curr := maple.currIndex.Load()
		if index <= curr || maple.currIndex.CompareAndSwap(curr, index) {
			return
		}
	}
}

func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}

// Close drops all data held by the database
func (maple *mapleImpl) Close() error {
	maple.mu.Lock()
	defer maple.mu.Unlock()
	for _, shard := range maple.shards {
		shard.Data.Clear()
	}
	return nil
}
