package testing

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/dDB/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("StaleWrites", func(t *testing.T) {
			testStaleWrites(t, factory())
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentUsage", func(t *testing.T) {
			testConcurrentUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	database.Set(testKey, testValue1, 1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.Set(testKey, testValue2, 2)

	result, _ = database.Get(testKey)
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	input := []byte("mutable")
	database.Set("copy-key", input, 3)
	input[0] = 'X'
	stored, _ := database.Get("copy-key")
	if !bytes.Equal(stored, []byte("mutable")) {
		t.Errorf("Set should store a copy of the value, got %s", stored)
	}

	if database.WriteIdx() != 3 {
		t.Errorf("Expected write index 3, got %d", database.WriteIdx())
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	database.Set("delete-me", []byte("value"), 1)
	database.Delete("delete-me", 2)

	if _, exists := database.Get("delete-me"); exists {
		t.Errorf("Key should not exist after Delete")
	}

	// deleting a missing key must not create it
	database.Delete("never-set", 3)
	if database.Has("never-set") {
		t.Errorf("Delete of a missing key must not create it")
	}

	if database.Len() != 0 {
		t.Errorf("Expected empty database, got %d keys", database.Len())
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas)

	if database.Has("has-key") {
		t.Errorf("Has should return false for a missing key")
	}
	database.Set("has-key", nil, 1)
	if !database.Has("has-key") {
		t.Errorf("Has should return true for a key with an empty value")
	}
}

func testStaleWrites(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	database.Set("k", []byte("new"), 10)
	database.Set("k", []byte("old"), 5)

	value, _ := database.Get("k")
	if !bytes.Equal(value, []byte("new")) {
		t.Errorf("Stale write overwrote newer value: got %s", value)
	}

	database.Delete("k", 7)
	if !database.Has("k") {
		t.Errorf("Stale delete removed a newer entry")
	}

	database.SetWriteIdx(3)
	if database.WriteIdx() != 10 {
		t.Errorf("Write index moved backwards: %d", database.WriteIdx())
	}
}

func testRange(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureRange)

	for i := 0; i < 50; i++ {
		database.Set(fmt.Sprintf("a/%02d", i), []byte{byte(i)}, uint64(i+1))
		database.Set(fmt.Sprintf("b/%02d", i), []byte{byte(i)}, uint64(i+1))
	}

	var keys []string
	database.Range("a/", func(key string, value []byte) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	if len(keys) != 50 || keys[0] != "a/00" || keys[49] != "a/49" {
		t.Errorf("Range returned unexpected keys: %v", keys)
	}

	visited := 0
	database.Range("", func(string, []byte) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Errorf("Range should stop when fn returns false, visited %d", visited)
	}

	if database.Len() != 100 {
		t.Errorf("Expected 100 keys, got %d", database.Len())
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	// close the databases after the test
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	originalKeys := make([]string, numEntries)
	originalValues := make([][]byte, numEntries)

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value := []byte(fmt.Sprintf("save-load-test-value-%d", i))
		originalKeys[i] = key
		originalValues[i] = value

		database.Set(key, value, uint64(i+1))
	}

	// something already in database2 must be replaced by the load
	database2.Set("leftover", []byte("x"), 1)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Errorf("Unexpected error during Save: %v", err)
	}

	if err := database2.Load(&buf); err != nil {
		t.Errorf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		actualValue, exists := database2.Get(originalKeys[i])
		if !exists {
			t.Errorf("Key %s not found after Load", originalKeys[i])
			continue
		}
		if !bytes.Equal(actualValue, originalValues[i]) {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", originalKeys[i], originalValues[i], actualValue)
		}
	}

	if database2.Has("leftover") {
		t.Errorf("Load should replace the previous content")
	}
	if database2.WriteIdx() != uint64(numEntries) {
		t.Errorf("Expected write index %d after Load, got %d", numEntries, database2.WriteIdx())
	}

	if err := database2.Load(bytes.NewReader([]byte("garbage!"))); err == nil {
		t.Errorf("Load should reject data without the magic number")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	database.Set("", []byte("empty key"), 1)
	if v, ok := database.Get(""); !ok || string(v) != "empty key" {
		t.Errorf("Empty key should be supported")
	}

	large := make([]byte, 1<<20)
	for i := range large {
		large[i] = byte(i)
	}
	database.Set("large", large, 2)
	if v, _ := database.Get("large"); !bytes.Equal(v, large) {
		t.Errorf("Large value was not stored correctly")
	}

	unicode := "ключ-🔑"
	database.Set(unicode, []byte("v"), 3)
	if !database.Has(unicode) {
		t.Errorf("Unicode key should be supported")
	}
}

func testConcurrentUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	numWorkers := 8
	perWorker := 1000
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", worker, i)
				idx := uint64(worker*perWorker + i + 1)
				database.Set(key, []byte(key), idx)
				if v, ok := database.Get(key); !ok || string(v) != key {
					t.Errorf("worker %d lost its own write for %s", worker, key)
					return
				}
				if i%2 == 0 {
					database.Delete(key, idx)
				}
			}
		}(w)
	}
	wg.Wait()

	if database.Len() != numWorkers*perWorker/2 {
		t.Errorf("Expected %d keys, got %d", numWorkers*perWorker/2, database.Len())
	}
}
