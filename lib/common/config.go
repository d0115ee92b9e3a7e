package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Database configuration struct
// --------------------------------------------------------------------------

// Compression selects how index pages are compressed on disk
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZSTD Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// DatabaseConfig holds all configuration parameters of an embedded database.
type DatabaseConfig struct {
	// Storage
	DataDir string // directory holding the snapshot file, empty = in-memory only
	Shards  int    // shard count of the maple engine (0 = number of CPUs)

	// Documents
	DocumentCacheSize int // decoded documents kept in the LRU cache

	// Index configuration records
	Serializer string // json, gob or binary

	// Index maps
	PageSize             int         // entries per persisted page
	MaxUpdatesBeforeSave int         // dirty updates after which a lazy save flushes
	OptimizeThreshold    int         // removals after which a save rewrites all pages
	Compression          Compression // page compression

	// Logging configuration
	LogLevel string
}

// DefaultDatabaseConfig returns the configuration used when nothing is overridden
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		DataDir:              "",
		Shards:               runtime.NumCPU(),
		DocumentCacheSize:    10_000,
		Serializer:           "binary",
		PageSize:             256,
		MaxUpdatesBeforeSave: 5_000,
		OptimizeThreshold:    100_000,
		Compression:          CompressionZSTD,
		LogLevel:             "info",
	}
}

// Validate checks the configuration for values the database cannot work with
func (c *DatabaseConfig) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Serializer {
	case "json", "gob", "binary":
	default:
		return fmt.Errorf("invalid serializer %q: must be one of json, gob, binary", c.Serializer)
	}
	switch c.Compression {
	case CompressionNone, CompressionZSTD, CompressionLZ4:
	default:
		return fmt.Errorf("invalid compression %q: must be one of none, zstd, lz4", c.Compression)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.MaxUpdatesBeforeSave < 0 || c.OptimizeThreshold < 0 || c.DocumentCacheSize < 0 {
		return fmt.Errorf("thresholds and cache size must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *DatabaseConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = "(in-memory)"
	}
	addField("Data Directory", dataDir)
	addField("Shards", strconv.Itoa(c.Shards))
	addField("Document Cache", fmt.Sprintf("%d docs", c.DocumentCacheSize))

	addSection("Indexes")
	addField("Config Serializer", c.Serializer)
	addField("Page Size", fmt.Sprintf("%d entries", c.PageSize))
	addField("Max Updates/Save", strconv.Itoa(c.MaxUpdatesBeforeSave))
	addField("Optimize Threshold", strconv.Itoa(c.OptimizeThreshold))
	addField("Compression", string(c.Compression))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
