package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/database"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupDatabaseFlags adds the database configuration flags to a command
func SetupDatabaseFlags(cmd *cobra.Command) {
	def := common.DefaultDatabaseConfig()

	key := "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory holding the database file (empty = in-memory, nothing is persisted)"))

	key = "shards"
	cmd.PersistentFlags().Int(key, def.Shards, WrapString("Shard count of the storage engine"))

	key = "cache-size"
	cmd.PersistentFlags().Int(key, def.DocumentCacheSize, WrapString("Number of decoded documents kept in memory"))

	key = "serializer"
	cmd.PersistentFlags().String(key, def.Serializer, WrapString("Format of index configuration records (json, gob, binary)"))

	key = "page-size"
	cmd.PersistentFlags().Int(key, def.PageSize, WrapString("Entries per persisted index page"))

	key = "max-updates-before-save"
	cmd.PersistentFlags().Int(key, def.MaxUpdatesBeforeSave, WrapString("Index updates after which pending changes are flushed"))

	key = "optimize-threshold"
	cmd.PersistentFlags().Int(key, def.OptimizeThreshold, WrapString("Removed index entries after which a save rewrites every page (0 = never)"))

	key = "compression"
	cmd.PersistentFlags().String(key, string(def.Compression), WrapString("Compression of index pages (none, zstd, lz4)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and makes viper read DDB_ environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("ddb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetDatabaseConfig reads the database configuration from viper
func GetDatabaseConfig() common.DatabaseConfig {
	return common.DatabaseConfig{
		DataDir:              viper.GetString("data-dir"),
		Shards:               viper.GetInt("shards"),
		DocumentCacheSize:    viper.GetInt("cache-size"),
		Serializer:           viper.GetString("serializer"),
		PageSize:             viper.GetInt("page-size"),
		MaxUpdatesBeforeSave: viper.GetInt("max-updates-before-save"),
		OptimizeThreshold:    viper.GetInt("optimize-threshold"),
		Compression:          common.Compression(viper.GetString("compression")),
		LogLevel:             viper.GetString("log-level"),
	}
}

// --------------------------------------------------------------------------
// Database lifecycle
// --------------------------------------------------------------------------

// DB is the database opened by OpenDatabase
var DB *database.Database

// OpenDatabase binds the flags of cmd, initializes the loggers and opens the
// database. It is meant to be used as PersistentPreRunE.
func OpenDatabase(cmd *cobra.Command, _ []string) error {
	if err := BindCommandFlags(cmd); err != nil {
		return err
	}
	cfg := GetDatabaseConfig()
	if err := common.InitLoggers(cfg); err != nil {
		return err
	}
	d, err := database.Open(cfg)
	if err != nil {
		return err
	}
	DB = d
	return nil
}

// CloseDatabase closes the database opened by OpenDatabase. It is meant to be
// used as PersistentPostRunE.
func CloseDatabase(_ *cobra.Command, _ []string) error {
	if DB == nil {
		return nil
	}
	err := DB.Close()
	DB = nil
	return err
}

// --------------------------------------------------------------------------
// Key parsing
// --------------------------------------------------------------------------

// ParseKey converts a command line argument to an index key of the given type
// (string, int, float, bool, time). Times use RFC 3339.
func ParseKey(raw, keyType string) (any, error) {
	switch keyType {
	case "string", "":
		return raw, nil
	case "int":
		var v int64
		if _, err := fmt.Sscan(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid int key %q: %w", raw, err)
		}
		return v, nil
	case "float":
		var v float64
		if _, err := fmt.Sscan(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid float key %q: %w", raw, err)
		}
		return v, nil
	case "bool":
		switch strings.ToLower(raw) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool key %q", raw)
	case "time":
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid time key %q: %w", raw, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("invalid key type %q: must be one of string, int, float, bool, time", keyType)
	}
}
