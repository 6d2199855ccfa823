// Package config holds the table-independent configuration recognized by
// the store (spec §6): directory roots, the root-split flush threshold,
// and bloom filter sizing. Loading follows the original implementation's
// "set_default, then optionally merge a TOML file" pattern from its
// config.rs, translated into the defaults-struct-then-overlay idiom Go
// code typically uses instead of a runtime key/value config registry.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// BloomFilterConfig sizes the per-table bloom filter.
type BloomFilterConfig struct {
	ItemsCount uint    `toml:"items_count"`
	FPRate     float64 `toml:"fp_rate"`
}

// Config is the set of keys recognized by the store, per spec §6.
type Config struct {
	LeafDir            string            `toml:"leaf_dir"`
	TableDir           string            `toml:"table_dir"`
	RootSplitThreshold uint32            `toml:"root_split_threshold"`
	BloomFilter        BloomFilterConfig `toml:"bloom_filter"`
}

// Default returns the hard-coded defaults from spec §6.
func Default() *Config {
	return &Config{
		LeafDir:            "data",
		TableDir:           "data",
		RootSplitThreshold: 6,
		BloomFilter: BloomFilterConfig{
			ItemsCount: 8192,
			FPRate:     0.01,
		},
	}
}

// Load returns Default() overlaid with path's TOML contents, if path is
// non-empty and the file exists. A missing path is not an error: the
// original implementation treats an absent config.toml the same way.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LeafDirPath returns <leaf_dir>/<table_name>.
func (c *Config) LeafDirPath(tableName string) string {
	return c.LeafDir + "/" + tableName
}

// TableDirPath returns <table_dir>/<table_name>.
func (c *Config) TableDirPath(tableName string) string {
	return c.TableDir + "/" + tableName
}

// LeafFilePath returns <leaf_dir>/<table_name>/leaves-<generation>.amph.
func (c *Config) LeafFilePath(tableName string, generation uint64) string {
	return c.LeafDirPath(tableName) + "/leaves-" + strconv.FormatUint(generation, 10) + ".amph"
}

// TableFilePath returns <table_dir>/<table_name>/sstable-<id>.amph.
func (c *Config) TableFilePath(tableName string, id uint64) string {
	return c.TableDirPath(tableName) + "/sstable-" + strconv.FormatUint(id, 10) + ".amph"
}

// MetadataFilePath returns <table_dir>/<table_name>/metadata.amph.
func (c *Config) MetadataFilePath(tableName string) string {
	return c.TableDirPath(tableName) + "/metadata.amph"
}
