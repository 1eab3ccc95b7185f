// Package cache implements the Cache Layer: a two-tier, BadgerDB-backed
// store of per-file Syntax-Visitor output and per-function signatures, keyed
// and gzip-compressed. Entries carry an LRU touch timestamp for the
// entry-cap eviction policy and an independent TTL for pruning.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/raiseattention/raiseattention/internal/model"
)

// BadgerDB key schema: "prefix:id:data"/"prefix:id:meta" pairs per entry.
const (
	keyPrefixFile = "cache:file:"
	keyPrefixSig  = "cache:sig:"
	keySuffixData = ":data"
	keySuffixMeta = ":meta"
)

// FileEntry is the file-level tier's cached value: the Syntax Visitor's
// output for one (absolute path, content hash) pair.
type FileEntry struct {
	ContentHash string
	Functions   []*model.FunctionInfo
	Imports     []model.ImportRecord
	Docstring   string
}

// entryMeta is stored alongside both tiers' data for eviction/invalidation
// bookkeeping, independent of the JSON payload's own shape.
type entryMeta struct {
	Key         string `json:"key"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	StoredAt    int64  `json:"stored_at_unix"`
	LastTouched int64  `json:"last_touched_unix"`
}

// Config tunes eviction/TTL behaviour, matching config.CacheConfig.
type Config struct {
	Enabled        bool
	MaxFileEntries int
	TTLHours       int
}

// Cache owns a BadgerDB handle opened exclusively for one cache directory.
// Safe for concurrent use; BadgerDB serialises its own transactions.
type Cache struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger
}

// Open opens (creating if absent) the BadgerDB store at dir. The caller must
// call Close when the analysis session ends; Badger holds an OS-level
// exclusive lock on dir for the process's lifetime, satisfying spec.md §5's
// "opened with an exclusive advisory lock per process" requirement.
func Open(dir string, cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", dir, err)
	}
	return &Cache{db: db, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying BadgerDB handle and its directory lock.
func (c *Cache) Close() error {
	return c.db.Close()
}

// GetFile looks up the file-level tier by absolute path and content hash. A
// hash mismatch against the stored meta is treated as a miss (the file
// changed since it was cached), not an error.
func (c *Cache) GetFile(ctx context.Context, path, contentHash string) (FileEntry, bool) {
	if !c.cfg.Enabled {
		return FileEntry{}, false
	}
	key := keyPrefixFile + hashString(path)
	meta, raw, ok := c.read(key)
	if !ok || meta.ContentHash != contentHash {
		return FileEntry{}, false
	}
	if c.expired(meta) {
		return FileEntry{}, false
	}

	var entry FileEntry
	if err := unmarshalCompressed(raw, &entry); err != nil {
		c.logger.Debug("cache: corrupt file entry, treating as miss", "path", path, "error", err)
		return FileEntry{}, false
	}
	c.touch(key)
	return entry, true
}

// PutFile stores the Syntax Visitor's output for (path, contentHash).
func (c *Cache) PutFile(ctx context.Context, path, contentHash string, entry FileEntry) error {
	if !c.cfg.Enabled {
		return nil
	}
	key := keyPrefixFile + hashString(path)
	entry.ContentHash = contentHash
	if err := c.write(key, contentHash, entry); err != nil {
		return err
	}
	return c.evictIfOverCap(keyPrefixFile)
}

// GetSignature looks up the signature-level tier: keyed by the function's
// qualified name plus the module content hash plus a hash of the transitive
// dependency signatures that fed it, per spec.md §4.6.
func (c *Cache) GetSignature(ctx context.Context, qualname, moduleHash, depHash string) (model.ExceptionSet, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	composite := hashString(qualname + "|" + moduleHash + "|" + depHash)
	key := keyPrefixSig + composite
	meta, raw, ok := c.read(key)
	if !ok || c.expired(meta) {
		return nil, false
	}
	var es model.ExceptionSet
	if err := unmarshalCompressed(raw, &es); err != nil {
		c.logger.Debug("cache: corrupt signature entry, treating as miss", "qualname", qualname, "error", err)
		return nil, false
	}
	c.touch(key)
	return es, true
}

// PutSignature stores a converged function signature under the composite
// key described by GetSignature.
func (c *Cache) PutSignature(ctx context.Context, qualname, moduleHash, depHash string, es model.ExceptionSet) error {
	if !c.cfg.Enabled {
		return nil
	}
	composite := hashString(qualname + "|" + moduleHash + "|" + depHash)
	key := keyPrefixSig + composite
	return c.write(key, moduleHash, es)
}

// Stats reports the aggregate counts the `cache status` subcommand shows.
type Stats struct {
	FileEntries      int
	SignatureEntries int
}

// Status computes Stats by iterating both key prefixes.
func (c *Cache) Status() (Stats, error) {
	var stats Stats
	err := c.db.View(func(txn *badger.Txn) error {
		stats.FileEntries = countPrefix(txn, keyPrefixFile)
		stats.SignatureEntries = countPrefix(txn, keyPrefixSig)
		return nil
	})
	return stats, err
}

// Clear deletes every cache entry across both tiers.
func (c *Cache) Clear() error {
	return c.db.DropAll()
}

// Prune removes entries whose TTL has elapsed, returning the count removed.
func (c *Cache) Prune() (int, error) {
	pruned := 0
	err := c.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if !hasMetaSuffix(key) {
				continue
			}
			var meta entryMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				continue
			}
			if c.expired(meta) {
				base := key[:len(key)-len(keySuffixMeta)]
				stale = append(stale, append([]byte(nil), base...))
			}
		}
		for _, base := range stale {
			if err := txn.Delete(append(base, []byte(keySuffixMeta)...)); err != nil {
				return err
			}
			if err := txn.Delete(append(base, []byte(keySuffixData)...)); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func (c *Cache) expired(meta entryMeta) bool {
	if c.cfg.TTLHours <= 0 {
		return false
	}
	age := time.Since(time.Unix(meta.StoredAt, 0))
	return age > time.Duration(c.cfg.TTLHours)*time.Hour
}

func (c *Cache) write(key, contentHash string, payload any) error {
	compressed, err := marshalCompressed(payload)
	if err != nil {
		return err
	}
	meta := entryMeta{
		Key:         key,
		ContentHash: contentHash,
		Size:        int64(len(compressed)),
		StoredAt:    time.Now().Unix(),
		LastTouched: time.Now().UnixNano(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key+keySuffixData), compressed); err != nil {
			return err
		}
		return txn.Set([]byte(key+keySuffixMeta), metaJSON)
	})
}

func (c *Cache) read(key string) (entryMeta, []byte, bool) {
	var meta entryMeta
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		metaItem, err := txn.Get([]byte(key + keySuffixMeta))
		if err != nil {
			return err
		}
		if err := metaItem.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
			return err
		}
		dataItem, err := txn.Get([]byte(key + keySuffixData))
		if err != nil {
			return err
		}
		return dataItem.Value(func(val []byte) error {
			raw = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return entryMeta{}, nil, false
	}
	return meta, raw, true
}

func (c *Cache) touch(key string) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key + keySuffixMeta))
		if err != nil {
			return err
		}
		var meta entryMeta
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
			return err
		}
		meta.LastTouched = time.Now().UnixNano()
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key+keySuffixMeta), metaJSON)
	})
}

// evictIfOverCap drops the least-recently-touched entries under prefix once
// the entry count exceeds MaxFileEntries. Only the file-level tier is
// capped, per spec.md §4.6 ("eviction: LRU over a configured entry cap" is
// specified for the file tier).
func (c *Cache) evictIfOverCap(prefix string) error {
	if prefix != keyPrefixFile || c.cfg.MaxFileEntries <= 0 {
		return nil
	}
	type candidate struct {
		base        string
		lastTouched int64
	}
	var all []candidate
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if !hasMetaSuffix(key) {
				continue
			}
			var meta entryMeta
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				continue
			}
			all = append(all, candidate{base: string(key[:len(key)-len(keySuffixMeta)]), lastTouched: meta.LastTouched})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(all) <= c.cfg.MaxFileEntries {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i].lastTouched < all[j].lastTouched })
	toEvict := all[:len(all)-c.cfg.MaxFileEntries]

	return c.db.Update(func(txn *badger.Txn) error {
		for _, cand := range toEvict {
			if err := txn.Delete([]byte(cand.base + keySuffixMeta)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(cand.base + keySuffixData)); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasMetaSuffix(key []byte) bool {
	return len(key) >= len(keySuffixMeta) && string(key[len(key)-len(keySuffixMeta):]) == keySuffixMeta
}

func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	n := 0
	for it.Seek([]byte(prefix)); it.Valid(); it.Next() {
		if hasMetaSuffix(it.Item().Key()) {
			n++
		}
	}
	return n
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func marshalCompressed(v any) ([]byte, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal: %w", err)
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("cache: gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("cache: compress: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("cache: close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalCompressed(compressed []byte, v any) error {
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("cache: gzip reader: %w", err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return fmt.Errorf("cache: decompress: %w", err)
	}
	return json.Unmarshal(jsonData, v)
}
