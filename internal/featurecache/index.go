package featurecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const indexFileName = "index.json"

type indexFile struct {
	NextSeq uint64   `json:"next_seq"`
	Entries []*Entry `json:"entries"`
}

// load reads the on-disk index and rebuilds the in-memory map, dropping
// entries whose blob files are missing.
func (c *Cache) load() error {
	path := filepath.Join(c.dir, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read index: %w", err)
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	c.nextSeq = idx.NextSeq
	for _, entry := range idx.Entries {
		if entry == nil {
			continue
		}
		if _, err := os.Stat(entry.Blob); err != nil {
			continue
		}
		c.entries[key{fingerprint: entry.Fingerprint, descriptor: entry.Descriptor}] = entry
		c.totalSize += entry.Size
		if entry.Seq >= c.nextSeq {
			c.nextSeq = entry.Seq + 1
		}
	}
	return nil
}

// saveLocked persists the index; callers hold c.mu.
func (c *Cache) saveLocked() error {
	idx := indexFile{
		NextSeq: c.nextSeq,
		Entries: make([]*Entry, 0, len(c.entries)),
	}
	for _, entry := range c.entries {
		idx.Entries = append(idx.Entries, entry)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return writeFileAtomic(filepath.Join(c.dir, indexFileName), data)
}
