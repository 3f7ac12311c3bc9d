// Package docstore persists documents in a pebble database. Documents are
// opaque bodies plus serving metadata, keyed under a doc: namespace, with an
// optional expiry honored by the sweeper.
package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"trestle/pkg/logger"
)

var db *pebble.DB
var dbPath string

// ErrNotFound reports a missing document key.
var ErrNotFound = errors.New("docstore: not found")

// Document is the stored unit. A zero Expires means the document never
// expires.
type Document struct {
	Body        []byte    `json:"body"`
	ContentType string    `json:"content_type,omitempty"`
	Created     time.Time `json:"created"`
	Expires     time.Time `json:"expires"`
}

func docKey(key string) []byte { return []byte("doc:" + key) }

// Open opens (or creates) a pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	if err := migrate(); err != nil {
		_ = db.Close()
		db = nil
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

// Put stores doc under key, overwriting any previous version. A zero Created
// is stamped with the current time.
func Put(key string, doc Document) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call docstore.Open first")
	}
	if doc.Created.IsZero() {
		doc.Created = time.Now().UTC()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := db.Set(docKey(key), data, pebble.Sync); err != nil {
		logger.Error("doc_put_failed", "key", key, "error", err)
		return err
	}
	opsTotal.WithLabelValues("put").Inc()
	logger.Debug("doc_put", "key", key, "bytes", len(doc.Body))
	return nil
}

// Get returns the document stored under key.
func Get(key string) (Document, error) {
	var doc Document
	if db == nil {
		return doc, fmt.Errorf("pebble not opened; call docstore.Open first")
	}
	v, closer, err := db.Get(docKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return doc, ErrNotFound
		}
		return doc, err
	}
	if closer != nil {
		defer closer.Close()
	}
	if err := json.Unmarshal(v, &doc); err != nil {
		return doc, fmt.Errorf("corrupt document %q: %w", key, err)
	}
	opsTotal.WithLabelValues("get").Inc()
	return doc, nil
}

// Delete removes the document stored under key. Deleting a missing key is
// not an error.
func Delete(key string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call docstore.Open first")
	}
	if err := db.Delete(docKey(key), pebble.Sync); err != nil {
		logger.Error("doc_delete_failed", "key", key, "error", err)
		return err
	}
	opsTotal.WithLabelValues("delete").Inc()
	logger.Info("doc_deleted", "key", key)
	return nil
}

// List returns up to limit document keys with the given key prefix, in
// lexicographic order. limit <= 0 means no limit.
func List(prefix string, limit int) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call docstore.Open first")
	}
	pfx := docKey(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()[len("doc:"):]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	opsTotal.WithLabelValues("list").Inc()
	return out, iter.Error()
}

// SweepExpired deletes documents whose expiry passed before now, removing at
// most batch documents per call (batch <= 0 removes everything due). With
// dryRun set it only counts.
func SweepExpired(now time.Time, batch int, dryRun bool) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call docstore.Open first")
	}
	pfx := []byte("doc:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	removed := 0
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		var doc Document
		v := append([]byte(nil), iter.Value()...)
		if json.Unmarshal(v, &doc) != nil {
			// unreadable entries stay put for inspection
			continue
		}
		if doc.Expires.IsZero() || doc.Expires.After(now) {
			continue
		}
		if dryRun {
			removed++
		} else {
			key := append([]byte(nil), iter.Key()...)
			if err := db.Delete(key, pebble.Sync); err != nil {
				return removed, err
			}
			sweptTotal.Inc()
			removed++
		}
		if batch > 0 && removed >= batch {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return removed, err
	}
	if removed > 0 {
		logger.Info("doc_sweep", "removed", removed, "dry_run", dryRun)
	}
	return removed, nil
}

// Stats is a compact operational view of the store.
type Stats struct {
	Docs      int    `json:"docs"`
	DiskBytes uint64 `json:"disk_bytes"`
}

// Usage counts documents and walks the database directory for on-disk size.
// Best effort; an unopened store reports zeros.
func Usage() Stats {
	var s Stats
	if db == nil {
		return s
	}
	pfx := []byte("doc:")
	if iter, err := db.NewIter(&pebble.IterOptions{}); err == nil {
		for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
			if !bytes.HasPrefix(iter.Key(), pfx) {
				break
			}
			s.Docs++
		}
		iter.Close()
	}
	if dbPath != "" {
		var total uint64
		_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if fi, ferr := d.Info(); ferr == nil {
				total += uint64(fi.Size())
			}
			return nil
		})
		s.DiskBytes = total
	}
	return s
}
