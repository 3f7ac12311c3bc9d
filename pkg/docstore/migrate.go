package docstore

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"

	"trestle/pkg/logger"
)

// schemaVersion is the document layout version this build writes.
const schemaVersion = 1

// sysVersionKey lives outside the doc: namespace so listings and sweeps
// never see it.
var sysVersionKey = []byte("sys:schema_version")

// migrate brings a store written by an older build up to the current schema.
// It runs inside Open, is idempotent, and refuses stores from newer builds.
func migrate() error {
	from := 0
	v, closer, err := db.Get(sysVersionKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return err
	default:
		parsed, perr := strconv.Atoi(string(v))
		closer.Close()
		if perr != nil {
			return fmt.Errorf("corrupt schema version: %w", perr)
		}
		from = parsed
	}

	if from == schemaVersion {
		return nil
	}
	if from > schemaVersion {
		return fmt.Errorf("store schema %d is newer than this build supports (%d)", from, schemaVersion)
	}

	logger.Info("store_migrate_start", "from", from, "to", schemaVersion)
	for step := from; step < schemaVersion; step++ {
		if err := migrateStep(step); err != nil {
			logger.Error("store_migrate_failed", "step", step, "error", err)
			return err
		}
	}
	if err := db.Set(sysVersionKey, []byte(strconv.Itoa(schemaVersion)), pebble.Sync); err != nil {
		return err
	}
	logger.Info("store_migrate_complete", "version", schemaVersion)
	return nil
}

// migrateStep upgrades one schema version. Steps must be idempotent: a crash
// between a step and the version stamp reruns the step on the next open.
func migrateStep(from int) error {
	switch from {
	case 0:
		// v0 stores predate the version stamp; the document format is
		// unchanged, so stamping is all that's needed
		return nil
	}
	return fmt.Errorf("no migration defined from schema %d", from)
}
