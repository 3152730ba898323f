// Package db implements the database facade and table proxy of spec
// §4.8: schema declaration via a builder, a transaction/retry loop, and
// an auto-commit table proxy layered over pkg/table, pkg/txn and
// pkg/durability.
//
// Grounded on the teacher's pkg/storage/table.go `TableMetaData`
// (accumulates declared tables, rejects re-declaration, looked up by
// name under one RWMutex) generalized into a "global-mutable
// declared-before-init flag, replaced with a builder" redesign:
// `DatabaseBuilder` accumulates schema versions; `Build` freezes the
// schema and yields a `Database` handle. Declaring after Build fails
// deterministically, same as the teacher's duplicate-table rejection.
package db

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relcore/db/pkg/durability"
	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/hostkv"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/metrics"
	"github.com/relcore/db/pkg/schema"
	"github.com/relcore/db/pkg/table"
	"github.com/relcore/db/pkg/txn"
)

// BuilderOptions configures the durability chunking, logging, metrics
// and save-trigger policy of a built Database, in the teacher's
// plain-struct-plus-Default-constructor configuration idiom
// (`wal.Options`/`DefaultOptions()`).
type BuilderOptions struct {
	ChunkLen int
	Logger   zerolog.Logger
	Metrics  *metrics.Registry
	// SaveEveryNCommits runs a save once this many write-transactions
	// have committed since the last save. The save runs synchronously,
	// inside the commit that reaches the threshold; it is not run on a
	// separate goroutine. Zero
	// disables the automatic trigger; callers may still force a save
	// through Database.Save.
	SaveEveryNCommits int
}

// DefaultBuilderOptions derives chunk sizing from kv's own MaxValueLen,
// matching durability.DefaultOptions, and enables an automatic save
// every 100 write-commits.
func DefaultBuilderOptions(kv hostkv.Store) BuilderOptions {
	return BuilderOptions{
		ChunkLen:          kv.MaxValueLen() - 64,
		Logger:            log.Logger,
		Metrics:           nil,
		SaveEveryNCommits: 100,
	}
}

func (o BuilderOptions) durabilityOptions(dbName string) durability.Options {
	m := o.Metrics
	if m == nil {
		m = metrics.Noop(dbName)
	}
	return durability.Options{ChunkLen: o.ChunkLen, Logger: o.Logger, Metrics: m}
}

// DatabaseBuilder accumulates schema-version declarations before the
// world is initialized.
type DatabaseBuilder struct {
	versions map[int]map[string]string
	built    bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *DatabaseBuilder {
	return &DatabaseBuilder{versions: make(map[int]map[string]string)}
}

// DeclareVersion registers one schema version: a map from table name to
// its index-grammar declaration string. Versions are
// declared by ascending integer; Build always loads the newest.
func (b *DatabaseBuilder) DeclareVersion(version int, tables map[string]string) error {
	if b.built {
		return errors.Newf("db: cannot declare schema version %d after Build", version)
	}
	if _, dup := b.versions[version]; dup {
		return errors.Newf("db: schema version %d already declared", version)
	}
	cp := make(map[string]string, len(tables))
	for name, decl := range tables {
		cp[name] = decl
	}
	b.versions[version] = cp
	return nil
}

// Build parses the newest declared schema version, opens the durability
// manager against kv, recovers any prior state, and returns a live
// Database. The builder is consumed: a second Build call fails.
func (b *DatabaseBuilder) Build(name string, kv hostkv.Store, opts BuilderOptions) (*Database, error) {
	if b.built {
		return nil, errors.Newf("db: builder already consumed by a prior Build")
	}
	if len(b.versions) == 0 {
		return nil, errors.Newf("db: no schema versions declared")
	}
	b.built = true

	newest := 0
	for v := range b.versions {
		if v > newest {
			newest = v
		}
	}
	decls := b.versions[newest]

	schemas := make(map[string]schema.Schema, len(decls))
	tables := make(map[string]*table.Table, len(decls))
	for tableName, decl := range decls {
		s, err := schema.Parse(tableName, decl)
		if err != nil {
			return nil, err
		}
		schemas[tableName] = s
		tables[tableName] = table.New(s)
	}

	mgr, existed, err := durability.Open(name, kv, opts.durabilityOptions(name))
	if err != nil {
		return nil, err
	}

	// Reject both a schema downgrade (persisted version newer than what
	// this build declares)
	// and an unknown older version outright, fail-closed, rather than
	// attempting an upgrade path. A persisted version of 0 means no save
	// has ever completed, so there is nothing to validate yet.
	if existed && mgr.SchemaVersion() != 0 && mgr.SchemaVersion() != newest {
		opts.Logger.Warn().Str("database", name).Int("persisted", mgr.SchemaVersion()).Int("declared", newest).Msg("schema version mismatch, refusing to load")
		return nil, &errors.CorruptMetadataError{
			Database: name,
			Detail:   "persisted schema version does not match the newest declared version; refusing to load",
		}
	}

	metricsReg := opts.Metrics
	if metricsReg == nil {
		metricsReg = metrics.New(nil, name)
	}

	d := &Database{
		name:              name,
		tables:            tables,
		schemas:           schemas,
		schemaVersion:     newest,
		txns:              txn.NewManager(),
		durability:        mgr,
		metrics:           metricsReg,
		logger:            opts.Logger,
		saveEveryNCommits: opts.SaveEveryNCommits,
		pendingGC:         make(map[string][]key.Key),
	}

	if err := d.loadFromDurability(); err != nil {
		return nil, err
	}

	return d, nil
}
