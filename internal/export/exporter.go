// Package export copies the deduplicated result store into a MySQL table.
package export

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/lock"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/sqlutil"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

// HashColumn holds the SHA-256 of the full tuple and carries the unique key.
const HashColumn = "row_hash"

// Source is the record store being exported.
type Source interface {
	Header() []string
	ReadAll() ([]types.Record, error)
}

// Stats summarizes one export.
type Stats struct {
	Records  int
	Inserted int64
	Ignored  int64
	Batches  int
	Duration time.Duration
}

// Exporter writes records into a single table with INSERT IGNORE so repeated
// exports of an overlapping result file are idempotent.
type Exporter struct {
	db          *sql.DB
	table       string
	batchSize   int
	lockTimeout int
	log         *logger.Logger
}

// New creates an exporter for the table named in cfg.
func New(db *sql.DB, cfg *config.ExportConfig, log *logger.Logger) (*Exporter, error) {
	if db == nil {
		return nil, fmt.Errorf("export database is nil")
	}
	if !sqlutil.IsValidIdentifier(cfg.Table) {
		return nil, &sqlutil.InvalidIdentifierError{Name: cfg.Table}
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Exporter{
		db:          db,
		table:       cfg.Table,
		batchSize:   cfg.BatchSize,
		lockTimeout: lock.TimeoutShort,
		log:         log.WithComponent("export"),
	}, nil
}

// Export creates the table if needed and inserts every record of src, one
// transaction per batch, while holding the table's advisory lock.
func (e *Exporter) Export(ctx context.Context, src Source) (*Stats, error) {
	start := time.Now()
	header := src.Header()

	createSQL, err := CreateTableSQL(e.table, header)
	if err != nil {
		return nil, err
	}
	columns := append(append([]string(nil), header...), HashColumn)

	records, err := src.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	// GET_LOCK is scoped to the session, so every statement shares one conn
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire export connection: %w", err)
	}
	defer conn.Close()

	stats := &Stats{Records: len(records)}
	lk := lock.NewExportLock(conn, e.table)

	err = lk.WithLock(ctx, e.lockTimeout, func() error {
		if _, err := conn.ExecContext(ctx, createSQL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", e.table, err)
		}

		for offset := 0; offset < len(records); offset += e.batchSize {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("export interrupted: %w", err)
			}
			end := min(offset+e.batchSize, len(records))
			inserted, err := e.insertBatch(ctx, conn, columns, records[offset:end])
			if err != nil {
				return fmt.Errorf("batch at offset %d: %w", offset, err)
			}
			stats.Batches++
			stats.Inserted += inserted
			e.log.Debugw("exported batch",
				"table", e.table,
				"offset", offset,
				"rows", end-offset,
				"inserted", inserted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.Ignored = int64(stats.Records) - stats.Inserted
	stats.Duration = time.Since(start)
	e.log.Infow("export complete",
		"table", e.table,
		"records", stats.Records,
		"inserted", stats.Inserted,
		"ignored", stats.Ignored,
		"batches", stats.Batches,
		"duration", stats.Duration)
	return stats, nil
}

func (e *Exporter) insertBatch(ctx context.Context, conn *sql.Conn, columns []string, batch []types.Record) (int64, error) {
	query, err := sqlutil.InsertIgnore(e.table, columns, len(batch))
	if err != nil {
		return 0, err
	}

	args := make([]any, 0, len(batch)*len(columns))
	for _, r := range batch {
		if len(r)+1 != len(columns) {
			return 0, fmt.Errorf("record has %d fields, table has %d", len(r), len(columns)-1)
		}
		for _, v := range r {
			args = append(args, v)
		}
		args = append(args, RowHash(r))
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				e.log.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return affected, nil
}

// CreateTableSQL returns the DDL for the export table: one VARCHAR column per
// header field plus the unique row hash.
func CreateTableSQL(table string, header []string) (string, error) {
	qt, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return "", err
	}
	qc, err := sqlutil.QuoteIdentifiers(header)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(qt)
	b.WriteString(" (\n")
	b.WriteString("  `id` BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,\n")
	for _, c := range qc {
		b.WriteString("  ")
		b.WriteString(c)
		b.WriteString(" VARCHAR(255) NOT NULL DEFAULT '',\n")
	}
	b.WriteString("  `" + HashColumn + "` CHAR(64) NOT NULL,\n")
	b.WriteString("  PRIMARY KEY (`id`),\n")
	b.WriteString("  UNIQUE KEY `uk_" + HashColumn + "` (`" + HashColumn + "`)\n")
	b.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	return b.String(), nil
}

// RowHash returns the hex SHA-256 of the record tuple.
func RowHash(r types.Record) string {
	sum := sha256.Sum256([]byte(r.Key()))
	return hex.EncodeToString(sum[:])
}
