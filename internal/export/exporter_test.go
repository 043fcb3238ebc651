package export

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/prefixcrawl/internal/config"
	"github.com/dbsmedya/prefixcrawl/internal/lock"
	"github.com/dbsmedya/prefixcrawl/internal/logger"
	"github.com/dbsmedya/prefixcrawl/internal/sqlutil"
	"github.com/dbsmedya/prefixcrawl/internal/types"
)

type staticSource struct {
	records []types.Record
	err     error
}

func (s staticSource) Header() []string { return types.Header }

func (s staticSource) ReadAll() ([]types.Record, error) { return s.records, s.err }

func rec(name, number string) types.Record {
	return types.Record{name, "MD", number, "Active", "Physician", "2001-01-01", "2027-01-01"}
}

func rowArgs(records ...types.Record) []driver.Value {
	var args []driver.Value
	for _, r := range records {
		for _, v := range r {
			args = append(args, v)
		}
		args = append(args, RowHash(r))
	}
	return args
}

func newExporter(t *testing.T, batchSize int) (*Exporter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e, err := New(db, &config.ExportConfig{Table: "licensees", BatchSize: batchSize}, logger.NewNop())
	require.NoError(t, err)
	return e, mock
}

func expectLock(mock sqlmock.Sqlmock, result int) {
	mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).
		WithArgs("prefixcrawl:export:licensees", lock.TimeoutShort).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(result))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT RELEASE_LOCK\(\?\)`).
		WithArgs("prefixcrawl:export:licensees").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))
}

var insertPattern = regexp.QuoteMeta("INSERT IGNORE INTO `licensees` (`Full_Name`, `License_Type`, `License_Number`, `Status`, `Professional`, `Issued`, `Expired`, `row_hash`) VALUES")

func TestNew_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tests := []struct {
		name    string
		db      *sql.DB
		cfg     config.ExportConfig
		wantErr string
	}{
		{name: "nil db", db: nil, cfg: config.ExportConfig{Table: "licensees", BatchSize: 10}, wantErr: "export database is nil"},
		{name: "bad table", db: db, cfg: config.ExportConfig{Table: "lic; DROP", BatchSize: 10}, wantErr: "invalid identifier"},
		{name: "zero batch", db: db, cfg: config.ExportConfig{Table: "licensees"}, wantErr: "batch size must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.db, &tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExport_Batches(t *testing.T) {
	e, mock := newExporter(t, 2)
	a, b, c := rec("ADAMS, JO", "1"), rec("BAKER, LI", "2"), rec("COLE, AL", "3")

	expectLock(mock, 1)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `licensees`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectBegin()
	mock.ExpectExec(insertPattern + ` \(\?(, \?){7}\), \(\?(, \?){7}\)$`).
		WithArgs(rowArgs(a, b)...).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	// Already exported row is ignored by the unique hash
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern + ` \(\?(, \?){7}\)$`).
		WithArgs(rowArgs(c)...).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	expectUnlock(mock)

	stats, err := e.Export(context.Background(), staticSource{records: []types.Record{a, b, c}})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, int64(2), stats.Inserted)
	assert.Equal(t, int64(1), stats.Ignored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_EmptySourceCreatesTable(t *testing.T) {
	e, mock := newExporter(t, 100)

	expectLock(mock, 1)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	expectUnlock(mock)

	stats, err := e.Export(context.Background(), staticSource{})
	require.NoError(t, err)
	assert.Zero(t, stats.Batches)
	assert.Zero(t, stats.Inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_InsertErrorRollsBack(t *testing.T) {
	e, mock := newExporter(t, 10)

	expectLock(mock, 1)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WillReturnError(errors.New("Error 1406: Data too long"))
	mock.ExpectRollback()
	expectUnlock(mock)

	stats, err := e.Export(context.Background(), staticSource{records: []types.Record{rec("ADAMS, JO", "1")}})
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.Contains(t, err.Error(), "batch at offset 0")
	assert.Contains(t, err.Error(), "Data too long")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_CommitError(t *testing.T) {
	e, mock := newExporter(t, 10)

	expectLock(mock, 1)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(insertPattern).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(sql.ErrTxDone)
	expectUnlock(mock)

	_, err := e.Export(context.Background(), staticSource{records: []types.Record{rec("ADAMS, JO", "1")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_LockHeldElsewhere(t *testing.T) {
	e, mock := newExporter(t, 10)
	expectLock(mock, 0)

	_, err := e.Export(context.Background(), staticSource{records: []types.Record{rec("ADAMS, JO", "1")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_ReadErrorTakesNoLock(t *testing.T) {
	e, mock := newExporter(t, 10)

	_, err := e.Export(context.Background(), staticSource{err: errors.New("header mismatch")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_CreateTableError(t *testing.T) {
	e, mock := newExporter(t, 10)

	expectLock(mock, 1)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("access denied"))
	expectUnlock(mock)

	_, err := e.Export(context.Background(), staticSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create table licensees")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableSQL(t *testing.T) {
	ddl, err := CreateTableSQL("licensees", types.Header)
	require.NoError(t, err)

	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS `licensees`")
	for _, col := range types.Header {
		assert.Contains(t, ddl, "`"+col+"` VARCHAR(255)")
	}
	assert.Contains(t, ddl, "`row_hash` CHAR(64) NOT NULL")
	assert.Contains(t, ddl, "UNIQUE KEY `uk_row_hash` (`row_hash`)")

	_, err = CreateTableSQL("licensees", []string{"Full Name"})
	var invalid *sqlutil.InvalidIdentifierError
	assert.ErrorAs(t, err, &invalid)
}

func TestRowHash(t *testing.T) {
	a := rec("ADAMS, JO", "1")
	assert.Len(t, RowHash(a), 64)
	assert.Equal(t, RowHash(a), RowHash(rec("ADAMS, JO", "1")))
	assert.NotEqual(t, RowHash(a), RowHash(rec("ADAMS, JO", "2")))

	// Field boundaries are part of the identity
	assert.NotEqual(t,
		RowHash(types.Record{"AB", "C"}),
		RowHash(types.Record{"A", "BC"}))
	assert.NotEqual(t,
		RowHash(types.Record{"SMITH\x1fMD", "DO"}),
		RowHash(types.Record{"SMITH", "MD\x1fDO"}))
}
