package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/snowball-crawler/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock, "records")
	require.NoError(t, err)
	return s, mock
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "records; drop table x")
	require.Error(t, err)

	_, err = NewWithPool(nil, "records")
	require.Error(t, err)

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "versioned_records", s.table)
}

func TestUpsertClassifiesEachRecord(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO records").
		WithArgs("ns", "7", []byte(`{"a":1}`), int64(1), "", "").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO records").
		WithArgs("ns", "8", []byte(`{"a":1}`), int64(1), "", "").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}))
	mock.ExpectQuery("INSERT INTO records").
		WithArgs("ns", "9", []byte(`{"a":2}`), int64(2), ":getter", "hint").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectCommit()
	mock.ExpectRollback()

	out, err := s.Upsert(ctx, "ns",
		store.Record{Key: "7", Value: json.RawMessage(`{"a": 1}`), Timestamp: 1},
		store.Record{Key: "8", Value: json.RawMessage(`{"a":1}`), Timestamp: 1},
		store.Record{Key: "9", Value: json.RawMessage(`{"a":2}`), Timestamp: 2, Tag: ":getter", Hint: "hint"},
	)
	require.NoError(t, err)
	require.Equal(t, []store.Outcome{store.Inserted, store.Unchanged, store.Updated}, out)
}

func TestUpsertRollsBackOnError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO records").
		WithArgs("ns", "7", []byte(`{"a":1}`), int64(0), "", "").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.Upsert(context.Background(), "ns", store.Record{Key: "7", Value: json.RawMessage(`{"a":1}`)})
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectsField(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT key, value -> \\$2 FROM records").
		WithArgs("ns", "latest_id").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value"}).
			AddRow("1", []byte(`10`)).
			AddRow("2", []byte(`20`)))

	out, err := s.Get(context.Background(), "ns", "latest_id")
	require.NoError(t, err)
	require.Equal(t, map[string]json.RawMessage{"1": json.RawMessage(`10`), "2": json.RawMessage(`20`)}, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupAndKeys(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT key, value, ts, tag, hint FROM records").
		WithArgs("ns", "7").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value", "ts", "tag", "hint"}).
			AddRow("7", []byte(`{"a":1}`), int64(5), ":getter", "ns:"))
	mock.ExpectQuery("SELECT key, value, ts, tag, hint FROM records").
		WithArgs("ns", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value", "ts", "tag", "hint"}))
	mock.ExpectQuery("SELECT key FROM records").
		WithArgs("ns").
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("7").AddRow("8"))

	rec, ok, err := s.Lookup(context.Background(), "ns", "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), rec.Timestamp)
	require.JSONEq(t, `{"a":1}`, string(rec.Value))

	_, ok, err = s.Lookup(context.Background(), "ns", "missing")
	require.NoError(t, err)
	require.False(t, ok)

	keys, err := s.Keys(context.Background(), "ns")
	require.NoError(t, err)
	require.Equal(t, []string{"7", "8"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
