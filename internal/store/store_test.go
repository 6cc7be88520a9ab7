package store

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
)

type fakeConn struct {
	name   string
	auth   repository.AuthRepository
	tables repository.TableRepository
	closed bool
}

func (c *fakeConn) Name() string                       { return c.name }
func (c *fakeConn) Ping(context.Context) error         { return nil }
func (c *fakeConn) Auth() repository.AuthRepository    { return c.auth }
func (c *fakeConn) Tables() repository.TableRepository { return c.tables }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeAdapter struct {
	name string
	conn *fakeConn
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Connect(context.Context, AdapterConfig) (AdapterConnection, error) {
	return a.conn, nil
}

// authOnly y tablesOnly solo necesitan ser no-nil.
type authOnly struct{ repository.AuthRepository }
type tablesOnly struct{ repository.TableRepository }

func TestRegistry_DuplicatePanics(t *testing.T) {
	RegisterAdapter(&fakeAdapter{name: "dup-test", conn: &fakeConn{}})
	assert.Panics(t, func() { RegisterAdapter(&fakeAdapter{name: "dup-test"}) })
	assert.Contains(t, ListAdapters(), "dup-test")

	_, err := OpenAdapter(context.Background(), AdapterConfig{Name: "missing"})
	assert.Error(t, err)
}

func TestOpenStores_PairsAuthAndTables(t *testing.T) {
	authConn := &fakeConn{name: "auth-test", auth: authOnly{}}
	tablesConn := &fakeConn{name: "tables-test", tables: tablesOnly{}}
	RegisterAdapter(&fakeAdapter{name: "auth-test", conn: authConn})
	RegisterAdapter(&fakeAdapter{name: "tables-test", conn: tablesConn})

	_, err := OpenStores(context.Background(), AdapterConfig{Name: "auth-test"}, nil)
	assert.Error(t, err, "auth-only connection cannot serve tables")
	assert.True(t, authConn.closed)

	s, err := OpenStores(context.Background(), AdapterConfig{Name: "auth-test"}, &AdapterConfig{Name: "tables-test"})
	require.NoError(t, err)
	assert.Equal(t, authConn, s.AuthConn)
	assert.Equal(t, tablesConn, s.TablesConn)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.True(t, tablesConn.closed)
}

type fakeExec struct {
	max   int
	execs []string
}

type rowsAffected int64

func (r rowsAffected) RowsAffected() int64 { return int64(r) }

type scanInt int

func (s scanInt) Scan(dest ...any) error {
	*(dest[0].(*int)) = int(s)
	return nil
}

func (f *fakeExec) Exec(_ context.Context, sql string, _ ...any) (interface{ RowsAffected() int64 }, error) {
	f.execs = append(f.execs, sql)
	return rowsAffected(0), nil
}

func (f *fakeExec) QueryRow(context.Context, string, ...any) interface{ Scan(dest ...any) error } {
	return scanInt(f.max)
}

func TestMigrator_AppliesPendingInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0002_profiles.sql":      {Data: []byte("CREATE TABLE profiles ();")},
		"sql/0001_organizations.sql": {Data: []byte("CREATE TABLE organizations ();")},
		"sql/README.md":              {Data: []byte("ignored")},
	}
	exec := &fakeExec{max: 1}
	res, err := NewMigrator(fsys, "sql").Run(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Skipped)
	assert.Equal(t, []int{2}, res.Applied)
	assert.Contains(t, exec.execs, "CREATE TABLE profiles ();")
	assert.NotContains(t, exec.execs, "CREATE TABLE organizations ();")
}
