package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/store/adapters/memory"
)

// scripted es un TableRepository que responde con errores preprogramados
// y registra cada escritura.
type scripted struct {
	selectRows []types.Row
	selectErr  error
	insertErrs []error // por llamada, en orden; nil = éxito
	echo       bool    // éxito devuelve la fila insertada

	inserts []types.Row
	deletes []repository.Filter
	query   repository.Query
}

func (s *scripted) Select(_ context.Context, q repository.Query) ([]types.Row, error) {
	s.query = q
	return s.selectRows, s.selectErr
}

func (s *scripted) Insert(ctx context.Context, _ string, rows ...types.Row) ([]types.Row, error) {
	i := len(s.inserts)
	s.inserts = append(s.inserts, rows...)
	if i < len(s.insertErrs) && s.insertErrs[i] != nil {
		return nil, s.insertErrs[i]
	}
	if s.echo {
		return rows, nil
	}
	return nil, nil
}

func (s *scripted) Delete(_ context.Context, _ string, f repository.Filter) error {
	s.deletes = append(s.deletes, f)
	return nil
}

func storeErr(code string) error { return repository.NewStoreError("profiles", code, "", nil) }

var (
	noRows      = storeErr("PGRST116")
	unknownCol  = storeErr("42703")
	denied      = storeErr("42501")
	duplicate   = storeErr("23505")
	tableAbsent = storeErr("42P01")
)

func newResolver(tables repository.TableRepository) *Resolver {
	r := NewResolver(tables, Config{
		WriteTimeout: time.Second,
		Placeholder:  Placeholder{FirstName: "New", LastName: "User", UserType: types.UserTypeRetailer, County: "Nairobi", Town: "Nairobi"},
	})
	r.newID = func() string { return "probe-id" }
	return r
}

var actor = types.Actor{ID: "user-42", Email: "e@x.com", Metadata: map[string]any{
	"first_name": "Wanjiru",
	"last_name":  "Kamau",
	"user_type":  "supplier",
	"county":     "Kiambu",
}}

func TestResolve_StoredProfile(t *testing.T) {
	s := &scripted{selectRows: []types.Row{{
		"id": "user-42", "first_name": "Stored",
		"organization": map[string]any{"id": "org-1", "name": "Duka"},
	}}}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)

	assert.Equal(t, Stored, res.Completeness)
	assert.Equal(t, "Stored", res.Profile.FirstName)
	require.NotNil(t, res.Profile.Organization)
	assert.Equal(t, "Duka", res.Profile.Organization.Name)
	assert.Empty(t, s.inserts)
	assert.True(t, s.query.Single)
	assert.Equal(t, "organizations", s.query.Embed.Table)
	assert.Equal(t, repository.Filter{"id": "user-42"}, s.query.Filter)
}

func TestResolve_ReadFailureIsSyntheticWithoutWrites(t *testing.T) {
	for _, err := range []error{denied, tableAbsent, repository.ErrUnavailable, context.DeadlineExceeded} {
		s := &scripted{selectErr: err}
		res := newResolver(s).ResolveDetailed(context.Background(), actor)
		assert.Equal(t, Synthetic, res.Completeness, err.Error())
		assert.Empty(t, s.inserts)
		assert.Equal(t, "user-42", res.Profile.ID)
		assert.Equal(t, "e@x.com", res.Profile.Email)
	}
}

func TestResolve_FullInsertSucceeds(t *testing.T) {
	s := &scripted{selectErr: noRows, echo: true}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)

	assert.Equal(t, Full, res.Completeness)
	p := res.Profile
	assert.Equal(t, "user-42", p.ID)
	assert.Equal(t, "e@x.com", p.Email)
	assert.Equal(t, "Wanjiru", p.FirstName)
	assert.Equal(t, "Kamau", p.LastName)
	assert.Equal(t, types.UserTypeSupplier, p.UserType)
	assert.Equal(t, "Kiambu", p.County)

	require.Len(t, s.inserts, 2, "probe + full, no fallback")
	assert.Equal(t, types.Row{"id": "probe-id"}, s.inserts[0])
	assert.Equal(t, []repository.Filter{{"id": "probe-id"}}, s.deletes)
	assert.Equal(t, "Wanjiru", s.inserts[1]["first_name"])
}

func TestResolve_LadderTerminatesAfterIDOnly(t *testing.T) {
	s := &scripted{selectErr: noRows, insertErrs: []error{nil, unknownCol, unknownCol, unknownCol}}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)

	assert.Equal(t, Synthetic, res.Completeness)
	require.Len(t, s.inserts, 4, "no fifth write")
	assert.Equal(t, types.Row{"id": "user-42", "email": "e@x.com"}, s.inserts[2])
	assert.Equal(t, types.Row{"id": "user-42"}, s.inserts[3])
}

func TestResolve_PermissionShortCircuit(t *testing.T) {
	s := &scripted{selectErr: noRows, insertErrs: []error{denied}}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)

	assert.Equal(t, Synthetic, res.Completeness)
	assert.Len(t, s.inserts, 1, "only the probe")
	assert.Empty(t, s.deletes)
	assert.Equal(t, "Wanjiru", res.Profile.FirstName)
	assert.Equal(t, "Nairobi", res.Profile.Town, "placeholder")
}

func TestResolve_DuplicateIsSuccess(t *testing.T) {
	s := &scripted{selectErr: noRows, insertErrs: []error{nil, duplicate}}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)

	assert.Equal(t, Full, res.Completeness)
	assert.Len(t, s.inserts, 2, "no minimal or id-only attempt")
	assert.Equal(t, "Wanjiru", res.Profile.FirstName)
}

func TestResolve_DeniedOnFullWriteAborts(t *testing.T) {
	s := &scripted{selectErr: noRows, insertErrs: []error{nil, tableAbsent}}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)
	assert.Equal(t, Synthetic, res.Completeness)
	assert.Len(t, s.inserts, 2)
}

func TestResolve_OtherFailuresFallThrough(t *testing.T) {
	s := &scripted{selectErr: noRows, insertErrs: []error{
		storeErr("23503"), // probe: fk, inconclusivo
		context.DeadlineExceeded,
		nil,
	}, echo: true}
	res := newResolver(s).ResolveDetailed(context.Background(), actor)

	assert.Equal(t, Minimal, res.Completeness)
	assert.Equal(t, "e@x.com", res.Profile.Email)
	assert.Len(t, s.inserts, 3)
}

// slow bloquea los inserts hasta que vence el deadline del intento.
type slow struct{ scripted }

func (s *slow) Insert(ctx context.Context, table string, rows ...types.Row) ([]types.Row, error) {
	s.inserts = append(s.inserts, rows...)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResolve_WriteTimeoutContinuesLadder(t *testing.T) {
	s := &slow{scripted{selectErr: noRows}}
	r := newResolver(s)
	r.cfg.WriteTimeout = 10 * time.Millisecond

	start := time.Now()
	res := r.ResolveDetailed(context.Background(), actor)
	assert.Equal(t, Synthetic, res.Completeness)
	assert.Len(t, s.inserts, 4)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolve_NilTables(t *testing.T) {
	res := newResolver(nil).ResolveDetailed(context.Background(), types.Actor{ID: "u"})
	assert.Equal(t, Synthetic, res.Completeness)
	assert.Equal(t, "u", res.Profile.ID)
	assert.Equal(t, "New User", res.Profile.DisplayName())
	assert.Equal(t, types.UserTypeRetailer, res.Profile.UserType)
}

func TestResolve_AgainstMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := memory.New(memory.Options{Tables: memory.DefaultTables()})
	r := NewResolver(b, Config{})

	first := r.ResolveDetailed(ctx, actor)
	assert.Equal(t, Full, first.Completeness)
	assert.Len(t, b.Rows("profiles"), 1, "probe row cleaned up")

	again := r.ResolveDetailed(ctx, actor)
	assert.Equal(t, Stored, again.Completeness)
	assert.Equal(t, "Wanjiru", again.Profile.FirstName)

	// esquema parcial: solo id + email
	b.DeclareTable("profiles", memory.TableSpec{Columns: []string{"id", "email"}})
	other := types.Actor{ID: "user-43", Email: "f@x.com", Metadata: actor.Metadata}
	assert.Equal(t, Minimal, r.ResolveDetailed(ctx, other).Completeness)

	b.DeclareTable("profiles", memory.TableSpec{Policy: memory.PolicyDenyWrites})
	assert.Equal(t, Synthetic, r.ResolveDetailed(ctx, types.Actor{ID: "user-44"}).Completeness)

	b.DropTable("profiles")
	assert.Equal(t, Synthetic, r.ResolveDetailed(ctx, actor).Completeness)
}
