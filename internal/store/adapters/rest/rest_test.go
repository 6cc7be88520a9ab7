package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/sokoni/internal/cache"
	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	store "github.com/dropDatabas3/sokoni/internal/store"
)

func newTestConn(t *testing.T, h http.Handler) (*Connection, cache.Client) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "anon", "", time.Second)
	require.NoError(t, err)
	mem := cache.NewMemory("test", 0)
	return NewConnection(c, store.AdapterConfig{SessionCache: mem}), mem
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenBody(id, email, access string) map[string]any {
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + access,
		"user":          map[string]any{"id": id, "email": email},
	}
}

func TestSignIn_SetsPersistsAndNotifies(t *testing.T) {
	var gotBody map[string]string
	conn, mem := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		writeJSON(w, 200, tokenBody("user-1", "foo@bar.com", "at-1"))
	}))

	var events []repository.SessionChange
	unsub := conn.Auth().Subscribe(func(c repository.SessionChange) { events = append(events, c) })
	defer unsub()

	s, err := conn.Auth().SignInWithPassword(context.Background(), "foo@bar.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.ActorID())
	assert.Equal(t, "foo@bar.com", gotBody["email"])
	assert.False(t, s.ExpiresAt.IsZero())

	require.Len(t, events, 1)
	assert.Equal(t, repository.EventSignedIn, events[0].Event)

	raw, err := mem.Get(context.Background(), sessionCacheKey)
	require.NoError(t, err)
	assert.Contains(t, raw, "at-1")

	cur, err := conn.Auth().CurrentSession(context.Background())
	require.NoError(t, err)
	assert.True(t, cur.Equal(s))
}

func TestSignIn_RejectedIsAuthError(t *testing.T) {
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
	}))

	_, err := conn.Auth().SignInWithPassword(context.Background(), "a@b.co", "secret1")
	var ae *repository.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Invalid login credentials", ae.Message)
	assert.Equal(t, "invalid_grant", ae.Code)
}

func TestSignIn_ServerErrorIsUnavailable(t *testing.T) {
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
	}))
	_, err := conn.Auth().SignInWithPassword(context.Background(), "a@b.co", "secret1")
	assert.ErrorIs(t, err, repository.ErrUnavailable)
}

func TestSignUp_WithoutSessionWhenConfirmationRequired(t *testing.T) {
	var got map[string]any
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, 200, map[string]any{"id": "new-1", "email": "n@x.co"})
	}))

	res, err := conn.Auth().SignUp(context.Background(), types.SignUpFields{
		Email: "n@x.co", Password: "secret1", FirstName: "Wanjiru", LastName: "Kamau",
		UserType: types.UserTypeSupplier,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", res.Actor.ID)
	assert.Nil(t, res.Session)

	data, _ := got["data"].(map[string]any)
	assert.Equal(t, "Wanjiru", data["first_name"])
	assert.Equal(t, "supplier", data["user_type"])

	cur, err := conn.Auth().CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestSignOut_RemoteFailureStillClearsLocal(t *testing.T) {
	conn, mem := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			writeJSON(w, 200, tokenBody("user-1", "a@b.co", "at-1"))
		case "/auth/v1/logout":
			w.WriteHeader(503)
		}
	}))
	ctx := context.Background()
	_, err := conn.Auth().SignInWithPassword(ctx, "a@b.co", "secret1")
	require.NoError(t, err)

	var last repository.SessionChange
	conn.Auth().Subscribe(func(c repository.SessionChange) { last = c })

	err = conn.Auth().SignOut(ctx)
	assert.Error(t, err)
	assert.Equal(t, repository.EventSignedOut, last.Event)
	assert.Nil(t, last.Session)

	cur, err := conn.Auth().CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
	_, err = mem.Get(ctx, sessionCacheKey)
	assert.True(t, cache.IsNotFound(err))
}

func TestForgetSession_DropsPersistedCopyWithoutLogout(t *testing.T) {
	conn, mem := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path, "no logout call")
		writeJSON(w, 200, tokenBody("user-1", "a@b.co", "at-1"))
	}))
	ctx := context.Background()
	_, err := conn.Auth().SignInWithPassword(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	_, err = mem.Get(ctx, sessionCacheKey)
	require.NoError(t, err)

	f, ok := conn.Auth().(repository.SessionForgetter)
	require.True(t, ok)
	f.ForgetSession(ctx)

	cur, err := conn.Auth().CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
	_, err = mem.Get(ctx, sessionCacheKey)
	assert.True(t, cache.IsNotFound(err))
}

func TestCurrentSession_RestoresAndRefreshesExpired(t *testing.T) {
	var refreshed bool
	conn, mem := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		refreshed = true
		writeJSON(w, 200, tokenBody("user-1", "a@b.co", "at-2"))
	}))
	ctx := context.Background()
	old := types.Session{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(-time.Minute), User: types.Actor{ID: "user-1"}}
	b, _ := json.Marshal(old)
	require.NoError(t, mem.Set(ctx, sessionCacheKey, string(b), 0))

	cur, err := conn.Auth().CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.True(t, refreshed)
	assert.Equal(t, "at-2", cur.AccessToken)
}

func TestCurrentSession_RevokedRefreshClears(t *testing.T) {
	conn, mem := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]any{"error": "invalid_grant"})
	}))
	ctx := context.Background()
	old := types.Session{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(-time.Minute), User: types.Actor{ID: "user-1"}}
	b, _ := json.Marshal(old)
	require.NoError(t, mem.Set(ctx, sessionCacheKey, string(b), 0))

	cur, err := conn.Auth().CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestCurrentSession_TransportFailure(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", "anon", "", 200*time.Millisecond)
	require.NoError(t, err)
	mem := cache.NewMemory("", 0)
	old := types.Session{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(-time.Minute), User: types.Actor{ID: "user-1"}}
	b, _ := json.Marshal(old)
	require.NoError(t, mem.Set(context.Background(), sessionCacheKey, string(b), 0))

	conn := NewConnection(c, store.AdapterConfig{SessionCache: mem})
	_, err = conn.Auth().CurrentSession(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded))
}

func TestFillFromClaims(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-9",
		"email": "c@d.co",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	s := &types.Session{AccessToken: signed}
	fillFromClaims(s)
	assert.Equal(t, "user-9", s.User.ID)
	assert.Equal(t, "c@d.co", s.User.Email)
	assert.False(t, s.ExpiresAt.IsZero())
}

func TestIssueDemo(t *testing.T) {
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/functions/v1/demo-login", r.URL.Path)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "retailer", body["userType"])
		writeJSON(w, 200, map[string]any{
			"success": true,
			"user":    map[string]any{"id": "demo-1", "email": "demo@x.com", "userType": "retailer"},
		})
	}))

	res, err := conn.Auth().IssueDemo(context.Background(), types.UserTypeRetailer)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "demo-1", res.User["id"])
	assert.Nil(t, res.Session)

	// la sesión demo no pasa a ser la vigente
	cur, err := conn.Auth().CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestIssueDemo_Rejected(t *testing.T) {
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]any{"success": false, "error": "demo disabled"})
	}))
	res, err := conn.Auth().IssueDemo(context.Background(), types.UserTypeLogistics)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "demo disabled", res.Message)
}

func TestTables_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   map[string]any
		kind   repository.StoreErrorKind
	}{
		{"no rows", 406, map[string]any{"code": "PGRST116", "message": "JSON object requested, multiple (or no) rows returned"}, repository.KindNoRows},
		{"duplicate", 409, map[string]any{"code": "23505", "message": "duplicate key value"}, repository.KindDuplicate},
		{"unknown column", 400, map[string]any{"code": "PGRST204", "message": "Could not find the 'mpesa_phone' column"}, repository.KindUnknownColumn},
		{"access denied", 403, map[string]any{"code": "42501", "message": "new row violates row-level security policy"}, repository.KindAccessDenied},
		{"table missing", 404, map[string]any{"code": "42P01", "message": "relation does not exist"}, repository.KindTableMissing},
		{"status only", 409, map[string]any{}, repository.KindDuplicate},
		{"server", 500, map[string]any{}, repository.KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			}))
			_, err := conn.Tables().Insert(context.Background(), "profiles", types.Row{"id": "u1"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, repository.KindOf(err))
		})
	}
}

func TestTables_SelectSingleWithEmbed(t *testing.T) {
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.user-42", r.URL.Query().Get("id"))
		assert.Equal(t, "*,organization:organizations!organization_id(*)", r.URL.Query().Get("select"))
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		writeJSON(w, 200, map[string]any{"id": "user-42", "organization": map[string]any{"id": "org-1", "name": "Duka"}})
	}))

	rows, err := conn.Tables().Select(context.Background(), repository.Query{
		Table:  "profiles",
		Filter: repository.Filter{"id": "user-42"},
		Embed:  &repository.Embed{Table: "organizations", ForeignKey: "organization_id", As: "organization"},
		Single: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p, err := types.ProfileFromRow(rows[0])
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.ID)
	require.NotNil(t, p.Organization)
	assert.Equal(t, "Duka", p.Organization.Name)
}

func TestTables_UseSessionToken(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	conn, _ := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.URL.Path == "/auth/v1/token" {
			writeJSON(w, 200, tokenBody("user-1", "a@b.co", "at-1"))
			return
		}
		writeJSON(w, 200, []any{})
	}))
	ctx := context.Background()
	require.NoError(t, conn.Tables().Delete(ctx, "profiles", repository.Filter{"id": "x"}))
	_, err := conn.Auth().SignInWithPassword(ctx, "a@b.co", "secret1")
	require.NoError(t, err)
	require.NoError(t, conn.Tables().Delete(ctx, "profiles", repository.Filter{"id": "x"}))

	assert.Equal(t, []string{"Bearer anon", "Bearer anon", "Bearer at-1"}, auths)
}
