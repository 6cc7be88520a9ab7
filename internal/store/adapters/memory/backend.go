// Package memory implementa un backend en proceso con auth y tablas.
//
// Sirve para desarrollo local y para tests end-to-end: guarda usuarios con
// hash bcrypt, emite tokens HS256 y simula las fallas del store remoto
// (columna desconocida, acceso denegado, tabla inexistente) por tabla.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	store "github.com/dropDatabas3/sokoni/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return New(Options{Secret: cfg.JWTSecret, Tables: DefaultTables()}), nil
}

// WritePolicy simula la política de escritura de una tabla.
type WritePolicy int

const (
	// PolicyAllow acepta lecturas y escrituras.
	PolicyAllow WritePolicy = iota
	// PolicyDenyWrites rechaza inserts/deletes con acceso denegado (42501).
	PolicyDenyWrites
	// PolicyDenyAll rechaza también las lecturas.
	PolicyDenyAll
)

// TableSpec declara una tabla. Columns vacío acepta cualquier columna.
type TableSpec struct {
	Columns []string
	Policy  WritePolicy
}

// Options configura el backend.
type Options struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
	// Tables declara las tablas existentes; una tabla no declarada responde 42P01.
	Tables map[string]TableSpec
}

// DefaultTables retorna el esquema completo de profiles, organizations y audit_events.
func DefaultTables() map[string]TableSpec {
	return map[string]TableSpec{
		"profiles": {Columns: []string{
			"id", "email", "first_name", "last_name", "phone", "user_type",
			"business_name", "business_type", "county", "town", "mpesa_phone",
			"referred_by", "organization_id", "is_verified", "email_verified",
			"phone_verified", "created_at", "updated_at",
		}},
		"organizations": {Columns: []string{"id", "name", "type", "county", "town", "verified", "created_at", "updated_at"}},
		"audit_events":  {Columns: []string{"id", "action", "outcome", "actor_ref", "user_type", "reason", "at"}},
	}
}

type user struct {
	actor types.Actor
	hash  []byte
}

type table struct {
	spec TableSpec
	cols map[string]bool
	rows []types.Row
}

// Backend es la implementación en memoria de AuthRepository y TableRepository.
type Backend struct {
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time

	mu        sync.Mutex
	users     map[string]*user // por email normalizado
	refresh   map[string]string
	tables    map[string]*table
	current   *types.Session
	listeners map[int]repository.SessionListener
	nextID    int
}

// New crea un backend vacío con las tablas declaradas.
func New(opts Options) *Backend {
	if opts.Secret == "" {
		opts.Secret = "sokoni-dev-secret"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	b := &Backend{
		secret:    []byte(opts.Secret),
		ttl:       opts.TokenTTL,
		cost:      opts.BcryptCost,
		now:       time.Now,
		users:     make(map[string]*user),
		refresh:   make(map[string]string),
		tables:    make(map[string]*table),
		listeners: make(map[int]repository.SessionListener),
	}
	for name, spec := range opts.Tables {
		b.DeclareTable(name, spec)
	}
	return b
}

// DeclareTable crea (o redefine) una tabla conservando sus filas.
func (b *Backend) DeclareTable(name string, spec TableSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &table{spec: spec}
	if len(spec.Columns) > 0 {
		t.cols = make(map[string]bool, len(spec.Columns))
		for _, c := range spec.Columns {
			t.cols[c] = true
		}
	}
	if old, ok := b.tables[name]; ok {
		t.rows = old.rows
	}
	b.tables[name] = t
}

// DropTable elimina la tabla (las operaciones pasan a responder 42P01).
func (b *Backend) DropTable(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables, name)
}

// ─── AdapterConnection ───

func (b *Backend) Name() string                       { return "memory" }
func (b *Backend) Ping(context.Context) error         { return nil }
func (b *Backend) Close() error                       { return nil }
func (b *Backend) Auth() repository.AuthRepository    { return b }
func (b *Backend) Tables() repository.TableRepository { return b }

// ─── Tokens ───

func (b *Backend) issue(a types.Actor, demo bool) (*types.Session, error) {
	now := b.now()
	exp := now.Add(b.ttl)
	claims := jwt.MapClaims{
		"sub":   a.ID,
		"email": a.Email,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"role":  "authenticated",
	}
	if demo {
		claims["demo"] = true
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return nil, err
	}
	return &types.Session{
		AccessToken:  signed,
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    exp,
		User:         a,
		Demo:         demo,
	}, nil
}

// VerifyToken valida un access token emitido por este backend y retorna el subject.
func (b *Backend) VerifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.now))
	if err != nil {
		return "", err
	}
	return parsed.Claims.GetSubject()
}

// ─── AuthRepository ───

func (b *Backend) Subscribe(fn repository.SessionListener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Backend) notify(ev repository.SessionEvent, s *types.Session) {
	b.mu.Lock()
	fns := make([]repository.SessionListener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(repository.SessionChange{Event: ev, Session: s.Clone()})
	}
}

func (b *Backend) CurrentSession(ctx context.Context) (*types.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil && b.current.Expired(b.now(), 0) {
		b.current = nil
	}
	return b.current.Clone(), nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*types.Session, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	b.mu.Lock()
	u, ok := b.users[key]
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return nil, &repository.AuthError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}
	}

	s, err := b.issue(u.actor, false)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.current = s.Clone()
	b.refresh[s.RefreshToken] = key
	b.mu.Unlock()
	b.notify(repository.EventSignedIn, s)
	return s, nil
}

func (b *Backend) SignUp(ctx context.Context, f types.SignUpFields) (*repository.SignUpResult, error) {
	key := strings.ToLower(strings.TrimSpace(f.Email))
	hash, err := bcrypt.GenerateFromPassword([]byte(f.Password), b.cost)
	if err != nil {
		return nil, &repository.AuthError{Status: 422, Code: "weak_password", Message: err.Error()}
	}

	b.mu.Lock()
	if _, exists := b.users[key]; exists {
		b.mu.Unlock()
		return nil, &repository.AuthError{Status: 422, Code: "user_already_exists", Message: "User already registered"}
	}
	a := types.Actor{ID: uuid.NewString(), Email: key, Phone: f.Phone, Metadata: f.Metadata(), CreatedAt: b.now().UTC()}
	b.users[key] = &user{actor: a, hash: hash}
	b.mu.Unlock()

	s, err := b.issue(a, false)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.current = s.Clone()
	b.refresh[s.RefreshToken] = key
	b.mu.Unlock()
	b.notify(repository.EventSignedIn, s)
	return &repository.SignUpResult{Actor: a, Session: s.Clone()}, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	if b.current != nil {
		delete(b.refresh, b.current.RefreshToken)
	}
	b.current = nil
	b.mu.Unlock()
	b.notify(repository.EventSignedOut, nil)
	return nil
}

// ForgetSession descarta la sesión vigente sin notificar.
func (b *Backend) ForgetSession(context.Context) {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()
}

// Refresh canjea un refresh token por una sesión nueva (rotación simple).
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*types.Session, error) {
	b.mu.Lock()
	key, ok := b.refresh[refreshToken]
	u := b.users[key]
	if ok {
		delete(b.refresh, refreshToken)
	}
	b.mu.Unlock()
	if !ok || u == nil {
		return nil, &repository.AuthError{Status: 400, Code: "invalid_grant", Message: "Invalid Refresh Token"}
	}
	s, err := b.issue(u.actor, false)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.current = s.Clone()
	b.refresh[s.RefreshToken] = key
	b.mu.Unlock()
	b.notify(repository.EventTokenRefreshed, s)
	return s, nil
}

var demoNames = map[types.UserType][2]string{
	types.UserTypeRetailer:  {"Amina", "Duka"},
	types.UserTypeSupplier:  {"Baraka", "Wholesale"},
	types.UserTypeLogistics: {"Jabari", "Movers"},
}

// IssueDemo emite un actor demo por rol. No toca la sesión vigente ni las tablas.
func (b *Backend) IssueDemo(ctx context.Context, kind types.UserType) (*repository.DemoResult, error) {
	if !kind.IsValid() {
		return &repository.DemoResult{Success: false, Message: fmt.Sprintf("unknown demo kind %q", kind)}, nil
	}
	names := demoNames[kind]
	id := "demo-" + string(kind)
	email := fmt.Sprintf("demo.%s@sokoni.demo", kind)
	row := types.Row{
		"id":           id,
		"email":        email,
		"firstName":    names[0],
		"lastName":     names[1],
		"userType":     string(kind),
		"businessName": names[0] + " " + names[1],
		"county":       "Nairobi",
		"town":         "Westlands",
		"isVerified":   true,
	}
	s, err := b.issue(types.Actor{ID: id, Email: email}, true)
	if err != nil {
		return nil, err
	}
	return &repository.DemoResult{Success: true, User: row, Session: s}, nil
}

// ─── TableRepository ───

func (b *Backend) lookup(name string, write bool) (*table, error) {
	t, ok := b.tables[name]
	if !ok {
		return nil, repository.NewStoreError(name, "42P01", fmt.Sprintf("relation %q does not exist", name), nil)
	}
	if t.spec.Policy == PolicyDenyAll || (write && t.spec.Policy == PolicyDenyWrites) {
		return nil, repository.NewStoreError(name, "42501", "permission denied for table "+name, nil)
	}
	return t, nil
}

func matches(row types.Row, f repository.Filter) bool {
	for k, v := range f {
		rv, ok := row[k]
		if v == nil {
			if ok && rv != nil {
				return false
			}
			continue
		}
		if !ok || fmt.Sprint(rv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func copyRow(r types.Row) types.Row {
	out := make(types.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (b *Backend) Select(ctx context.Context, q repository.Query) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &repository.StoreError{Kind: repository.KindOf(err), Table: q.Table, Err: err}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.lookup(q.Table, false)
	if err != nil {
		return nil, err
	}
	for _, c := range q.Columns {
		if t.cols != nil && !t.cols[c] {
			return nil, repository.NewStoreError(q.Table, "42703", fmt.Sprintf("column %q does not exist", c), nil)
		}
	}

	var out []types.Row
	for _, r := range t.rows {
		if !matches(r, q.Filter) {
			continue
		}
		row := copyRow(r)
		if len(q.Columns) > 0 {
			row = make(types.Row, len(q.Columns))
			for _, c := range q.Columns {
				row[c] = r[c]
			}
		}
		if e := q.Embed; e != nil {
			as := e.As
			if as == "" {
				as = e.Table
			}
			row[as] = nil
			if et, ok := b.tables[e.Table]; ok && r[e.ForeignKey] != nil {
				for _, er := range et.rows {
					if fmt.Sprint(er["id"]) == fmt.Sprint(r[e.ForeignKey]) {
						row[as] = map[string]any(copyRow(er))
						break
					}
				}
			}
		}
		out = append(out, row)
	}

	if q.Single {
		if len(out) != 1 {
			return nil, repository.NewStoreError(q.Table, "PGRST116", fmt.Sprintf("expected 1 row, got %d", len(out)), nil)
		}
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, name string, rows ...types.Row) ([]types.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &repository.StoreError{Kind: repository.KindOf(err), Table: name, Err: err}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.lookup(name, true)
	if err != nil {
		return nil, err
	}

	// validar todo antes de escribir: el insert es atómico
	seen := make(map[string]bool)
	for _, r := range rows {
		for _, k := range sortedKeys(r) {
			if t.cols != nil && !t.cols[k] {
				return nil, repository.NewStoreError(name, "42703", fmt.Sprintf("column %q of relation %q does not exist", k, name), nil)
			}
		}
		id := fmt.Sprint(r["id"])
		if r["id"] == nil {
			continue
		}
		if seen[id] {
			return nil, repository.NewStoreError(name, "23505", "duplicate key value violates unique constraint", nil)
		}
		seen[id] = true
		for _, existing := range t.rows {
			if fmt.Sprint(existing["id"]) == id {
				return nil, repository.NewStoreError(name, "23505", "duplicate key value violates unique constraint", nil)
			}
		}
	}

	now := b.now().UTC()
	out := make([]types.Row, 0, len(rows))
	for _, r := range rows {
		stored := copyRow(r)
		if stored["id"] == nil {
			stored["id"] = uuid.NewString()
		}
		for _, ts := range []string{"created_at", "updated_at"} {
			if _, ok := stored[ts]; !ok && (t.cols == nil || t.cols[ts]) {
				stored[ts] = now.Format(time.RFC3339Nano)
			}
		}
		t.rows = append(t.rows, stored)
		out = append(out, copyRow(stored))
	}
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, name string, filter repository.Filter) error {
	if len(filter) == 0 {
		return &repository.StoreError{Kind: repository.KindOther, Table: name, Message: "delete without filter refused"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.lookup(name, true)
	if err != nil {
		return err
	}
	kept := t.rows[:0]
	for _, r := range t.rows {
		if !matches(r, filter) {
			kept = append(kept, r)
		}
	}
	t.rows = kept
	return nil
}

// Rows retorna una copia de las filas de una tabla (para inspección en tests y CLI).
func (b *Backend) Rows(name string) []types.Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[name]
	if !ok {
		return nil
	}
	out := make([]types.Row, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, copyRow(r))
	}
	return out
}

func sortedKeys(r types.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
