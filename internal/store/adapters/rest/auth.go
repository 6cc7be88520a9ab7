package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/sokoni/internal/cache"
	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// sessionCacheKey es la key bajo la cual se persiste la sesión.
const sessionCacheKey = "auth:session"

// authRepo implementa repository.AuthRepository sobre GoTrue.
// Mantiene la sesión vigente en memoria, la persiste en cache y notifica a los suscriptores.
type authRepo struct {
	c     *Client
	store cache.Client
	now   func() time.Time

	mu        sync.Mutex
	current   *types.Session
	restored  bool
	listeners map[int]repository.SessionListener
	nextID    int
}

func newAuthRepo(c *Client, store cache.Client) *authRepo {
	return &authRepo{
		c:         c,
		store:     store,
		now:       time.Now,
		listeners: make(map[int]repository.SessionListener),
	}
}

// tokenResponse es la respuesta de /token y /signup. En signup con confirmación
// pendiente el servicio devuelve el usuario en la raíz, sin tokens.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         *types.Actor `json:"user"`

	// usuario en la raíz (signup sin sesión)
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	Metadata  map[string]any `json:"user_metadata"`
	CreatedAt *time.Time     `json:"created_at"`
}

func (t *tokenResponse) actor() types.Actor {
	if t.User != nil {
		return *t.User
	}
	a := types.Actor{ID: t.ID, Email: t.Email, Phone: t.Phone, Metadata: t.Metadata}
	if t.CreatedAt != nil {
		a.CreatedAt = *t.CreatedAt
	}
	return a
}

func (r *authRepo) toSession(t *tokenResponse) *types.Session {
	s := &types.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		User:         t.actor(),
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = r.now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	fillFromClaims(s)
	return s
}

// fillFromClaims completa actor/expiración desde el JWT cuando la respuesta no los trae.
// La firma no se verifica: el token lo emitió el servicio y aquí solo se lee.
func fillFromClaims(s *types.Session) {
	if s.AccessToken == "" || (s.User.ID != "" && s.User.Email != "" && !s.ExpiresAt.IsZero()) {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return
	}
	if s.User.ID == "" {
		if sub, err := claims.GetSubject(); err == nil {
			s.User.ID = sub
		}
	}
	if s.User.Email == "" {
		if email, ok := claims["email"].(string); ok {
			s.User.Email = email
		}
	}
	if s.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}
}

// ─── AuthRepository ───

func (r *authRepo) Subscribe(fn repository.SessionListener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

func (r *authRepo) notify(ev repository.SessionEvent, s *types.Session) {
	r.mu.Lock()
	fns := make([]repository.SessionListener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	change := repository.SessionChange{Event: ev, Session: s.Clone()}
	for _, fn := range fns {
		fn(change)
	}
}

func (r *authRepo) CurrentSession(ctx context.Context) (*types.Session, error) {
	r.mu.Lock()
	cur, restored := r.current, r.restored
	r.mu.Unlock()

	if cur == nil && !restored {
		s, err := r.restore(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.restored = true
		if r.current == nil {
			r.current = s
		}
		cur = r.current
		r.mu.Unlock()
	}
	if cur == nil {
		return nil, nil
	}

	if cur.Expired(r.now(), 0) {
		s, err := r.refresh(ctx, cur.RefreshToken)
		if err != nil {
			var ae *repository.AuthError
			if errors.As(err, &ae) {
				// refresh token revocado o vencido: la sesión ya no existe
				r.clear(ctx)
				return nil, nil
			}
			return nil, err
		}
		r.notify(repository.EventTokenRefreshed, s)
		return s.Clone(), nil
	}
	return cur.Clone(), nil
}

func (r *authRepo) restore(ctx context.Context) (*types.Session, error) {
	if r.store == nil {
		return nil, nil
	}
	raw, err := r.store.Get(ctx, sessionCacheKey)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: restore session: %v", repository.ErrUnavailable, err)
	}
	var s types.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// sesión corrupta: se descarta
		_ = r.store.Delete(ctx, sessionCacheKey)
		return nil, nil
	}
	if s.AccessToken == "" || s.User.ID == "" {
		return nil, nil
	}
	return &s, nil
}

func (r *authRepo) persist(ctx context.Context, s *types.Session) {
	if r.store == nil || s == nil {
		return
	}
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, sessionCacheKey, string(b), 0); err != nil {
		logger.From(ctx).Warn("session persist failed", logger.Component("rest.auth"), logger.Err(err))
	}
}

func (r *authRepo) set(ctx context.Context, s *types.Session) {
	r.mu.Lock()
	r.current = s.Clone()
	r.restored = true
	r.mu.Unlock()
	r.persist(ctx, s)
}

func (r *authRepo) clear(ctx context.Context) {
	r.mu.Lock()
	r.current = nil
	r.restored = true
	r.mu.Unlock()
	if r.store != nil {
		_ = r.store.Delete(ctx, sessionCacheKey)
	}
}

func (r *authRepo) SignInWithPassword(ctx context.Context, email, password string) (*types.Session, error) {
	resp, err := r.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	if resp.status >= 300 {
		return nil, authError(resp)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", repository.ErrUnavailable, err)
	}
	if tr.AccessToken == "" {
		return nil, &repository.AuthError{Status: resp.status, Message: "no access_token in response"}
	}

	s := r.toSession(&tr)
	r.set(ctx, s)
	r.notify(repository.EventSignedIn, s)
	return s.Clone(), nil
}

func (r *authRepo) SignUp(ctx context.Context, f types.SignUpFields) (*repository.SignUpResult, error) {
	body := map[string]any{
		"email":    f.Email,
		"password": f.Password,
		"data":     f.Metadata(),
	}
	resp, err := r.c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/signup", body: body})
	if err != nil {
		return nil, err
	}
	if resp.status >= 300 {
		return nil, authError(resp)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode signup response: %v", repository.ErrUnavailable, err)
	}

	res := &repository.SignUpResult{Actor: tr.actor()}
	if tr.AccessToken != "" {
		s := r.toSession(&tr)
		res.Session = s.Clone()
		res.Actor = s.User
		r.set(ctx, s)
		r.notify(repository.EventSignedIn, s)
	}
	if res.Actor.ID == "" {
		return nil, &repository.AuthError{Status: resp.status, Message: "signup response without user"}
	}
	return res, nil
}

// ForgetSession descarta la sesión local y la persistida sin llamar a /logout.
func (r *authRepo) ForgetSession(ctx context.Context) {
	r.clear(ctx)
}

// SignOut revoca la sesión remota. La sesión local se limpia siempre,
// incluso si la llamada remota falla.
func (r *authRepo) SignOut(ctx context.Context) error {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()

	var remoteErr error
	if cur != nil && cur.AccessToken != "" && !cur.Demo {
		resp, err := r.c.do(ctx, request{method: http.MethodPost, path: "/auth/v1/logout", bearer: cur.AccessToken})
		switch {
		case err != nil:
			remoteErr = err
		case resp.status >= 300 && resp.status != http.StatusUnauthorized && resp.status != http.StatusNotFound:
			remoteErr = authError(resp)
		}
	}

	r.clear(ctx)
	r.notify(repository.EventSignedOut, nil)
	return remoteErr
}

// demoResponse es la respuesta de la función demo-login.
type demoResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Error   string         `json:"error"`
	User    map[string]any `json:"user"`
	Session *tokenResponse `json:"session"`
}

// IssueDemo pide una cuenta demo. La sesión demo no se persiste ni pasa a ser la vigente.
func (r *authRepo) IssueDemo(ctx context.Context, kind types.UserType) (*repository.DemoResult, error) {
	resp, err := r.c.do(ctx, request{
		method: http.MethodPost,
		path:   r.c.demoPath,
		body:   map[string]string{"userType": string(kind)},
	})
	if err != nil {
		return nil, err
	}

	var dr demoResponse
	_ = json.Unmarshal(resp.body, &dr)
	if resp.status >= 300 {
		msg := dr.Error
		if msg == "" {
			msg = parseAPIError(resp.body).message()
		}
		if resp.status >= 500 {
			return nil, fmt.Errorf("%w: demo issuer: %d %s", repository.ErrUnavailable, resp.status, msg)
		}
		return &repository.DemoResult{Success: false, Message: msg}, nil
	}

	res := &repository.DemoResult{Success: dr.Success, Message: dr.Message, User: types.Row(dr.User)}
	if res.Message == "" {
		res.Message = dr.Error
	}
	if dr.Session != nil && dr.Session.AccessToken != "" {
		s := r.toSession(dr.Session)
		s.Demo = true
		res.Session = s
	}
	return res, nil
}

// ─── Refresh ───

func (r *authRepo) refresh(ctx context.Context, refreshToken string) (*types.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &repository.AuthError{Status: http.StatusUnauthorized, Message: "session expired without refresh token"}
	}
	resp, err := r.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, err
	}
	if resp.status >= 300 {
		if resp.status >= 500 {
			return nil, fmt.Errorf("%w: refresh: %d", repository.ErrUnavailable, resp.status)
		}
		return nil, authError(resp)
	}
	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode refresh response: %v", repository.ErrUnavailable, err)
	}
	s := r.toSession(&tr)
	r.set(ctx, s)
	return s, nil
}

// RefreshIfNeeded renueva la sesión vigente si vence dentro de margin.
// Retorna true si hubo refresh.
func (r *authRepo) RefreshIfNeeded(ctx context.Context, margin time.Duration) (bool, error) {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur == nil || cur.Demo || !cur.Expired(r.now(), margin) {
		return false, nil
	}

	s, err := r.refresh(ctx, cur.RefreshToken)
	if err != nil {
		var ae *repository.AuthError
		if errors.As(err, &ae) {
			r.clear(ctx)
			r.notify(repository.EventSignedOut, nil)
		}
		return false, err
	}
	r.notify(repository.EventTokenRefreshed, s)
	return true, nil
}

// authError traduce una respuesta 4xx/5xx de GoTrue.
func authError(resp *response) error {
	e := parseAPIError(resp.body)
	if resp.status >= 500 {
		return fmt.Errorf("%w: auth %d %s", repository.ErrUnavailable, resp.status, e.message())
	}
	return &repository.AuthError{Status: resp.status, Code: e.code(), Message: e.message()}
}
