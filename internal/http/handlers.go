package http

import (
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/sokoni/internal/domain/types"
	apperrors "github.com/dropDatabas3/sokoni/internal/http/errors"
	"github.com/dropDatabas3/sokoni/internal/notify"
	"github.com/dropDatabas3/sokoni/internal/payment"
	"github.com/dropDatabas3/sokoni/internal/session"
)

const maxBody = 64 << 10

var (
	errNotFound         = apperrors.ErrNotFound
	errMethodNotAllowed = apperrors.ErrMethodNotAllowed
)

type handlers struct {
	deps Deps
}

// stateView es lo que ve el cliente del estado publicado. No incluye el refresh token.
type stateView struct {
	Loading       bool           `json:"loading"`
	Authenticated bool           `json:"authenticated"`
	Demo          bool           `json:"demo,omitempty"`
	User          *types.Actor   `json:"user,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Profile       *types.Profile `json:"profile,omitempty"`
	DisplayName   string         `json:"display_name,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	Version       uint64         `json:"version"`
}

func viewOf(st session.State) stateView {
	v := stateView{Loading: st.Loading, Version: st.Version, Profile: st.Profile}
	if st.Session != nil {
		u := st.Session.User
		v.Authenticated = true
		v.Demo = st.Session.Demo
		v.User = &u
		if !st.Session.ExpiresAt.IsZero() {
			exp := st.Session.ExpiresAt
			v.ExpiresAt = &exp
		}
	}
	if st.Profile != nil {
		v.DisplayName = st.Profile.DisplayName()
	}
	if st.LastAuthError != nil {
		v.LastError = st.LastAuthError.Error()
	}
	return v
}

type actionResponse struct {
	State             stateView       `json:"state"`
	DemoUser          types.Row       `json:"demo_user,omitempty"`
	NeedsConfirmation bool            `json:"needs_confirmation,omitempty"`
	Notices           []notify.Notice `json:"notices,omitempty"`
}

func (h *handlers) healthz(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	writeJSON(w, stdhttp.StatusOK, map[string]any{
		"status":  "ok",
		"loading": h.deps.Gateway.State().Loading,
	})
}

type readyView struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Cache  *cacheView `json:"cache,omitempty"`
}

type cacheView struct {
	Driver     string `json:"driver"`
	Keys       int64  `json:"keys"`
	UsedMemory string `json:"used_memory,omitempty"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
}

// readyz exige backend y cache disponibles; las stats del cache van en el body.
func (h *handlers) readyz(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			writeJSON(w, stdhttp.StatusServiceUnavailable, readyView{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	out := readyView{Status: "ready"}
	if h.deps.Cache != nil {
		st, err := h.deps.Cache.Stats(r.Context())
		if err != nil {
			writeJSON(w, stdhttp.StatusServiceUnavailable, readyView{Status: "unavailable", Error: "cache: " + err.Error()})
			return
		}
		out.Cache = &cacheView{Driver: st.Driver, Keys: st.Keys, UsedMemory: st.UsedMemory, Hits: st.Hits, Misses: st.Misses}
	}
	writeJSON(w, stdhttp.StatusOK, out)
}

func (h *handlers) state(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	writeJSON(w, stdhttp.StatusOK, viewOf(h.deps.Gateway.State()))
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) signIn(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var in signInRequest
	if err := decode(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := h.deps.Gateway.SignIn(r.Context(), in.Email, in.Password); err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, actionResponse{})
}

func (h *handlers) signUp(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var in types.SignUpFields
	if err := decode(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}
	res, err := h.deps.Gateway.SignUp(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, actionResponse{NeedsConfirmation: res.NeedsConfirmation})
}

func (h *handlers) signOut(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	_ = h.deps.Gateway.SignOut(r.Context())
	h.respond(w, actionResponse{})
}

type demoRequest struct {
	UserType string `json:"user_type"`
}

func (h *handlers) demo(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var in demoRequest
	if err := decode(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}
	res, err := h.deps.Gateway.DemoLogin(r.Context(), in.UserType)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, actionResponse{DemoUser: res.DemoUser})
}

type payRequest struct {
	Provider string `json:"provider"`
	payment.Request
	Details payment.MethodDetails `json:"details,omitempty"`
}

// pay cobra a nombre del actor logueado.
func (h *handlers) pay(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	st := h.deps.Gateway.State()
	if st.Session == nil {
		writeErr(w, apperrors.ErrUnauthorized)
		return
	}
	var in payRequest
	if err := decode(w, r, &in); err != nil {
		writeErr(w, err)
		return
	}
	if in.CustomerID == "" {
		in.CustomerID = st.Session.ActorID()
	}
	res, err := h.deps.Payments.Pay(r.Context(), in.Provider, in.Request, in.Details)
	if err != nil {
		writeErr(w, err)
		return
	}
	status := stdhttp.StatusOK
	if !res.Success {
		status = stdhttp.StatusPaymentRequired
	}
	writeJSON(w, status, res)
}

func (h *handlers) respond(w stdhttp.ResponseWriter, out actionResponse) {
	out.State = viewOf(h.deps.Gateway.State())
	if h.deps.Notices != nil {
		out.Notices = h.deps.Notices.Drain()
	}
	writeJSON(w, stdhttp.StatusOK, out)
}

// fail escribe el error de la acción. Los avisos pendientes se descartan:
// el cuerpo del error ya lleva el mensaje para el usuario.
func (h *handlers) fail(w stdhttp.ResponseWriter, err error) {
	if h.deps.Notices != nil {
		h.deps.Notices.Drain()
	}
	writeErr(w, err)
}

func decode(w stdhttp.ResponseWriter, r *stdhttp.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "application/json") {
		return apperrors.ErrBadRequest.WithDetail("content type must be application/json")
	}
	dec := json.NewDecoder(stdhttp.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *stdhttp.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperrors.ErrBodyTooLarge
		case errors.Is(err, io.EOF):
			return apperrors.ErrBadRequest.WithDetail("empty body")
		default:
			return apperrors.ErrInvalidJSON.WithCause(err)
		}
	}
	return nil
}

func writeJSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w stdhttp.ResponseWriter, err error) {
	apperrors.WriteError(w, err)
}
