// Package auth expone los verbos de autenticación (sign-in, sign-up, sign-out,
// demo) al resto de la aplicación. Cada verbo valida antes de cualquier I/O,
// delega en el servicio remoto y actualiza el estado de sesión.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/sokoni/internal/audit"
	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/metrics"
	"github.com/dropDatabas3/sokoni/internal/notify"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
	"github.com/dropDatabas3/sokoni/internal/session"
	"github.com/dropDatabas3/sokoni/internal/validation"
)

const (
	ActionSignIn  = "auth.signin"
	ActionSignUp  = "auth.signup"
	ActionSignOut = "auth.signout"
	ActionDemo    = "auth.demo"
)

// Options son las capacidades opcionales del gateway. Las nil se reemplazan por no-ops.
type Options struct {
	MinPasswordLength int
	Audit             audit.Sink
	AuditKey          string
	Notify            notify.Sink
	// LocalAudit recibe los intentos rechazados por validación. Default: audit.LogSink.
	LocalAudit audit.Sink
}

// Result es el estado que deja una acción exitosa.
type Result struct {
	Session *types.Session `json:"session,omitempty"`
	Profile *types.Profile `json:"profile,omitempty"`
	// DemoUser es el objeto user del emisor demo, sin transformar.
	DemoUser types.Row `json:"demo_user,omitempty"`
	// NeedsConfirmation: el registro fue aceptado pero el servicio exige confirmar el email.
	NeedsConfirmation bool `json:"needs_confirmation,omitempty"`
}

type Gateway struct {
	auth       repository.AuthRepository
	sessions   *session.Manager
	audit      audit.Sink
	localAudit audit.Sink
	hasher     audit.Hasher
	notify     notify.Sink
	minPw      int
	now        func() time.Time
}

// NewGateway arma el gateway. auth nil hace que toda acción remota responda
// KindServiceUnavailable.
func NewGateway(auth repository.AuthRepository, sessions *session.Manager, opts Options) *Gateway {
	minPw := opts.MinPasswordLength
	if minPw < validation.MinPasswordLength {
		minPw = validation.MinPasswordLength
	}
	local := opts.LocalAudit
	if local == nil {
		local = audit.LogSink{}
	}
	return &Gateway{
		auth:       auth,
		sessions:   sessions,
		audit:      audit.Safe(opts.Audit, 3*time.Second),
		localAudit: audit.Safe(local, time.Second),
		hasher:     audit.NewHasher(opts.AuditKey),
		notify:     notify.Safe(opts.Notify),
		minPw:      minPw,
		now:        time.Now,
	}
}

// State retorna el estado publicado.
func (g *Gateway) State() session.State { return g.sessions.Store().Snapshot() }

// SignIn autentica con email + password.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = validation.NormalizeEmail(email)
	if err := g.validateCredentials(email, password); err != nil {
		return nil, g.fail(ctx, ActionSignIn, email, "", err)
	}
	if g.auth == nil {
		return nil, g.fail(ctx, ActionSignIn, email, "", unavailable(repository.ErrUnavailable))
	}

	sess, err := guard(func() (*types.Session, error) { return g.auth.SignInWithPassword(ctx, email, password) })
	if err == nil && sess == nil {
		err = fmt.Errorf("%w: sign-in returned no session", repository.ErrUnavailable)
	}
	if err != nil {
		return nil, g.fail(ctx, ActionSignIn, email, "", remoteError(err, KindCredentials, "Invalid email or password."))
	}

	// el perfil nunca hace fallar el sign-in: en el peor caso es sintético
	p := g.sessions.Establish(ctx, sess)
	g.succeed(ctx, ActionSignIn, email, string(p.UserType))
	g.notify.Notify(ctx, notify.Notice{Level: notify.LevelSuccess, Title: "Signed in", Message: "Welcome back, " + p.DisplayName() + "!"})
	return &Result{Session: sess, Profile: &p}, nil
}

// SignUp registra un actor nuevo. Si el servicio devuelve sesión, queda logueado.
func (g *Gateway) SignUp(ctx context.Context, f types.SignUpFields) (*Result, error) {
	f.Email = validation.NormalizeEmail(f.Email)
	if err := g.validateSignUp(&f); err != nil {
		return nil, g.fail(ctx, ActionSignUp, f.Email, string(f.UserType), err)
	}
	if g.auth == nil {
		return nil, g.fail(ctx, ActionSignUp, f.Email, string(f.UserType), unavailable(repository.ErrUnavailable))
	}

	res, err := guard(func() (*repository.SignUpResult, error) { return g.auth.SignUp(ctx, f) })
	if err == nil && res == nil {
		err = fmt.Errorf("%w: sign-up returned no result", repository.ErrUnavailable)
	}
	if err != nil {
		return nil, g.fail(ctx, ActionSignUp, f.Email, string(f.UserType), remoteError(err, KindAccountCreation, "We couldn't create your account."))
	}

	out := &Result{NeedsConfirmation: res.Session == nil}
	if res.Session != nil {
		p := g.sessions.Establish(ctx, res.Session)
		out.Session, out.Profile = res.Session, &p
	}
	g.succeed(ctx, ActionSignUp, f.Email, string(f.UserType))

	msg := "Your account is ready."
	if out.NeedsConfirmation {
		msg = "Check your email to confirm your account."
	}
	g.notify.Notify(ctx, notify.Notice{
		Level:     notify.LevelSuccess,
		Title:     "Welcome to Sokoni",
		Message:   msg,
		Kind:      notify.KindWelcome,
		Recipient: f.Email,
		Name:      f.FirstName,
	})
	return out, nil
}

// SignOut cierra la sesión remota y siempre limpia el estado local, aunque la
// llamada remota falle.
func (g *Gateway) SignOut(ctx context.Context) error {
	st := g.sessions.Store().Snapshot()
	email := ""
	if st.Session != nil {
		email = st.Session.User.Email
	}

	var err error
	switch {
	case g.auth == nil:
	case st.Session != nil && st.Session.Demo:
		// la sesión demo no existe en el servicio, pero el adapter puede
		// conservar una sesión real anterior que no debe volver al reiniciar
		if f, ok := g.auth.(repository.SessionForgetter); ok {
			err = guardErr(func() error { f.ForgetSession(ctx); return nil })
		}
	default:
		err = guardErr(func() error { return g.auth.SignOut(ctx) })
	}
	g.sessions.Clear()
	g.sessions.Store().SetError(nil)

	if err != nil {
		logger.From(ctx).Warn("remote sign-out failed; local session cleared", logger.Err(err))
		g.record(ctx, ActionSignOut, audit.OutcomeFailure, email, "", err.Error())
	} else {
		g.record(ctx, ActionSignOut, audit.OutcomeSuccess, email, "", "")
	}
	g.notify.Notify(ctx, notify.Notice{Level: notify.LevelInfo, Title: "Signed out", Message: "You have been signed out."})
	return nil
}

// DemoLogin emite una sesión demo para el rol dado. El perfil es el user que
// devuelve el emisor; no pasa por el resolver ni se persiste.
func (g *Gateway) DemoLogin(ctx context.Context, kind string) (*Result, error) {
	ut, ok := types.ParseUserType(kind)
	if !ok {
		return nil, g.fail(ctx, ActionDemo, "", kind, invalid("kind", "Demo kind must be one of retailer, supplier or logistics."))
	}
	if g.auth == nil {
		return nil, g.fail(ctx, ActionDemo, "", string(ut), demoUnavailable("", repository.ErrUnavailable))
	}

	res, err := guard(func() (*repository.DemoResult, error) { return g.auth.IssueDemo(ctx, ut) })
	switch {
	case err != nil:
		return nil, g.fail(ctx, ActionDemo, "", string(ut), demoUnavailable("", err))
	case res == nil || !res.Success || len(res.User) == 0:
		msg := ""
		if res != nil {
			msg = res.Message
		}
		return nil, g.fail(ctx, ActionDemo, "", string(ut), demoUnavailable(msg, nil))
	}

	p, err := types.ProfileFromRow(res.User)
	if err != nil || p.ID == "" {
		if err == nil {
			err = errors.New("demo user without id")
		}
		return nil, g.fail(ctx, ActionDemo, "", string(ut), demoUnavailable("", err))
	}

	sess := res.Session.Clone()
	if sess == nil {
		sess = &types.Session{AccessToken: "demo-" + uuid.NewString(), TokenType: "bearer"}
	}
	sess.Demo = true
	sess.User.ID = p.ID
	if sess.User.Email == "" {
		sess.User.Email = p.Email
	}

	g.sessions.SetDemo(sess, p)
	g.succeed(ctx, ActionDemo, p.Email, string(ut))
	g.notify.Notify(ctx, notify.Notice{Level: notify.LevelSuccess, Title: "Demo mode", Message: "You are exploring Sokoni as a " + string(ut) + "."})
	return &Result{Session: sess, Profile: &p, DemoUser: res.User}, nil
}

func (g *Gateway) validateCredentials(email, password string) *Error {
	switch {
	case email == "":
		return invalid("email", "Email is required.")
	case password == "":
		return invalid("password", "Password is required.")
	case !validation.ValidEmail(email):
		return invalid("email", "Enter a valid email address.")
	case !validation.ValidPassword(password, g.minPw):
		return invalid("password", fmt.Sprintf("Password must be at least %d characters.", g.minPw))
	}
	return nil
}

func (g *Gateway) validateSignUp(f *types.SignUpFields) *Error {
	if err := g.validateCredentials(f.Email, f.Password); err != nil {
		return err
	}
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	switch {
	case !validation.ValidName(f.FirstName):
		return invalid("first_name", "First name is required.")
	case !validation.ValidName(f.LastName):
		return invalid("last_name", "Last name is required.")
	case !validation.ValidPhone(f.Phone):
		return invalid("phone", "Enter a valid phone number.")
	case f.MpesaPhone != "" && !validation.ValidPhone(f.MpesaPhone):
		return invalid("mpesa_phone", "Enter a valid M-Pesa phone number.")
	}
	ut, ok := types.ParseUserType(string(f.UserType))
	if !ok {
		return invalid("user_type", "Account type must be one of retailer, supplier or logistics.")
	}
	f.UserType = ut
	return nil
}

// fail registra la falla (estado, auditoría, métricas, notificación) y retorna err.
// Las fallas de validación se auditan solo en el sink local: no hubo intento
// contra el servicio y no se hace I/O remoto antes de validar.
func (g *Gateway) fail(ctx context.Context, action, email, userType string, err *Error) error {
	metrics.AuthActions.WithLabelValues(action, err.Kind.String()).Inc()
	g.sessions.Store().SetError(err)
	if err.Kind == KindValidation {
		_ = g.localAudit.Emit(ctx, g.event(action, audit.OutcomeFailure, email, userType, err.Kind.String()+":"+err.Field))
	} else {
		logger.From(ctx).Info("auth action failed",
			zap.String("action", action),
			zap.String("kind", err.Kind.String()),
			logger.Err(err.Err),
		)
		g.record(ctx, action, audit.OutcomeFailure, email, userType, err.Kind.String())
	}
	g.notify.Notify(ctx, notify.Notice{Level: notify.LevelError, Title: "Something went wrong", Message: err.Message})
	return err
}

func (g *Gateway) succeed(ctx context.Context, action, email, userType string) {
	metrics.AuthActions.WithLabelValues(action, audit.OutcomeSuccess).Inc()
	g.sessions.Store().SetError(nil)
	g.record(ctx, action, audit.OutcomeSuccess, email, userType, "")
}

func (g *Gateway) record(ctx context.Context, action, outcome, email, userType, reason string) {
	_ = g.audit.Emit(ctx, g.event(action, outcome, email, userType, reason))
}

func (g *Gateway) event(action, outcome, email, userType, reason string) audit.Event {
	return audit.Event{
		Action:   action,
		Outcome:  outcome,
		ActorRef: g.hasher.ActorRef(email),
		UserType: userType,
		Reason:   reason,
		At:       g.now().UTC(),
	}
}

// remoteError clasifica un error del servicio de auth: un rechazo explícito es
// del kind de la acción, cualquier otra cosa es servicio no disponible.
func remoteError(err error, kind Kind, generic string) *Error {
	var ae *repository.AuthError
	if errors.As(err, &ae) {
		msg := strings.TrimSpace(ae.Message)
		if msg == "" {
			msg = generic
		}
		return &Error{Kind: kind, Message: msg, Err: err}
	}
	return unavailable(err)
}

func demoUnavailable(msg string, err error) *Error {
	if strings.TrimSpace(msg) == "" {
		msg = "Demo login is not available right now."
	}
	return &Error{Kind: KindDemoUnavailable, Message: msg, Err: err}
}

// guard convierte un panic del adapter en ErrUnavailable.
func guard[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, err = zero, fmt.Errorf("%w: panic: %v", repository.ErrUnavailable, r)
		}
	}()
	return fn()
}

func guardErr(fn func() error) error {
	_, err := guard(func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
