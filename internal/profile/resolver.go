// Package profile resuelve el perfil de aplicación de un actor: lo lee del store
// remoto o lo crea con un ladder de escrituras cada vez más simples, y en el peor
// caso arma un perfil sintético en memoria. Resolve nunca falla.
package profile

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
	"github.com/dropDatabas3/sokoni/internal/metrics"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// Completeness indica de dónde salió el perfil.
type Completeness string

const (
	Stored    Completeness = "stored"
	Full      Completeness = "full"
	Minimal   Completeness = "minimal"
	IDOnly    Completeness = "id_only"
	Synthetic Completeness = "synthetic"
)

// Placeholder son los valores fijos del perfil sintético.
type Placeholder struct {
	FirstName string
	LastName  string
	UserType  types.UserType
	County    string
	Town      string
}

type Config struct {
	Table             string
	OrganizationTable string
	WriteTimeout      time.Duration
	Placeholder       Placeholder
}

// Resolution es el perfil resuelto y su grado de completitud.
type Resolution struct {
	Profile      types.Profile
	Completeness Completeness
}

// Resolver implementa session.ProfileResolver.
type Resolver struct {
	tables repository.TableRepository
	cfg    Config
	newID  func() string
}

// NewResolver crea un Resolver. tables nil equivale a un store inalcanzable.
func NewResolver(tables repository.TableRepository, cfg Config) *Resolver {
	if cfg.Table == "" {
		cfg.Table = "profiles"
	}
	if cfg.OrganizationTable == "" {
		cfg.OrganizationTable = "organizations"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if !cfg.Placeholder.UserType.IsValid() {
		cfg.Placeholder.UserType = types.UserTypeRetailer
	}
	return &Resolver{tables: tables, cfg: cfg, newID: uuid.NewString}
}

func (r *Resolver) Resolve(ctx context.Context, actor types.Actor) types.Profile {
	return r.ResolveDetailed(ctx, actor).Profile
}

// ResolveDetailed lee el perfil del actor; si no existe lo crea. Cualquier falla
// de lectura distinta de "sin filas" va directo al perfil sintético.
func (r *Resolver) ResolveDetailed(ctx context.Context, actor types.Actor) Resolution {
	log := logger.From(ctx).With(logger.Component("profile"), logger.ActorID(actor.ID))
	ctx = logger.ToContext(ctx, log)

	res := r.resolve(ctx, actor)
	metrics.ProfileResolutions.WithLabelValues(string(res.Completeness)).Inc()
	log.Debug("profile resolved", zap.String("completeness", string(res.Completeness)))
	return res
}

func (r *Resolver) resolve(ctx context.Context, actor types.Actor) Resolution {
	log := logger.From(ctx)
	if r.tables == nil {
		log.Warn("table service unavailable; using synthetic profile")
		return r.synthetic(actor)
	}

	p, err := r.read(ctx, actor.ID)
	switch {
	case err == nil:
		return Resolution{Profile: p, Completeness: Stored}
	case repository.KindOf(err) == repository.KindNoRows:
		return r.create(ctx, actor)
	default:
		log.Warn("profile read failed; using synthetic profile",
			logger.StoreKind(repository.KindOf(err).String()), logger.Err(err))
		return r.synthetic(actor)
	}
}

func (r *Resolver) read(ctx context.Context, actorID string) (types.Profile, error) {
	rows, err := r.tables.Select(ctx, repository.Query{
		Table:  r.cfg.Table,
		Filter: repository.Filter{"id": actorID},
		Embed:  &repository.Embed{Table: r.cfg.OrganizationTable, ForeignKey: "organization_id", As: "organization"},
		Single: true,
	})
	if err != nil {
		return types.Profile{}, err
	}
	if len(rows) == 0 {
		return types.Profile{}, repository.NewStoreError(r.cfg.Table, "PGRST116", "no rows", nil)
	}
	p, err := types.ProfileFromRow(rows[0])
	if err != nil {
		return types.Profile{}, err
	}
	if p.ID == "" {
		p.ID = actorID
	}
	return p, nil
}

// create corre el ladder: probe de permisos, full, minimal, id-only.
func (r *Resolver) create(ctx context.Context, actor types.Actor) Resolution {
	full := r.fullShape(actor)
	attempts := []attempt[Resolution]{
		{name: "probe", try: r.probe},
		{name: string(Full), try: r.insert(Full, full.Row(), full)},
		{name: string(Minimal), try: r.insert(Minimal, types.Row{"id": actor.ID, "email": actor.Email}, types.Profile{ID: actor.ID, Email: actor.Email})},
		{name: string(IDOnly), try: r.insert(IDOnly, types.Row{"id": actor.ID}, types.Profile{ID: actor.ID})},
	}

	res, last, ok := runLadder(ctx, attempts)
	if ok {
		return res
	}
	logger.From(ctx).Warn("profile creation exhausted; using synthetic profile", logger.Rung(last))
	return r.synthetic(actor)
}

// probe inserta y borra una fila descartable para saber si hay permiso de escritura.
// Solo una denegación corta el ladder; cualquier otra falla deja seguir.
func (r *Resolver) probe(ctx context.Context) (Resolution, outcome) {
	log := logger.From(ctx).With(logger.Rung("probe"))
	id := r.newID()

	wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	_, err := r.tables.Insert(wctx, r.cfg.Table, types.Row{"id": id})
	cancel()
	r.count("probe", err)

	if err != nil {
		kind := repository.KindOf(err)
		if kind == repository.KindAccessDenied || kind == repository.KindTableMissing {
			log.Info("profile writes not permitted", logger.StoreKind(kind.String()))
			return Resolution{}, abort
		}
		log.Debug("permission probe inconclusive", logger.StoreKind(kind.String()), logger.Err(err))
		return Resolution{}, next
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()
	if err := r.tables.Delete(dctx, r.cfg.Table, repository.Filter{"id": id}); err != nil {
		log.Warn("probe row cleanup failed", logger.String("probe_id", id), logger.Err(err))
	}
	return Resolution{}, next
}

// insert arma un peldaño de escritura con el shape dado.
func (r *Resolver) insert(c Completeness, row types.Row, attempted types.Profile) func(context.Context) (Resolution, outcome) {
	return func(ctx context.Context) (Resolution, outcome) {
		log := logger.From(ctx).With(logger.Rung(string(c)))

		wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
		stored, err := r.tables.Insert(wctx, r.cfg.Table, row)
		cancel()
		r.count(string(c), err)

		if err == nil {
			return Resolution{Profile: merge(attempted, row, stored), Completeness: c}, done
		}

		switch kind := repository.KindOf(err); kind {
		case repository.KindDuplicate:
			// otro camino ya lo creó: cuenta como éxito
			log.Debug("profile already exists")
			return Resolution{Profile: attempted, Completeness: c}, done
		case repository.KindUnknownColumn:
			log.Debug("profile shape rejected by schema", logger.Err(err))
			return Resolution{}, next
		case repository.KindAccessDenied, repository.KindTableMissing:
			log.Info("profile write refused", logger.StoreKind(kind.String()))
			return Resolution{}, abort
		case repository.KindNoRows, repository.KindTimeout, repository.KindUnavailable, repository.KindOther:
			log.Warn("profile write failed", logger.StoreKind(kind.String()), logger.Err(err))
			return Resolution{}, next
		default:
			return Resolution{}, next
		}
	}
}

func (r *Resolver) count(rung string, err error) {
	kind := "ok"
	if err != nil {
		kind = repository.KindOf(err).String()
	}
	metrics.ProfileWriteAttempts.WithLabelValues(rung, kind).Inc()
}

// fullShape arma el perfil completo a partir de lo que el actor declaró al registrarse.
func (r *Resolver) fullShape(actor types.Actor) types.Profile {
	ut, ok := types.ParseUserType(actor.MetaString("user_type"))
	if !ok {
		ut = r.cfg.Placeholder.UserType
	}
	return types.Profile{
		ID:           actor.ID,
		Email:        actor.Email,
		FirstName:    actor.MetaString("first_name"),
		LastName:     actor.MetaString("last_name"),
		Phone:        firstNonEmpty(actor.MetaString("phone"), actor.Phone),
		UserType:     ut,
		BusinessName: actor.MetaString("business_name"),
		BusinessType: actor.MetaString("business_type"),
		County:       actor.MetaString("county"),
		Town:         actor.MetaString("town"),
		MpesaPhone:   actor.MetaString("mpesa_phone"),
		ReferredBy:   actor.MetaString("referred_by"),
	}
}

// synthetic arma un perfil solo en memoria con lo que ya se sabe del actor.
func (r *Resolver) synthetic(actor types.Actor) Resolution {
	ph := r.cfg.Placeholder
	p := r.fullShape(actor)
	p.FirstName = firstNonEmpty(p.FirstName, ph.FirstName)
	p.LastName = firstNonEmpty(p.LastName, ph.LastName)
	p.County = firstNonEmpty(p.County, ph.County)
	p.Town = firstNonEmpty(p.Town, ph.Town)
	return Resolution{Profile: p, Completeness: Synthetic}
}

// merge combina el shape intentado con lo que devolvió el store. El store gana
// salvo en valores nulos; sin filas devueltas queda el shape intentado.
func merge(attempted types.Profile, row types.Row, stored []types.Row) types.Profile {
	if len(stored) == 0 {
		return attempted
	}
	combined := make(types.Row, len(row)+len(stored[0]))
	for k, v := range row {
		if v != nil {
			combined[k] = v
		}
	}
	for k, v := range stored[0] {
		if v != nil {
			combined[k] = v
		}
	}
	p, err := types.ProfileFromRow(combined)
	if err != nil || p.ID != attempted.ID {
		return attempted
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
