package types

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

// Row es una fila tal como la devuelve el store remoto (objeto JSON decodificado).
type Row map[string]any

// Organization es la organización (negocio) vinculada a un perfil.
type Organization struct {
	ID       string `json:"id" mapstructure:"id"`
	Name     string `json:"name,omitempty" mapstructure:"name"`
	Type     string `json:"type,omitempty" mapstructure:"type"`
	County   string `json:"county,omitempty" mapstructure:"county"`
	Town     string `json:"town,omitempty" mapstructure:"town"`
	Verified bool   `json:"verified,omitempty" mapstructure:"verified"`
}

// Profile es el registro de aplicación que describe a un actor.
//
// Puede estar completo, ser mínimo (id + email) o sintético (solo en memoria);
// los consumidores deben tolerar campos vacíos y usar DisplayName() y los
// getters con placeholder.
type Profile struct {
	ID             string        `json:"id" mapstructure:"id"`
	Email          string        `json:"email,omitempty" mapstructure:"email"`
	FirstName      string        `json:"first_name,omitempty" mapstructure:"first_name"`
	LastName       string        `json:"last_name,omitempty" mapstructure:"last_name"`
	Phone          string        `json:"phone,omitempty" mapstructure:"phone"`
	UserType       UserType      `json:"user_type,omitempty" mapstructure:"user_type"`
	BusinessName   string        `json:"business_name,omitempty" mapstructure:"business_name"`
	BusinessType   string        `json:"business_type,omitempty" mapstructure:"business_type"`
	County         string        `json:"county,omitempty" mapstructure:"county"`
	Town           string        `json:"town,omitempty" mapstructure:"town"`
	MpesaPhone     string        `json:"mpesa_phone,omitempty" mapstructure:"mpesa_phone"`
	ReferredBy     string        `json:"referred_by,omitempty" mapstructure:"referred_by"`
	OrganizationID string        `json:"organization_id,omitempty" mapstructure:"organization_id"`
	Organization   *Organization `json:"organization,omitempty" mapstructure:"organization"`
	IsVerified     bool          `json:"is_verified,omitempty" mapstructure:"is_verified"`
	EmailVerified  bool          `json:"email_verified,omitempty" mapstructure:"email_verified"`
	PhoneVerified  bool          `json:"phone_verified,omitempty" mapstructure:"phone_verified"`
	CreatedAt      time.Time     `json:"created_at,omitempty" mapstructure:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at,omitempty" mapstructure:"updated_at"`
}

// DisplayName arma un nombre mostrable con fallback a email y placeholder.
func (p Profile) DisplayName() string {
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		return name
	}
	if at := strings.IndexByte(p.Email, '@'); at > 0 {
		return p.Email[:at]
	}
	return "Sokoni user"
}

// Row arma la fila con todos los campos de aplicación (shape "full").
// Los opcionales vacíos van como nil para no pisar defaults del store.
func (p Profile) Row() Row {
	r := Row{
		"id":             p.ID,
		"email":          nullIfEmpty(p.Email),
		"first_name":     nullIfEmpty(p.FirstName),
		"last_name":      nullIfEmpty(p.LastName),
		"phone":          nullIfEmpty(p.Phone),
		"user_type":      nullIfEmpty(string(p.UserType)),
		"business_name":  nullIfEmpty(p.BusinessName),
		"business_type":  nullIfEmpty(p.BusinessType),
		"county":         nullIfEmpty(p.County),
		"town":           nullIfEmpty(p.Town),
		"mpesa_phone":    nullIfEmpty(p.MpesaPhone),
		"referred_by":    nullIfEmpty(p.ReferredBy),
		"is_verified":    p.IsVerified,
		"email_verified": p.EmailVerified,
		"phone_verified": p.PhoneVerified,
	}
	if p.OrganizationID != "" {
		r["organization_id"] = p.OrganizationID
	}
	return r
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ProfileFromRow decodifica una fila del store (o el objeto "user" de un demo) a Profile.
// Acepta claves snake_case o camelCase.
func ProfileFromRow(row Row) (Profile, error) {
	var p Profile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       lenientTimeHook,
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return Profile{}, err
	}
	if err := dec.Decode(normalizeKeys(row)); err != nil {
		return Profile{}, fmt.Errorf("profile: decode row: %w", err)
	}
	return p, nil
}

// normalizeKeys convierte claves camelCase a snake_case, recursivamente en objetos anidados.
func normalizeKeys(row Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch nested := v.(type) {
		case map[string]any:
			v = normalizeKeys(nested)
		case Row:
			v = normalizeKeys(nested)
		}
		out[snakeCase(k)] = v
	}
	return out
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02",
}

// lenientTimeHook parsea timestamps en los formatos de PostgREST y to_jsonb.
// Un valor que no parsea deja el campo en cero en lugar de fallar el decode.
func lenientTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) || from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(reflect.ValueOf(data).String())
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, nil
}
