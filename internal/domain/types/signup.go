package types

import "strings"

// Location es la ubicación declarada por el actor (county + town).
type Location struct {
	County string `json:"county"`
	Town   string `json:"town"`
}

// SignUpFields es la configuración enumerada que acepta el registro remoto.
type SignUpFields struct {
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Phone        string   `json:"phone"`
	BusinessName string   `json:"business_name,omitempty"`
	BusinessType string   `json:"business_type,omitempty"`
	UserType     UserType `json:"user_type"`
	Location     Location `json:"location"`
	MpesaPhone   string   `json:"mpesa_phone,omitempty"`
	ReferredBy   string   `json:"referred_by,omitempty"`
}

// Metadata mapea los campos al shape de user metadata que espera el servicio remoto.
// Los opcionales vacíos se omiten.
func (f SignUpFields) Metadata() map[string]any {
	m := map[string]any{
		"first_name": strings.TrimSpace(f.FirstName),
		"last_name":  strings.TrimSpace(f.LastName),
		"phone":      strings.TrimSpace(f.Phone),
		"user_type":  string(f.UserType),
		"county":     strings.TrimSpace(f.Location.County),
		"town":       strings.TrimSpace(f.Location.Town),
	}
	optional := map[string]string{
		"business_name": f.BusinessName,
		"business_type": f.BusinessType,
		"mpesa_phone":   f.MpesaPhone,
		"referred_by":   f.ReferredBy,
	}
	for k, v := range optional {
		if v = strings.TrimSpace(v); v != "" {
			m[k] = v
		}
	}
	return m
}
