// Package types define los tipos de dominio compartidos entre paquetes:
// sesión, actor, perfil y los roles del marketplace.
package types

import "strings"

// UserType es el rol de un actor dentro del marketplace.
type UserType string

const (
	// UserTypeRetailer compra stock a suppliers (duka, kiosk, minimarket).
	UserTypeRetailer UserType = "retailer"
	// UserTypeSupplier publica catálogo y despacha órdenes.
	UserTypeSupplier UserType = "supplier"
	// UserTypeLogistics transporta órdenes entre supplier y retailer.
	UserTypeLogistics UserType = "logistics"
)

// UserTypes lista el conjunto cerrado de roles.
var UserTypes = []UserType{UserTypeRetailer, UserTypeSupplier, UserTypeLogistics}

// IsValid retorna true si el rol pertenece al conjunto cerrado.
func (u UserType) IsValid() bool {
	switch u {
	case UserTypeRetailer, UserTypeSupplier, UserTypeLogistics:
		return true
	}
	return false
}

// ParseUserType normaliza (trim + lower) y valida un rol.
func ParseUserType(s string) (UserType, bool) {
	u := UserType(strings.ToLower(strings.TrimSpace(s)))
	return u, u.IsValid()
}
