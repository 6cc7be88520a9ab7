// Package validation contiene las reglas de forma de los inputs de auth.
// Todas son puras: no hacen I/O.
package validation

import (
	"regexp"
	"strings"
)

// Email rules:
// - local@domain.tld, sin espacios ni '@' extra.
// - No valida existencia del dominio; eso lo decide el servicio remoto.
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Phone: dígitos con '+' inicial opcional; espacios y guiones se ignoran. 9..15 dígitos.
var phoneRe = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// MinPasswordLength es el piso absoluto; la config puede subirlo, nunca bajarlo.
const MinPasswordLength = 6

// NormalizeEmail aplica trim + lowercase.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail chequea la forma básica local@domain.tld.
func ValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// ValidPassword exige al menos min caracteres (nunca menos de MinPasswordLength).
func ValidPassword(pw string, min int) bool {
	if min < MinPasswordLength {
		min = MinPasswordLength
	}
	return len([]rune(pw)) >= min
}

// ValidPhone acepta formatos locales e internacionales.
func ValidPhone(s string) bool {
	s = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s))
	return phoneRe.MatchString(s)
}

// ValidName exige un nombre no vacío y razonable.
func ValidName(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && len(s) <= 100
}
