package profile

import "context"

// outcome decide qué hace el ladder después de un intento.
type outcome int

const (
	// next: el intento no resolvió, seguir con el siguiente.
	next outcome = iota
	// done: el intento produjo el resultado final.
	done
	// abort: falla decisiva, cortar sin más intentos.
	abort
)

func (o outcome) String() string {
	switch o {
	case done:
		return "done"
	case abort:
		return "abort"
	default:
		return "next"
	}
}

// attempt es un peldaño del ladder.
type attempt[T any] struct {
	name string
	try  func(ctx context.Context) (T, outcome)
}

// runLadder ejecuta los intentos en orden, de a uno. El primero que retorna done
// gana; abort corta. ok=false si ninguno resolvió. last es el último intento ejecutado.
func runLadder[T any](ctx context.Context, attempts []attempt[T]) (res T, last string, ok bool) {
	for _, a := range attempts {
		last = a.name
		v, o := a.try(ctx)
		switch o {
		case done:
			return v, last, true
		case abort:
			var zero T
			return zero, last, false
		}
	}
	var zero T
	return zero, last, false
}
