package repository

import (
	"context"

	"github.com/dropDatabas3/sokoni/internal/domain/types"
)

// Filter es un conjunto de igualdades columna = valor (AND).
type Filter map[string]any

// Embed describe un join a una tabla relacionada, devuelto como objeto anidado.
type Embed struct {
	Table      string // tabla relacionada (ej: "organizations")
	ForeignKey string // columna en la tabla principal (ej: "organization_id")
	As         string // nombre del objeto anidado (ej: "organization")
}

// Query describe un select sobre una tabla.
type Query struct {
	Table   string
	Columns []string // vacío = todas
	Filter  Filter
	Embed   *Embed
	// Single exige a lo sumo una fila; cero filas retorna ErrNoRows.
	Single bool
}

// TableRepository son las operaciones de tabla del servicio remoto.
// Toda falla es un *StoreError con Kind cerrado.
type TableRepository interface {
	Select(ctx context.Context, q Query) ([]types.Row, error)

	// Insert inserta filas y retorna las filas almacenadas (puede ser vacío si la
	// política de lectura no permite ver la fila insertada).
	Insert(ctx context.Context, table string, rows ...types.Row) ([]types.Row, error)

	Delete(ctx context.Context, table string, filter Filter) error
}
