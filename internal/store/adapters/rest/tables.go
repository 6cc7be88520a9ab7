package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
	"github.com/dropDatabas3/sokoni/internal/domain/types"
)

// tableRepo implementa repository.TableRepository sobre PostgREST.
// Usa el access token de la sesión vigente para que aplique la política de filas del actor.
type tableRepo struct {
	c     *Client
	token func() string
}

func (r *tableRepo) Select(ctx context.Context, q repository.Query) ([]types.Row, error) {
	qs := filterQuery(q.Filter)
	qs.Set("select", selectClause(q))

	hdr := http.Header{}
	if q.Single {
		// PostgREST responde 406 / PGRST116 cuando no hay exactamente una fila.
		hdr.Set("Accept", "application/vnd.pgrst.object+json")
	}

	resp, err := r.c.do(ctx, request{method: http.MethodGet, path: "/rest/v1/" + url.PathEscape(q.Table), query: qs, bearer: r.token(), header: hdr})
	if err != nil {
		return nil, transportError(q.Table, err)
	}
	if resp.status >= 300 {
		return nil, tableError(q.Table, resp)
	}

	if q.Single {
		var row types.Row
		if err := json.Unmarshal(resp.body, &row); err != nil {
			return nil, &repository.StoreError{Kind: repository.KindOther, Table: q.Table, Message: "decode row", Err: err}
		}
		return []types.Row{row}, nil
	}
	var rows []types.Row
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, &repository.StoreError{Kind: repository.KindOther, Table: q.Table, Message: "decode rows", Err: err}
	}
	return rows, nil
}

func (r *tableRepo) Insert(ctx context.Context, table string, rows ...types.Row) ([]types.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	hdr := http.Header{}
	hdr.Set("Prefer", "return=representation")

	resp, err := r.c.do(ctx, request{method: http.MethodPost, path: "/rest/v1/" + url.PathEscape(table), bearer: r.token(), header: hdr, body: rows})
	if err != nil {
		return nil, transportError(table, err)
	}
	if resp.status >= 300 {
		return nil, tableError(table, resp)
	}

	var out []types.Row
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &out); err != nil {
			return nil, &repository.StoreError{Kind: repository.KindOther, Table: table, Message: "decode rows", Err: err}
		}
	}
	return out, nil
}

func (r *tableRepo) Delete(ctx context.Context, table string, filter repository.Filter) error {
	if len(filter) == 0 {
		return &repository.StoreError{Kind: repository.KindOther, Table: table, Message: "delete without filter refused"}
	}
	resp, err := r.c.do(ctx, request{method: http.MethodDelete, path: "/rest/v1/" + url.PathEscape(table), query: filterQuery(filter), bearer: r.token()})
	if err != nil {
		return transportError(table, err)
	}
	if resp.status >= 300 {
		return tableError(table, resp)
	}
	return nil
}

func selectClause(q repository.Query) string {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ",")
	}
	if e := q.Embed; e != nil {
		as := e.As
		if as == "" {
			as = e.Table
		}
		rel := e.Table
		if e.ForeignKey != "" {
			rel += "!" + e.ForeignKey
		}
		cols += fmt.Sprintf(",%s:%s(*)", as, rel)
	}
	return cols
}

func filterQuery(f repository.Filter) url.Values {
	qs := url.Values{}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f[k] == nil {
			qs.Set(k, "is.null")
			continue
		}
		qs.Set(k, "eq."+fmt.Sprint(f[k]))
	}
	return qs
}

// tableError clasifica una respuesta de error de PostgREST. El código nativo
// manda; el status HTTP solo desempata cuando el cuerpo no trae código.
func tableError(table string, resp *response) error {
	e := parseAPIError(resp.body)
	code := e.code()
	msg := e.message()
	if msg == "" {
		msg = http.StatusText(resp.status)
	}
	se := repository.NewStoreError(table, code, msg, nil)
	if se.Kind != repository.KindOther {
		return se
	}
	switch {
	case resp.status == http.StatusConflict:
		se.Kind = repository.KindDuplicate
	case resp.status == http.StatusForbidden || resp.status == http.StatusUnauthorized:
		se.Kind = repository.KindAccessDenied
	case resp.status == http.StatusNotFound:
		se.Kind = repository.KindTableMissing
	case resp.status == http.StatusGatewayTimeout || resp.status == http.StatusRequestTimeout:
		se.Kind = repository.KindTimeout
	case resp.status >= 500:
		se.Kind = repository.KindUnavailable
	}
	return se
}

func transportError(table string, err error) error {
	kind := repository.KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = repository.KindTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = repository.KindOther
	}
	return &repository.StoreError{Kind: kind, Table: table, Err: err}
}
