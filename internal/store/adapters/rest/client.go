package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/sokoni/internal/domain/repository"
)

// Client habla con un backend compatible GoTrue (/auth/v1) + PostgREST (/rest/v1).
type Client struct {
	base     *url.URL
	anonKey  string
	demoPath string
	http     *http.Client
}

// NewClient crea un cliente para baseURL. timeout<=0 usa 15s.
func NewClient(baseURL, anonKey, demoPath string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest: base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if demoPath == "" {
		demoPath = "/functions/v1/demo-login"
	}
	return &Client{
		base:     u,
		anonKey:  anonKey,
		demoPath: demoPath,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// request describe una llamada al backend.
type request struct {
	method string
	path   string
	query  url.Values
	bearer string // vacío = anon key
	header http.Header
	body   any
}

// response es la respuesta cruda (status + body) de una llamada exitosa a nivel transporte.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do ejecuta la llamada. Los errores de transporte se envuelven con ErrUnavailable
// salvo deadlines, que se preservan para que el caller los clasifique como timeout.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("rest: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	bearer := r.bearer
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", repository.ErrUnavailable, err)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: b}, nil
}

// apiError es el cuerpo de error común de GoTrue/PostgREST/functions.
// Cada servicio usa un subconjunto distinto de estos campos.
type apiError struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Details          string          `json:"details"`
	Hint             string          `json:"hint"`
}

func parseAPIError(body []byte) apiError {
	var e apiError
	_ = json.Unmarshal(body, &e)
	return e
}

// code retorna el código textual (PGRST116, 23505, invalid_grant...).
func (e apiError) code() string {
	if len(e.Code) > 0 {
		var s string
		if json.Unmarshal(e.Code, &s) == nil && s != "" {
			return s
		}
	}
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Error
}

func (e apiError) message() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
