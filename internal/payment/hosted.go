package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HostedConfig apunta a un checkout alojado (tarjeta / banco por redirect).
type HostedConfig struct {
	BaseURL     string
	SecretKey   string
	RedirectURL string
}

// Hosted crea una sesión de checkout y devuelve la URL a la que redirigir al cliente.
type Hosted struct {
	cfg  HostedConfig
	http *http.Client
}

func NewHosted(cfg HostedConfig) *Hosted {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Hosted{cfg: cfg, http: &http.Client{Timeout: 20 * time.Second}}
}

func (h *Hosted) Name() string      { return "hosted" }
func (h *Hosted) Methods() []Method { return []Method{MethodCard, MethodBank} }

type checkoutSession struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Hosted) ProcessPayment(ctx context.Context, req Request, details MethodDetails) (Result, error) {
	method := Method(details["method"])
	if method == "" {
		method = MethodCard
	}
	if method != MethodCard && method != MethodBank {
		return Result{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, method)
	}

	body, err := json.Marshal(map[string]any{
		"amount":       int64(req.Amount*100 + 0.5), // unidades menores
		"currency":     req.Currency,
		"reference":    req.OrderID,
		"customer":     req.CustomerID,
		"description":  req.Description,
		"method":       method,
		"redirect_url": h.cfg.RedirectURL,
	})
	if err != nil {
		return Result{}, err
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Authorization", "Bearer "+h.cfg.SecretKey)
	hr.Header.Set("Idempotency-Key", uuid.NewSHA1(uuid.NameSpaceURL, []byte(req.OrderID+"|"+string(method))).String())

	resp, err := h.http.Do(hr)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var cs checkoutSession
	_ = json.Unmarshal(raw, &cs)
	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("hosted checkout: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := cs.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{Success: false, Status: "rejected", Message: msg}, nil
	}
	if cs.URL == "" {
		return Result{}, fmt.Errorf("hosted checkout: missing redirect url")
	}
	status := cs.Status
	if status == "" {
		status = "pending"
	}
	return Result{Success: true, TransactionID: cs.ID, Status: status, RedirectURL: cs.URL}, nil
}
