// Package payment define el contrato processPayment común a todos los proveedores
// (mobile money, tarjeta, transferencia) y el flujo que los selecciona por nombre.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/sokoni/internal/metrics"
	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// Method es el medio de pago que un proveedor soporta.
type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodCard        Method = "card"
	MethodBank        Method = "bank"
)

// Request es lo que el checkout pide cobrar.
type Request struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	OrderID     string  `json:"orderId"`
	CustomerID  string  `json:"customerId"`
	Description string  `json:"description"`
}

// MethodDetails son datos propios del medio (ej: "phone" para mobile money).
type MethodDetails map[string]string

// Result del proveedor. Success=false con Message es un rechazo, no un error de transporte.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	Message       string `json:"error,omitempty"`
}

// Provider es un proveedor de pagos concreto.
type Provider interface {
	Name() string
	Methods() []Method
	ProcessPayment(ctx context.Context, req Request, details MethodDetails) (Result, error)
}

var (
	ErrInvalidRequest  = errors.New("payment: invalid request")
	ErrUnknownProvider = errors.New("payment: unknown provider")
	ErrProvider        = errors.New("payment: provider error")
)

// Registry indexa proveedores por nombre.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register agrega (o reemplaza) un proveedor. nil se ignora.
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names retorna los proveedores registrados, ordenados.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Flow valida el pedido, elige el proveedor y registra el resultado.
type Flow struct {
	Registry        *Registry
	DefaultCurrency string
	Timeout         time.Duration
}

// Pay cobra req con el proveedor indicado.
func (f *Flow) Pay(ctx context.Context, provider string, req Request, details MethodDetails) (Result, error) {
	log := logger.From(ctx).With(logger.Provider(provider), logger.OrderID(req.OrderID))

	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = f.DefaultCurrency
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := Validate(req); err != nil {
		metrics.Payments.WithLabelValues(provider, "invalid").Inc()
		return Result{}, err
	}

	if f.Registry == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	p, ok := f.Registry.Get(provider)
	if !ok {
		metrics.Payments.WithLabelValues(provider, "unknown_provider").Inc()
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := p.ProcessPayment(ctx, req, details)
	switch {
	case err != nil:
		metrics.Payments.WithLabelValues(p.Name(), "error").Inc()
		log.Error("payment failed", logger.Err(err), logger.Duration(time.Since(start)))
		if errors.Is(err, ErrInvalidRequest) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrProvider, p.Name(), err)
	case !res.Success:
		metrics.Payments.WithLabelValues(p.Name(), "declined").Inc()
		log.Warn("payment declined", zap.String("message", res.Message))
	default:
		metrics.Payments.WithLabelValues(p.Name(), "accepted").Inc()
		log.Info("payment accepted", zap.String("tx", res.TransactionID), zap.String("status", res.Status))
	}
	return res, nil
}

// Validate chequea monto, moneda y orden.
func Validate(req Request) error {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive finite number", ErrInvalidRequest)
	}
	if len(req.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidRequest)
	}
	for _, r := range req.Currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidRequest)
		}
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	return nil
}
