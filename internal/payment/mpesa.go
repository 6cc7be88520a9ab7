package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MpesaConfig son las credenciales Daraja para Lipa Na M-Pesa Online.
type MpesaConfig struct {
	Environment    string // sandbox | production
	ShortCode      string
	Passkey        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	BaseURL        string
}

// Mpesa cobra vía STK push: el cliente confirma en su teléfono y el resultado
// llega luego al callback, así que un pedido aceptado queda "pending".
type Mpesa struct {
	cfg     MpesaConfig
	baseURL string
	http    *http.Client
	tokens  *gocache.Cache
	now     func() time.Time
}

func NewMpesa(cfg MpesaConfig) *Mpesa {
	base := "https://sandbox.safaricom.co.ke"
	if cfg.Environment == "production" {
		base = "https://api.safaricom.co.ke"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Mpesa{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  gocache.New(time.Hour, 10*time.Minute),
		now:     time.Now,
	}
}

func (m *Mpesa) Name() string      { return "mpesa" }
func (m *Mpesa) Methods() []Method { return []Method{MethodMobileMoney} }

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int    `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (m *Mpesa) ProcessPayment(ctx context.Context, req Request, details MethodDetails) (Result, error) {
	if req.Currency != "KES" {
		return Result{}, fmt.Errorf("%w: mpesa only accepts KES", ErrInvalidRequest)
	}
	// Daraja solo cobra shillings enteros; no se redondea el monto del cliente.
	if req.Amount != math.Trunc(req.Amount) {
		return Result{}, fmt.Errorf("%w: mpesa amounts must be whole shillings", ErrInvalidRequest)
	}
	phone, err := NormalizePhone(details["phone"])
	if err != nil {
		return Result{}, err
	}

	token, err := m.accessToken(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("mpesa token: %w", err)
	}

	ts := m.now().Format("20060102150405")
	desc := req.Description
	if desc == "" {
		desc = "Payment for " + req.OrderID
	}
	body := stkPushRequest{
		BusinessShortCode: m.cfg.ShortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(m.cfg.ShortCode + m.cfg.Passkey + ts)),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            int(req.Amount),
		PartyA:            phone,
		PartyB:            m.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       m.cfg.CallbackURL,
		AccountReference:  req.OrderID,
		TransactionDesc:   desc,
	}

	var out stkPushResponse
	status, err := m.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, body, &out)
	if err != nil {
		return Result{}, err
	}
	if status >= 500 {
		return Result{}, fmt.Errorf("mpesa stk push: status %d", status)
	}
	if status != http.StatusOK || out.ResponseCode != "0" {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		return Result{Success: false, Status: "rejected", Message: msg}, nil
	}
	return Result{
		Success:       true,
		TransactionID: out.CheckoutRequestID,
		Status:        "pending",
		Message:       out.CustomerMessage,
	}, nil
}

func (m *Mpesa) accessToken(ctx context.Context) (string, error) {
	if v, ok := m.tokens.Get("stk"); ok {
		return v.(string), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.cfg.ConsumerKey, m.cfg.ConsumerSecret)

	resp, err := m.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	ttl := 50 * time.Minute
	if d, err := time.ParseDuration(tok.ExpiresIn + "s"); err == nil && d > time.Minute {
		ttl = d - time.Minute
	}
	m.tokens.Set("stk", tok.AccessToken, ttl)
	return tok.AccessToken, nil
}

func (m *Mpesa) postJSON(ctx context.Context, path, token string, in, out any) (int, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode == http.StatusOK {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// NormalizePhone lleva un número keniano a 2547XXXXXXXX / 2541XXXXXXXX.
// Acepta 07.., 01.., 7.., 1.., 254.. y +254.., con espacios o guiones.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '+' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: invalid phone number", ErrInvalidRequest)
		}
	}
	d := b.String()
	switch {
	case len(d) == 10 && d[0] == '0':
		d = "254" + d[1:]
	case len(d) == 9:
		d = "254" + d
	}
	if len(d) != 12 || !strings.HasPrefix(d, "254") || (d[3] != '7' && d[3] != '1') {
		return "", fmt.Errorf("%w: invalid phone number", ErrInvalidRequest)
	}
	return d, nil
}
