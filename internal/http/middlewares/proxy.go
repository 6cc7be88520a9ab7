package middlewares

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ProxyTrust resuelve la IP del cliente detrás de proxies conocidos.
// X-Forwarded-For solo se lee cuando el peer directo es un proxy configurado;
// un *ProxyTrust nil usa siempre el peer.
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust acepta IPs sueltas o CIDRs.
func NewProxyTrust(entries []string) (*ProxyTrust, error) {
	p := &ProxyTrust{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: invalid ip", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		p.nets = append(p.nets, n)
	}
	return p, nil
}

func (p *ProxyTrust) trusted(ip net.IP) bool {
	if p == nil || ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP retorna el peer directo, salvo que sea un proxy confiable: en ese
// caso recorre X-Forwarded-For de derecha a izquierda y retorna el primer
// salto no confiable. Las entradas a la izquierda de ese salto las escribe
// el cliente y se ignoran.
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		client = host
	}
	if !p.trusted(net.ParseIP(client)) {
		return client
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		ip := net.ParseIP(hop)
		if ip == nil {
			break
		}
		client = ip.String()
		if !p.trusted(ip) {
			break
		}
	}
	return client
}

// RateKey es IPRateKey con la IP resuelta por p.
func (p *ProxyTrust) RateKey(r *http.Request) string {
	return p.ClientIP(r) + "|" + r.URL.Path
}
