// Package dns resolves signaling and discovery hosts on networks whose
// system resolver is broken or filtered.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// PublicServers are raced when the system resolver cannot answer.
var PublicServers = []string{
	"1.1.1.1", "1.0.0.1", // Cloudflare
	"2606:4700:4700::1111",
	"8.8.8.8", "8.8.4.4", // Google
	"2001:4860:4860::8888",
	"9.9.9.9", "149.112.112.112", // Quad9
	"208.67.222.222", "208.67.220.220", // OpenDNS
}

// LookupFunc returns the addresses of host as answered by server. An empty
// server means the system resolver.
type LookupFunc func(ctx context.Context, server, host string) ([]string, error)

// Resolver tries the system resolver first and then races Servers.
type Resolver struct {
	Servers       []string
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
	Lookup        LookupFunc
}

// Default is used by the package level helpers.
var Default = &Resolver{
	Servers:       PublicServers,
	LocalTimeout:  time.Second,
	RemoteTimeout: 2 * time.Second,
	Lookup:        netLookup,
}

func Resolve(ctx context.Context, host string) (string, error) {
	return Default.Resolve(ctx, host)
}

func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return Default.DialContext(ctx, network, addr)
}

// HTTPClient returns a client whose connections resolve through Default.
func HTTPClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = DialContext
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Resolve returns one address for host, preferring IPv4. IP literals and
// localhost never hit the network.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if host == "localhost" {
		return "127.0.0.1", nil
	}

	lctx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, localErr := r.Lookup(lctx, "", host)
	cancel()
	if ip, ok := pickIP(ips); localErr == nil && ok {
		return ip, nil
	}

	ip, err := r.race(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, errors.Join(localErr, err))
	}
	return ip, nil
}

// DialContext dials addr after resolving its host.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", errors.New("no public servers configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	type answer struct {
		ip  string
		err error
	}
	answers := make(chan answer, len(r.Servers))
	for _, server := range r.Servers {
		go func() {
			ips, err := r.Lookup(ctx, server, host)
			ip, ok := pickIP(ips)
			if err == nil && !ok {
				err = errors.New("empty answer")
			}
			answers <- answer{ip, err}
		}()
	}

	var errs []error
	for range r.Servers {
		select {
		case a := <-answers:
			if a.err == nil {
				return a.ip, nil
			}
			errs = append(errs, a.err)
		case <-ctx.Done():
			return "", fmt.Errorf("public dns race: %w", ctx.Err())
		}
	}
	return "", fmt.Errorf("all %d public servers failed: %w", len(errs), errors.Join(errs...))
}

func pickIP(ips []string) (string, bool) {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, true
		}
	}
	if len(ips) > 0 {
		return ips[0], true
	}
	return "", false
}

func netLookup(ctx context.Context, server, host string) ([]string, error) {
	r := &net.Resolver{}
	if server != "" {
		r.PreferGo = true
		r.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		}
	}
	return r.LookupHost(ctx, host)
}
