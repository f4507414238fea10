package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const iceFetchTimeout = 5 * time.Second

// FallbackICEServers is used whenever ICE discovery fails.
var FallbackICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ICEServerSource supplies the ICE servers for a new connection. It never
// fails; implementations fall back to something usable.
type ICEServerSource interface {
	ICEServers(ctx context.Context) []webrtc.ICEServer
}

// StaticICESource always returns the same servers.
type StaticICESource []webrtc.ICEServer

func (s StaticICESource) ICEServers(context.Context) []webrtc.ICEServer {
	if len(s) == 0 {
		return FallbackICEServers
	}
	return s
}

// EndpointICESource fetches {"iceServers": [...]} from a TURN discovery
// endpoint and appends locally configured servers.
type EndpointICESource struct {
	URL      string
	Fallback []webrtc.ICEServer
	Extra    []webrtc.ICEServer
	Client   *http.Client
}

func (s *EndpointICESource) ICEServers(ctx context.Context) []webrtc.ICEServer {
	servers, err := FetchICEServers(ctx, s.Client, s.URL)
	if err != nil {
		slog.Debug("ice discovery failed, using fallback", "url", s.URL, "err", err)
		servers = s.Fallback
		if len(servers) == 0 {
			servers = FallbackICEServers
		}
	}
	return append(append([]webrtc.ICEServer{}, servers...), s.Extra...)
}

type iceServerJSON struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username,omitempty"`
	Credential string          `json:"credential,omitempty"`
}

type iceResponse struct {
	ICEServers []iceServerJSON `json:"iceServers"`
}

// FetchICEServers performs a GET against url. urls may be a string or a list,
// as browsers accept both.
func FetchICEServers(ctx context.Context, client *http.Client, url string) ([]webrtc.ICEServer, error) {
	if url == "" {
		return nil, fmt.Errorf("no ice endpoint configured")
	}
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, iceFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice endpoint returned %s", resp.Status)
	}

	var body iceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid ice response: %w", err)
	}

	var servers []webrtc.ICEServer
	for _, s := range body.ICEServers {
		urls, err := decodeURLs(s.URLs)
		if err != nil || len(urls) == 0 {
			continue
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("ice endpoint returned no servers")
	}
	return servers, nil
}

func decodeURLs(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []string{single}, nil
}

// relayPolicy forces relay-only candidates when asked to, or when a TURN
// server is available and the host looks like it sits behind a VPN or CGNAT.
func relayPolicy(servers []webrtc.ICEServer, force bool) webrtc.ICETransportPolicy {
	if !hasTURN(servers) {
		return webrtc.ICETransportPolicyAll
	}
	if force || behindTunnel() {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

func hasTURN(servers []webrtc.ICEServer) bool {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// behindTunnel reports whether an active interface is a tunnel or carries a
// carrier-grade NAT address (WARP, Tailscale, mobile carriers).
func behindTunnel() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
			if strings.Contains(name, marker) {
				return true
			}
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnat.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}
