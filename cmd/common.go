package cmd

import (
	"fmt"

	"github.com/BioHazard786/peerlink/internal/config"
	"github.com/BioHazard786/peerlink/internal/server"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

// Flags shared by join and serve.
var (
	flagDomain   string
	flagInsecure bool
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagSecret   string
	flagUser     string
)

func addNetworkFlags(c *cobra.Command) {
	c.Flags().StringVarP(&flagDomain, "domain", "d", "", "Signaling server domain")
	c.Flags().BoolVar(&flagInsecure, "insecure", false, "Use ws:// and http:// instead of wss:// and https://")
	c.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	c.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	c.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	c.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	c.Flags().StringVar(&flagSecret, "secret", "", "Shared secret for signing join tokens")
}

func baseOptions() config.Options {
	return config.Options{
		Domain:       flagDomain,
		Insecure:     flagInsecure,
		STUNServer:   flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		SharedSecret: flagSecret,
		UserID:       flagUser,
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// stunServers and turnServers turn the configured URLs into pion ICE servers.
func stunServers(cfg *config.Config) []webrtc.ICEServer {
	urls := cfg.GetSTUNServers()
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func turnServers(cfg *config.Config) []webrtc.ICEServer {
	urls := cfg.GetTURNServers()
	if len(urls) == 0 {
		return nil
	}
	user, pass := cfg.GetTURNCredentials()
	return []webrtc.ICEServer{{URLs: urls, Username: user, Credential: pass}}
}

// advertisedICEServers is what the signaling server hands out on /turn.
func advertisedICEServers(cfg *config.Config) []server.ICEServer {
	var out []server.ICEServer
	if urls := cfg.GetSTUNServers(); len(urls) > 0 {
		out = append(out, server.ICEServer{URLs: urls})
	}
	if urls := cfg.GetTURNServers(); len(urls) > 0 {
		user, pass := cfg.GetTURNCredentials()
		out = append(out, server.ICEServer{URLs: urls, Username: user, Credential: pass})
	}
	return out
}
