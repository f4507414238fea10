package cmd

import (
	"github.com/BioHazard786/peerlink/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	flagListen string
	flagRate   float64
	flagBurst  int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the websocket signaling server used by "peerlink join".

Endpoints:
  /ws      signaling websocket
  /turn    ICE server discovery
  /token   join tokens (only with --secret)
  /health  health check

Examples:
  peerlink serve --addr :8080
  peerlink serve --secret $JWT_SECRET --turn turn:turn.example.com -u user -p pass`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := baseOptions()
		opts.ListenAddr = flagListen
		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}

		srv := server.New(server.Options{
			Addr:         cfg.ListenAddr,
			Secret:       cfg.SharedSecret,
			ICEServers:   advertisedICEServers(cfg),
			MessageRate:  rate.Limit(flagRate),
			MessageBurst: flagBurst,
		})
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addNetworkFlags(serveCmd)
	serveCmd.Flags().StringVar(&flagListen, "addr", "", "Listen address (default :8080)")
	serveCmd.Flags().Float64Var(&flagRate, "rate", float64(server.DefaultMessageRate), "Messages per second allowed per connection, 0 disables")
	serveCmd.Flags().IntVar(&flagBurst, "burst", server.DefaultMessageBurst, "Message burst allowed per connection")
}
