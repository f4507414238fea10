package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BioHazard786/peerlink/internal/call"
	"github.com/BioHazard786/peerlink/internal/codesync"
	"github.com/BioHazard786/peerlink/internal/config"
	"github.com/BioHazard786/peerlink/internal/dns"
	"github.com/BioHazard786/peerlink/internal/media"
	"github.com/BioHazard786/peerlink/internal/peer"
	"github.com/BioHazard786/peerlink/internal/roomname"
	"github.com/BioHazard786/peerlink/internal/signaling"
	"github.com/BioHazard786/peerlink/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagServer        string
	flagICEEndpoint   string
	flagTokenEndpoint string
	flagAuth          bool
	flagRelay         bool
	flagCall          []string
	flagWatch         string
	flagAutoAccept    bool
	flagHeadless      bool
	flagNoVideo       bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room and connect to everyone in it",
	Long: `Join a room. Every participant gets a direct WebRTC connection with a
data channel; calls with audio and video are offered on request.

Without a room name a new one is generated.

Examples:
  peerlink join
  peerlink join amber-heron-lantern --watch main.go
  peerlink join standup --call alice --auto-accept`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		return joinRoom(cmd, roomID)
	},
}

func joinRoom(cmd *cobra.Command, roomID string) error {
	ctx := cmd.Context()

	opts := baseOptions()
	opts.SignalingURL = flagServer
	opts.ICEEndpoint = flagICEEndpoint
	opts.TokenEndpoint = flagTokenEndpoint
	opts.Auth = flagAuth
	opts.ForceRelay = flagRelay
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	if roomID == "" {
		roomID = roomname.Generate(nil)
		ui.PrintInfof("Created room %s", ui.BoldStyle.Render(roomID))
	}

	mgr, err := newManager(cfg)
	if err != nil {
		return err
	}

	flasher := call.NewTitleFlasher(os.Stdout, "peerlink: "+roomID, "📞 incoming call", time.Second)
	session := newRoomSession(ctx, mgr, sessionOptions{
		AutoAccept:  flagAutoAccept,
		CallTargets: flagCall,
		Alerts: []call.Option{
			call.WithRingtone(func() call.Alert { return call.NewRingtone(os.Stdout, 2*time.Second) }),
			call.WithTitleFlasher(flasher),
		},
	})

	if flagWatch != "" {
		w, err := codesync.Watch(flagWatch, session.sync)
		if err != nil {
			return err
		}
		defer w.Close()
		session.watchPath = w.Path()
	}

	lost := make(chan struct{})
	var lostOnce sync.Once
	mgr.OnSignalingLost(func() { lostOnce.Do(func() { close(lost) }) })

	sp := ui.NewConnectionSpinner("Connecting to " + cfg.SignalingURL + "...")
	sp.Start()
	if err := mgr.JoinRoom(ctx, roomID); err != nil {
		sp.Error("Could not join room")
		return err
	}
	sp.Success(fmt.Sprintf("Joined %s as %s", roomID, cfg.UserID))

	if flagHeadless {
		session.SetRefresh(func() {})
		if waitHeadless(ctx, lost) {
			ui.PrintError(signalingLostMsg)
		}
	} else {
		view := ui.NewSessionUI(session, flasher)
		session.SetRefresh(view.Refresh)
		go func() {
			select {
			case <-ctx.Done():
				view.Quit()
			case <-lost:
				view.Notify(signalingLostMsg+", press q to quit", true)
			}
		}()
		if err := view.Run(); err != nil {
			mgr.LeaveRoom()
			return fmt.Errorf("session view: %w", err)
		}
	}

	summary := session.Summary()
	if summary.RoomID == "" {
		summary.RoomID = roomID
	}
	mgr.LeaveRoom()

	fmt.Println()
	ui.RenderSessionSummary(os.Stdout, summary)
	return nil
}

const signalingLostMsg = "Lost connection to the signaling server"

// waitHeadless blocks until ctx ends or signaling is lost, and reports
// whether it was the latter.
func waitHeadless(ctx context.Context, lost <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-lost:
		return true
	}
}

func newManager(cfg *config.Config) (*peer.Manager, error) {
	factory, err := peer.NewPionFactory(peer.FactoryOptions{})
	if err != nil {
		return nil, fmt.Errorf("create webrtc api: %w", err)
	}

	return peer.NewManager(peer.Options{
		UserID:     cfg.UserID,
		Signaler:   signaling.NewClient(cfg.SignalingURL, cfg.UserID),
		Tokens:     signaling.NewTokenSource(cfg.SharedSecret, cfg.TokenSourceEndpoint()),
		Media:      media.SyntheticSource{},
		MediaKinds: media.Constraints{Audio: true, Video: !flagNoVideo},
		Factory:    factory,
		ICE: &peer.EndpointICESource{
			URL:      cfg.ICEEndpoint,
			Fallback: stunServers(cfg),
			Extra:    turnServers(cfg),
			Client:   dns.HTTPClient(5 * time.Second),
		},
		ForceRelay: cfg.ForceRelay,
	}), nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	addNetworkFlags(joinCmd)
	joinCmd.Flags().StringVar(&flagUser, "user", "", "User id to join as (random by default)")
	joinCmd.Flags().StringVar(&flagServer, "server", "", "Signaling websocket URL")
	joinCmd.Flags().StringVar(&flagICEEndpoint, "ice-endpoint", "", "ICE server discovery URL")
	joinCmd.Flags().StringVar(&flagTokenEndpoint, "token-endpoint", "", "Join token URL")
	joinCmd.Flags().BoolVar(&flagAuth, "auth", false, "Fetch a join token from the token endpoint")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringSliceVarP(&flagCall, "call", "c", nil, "Call these peers once connected")
	joinCmd.Flags().StringVarP(&flagWatch, "watch", "w", "", "Keep this file in sync with the room")
	joinCmd.Flags().BoolVar(&flagAutoAccept, "auto-accept", false, "Answer incoming calls without asking")
	joinCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run without the interactive view")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Only send audio in calls")
}
