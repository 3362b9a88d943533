package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/medcall/internal/client"
	"github.com/BioHazard786/medcall/internal/logging"
	"github.com/BioHazard786/medcall/internal/rtc"
	"github.com/BioHazard786/medcall/internal/signaling"
	"github.com/BioHazard786/medcall/internal/ui"
)

var (
	flagProbeName string
	flagRelay     bool
	flagDuration  time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe ROOM",
	Short: "Join a room as a receive-only WebRTC peer and report media",
	Long: `Join a call room the way the browser does and negotiate a receive-only
connection with every member. Connection states and incoming tracks are
printed, which shows whether media can reach this network.

Examples:
  medcall probe R7
  medcall probe R7 --relay --turn turn:turn.example.com --turn-user u --turn-pass p`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return probeRoom(cmd.Context(), args[0])
	},
}

func probeRoom(ctx context.Context, room string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if flagDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagDuration)
		defer cancel()
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to gateway...")
	call, err := client.DialCall(ctx, cfg.CallURL(room))
	stopSpinner()
	if err != nil {
		return err
	}
	defer call.Close()

	if err := call.Join(flagProbeName, signaling.RoleParticipant); err != nil {
		return err
	}

	probe := rtc.NewProbe(cfg, call, flagRelay, logging.Component("probe"))
	defer probe.Close()

	view := newRoomView(room)
	for {
		select {
		case <-ctx.Done():
			ui.PrintInfof("Probe finished with %d open connection(s)", len(probe.Peers()))
			return nil

		case ev := <-probe.Events():
			ui.PrintEvent(ui.IconSignal, ev.String())

		case msg, ok := <-call.Messages():
			if !ok {
				return client.NewError("probe", client.ErrClosed)
			}
			if msg.Type != signaling.TypeICE {
				if icon, line := view.apply(msg); line != "" && msg.Type != signaling.TypeOffer && msg.Type != signaling.TypeAnswer {
					ui.PrintEvent(icon, line)
				}
			}

			if msg.Type == signaling.TypeAssigned {
				ui.RenderPeerTable(room, view.rows(flagProbeName, signaling.RoleParticipant))
				// The joiner offers to everyone already present.
				for _, p := range msg.Peers {
					if err := probe.Connect(p.ID); err != nil {
						ui.PrintWarning(err.Error())
					}
				}
				continue
			}
			if err := probe.Handle(msg); err != nil {
				ui.PrintWarning(err.Error())
			}
		}
	}
}

func init() {
	probeCmd.Flags().StringVarP(&flagProbeName, "name", "n", "medcall probe", "display name shown to the room")
	probeCmd.Flags().BoolVar(&flagRelay, "relay", false, "force TURN relay (needs --turn)")
	probeCmd.Flags().DurationVarP(&flagDuration, "duration", "d", 0, "stop after this long (default: until interrupted)")
}
