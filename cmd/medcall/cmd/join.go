package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/medcall/internal/client"
	"github.com/BioHazard786/medcall/internal/signaling"
	"github.com/BioHazard786/medcall/internal/ui"
)

var (
	flagName string
	flagRole string
)

var joinCmd = &cobra.Command{
	Use:     "join [ROOM]",
	Aliases: []string{"j"},
	Short:   "Join a call room and chat with its members",
	Long: `Join a call room as a text-only participant. Lines typed on stdin are sent
as chat messages. Type /peers to list the room and /quit to leave. Without a
ROOM a memorable room name is generated for others to join.

Examples:
  medcall join --name "Dr. Rao" --role doctor
  medcall join R7 --name "Dr. Rao" --role doctor
  medcall join R7 --server wss://gateway.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			room := signaling.NewRoomName(nil)
			ui.PrintInfof("Created room %s", ui.BoldStyle.Render(room))
			return joinRoom(cmd.Context(), room)
		}
		return joinRoom(cmd.Context(), args[0])
	},
}

// roomView tracks the members of a room as seen from one client.
type roomView struct {
	room  string
	self  string
	peers map[string]signaling.PeerInfo
}

func newRoomView(room string) *roomView {
	return &roomView{room: room, peers: make(map[string]signaling.PeerInfo)}
}

// apply updates the view and returns a printable line for msg, or "".
func (v *roomView) apply(msg *client.Message) (icon, line string) {
	switch msg.Type {
	case signaling.TypeAssigned:
		v.self = msg.ID
		v.peers = make(map[string]signaling.PeerInfo, len(msg.Peers))
		for _, p := range msg.Peers {
			v.peers[p.ID] = p
		}
		return ui.IconSuccess, fmt.Sprintf("Joined room %s as %s", v.room, ui.BoldStyle.Render(msg.ID))
	case signaling.TypePeerJoined:
		v.peers[msg.ID] = signaling.PeerInfo{ID: msg.ID, Name: msg.Name, Role: msg.Role}
		return ui.IconPeer, fmt.Sprintf("%s (%s) joined", msg.Name, msg.Role)
	case signaling.TypePeerLeft:
		name := msg.ID
		if p, ok := v.peers[msg.ID]; ok {
			name = p.Name
		}
		delete(v.peers, msg.ID)
		return ui.IconLeft, fmt.Sprintf("%s left", name)
	case signaling.TypeChat:
		return ui.IconChat, fmt.Sprintf("%s %s", ui.BoldStyle.Render(msg.Name+":"), msg.Text)
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICE:
		return ui.IconSignal, ui.MutedStyle.Render(fmt.Sprintf("%s from %s ignored (text-only client)", msg.Type, msg.From))
	}
	return "", ""
}

func (v *roomView) rows(selfName, selfRole string) []ui.PeerRow {
	rows := make([]ui.PeerRow, 0, len(v.peers)+1)
	if v.self != "" {
		rows = append(rows, ui.PeerRow{ID: v.self, Name: selfName, Role: selfRole, Self: true})
	}
	ids := make([]string, 0, len(v.peers))
	for id := range v.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := v.peers[id]
		rows = append(rows, ui.PeerRow{ID: p.ID, Name: p.Name, Role: p.Role})
	}
	return rows
}

func joinRoom(ctx context.Context, room string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to gateway...")
	call, err := client.DialCall(ctx, cfg.CallURL(room))
	stopSpinner()
	if err != nil {
		return err
	}
	defer call.Close()

	if err := call.Join(flagName, flagRole); err != nil {
		return err
	}

	name, role := localIdentity(flagName, flagRole)

	lines := make(chan string)
	go readLines(lines)

	view := newRoomView(room)
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-call.Messages():
			if !ok {
				return client.NewError("call", client.ErrClosed)
			}
			if icon, line := view.apply(msg); line != "" {
				ui.PrintEvent(icon, line)
			}
			if msg.Type == signaling.TypeAssigned {
				ui.RenderPeerTable(room, view.rows(name, role))
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line = strings.TrimSpace(line); line {
			case "":
			case "/quit":
				return nil
			case "/peers":
				ui.RenderPeerTable(room, view.rows(name, role))
			default:
				if err := call.Chat(line); err != nil {
					return err
				}
			}
		}
	}
}

// localIdentity applies the gateway's join defaults so the local peer table
// matches what the room sees.
func localIdentity(name, role string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = signaling.DefaultName
	}
	return name, signaling.NormalizeRole(role)
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name (default Participant)")
	joinCmd.Flags().StringVarP(&flagRole, "role", "r", "", "doctor, patient, sales, admin or participant")
}
