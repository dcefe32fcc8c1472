package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/webrtcpeer"
)

func newConnectCmd(opts *rootOptions) *cobra.Command {
	var (
		message  string
		portMin  uint16
		portMax  uint16
		waitEcho time.Duration
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a room and open a WebRTC datachannel with the other member",
		Long: `Join a room and negotiate a WebRTC datachannel with the other member.

Run it twice with the same --room: the second process makes the offer. Once
the channel opens each side sends --message and prints what it receives.

Examples:
  ayame-probe connect --room demo
  ayame-probe connect --room demo --message ping`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			log := opts.logger()

			api, err := webrtcpeer.NewAPI(webrtcpeer.APIOptions{
				LoggerFactory: webrtcpeer.SlogLoggerFactory{Logger: log},
				UDPPortMin:    portMin,
				UDPPortMax:    portMax,
			})
			if err != nil {
				return err
			}

			c, reg, err := opts.join(ctx, log)
			if err != nil {
				return err
			}
			defer c.Close()

			accept, err := c.Register(ctx, reg)
			if err != nil {
				return err
			}
			log.Info("registered", "room_id", reg.RoomID, "client_id", reg.ClientID, "offerer", *accept.IsExistClient)

			peer, err := webrtcpeer.New(c, accept, webrtcpeer.Config{API: api, Logger: log})
			if err != nil {
				return err
			}
			defer peer.Close()

			runErr := make(chan error, 1)
			go func() { runErr <- peer.Run(ctx) }()

			var dc *webrtc.DataChannel
			select {
			case dc = <-peer.Opened():
			case err := <-runErr:
				return fmt.Errorf("negotiation ended before the datachannel opened: %w", err)
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Info("datachannel open", "label", dc.Label())

			received := make(chan string, 1)
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				select {
				case received <- string(msg.Data):
				default:
				}
			})
			if err := dc.SendText(message); err != nil {
				return err
			}

			select {
			case got := <-received:
				fmt.Fprintln(cmd.OutOrStdout(), got)
			case err := <-runErr:
				if !errors.Is(err, webrtcpeer.ErrPeerLeft) {
					return err
				}
				log.Info("peer left before replying")
			case <-time.After(waitEcho):
				log.Warn("no message from peer", "waited", waitEcho)
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&message, "message", "hello from ayame-probe", "text sent once the channel opens")
	f.Uint16Var(&portMin, "udp-port-min", 0, "lowest local UDP port for ICE (0 = any)")
	f.Uint16Var(&portMax, "udp-port-max", 0, "highest local UDP port for ICE (0 = any)")
	f.DurationVar(&waitEcho, "wait", 10*time.Second, "how long to wait for the peer's message")
	return cmd
}
