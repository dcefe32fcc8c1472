package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/signaling"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var hold bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register into a room and print the server's answer",
		Long: `Register into a room and print accept or reject as JSON.

With --hold the socket stays open and every forwarded message is printed
until the peer leaves, the server disconnects or --timeout elapses.

Examples:
  ayame-probe register --room demo
  ayame-probe register --room demo --hold`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			log := opts.logger()

			c, reg, err := opts.join(ctx, log)
			if err != nil {
				return err
			}
			defer c.Close()

			accept, err := c.Register(ctx, reg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printJSON(out, accept); err != nil {
				return err
			}
			log.Info("registered", "room_id", reg.RoomID, "client_id", reg.ClientID)
			if !hold {
				return nil
			}

			for {
				msg, err := c.Recv(ctx)
				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return nil
					}
					return err
				}
				if err := printJSON(out, msg); err != nil {
					return err
				}
				if msg.Type == signaling.MessageTypeBye {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&hold, "hold", false, "stay registered and print forwarded messages")
	return cmd
}

func printJSON(w io.Writer, msg signaling.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
