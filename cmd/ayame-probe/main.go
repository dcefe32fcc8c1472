// Command ayame-probe exercises an Ayame signaling server from the command
// line: it can register into a room and, optionally, complete a WebRTC
// datachannel handshake with whoever else joins.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/ayameclient"
)

type rootOptions struct {
	url          string
	roomID       string
	clientID     string
	signalingKey string
	origin       string
	timeout      time.Duration
	verbose      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ayame-probe",
		Short:         "Probe an Ayame signaling server",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.url, "url", "ws://127.0.0.1:3000/signaling", "signaling WebSocket URL")
	pf.StringVar(&opts.roomID, "room", "", "room id (random when empty)")
	pf.StringVar(&opts.clientID, "client-id", "", "client id (random when empty)")
	pf.StringVar(&opts.signalingKey, "signaling-key", "", "signalingKey forwarded to the authn webhook")
	pf.StringVar(&opts.origin, "origin", "", "Origin header sent with the WebSocket handshake")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRegisterCmd(opts), newConnectCmd(opts))
	return root
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) registration() ayameclient.Registration {
	room := o.roomID
	if room == "" {
		room = uuid.NewString()
	}
	client := o.clientID
	if client == "" {
		client = uuid.NewString()
	}
	return ayameclient.Registration{
		RoomID:       room,
		ClientID:     client,
		SignalingKey: o.signalingKey,
	}
}

// join dials the server and resolves the registration to send.
func (o *rootOptions) join(ctx context.Context, log *slog.Logger) (*ayameclient.Client, ayameclient.Registration, error) {
	var header http.Header
	if o.origin != "" {
		header = http.Header{"Origin": []string{o.origin}}
	}
	c, err := ayameclient.Dial(ctx, o.url, ayameclient.Options{Header: header, Logger: log})
	if err != nil {
		return nil, ayameclient.Registration{}, err
	}
	return c, o.registration(), nil
}
