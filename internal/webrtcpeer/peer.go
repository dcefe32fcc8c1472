package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/signaling"
)

// DataChannelLabel is the channel the offering side opens.
const DataChannelLabel = "ayame-probe"

var ErrPeerLeft = errors.New("webrtcpeer: remote peer left the room")

// Signaler carries Ayame messages for one registered participant.
// *ayameclient.Client implements it.
type Signaler interface {
	Send(msg signaling.Message) error
	Recv(ctx context.Context) (signaling.Message, error)
}

type Config struct {
	API    *webrtc.API
	Logger *slog.Logger
	// ICEServers replaces the list from accept when non-nil.
	ICEServers []webrtc.ICEServer
	Label      string
}

// Peer negotiates one PeerConnection over an Ayame room. The participant
// whose accept reported an existing client makes the offer.
type Peer struct {
	pc      *webrtc.PeerConnection
	sig     Signaler
	log     *slog.Logger
	offerer bool
	label   string

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	opened   chan *webrtc.DataChannel
	openOnce sync.Once
	failed   chan struct{}
	failOnce sync.Once
}

// New builds the PeerConnection and, on the offering side, sends the offer.
// Call Run to process the rest of the negotiation.
func New(sig Signaler, accept signaling.Message, cfg Config) (*Peer, error) {
	if accept.Type != signaling.MessageTypeAccept || accept.IsExistClient == nil {
		return nil, fmt.Errorf("webrtcpeer: expected accept message, got %q", accept.Type)
	}
	if cfg.API == nil {
		api, err := NewAPI(APIOptions{})
		if err != nil {
			return nil, err
		}
		cfg.API = api
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Label == "" {
		cfg.Label = DataChannelLabel
	}
	iceServers := accept.ICEServers
	if cfg.ICEServers != nil {
		iceServers = cfg.ICEServers
	}

	pc, err := cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	p := &Peer{
		pc:      pc,
		sig:     sig,
		log:     cfg.Logger,
		offerer: *accept.IsExistClient,
		label:   cfg.Label,
		opened:  make(chan *webrtc.DataChannel, 1),
		failed:  make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ice := signaling.CandidateFromPion(c.ToJSON())
		if err := sig.Send(signaling.Message{Type: signaling.MessageTypeCandidate, ICE: &ice}); err != nil {
			p.log.Debug("failed to send candidate", "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			p.failOnce.Do(func() { close(p.failed) })
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != p.label {
			p.log.Debug("ignoring datachannel", "label", dc.Label())
			return
		}
		p.watch(dc)
	})

	if p.offerer {
		if err := p.offer(); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

// Opened yields the data channel once it is open.
func (p *Peer) Opened() <-chan *webrtc.DataChannel {
	return p.opened
}

// Run handles signaling until the remote peer leaves, ICE fails, the
// signaler errors or ctx ends.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.failed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msg, err := p.sig.Recv(ctx)
		if err != nil {
			select {
			case <-p.failed:
				return errors.New("webrtcpeer: ice connection failed")
			default:
			}
			return err
		}
		if err := p.handle(msg); err != nil {
			return err
		}
	}
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) handle(msg signaling.Message) error {
	switch msg.Type {
	case signaling.MessageTypeOffer:
		if p.offerer {
			p.log.Warn("ignoring offer received by the offering side")
			return nil
		}
		if err := p.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		return p.sig.Send(signaling.Message{Type: signaling.MessageTypeAnswer, SDP: answer.SDP})
	case signaling.MessageTypeAnswer:
		if !p.offerer {
			p.log.Warn("ignoring answer received by the answering side")
			return nil
		}
		return p.setRemote(webrtc.SDPTypeAnswer, msg.SDP)
	case signaling.MessageTypeCandidate:
		return p.addCandidate(msg.ICE.ToPion())
	case signaling.MessageTypeBye:
		return ErrPeerLeft
	default:
		p.log.Debug("ignoring message", "type", msg.Type)
		return nil
	}
}

func (p *Peer) offer() error {
	dc, err := p.pc.CreateDataChannel(p.label, nil)
	if err != nil {
		return fmt.Errorf("create datachannel: %w", err)
	}
	p.watch(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	return p.sig.Send(signaling.Message{Type: signaling.MessageTypeOffer, SDP: offer.SDP})
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (p *Peer) setRemote(sdpType webrtc.SDPType, sdp string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote %s: %w", sdpType, err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	}
	return nil
}

func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *Peer) watch(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		p.openOnce.Do(func() { p.opened <- dc })
	})
}
