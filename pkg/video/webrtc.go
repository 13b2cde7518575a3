package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// WebRTCConfig selects a producer on a GStreamer webrtcsink signalling server.
type WebRTCConfig struct {
	SignallingURL  string        // e.g. ws://camera.local:8443
	Producer       string        // producer meta "name"
	DecodeInterval time.Duration // how often buffered H.264 is decoded
	DecodeTimeout  time.Duration // per ffmpeg run
	ConnectTimeout time.Duration // welcome, list and first frame
}

// DefaultWebRTCConfig returns defaults for a LAN camera.
func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		DecodeInterval: 100 * time.Millisecond,
		DecodeTimeout:  500 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
	}
}

// WebRTC receives a live H.264 track and exposes the latest decoded frame.
type WebRTC struct {
	cfg    WebRTCConfig
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex
	pc   *webrtc.PeerConnection

	peerID     string
	producerID string
	sessionID  string
	sessionMu  sync.Mutex

	frameMu    sync.RWMutex
	latest     Frame
	firstFrame chan struct{}
	firstOnce  sync.Once

	stateMu sync.Mutex
	state   State
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebRTC creates a live source. Nothing connects until Open.
func NewWebRTC(cfg WebRTCConfig, logger *slog.Logger) *WebRTC {
	def := DefaultWebRTCConfig()
	if cfg.DecodeInterval <= 0 {
		cfg.DecodeInterval = def.DecodeInterval
	}
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = def.DecodeTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTC{
		cfg:        cfg,
		logger:     logger.With("component", "video", "source", "webrtc"),
		firstFrame: make(chan struct{}),
	}
}

// Open connects, negotiates the track and waits for the first decoded frame.
func (c *WebRTC) Open(ctx context.Context) (Metadata, error) {
	if c.cfg.SignallingURL == "" || c.cfg.Producer == "" {
		return Metadata{}, ErrNoHandle
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	fail := func(err error) (Metadata, error) {
		c.Close()
		return Metadata{}, &OpenError{Source: c.cfg.SignallingURL, Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.SignallingURL, nil)
	if err != nil {
		return fail(fmt.Errorf("signalling connect: %w", err))
	}
	c.ws = ws

	if err := c.waitForWelcome(); err != nil {
		return fail(fmt.Errorf("welcome: %w", err))
	}
	if err := c.findProducer(); err != nil {
		return fail(err)
	}
	if err := c.createPeerConnection(); err != nil {
		return fail(fmt.Errorf("peer connection: %w", err))
	}
	if err := c.writeJSON(map[string]string{"type": "startSession", "peerId": c.producerID}); err != nil {
		return fail(fmt.Errorf("start session: %w", err))
	}
	go c.handleSignalling()

	c.logger.Info("waiting for video track", "producer", c.cfg.Producer)
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-c.firstFrame:
	case <-timer.C:
		return fail(errors.New("timeout waiting for first frame"))
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	c.frameMu.RLock()
	meta := Metadata{Name: c.cfg.Producer, Width: c.latest.Width, Height: c.latest.Height}
	c.frameMu.RUnlock()
	c.setState(Playing)
	c.logger.Info("video connected", "producer", c.cfg.Producer, "width", meta.Width, "height", meta.Height)
	return meta, nil
}

func (c *WebRTC) waitForWelcome() error {
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return err
	}

	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	c.peerID = welcome.PeerID
	return nil
}

type producerList struct {
	Type      string `json:"type"`
	Producers []struct {
		ID   string            `json:"id"`
		Meta map[string]string `json:"meta"`
	} `json:"producers"`
}

// pick returns the id of the producer whose meta name matches.
func (l producerList) pick(name string) (string, bool) {
	for _, p := range l.Producers {
		if p.Meta["name"] == name {
			return p.ID, true
		}
	}
	return "", false
}

func (c *WebRTC) findProducer() error {
	if err := c.writeJSON(map[string]string{"type": "list"}); err != nil {
		return fmt.Errorf("list producers: %w", err)
	}

	c.ws.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	_, msg, err := c.ws.ReadMessage()
	c.ws.SetReadDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("list producers: %w", err)
	}

	var list producerList
	if err := json.Unmarshal(msg, &list); err != nil {
		return fmt.Errorf("list producers: %w", err)
	}
	id, ok := list.pick(c.cfg.Producer)
	if !ok {
		return fmt.Errorf("producer %q not found in %d producers", c.cfg.Producer, len(list.Producers))
	}
	c.producerID = id
	return nil
}

func (c *WebRTC) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	c.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mime := track.Codec().MimeType
		c.logger.Info("track received", "kind", track.Kind().String(), "codec", mime)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if !strings.EqualFold(mime, webrtc.MimeTypeH264) {
			c.logger.Warn("unsupported video codec", "codec", mime)
			return
		}
		go c.readTrack(track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			c.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.setState(Ended)
		}
	})
	return nil
}

func (c *WebRTC) handleSignalling() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("signalling closed", "error", err)
				c.setState(Ended)
			}
			return
		}

		var base struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "sessionStarted":
			c.sessionMu.Lock()
			c.sessionID = base.SessionID
			c.sessionMu.Unlock()
		case "peer":
			c.handlePeerMessage(msg)
		case "endSession":
			c.logger.Info("producer ended session")
			c.setState(Ended)
			return
		}
	}
}

type peerMessage struct {
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice"`
}

func (c *WebRTC) handlePeerMessage(raw []byte) {
	var msg peerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug("bad peer message", "error", err)
		return
	}

	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Warn("set remote description", "error", err)
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Warn("create answer", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Warn("set local description", "error", err)
			return
		}
		c.sendPeer(map[string]any{
			"sdp": map[string]string{"type": answer.Type.String(), "sdp": answer.SDP},
		})
	}

	if msg.ICE != nil {
		if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			c.logger.Debug("add ice candidate", "error", err)
		}
	}
}

func (c *WebRTC) sendICECandidate(candidate *webrtc.ICECandidate) {
	init := candidate.ToJSON()
	c.sendPeer(map[string]any{
		"ice": map[string]any{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (c *WebRTC) sendPeer(body map[string]any) {
	c.sessionMu.Lock()
	id := c.sessionID
	c.sessionMu.Unlock()
	if id == "" {
		return
	}
	body["type"] = "peer"
	body["sessionId"] = id
	if err := c.writeJSON(body); err != nil {
		c.logger.Debug("signalling write", "error", err)
	}
}

func (c *WebRTC) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws.WriteJSON(v)
}

// readTrack depacketizes RTP into access units and decodes on an interval.
func (c *WebRTC) readTrack(track *webrtc.TrackRemote) {
	var (
		depack codecs.H264Packet
		units  accessUnits
		last   time.Time
	)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Info("track closed", "error", err)
				c.setState(Ended)
			}
			return
		}
		c.handlePacket(&depack, &units, pkt)

		if units.Ready() && time.Since(last) >= c.cfg.DecodeInterval {
			last = time.Now()
			c.decode(units.Bytes())
		}
	}
}

func (c *WebRTC) handlePacket(depack *codecs.H264Packet, units *accessUnits, pkt *rtp.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}
	annexB, err := depack.Unmarshal(pkt.Payload)
	if err != nil {
		c.logger.Debug("depacketize", "seq", pkt.SequenceNumber, "error", err)
		return
	}
	units.Write(annexB)
}

func (c *WebRTC) decode(h264 []byte) {
	jpg, err := decodeH264(c.ctx, h264, c.cfg.DecodeTimeout)
	if err != nil {
		c.logger.Debug("decode h264", "bytes", len(h264), "error", err)
		return
	}

	var f Frame
	if err := decodeJPEG(jpg, &f); err != nil || grayFrame(&f) {
		return
	}

	c.frameMu.Lock()
	f.Seq = c.latest.Seq + 1
	c.latest = f
	c.frameMu.Unlock()

	c.firstOnce.Do(func() { close(c.firstFrame) })
}

// State reports the stream state.
func (c *WebRTC) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *WebRTC) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != Ended {
		c.state = s
	}
}

// Read copies the latest decoded frame into dst.
func (c *WebRTC) Read(dst *Frame) error {
	c.stateMu.Lock()
	closed, state := c.closed, c.state
	c.stateMu.Unlock()
	if closed {
		return ErrClosed
	}
	if state == Ended {
		return ErrEnded
	}

	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	if c.latest.Empty() {
		return ErrNoFrame
	}
	copy(dst.Reset(c.latest.Width, c.latest.Height), c.latest.Pix)
	dst.Seq = c.latest.Seq
	return nil
}

// Close tears down the peer connection and signalling socket.
func (c *WebRTC) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.state = Ended
	c.stateMu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	var errs []error
	if c.pc != nil {
		errs = append(errs, c.pc.Close())
	}
	if c.ws != nil {
		errs = append(errs, c.ws.Close())
	}
	return errors.Join(errs...)
}
