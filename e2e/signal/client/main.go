// A headless smoke client for the signal relay: one broadcaster and one
// viewer peer run in-process and complete a full offer/answer/candidate
// exchange through the relay, proving the rendezvous path end to end without
// a browser.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	signal "github.com/swifthub/beacon/internal/signal"
)

var (
	server = flag.String("server", "ws://127.0.0.1:8080", "signal server address")
	key    = flag.String("key", "5550001", "publish key to broadcast under")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	connected := make(chan string, 2)

	go func() { errCh <- runBroadcaster(ctx, connected) }()
	// Give the broadcaster a moment to claim the key.
	time.Sleep(500 * time.Millisecond)
	go func() { errCh <- runViewer(ctx, connected) }()

	for i := 0; i < 2; i++ {
		select {
		case side := <-connected:
			log.Printf("%s peer connected", side)
		case err := <-errCh:
			if err != nil {
				log.Fatalf("smoke run failed: %v", err)
			}
		case <-ctx.Done():
			log.Fatal("timed out waiting for peers to connect")
		}
	}
	log.Print("offer/answer/candidate exchange completed")
}

// relayConn wraps one websocket connection to the relay.
type relayConn struct {
	c   *websocket.Conn
	seq uint64
}

func dial(ctx context.Context) (*relayConn, error) {
	c, _, err := websocket.Dial(ctx, *server+"/v1/signal/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("could not dial relay: %w", err)
	}
	return &relayConn{c: c}, nil
}

func (r *relayConn) request(ctx context.Context, event string, data interface{}) (uint64, error) {
	r.seq++
	b, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	return r.seq, wsjson.Write(ctx, r.c, &signal.Envelope{Event: event, Seq: r.seq, Data: b})
}

func (r *relayConn) read(ctx context.Context) (*signal.Envelope, error) {
	var env signal.Envelope
	if err := wsjson.Read(ctx, r.c, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
}

func runBroadcaster(ctx context.Context, connected chan<- string) error {
	rc, err := dial(ctx)
	if err != nil {
		return err
	}
	defer rc.c.Close(websocket.StatusNormalClosure, "")

	if _, err := rc.request(ctx, signal.EventSetRole, signal.SetRoleRequest{
		Role: signal.RoleBroadcaster,
		Key:  *key,
		Name: "smoke broadcaster",
	}); err != nil {
		return err
	}

	pc, err := newPeerConnection()
	if err != nil {
		return err
	}
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		fmt.Sprintf("video-%d", randutil.NewMathRandomGenerator().Uint32()),
		fmt.Sprintf("smoke-%d", randutil.NewMathRandomGenerator().Uint32()),
	)
	if err != nil {
		return fmt.Errorf("could not create video track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return err
	}

	var viewerID string
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || viewerID == "" {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		_, _ = rc.request(ctx, signal.EventCandidate, signal.CandidateRelay{Candidate: b, ViewerID: viewerID})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			connected <- "broadcaster"
		}
	})

	for {
		env, err := rc.read(ctx)
		if err != nil {
			return err
		}
		switch env.Event {
		case signal.EventNewViewer:
			var nv signal.NewViewerPush
			if err := json.Unmarshal(env.Data, &nv); err != nil {
				return err
			}
			viewerID = nv.ViewerID

			offer, err := pc.CreateOffer(nil)
			if err != nil {
				return err
			}
			if err := pc.SetLocalDescription(offer); err != nil {
				return err
			}
			b, err := json.Marshal(offer)
			if err != nil {
				return err
			}
			if _, err := rc.request(ctx, signal.EventOffer, signal.OfferRelay{Offer: b, ViewerID: viewerID}); err != nil {
				return err
			}
		case signal.EventAnswer:
			var push signal.AnswerPush
			if err := json.Unmarshal(env.Data, &push); err != nil {
				return err
			}
			var answer webrtc.SessionDescription
			if err := json.Unmarshal(push.Answer, &answer); err != nil {
				return err
			}
			if err := pc.SetRemoteDescription(answer); err != nil {
				return err
			}
		case signal.EventCandidate:
			var push signal.CandidatePush
			if err := json.Unmarshal(env.Data, &push); err != nil {
				return err
			}
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(push.Candidate, &candidate); err != nil {
				return err
			}
			if err := pc.AddICECandidate(candidate); err != nil {
				return err
			}
		}
	}
}

func runViewer(ctx context.Context, connected chan<- string) error {
	rc, err := dial(ctx)
	if err != nil {
		return err
	}
	defer rc.c.Close(websocket.StatusNormalClosure, "")

	if _, err := rc.request(ctx, signal.EventSetRole, signal.SetRoleRequest{
		Role: signal.RoleViewer,
		Key:  *key,
	}); err != nil {
		return err
	}
	if _, err := rc.request(ctx, signal.EventViewerReady, signal.KeyedRequest{Key: *key}); err != nil {
		return err
	}

	pc, err := newPeerConnection()
	if err != nil {
		return err
	}
	defer pc.Close()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		_, _ = rc.request(ctx, signal.EventCandidate, signal.CandidateRelay{Candidate: b})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			connected <- "viewer"
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		// Ask for a keyframe periodically so late-started decoding recovers.
		go func() {
			ticker := time.NewTicker(3 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = pc.WriteRTCP([]rtcp.Packet{
						&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
					})
				}
			}
		}()
	})

	for {
		env, err := rc.read(ctx)
		if err != nil {
			return err
		}
		switch env.Event {
		case signal.EventOffer:
			var offer webrtc.SessionDescription
			if err := json.Unmarshal(env.Data, &offer); err != nil {
				return err
			}
			if err := pc.SetRemoteDescription(offer); err != nil {
				return err
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				return err
			}
			if err := pc.SetLocalDescription(answer); err != nil {
				return err
			}
			b, err := json.Marshal(answer)
			if err != nil {
				return err
			}
			if _, err := rc.request(ctx, signal.EventAnswer, signal.AnswerRelay{Answer: b}); err != nil {
				return err
			}
		case signal.EventCandidate:
			var candidate webrtc.ICECandidateInit
			if err := json.Unmarshal(env.Data, &candidate); err != nil {
				return err
			}
			if err := pc.AddICECandidate(candidate); err != nil {
				return err
			}
		case signal.EventBroadcasterDisconnected:
			return fmt.Errorf("broadcaster went away mid-exchange")
		}
	}
}
