package webrtc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"campus_call/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteTrack wraps a pion TrackRemote. It implements domain.RemoteTrack.
type RemoteTrack struct {
	id     string
	kind   domain.MediaKind
	ssrc   uint32
	reader rtpReader
}

func newRemoteTrack(t *pion.TrackRemote) *RemoteTrack {
	kind := domain.KindAudio
	if t.Kind() == pion.RTPCodecTypeVideo {
		kind = domain.KindVideo
	}
	return &RemoteTrack{id: t.ID(), kind: kind, ssrc: uint32(t.SSRC()), reader: t}
}

func (t *RemoteTrack) ID() string             { return t.id }
func (t *RemoteTrack) Kind() domain.MediaKind { return t.kind }

// Renderer writes the bound remote H264 track to out as an Annex-B
// elementary stream. It implements domain.Renderer.
type Renderer struct {
	out io.Writer
	log logging.LeveledLogger

	mu      sync.Mutex
	track   *RemoteTrack
	depack  *H264Depacketizer
	pumping map[*RemoteTrack]bool

	last atomic.Int64
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, lf logging.LoggerFactory) *Renderer {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Renderer{
		out:     out,
		log:     lf.NewLogger("webrtc"),
		depack:  NewH264Depacketizer(),
		pumping: make(map[*RemoteTrack]bool),
	}
}

// Attach binds t. Re-attaching the bound track resets reassembly state and
// restarts the reader if it has stopped.
func (r *Renderer) Attach(t domain.RemoteTrack) error {
	rt, ok := t.(*RemoteTrack)
	if !ok {
		return errors.New("attach: not a pion track")
	}
	if rt.kind != domain.KindVideo {
		return fmt.Errorf("attach: %s track cannot be rendered", rt.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.track == rt {
		r.log.Infof("re-binding track %s", rt.id)
	} else {
		r.log.Infof("binding track %s", rt.id)
	}
	r.track = rt
	r.depack.Reset()
	r.last.Store(time.Now().UnixNano())

	if !r.pumping[rt] {
		r.pumping[rt] = true
		go r.pump(rt)
	}
	return nil
}

// Detach unbinds the current track. The reader exits on its next packet.
func (r *Renderer) Detach() {
	r.mu.Lock()
	r.track = nil
	r.depack.Reset()
	r.mu.Unlock()
}

// Bound reports whether a track is bound.
func (r *Renderer) Bound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.track != nil
}

// LastActivity is the time of the last packet or bind.
func (r *Renderer) LastActivity() time.Time {
	ns := r.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

func (r *Renderer) pump(rt *RemoteTrack) {
	r.log.Debugf("reading H264 video track %s", rt.id)

	for {
		pkt, _, err := rt.reader.ReadRTP()

		r.mu.Lock()
		if err != nil || r.track != rt {
			delete(r.pumping, rt)
			if err != nil && r.track == rt {
				r.track = nil
			}
			r.mu.Unlock()
			if err != nil {
				r.log.Infof("video track %s read ended: %v", rt.id, err)
			}
			return
		}

		r.last.Store(time.Now().UnixNano())
		var frame []byte
		for _, nalu := range r.depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			frame = append(frame, startCode...)
			frame = append(frame, nalu...)
		}
		r.mu.Unlock()

		// the output may block; the lock stays free for the call loop
		if len(frame) > 0 {
			if _, err := r.out.Write(frame); err != nil {
				r.log.Warnf("write video: %v", err)
			}
		}
	}
}

// drainTrack reads and discards an unrendered remote track.
func drainTrack(t *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Read(buf); err != nil {
			return
		}
	}
}
