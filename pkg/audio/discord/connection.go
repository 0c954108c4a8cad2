package discord

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/handsfree/pkg/audio"
)

const (
	captureChannelBuffer = 64
	outputChannelBuffer  = 64
)

var errClosed = errors.New("discord: voice connection closed")

// connection wraps a discordgo.VoiceConnection. It decodes incoming Opus for
// at most one capture at a time and encodes outgoing PCM for transmission.
//
// connection is safe for concurrent use.
type connection struct {
	vc *discordgo.VoiceConnection

	captureMu sync.Mutex
	capture   *captureStream

	output chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

func newConnection(vc *discordgo.VoiceConnection) *connection {
	c := &connection{
		vc:           vc,
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	go c.recvLoop()
	go c.sendLoop()
	return c
}

// attach registers a new capture. Only one capture may be attached.
func (c *connection) attach() (*captureStream, error) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, errClosed)
	default:
	}
	if c.capture != nil {
		return nil, fmt.Errorf("%w: discord: capture already open", audio.ErrDeviceUnavailable)
	}
	s := &captureStream{
		conn:   c,
		frames: make(chan audio.AudioFrame, captureChannelBuffer),
	}
	c.capture = s
	return s, nil
}

// detach removes s and closes its frame channel. It is a no-op if s is no
// longer attached.
func (c *connection) detach(s *captureStream) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.capture != s {
		return
	}
	c.capture = nil
	close(s.frames)
}

// disconnect tears down the voice connection. Any attached capture ends as
// if the device went away. Safe to call more than once.
func (c *connection) disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		c.captureMu.Lock()
		if s := c.capture; s != nil {
			c.capture = nil
			close(s.frames)
		}
		c.captureMu.Unlock()
	})
	return err
}

// recvLoop decodes packets of the SSRC the attached capture is locked to. A
// fresh capture locks to the first SSRC it hears.
func (c *connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			c.deliver(pkt, decoders)
		}
	}
}

func (c *connection) deliver(pkt *discordgo.Packet, decoders map[uint32]*opusDecoder) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	s := c.capture
	if s == nil {
		return
	}
	if !s.locked {
		s.ssrc, s.locked = pkt.SSRC, true
		slog.Info("discord: capture locked to speaker", "ssrc", strconv.FormatUint(uint64(pkt.SSRC), 10))
	}
	if pkt.SSRC != s.ssrc {
		return
	}

	dec, ok := decoders[pkt.SSRC]
	if !ok {
		var err error
		if dec, err = newOpusDecoder(); err != nil {
			slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
			return
		}
		decoders[pkt.SSRC] = dec
	}
	pcm, err := dec.decode(pkt.Opus)
	if err != nil {
		slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
		return
	}

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
		Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
	}
	select {
	case s.frames <- frame:
	default:
		// Consumer behind; drop rather than stall the receive loop.
	}
}

// sendLoop converts outgoing frames to 48 kHz stereo, cuts them into exact
// Opus frames and sends them. Speaking is signalled on the first frame of a
// burst and cleared once the output has been idle for a frame.
func (c *connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "err", err)
		return
	}
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	// 960 samples/channel × 2 channels × 2 bytes/sample.
	const opusFrameBytes = opusFrameSize * opusChannels * 2

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	speaking := false
	var buf []byte
	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case <-idle.C:
			// A trailing partial Opus frame is dropped.
			if speaking {
				c.setSpeaking(false)
				speaking = false
			}
			buf = buf[:0]
		case frame := <-c.output:
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}
			buf = append(buf, conv.Convert(frame).Data...)
			for len(buf) >= opusFrameBytes {
				opus, eErr := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if eErr != nil {
					slog.Warn("discord: opus encode error", "err", eErr)
					continue
				}
				select {
				case c.vc.OpusSend <- opus:
				case <-c.done:
					return
				}
			}
			idle.Reset(opusFrameSizeMs * time.Millisecond * 5)
		}
	}
}

func (c *connection) setSpeaking(b bool) {
	if c.vc.Speaking(b) != nil {
		slog.Debug("discord: speaking notification failed", "speaking", b)
	}
}

// captureStream implements [audio.InputStream] for one locked speaker.
type captureStream struct {
	conn   *connection
	frames chan audio.AudioFrame

	// Guarded by conn.captureMu.
	ssrc   uint32
	locked bool
}

func (s *captureStream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *captureStream) Format() audio.Format {
	return audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}
}

func (s *captureStream) Close() error {
	s.conn.detach(s)
	return nil
}
