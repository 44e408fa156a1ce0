package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/asticode/go-astiav"
)

// FFmpeg decodes anything libavformat can open. Output is resampled to
// float32 at the source rate and layout.
type FFmpeg struct{}

// Open implements Decoder.
func (FFmpeg) Open(path string) (Stream, error) {
	s := &ffmpegStream{
		packet:   astiav.AllocPacket(),
		frame:    astiav.AllocFrame(),
		outFrame: astiav.AllocFrame(),
	}
	if err := s.openInput(path); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.setupDecoder(); err != nil {
		s.Close()
		return nil, err
	}

	cp := s.stream().CodecParameters()
	s.props = Properties{
		SampleRate:    s.decoderCtx.SampleRate(),
		Channels:      s.decoderCtx.ChannelLayout().Channels(),
		BitsPerSample: cp.BitsPerRawSample(),
		Encoding:      cp.CodecID().Name(),
		Metadata:      make(map[string]string),
	}
	if d := s.inputCtx.Duration(); d > 0 {
		s.props.Duration = float64(d) / 1e6
	}
	if md := s.inputCtx.Metadata(); md != nil {
		var e *astiav.DictionaryEntry
		for {
			e = md.Get("", e, astiav.DictionaryFlags(astiav.DictionaryFlagIgnoreSuffix))
			if e == nil {
				break
			}
			s.props.Metadata[e.Key()] = e.Value()
		}
	}
	applyTags(&s.props, path)

	return s, nil
}

type ffmpegStream struct {
	inputCtx    *astiav.FormatContext
	decoderCtx  *astiav.CodecContext
	resampleCtx *astiav.SoftwareResampleContext
	fifo        *astiav.AudioFifo
	packet      *astiav.Packet
	frame       *astiav.Frame
	outFrame    *astiav.Frame
	streamIndex int
	props       Properties
	position    int64
	drained     bool
	closed      bool
}

func (s *ffmpegStream) stream() *astiav.Stream {
	return s.inputCtx.Streams()[s.streamIndex]
}

func (s *ffmpegStream) openInput(path string) error {
	s.inputCtx = astiav.AllocFormatContext()
	if s.inputCtx == nil {
		return errors.New("failed to allocate format context")
	}
	if err := s.inputCtx.OpenInput(path, nil, nil); err != nil {
		s.inputCtx.Free()
		s.inputCtx = nil
		return fmt.Errorf("failed to open input: %w", err)
	}
	if err := s.inputCtx.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("failed to find stream info: %w", err)
	}

	s.streamIndex = -1
	for _, st := range s.inputCtx.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			s.streamIndex = st.Index()
			break
		}
	}
	if s.streamIndex == -1 {
		return ErrNoAudioStream
	}
	return nil
}

func (s *ffmpegStream) setupDecoder() error {
	if s.decoderCtx != nil {
		s.decoderCtx.Free()
		s.decoderCtx = nil
	}
	if s.resampleCtx != nil {
		s.resampleCtx.Free()
		s.resampleCtx = nil
	}
	if s.fifo != nil {
		s.fifo.Free()
		s.fifo = nil
	}

	p := s.stream().CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return fmt.Errorf("%w: no decoder for %s", ErrUnsupported, p.CodecID().Name())
	}
	s.decoderCtx = astiav.AllocCodecContext(d)
	if s.decoderCtx == nil {
		return errors.New("failed to allocate codec context")
	}
	if err := p.ToCodecContext(s.decoderCtx); err != nil {
		return fmt.Errorf("failed to copy codec parameters: %w", err)
	}
	if err := s.decoderCtx.Open(d, nil); err != nil {
		return fmt.Errorf("failed to open decoder: %w", err)
	}

	s.resampleCtx = astiav.AllocSoftwareResampleContext()
	if s.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	s.fifo = astiav.AllocAudioFifo(astiav.SampleFormatFlt, s.decoderCtx.ChannelLayout().Channels(), 4096)
	s.drained = false
	return nil
}

func (s *ffmpegStream) Properties() Properties {
	return s.props
}

// fill decodes packets until the fifo holds at least frames frames or the
// input is exhausted.
func (s *ffmpegStream) fill(frames int) error {
	for !s.drained && s.fifo.Size() < frames {
		if err := s.inputCtx.ReadFrame(s.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				_ = s.decoderCtx.SendPacket(nil)
				if err := s.receive(); err != nil {
					return err
				}
				s.drained = true
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}
		if s.packet.StreamIndex() != s.streamIndex {
			s.packet.Unref()
			continue
		}
		err := s.decoderCtx.SendPacket(s.packet)
		s.packet.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("failed to send packet: %w", err)
		}
		if err := s.receive(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ffmpegStream) receive() error {
	for {
		if err := s.decoderCtx.ReceiveFrame(s.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("failed to receive frame: %w", err)
		}

		s.outFrame.Unref()
		s.outFrame.SetChannelLayout(s.decoderCtx.ChannelLayout())
		s.outFrame.SetSampleFormat(astiav.SampleFormatFlt)
		s.outFrame.SetSampleRate(s.decoderCtx.SampleRate())
		s.outFrame.SetNbSamples(s.frame.NbSamples())
		if err := s.outFrame.AllocBuffer(0); err != nil {
			s.frame.Unref()
			return fmt.Errorf("failed to allocate frame buffer: %w", err)
		}
		if err := s.resampleCtx.ConvertFrame(s.frame, s.outFrame); err != nil {
			s.frame.Unref()
			return fmt.Errorf("failed to resample: %w", err)
		}
		if _, err := s.fifo.Write(s.outFrame); err != nil {
			s.frame.Unref()
			return fmt.Errorf("failed to buffer samples: %w", err)
		}
		s.frame.Unref()
	}
}

func (s *ffmpegStream) ReadChunk(frames int) (Chunk, error) {
	if s.closed {
		return Chunk{}, ErrClosed
	}
	if err := s.fill(frames); err != nil {
		return Chunk{}, err
	}

	n := s.fifo.Size()
	if n > frames {
		n = frames
	}
	start := s.position
	chunk := Chunk{
		Time: float64(start) / float64(s.props.SampleRate),
	}
	if n > 0 {
		s.outFrame.Unref()
		s.outFrame.SetChannelLayout(s.decoderCtx.ChannelLayout())
		s.outFrame.SetSampleFormat(astiav.SampleFormatFlt)
		s.outFrame.SetSampleRate(s.decoderCtx.SampleRate())
		s.outFrame.SetNbSamples(n)
		if err := s.outFrame.AllocBuffer(0); err != nil {
			return Chunk{}, fmt.Errorf("failed to allocate frame buffer: %w", err)
		}
		read, err := s.fifo.Read(s.outFrame)
		if err != nil {
			return Chunk{}, fmt.Errorf("failed to drain samples: %w", err)
		}
		data, err := s.outFrame.Data().Bytes(1)
		if err != nil {
			return Chunk{}, fmt.Errorf("failed to copy samples: %w", err)
		}
		chunk.Samples = deinterleave(data, s.props.Channels, read)
		chunk.Frames = read
		s.position += int64(read)
	}
	chunk.EOF = s.drained && s.fifo.Size() == 0
	return chunk, nil
}

// deinterleave converts little-endian interleaved float32 bytes to planar.
func deinterleave(data []byte, channels, frames int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	if limit := len(data) / (4 * channels); frames > limit {
		frames = limit
	}
	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 4
			out[c*frames+i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
	}
	return out
}

func (s *ffmpegStream) Seek(seconds float64) error {
	if s.closed {
		return ErrClosed
	}
	if seconds < 0 {
		seconds = 0
	}
	tb := s.stream().TimeBase()
	ts := astiav.RescaleQ(int64(seconds*1e6), astiav.NewRational(1, 1000000), tb)
	err := s.inputCtx.SeekFrame(s.streamIndex, ts, astiav.SeekFlags(astiav.SeekFlagBackward))
	if err != nil && seconds == 0 {
		err = s.inputCtx.SeekFrame(-1, 0, astiav.SeekFlags(astiav.SeekFlagBackward))
	}
	if err != nil {
		return fmt.Errorf("seek to %.3fs failed: %w", seconds, err)
	}
	// Recreate the decoder to drop its internal buffers.
	if err := s.setupDecoder(); err != nil {
		return fmt.Errorf("seek recovery failed: %w", err)
	}
	s.position = int64(math.Round(seconds * float64(s.props.SampleRate)))
	return nil
}

func (s *ffmpegStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.fifo != nil {
		s.fifo.Free()
	}
	if s.resampleCtx != nil {
		s.resampleCtx.Free()
	}
	if s.outFrame != nil {
		s.outFrame.Free()
	}
	if s.frame != nil {
		s.frame.Free()
	}
	if s.packet != nil {
		s.packet.Free()
	}
	if s.decoderCtx != nil {
		s.decoderCtx.Free()
	}
	if s.inputCtx != nil {
		s.inputCtx.CloseInput()
		s.inputCtx.Free()
	}
	return nil
}
