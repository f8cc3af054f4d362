package proc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/leeineian/bardcast/sys"
)

const (
	opusSampleRate  = 48000
	opusFrameSize   = 960
	opusBitRate     = 192000
	customIOBufSize = 16 * 1024
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)
}

// Transcoder decodes any container ffmpeg understands from a reader and
// re-encodes it as 20ms stereo opus frames.
type Transcoder struct {
	input       *astiav.FormatContext
	ioCtx       *astiav.IOContext
	decoder     *astiav.CodecContext
	encoder     *astiav.CodecContext
	resampler   *astiav.SoftwareResampleContext
	fifo        *astiav.AudioFifo
	packet      *astiav.Packet
	frame       *astiav.Frame
	resampled   *astiav.Frame
	streamIndex int
	pts         int64
	frames      int64
	emit        func([]byte)
}

func NewTranscoder() *Transcoder {
	return &Transcoder{
		packet:      astiav.AllocPacket(),
		frame:       astiav.AllocFrame(),
		resampled:   astiav.AllocFrame(),
		streamIndex: -1,
	}
}

// Open probes r, then prepares the decoder, encoder and resampler.
func (t *Transcoder) Open(r io.Reader) error {
	if err := t.openInput(r); err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	if err := t.setupDecoder(); err != nil {
		return fmt.Errorf("decoder: %w", err)
	}
	if err := t.setupEncoder(); err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	return nil
}

func (t *Transcoder) openInput(r io.Reader) error {
	t.input = astiav.AllocFormatContext()
	if t.input == nil {
		return errors.New("failed to alloc format context")
	}

	ioCtx, err := astiav.AllocIOContext(customIOBufSize, false, r.Read, func(offset int64, whence int) (int64, error) {
		return 0, errors.New("seek not supported on a live stream")
	}, nil)
	if err != nil {
		return err
	}
	t.ioCtx = ioCtx
	t.input.SetPb(ioCtx)
	t.input.SetFlags(t.input.Flags().Add(astiav.FormatContextFlagCustomIo))

	opts := astiav.NewDictionary()
	defer opts.Free()
	opts.Set("probesize", "10000000", 0)
	opts.Set("analyzeduration", "10000000", 0)
	opts.Set("fflags", "nobuffer", 0)
	opts.Set("flags", "low_delay", 0)

	if err := t.input.OpenInput("", nil, opts); err != nil {
		return err
	}
	if err := t.input.FindStreamInfo(nil); err != nil {
		return err
	}
	for _, s := range t.input.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.streamIndex = s.Index()
			break
		}
	}
	if t.streamIndex == -1 {
		return errors.New("no audio stream")
	}
	return nil
}

func (t *Transcoder) setupDecoder() error {
	p := t.input.Streams()[t.streamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoder = astiav.AllocCodecContext(d)
	if err := p.ToCodecContext(t.decoder); err != nil {
		return err
	}
	return t.decoder.Open(d, nil)
}

func (t *Transcoder) setupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no opus encoder")
	}
	t.encoder = astiav.AllocCodecContext(e)
	t.encoder.SetBitRate(opusBitRate)
	t.encoder.SetSampleRate(opusSampleRate)
	t.encoder.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoder.SetSampleFormat(astiav.SampleFormatS16)
	t.encoder.SetTimeBase(astiav.NewRational(1, opusSampleRate))

	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoder.Open(e, o); err != nil {
		return err
	}

	t.resampler = astiav.AllocSoftwareResampleContext()
	if t.resampler == nil {
		return errors.New("failed to alloc resampler")
	}
	return nil
}

// Run transcodes until EOF or ctx ends, handing each opus packet to emit.
// It returns the number of frames produced.
func (t *Transcoder) Run(ctx context.Context, emit func([]byte)) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
		}
		n = t.frames
	}()
	defer t.packet.Unref()
	t.emit = emit

	t.fifo = astiav.AllocAudioFifo(t.encoder.SampleFormat(), t.encoder.ChannelLayout().Channels(), opusFrameSize*2)
	if t.fifo == nil {
		return 0, errors.New("failed to alloc fifo")
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		t.packet.Unref()
		if err := t.input.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return 0, err
		}
		if t.packet.StreamIndex() != t.streamIndex {
			continue
		}
		if err := t.decoder.SendPacket(t.packet); err != nil {
			return 0, err
		}
		if err := t.drainDecoder(); err != nil {
			return 0, err
		}
	}

	_ = t.decoder.SendPacket(nil)
	if err := t.drainDecoder(); err != nil {
		return 0, err
	}
	if err := t.processFifo(true); err != nil {
		return 0, err
	}
	_ = t.encoder.SendFrame(nil)
	t.receivePackets()
	return 0, nil
}

func (t *Transcoder) drainDecoder() error {
	for t.decoder.ReceiveFrame(t.frame) == nil {
		err := t.pushToFifo()
		t.frame.Unref()
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Transcoder) pushToFifo() error {
	t.prepareResampled(int(astiav.RescaleQ(
		int64(t.frame.NbSamples()),
		astiav.NewRational(1, t.frame.SampleRate()),
		astiav.NewRational(1, opusSampleRate),
	)))
	if t.resampled.NbSamples() <= 0 {
		return nil
	}
	if err := t.resampler.ConvertFrame(t.frame, t.resampled); err != nil {
		return err
	}
	if _, err := t.fifo.Write(t.resampled); err != nil {
		return err
	}
	return t.processFifo(false)
}

func (t *Transcoder) prepareResampled(samples int) {
	t.resampled.Unref()
	t.resampled.SetChannelLayout(t.encoder.ChannelLayout())
	t.resampled.SetSampleFormat(t.encoder.SampleFormat())
	t.resampled.SetSampleRate(t.encoder.SampleRate())
	t.resampled.SetNbSamples(samples)
	if samples > 0 {
		_ = t.resampled.AllocBuffer(0)
	}
}

// processFifo encodes whole frames; drain also flushes a trailing partial one.
func (t *Transcoder) processFifo(drain bool) error {
	for {
		sz := opusFrameSize
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.prepareResampled(sz)
		if _, err := t.fifo.Read(t.resampled); err != nil {
			return err
		}
		t.resampled.SetPts(t.pts)
		t.pts += int64(sz)

		if err := t.encoder.SendFrame(t.resampled); err != nil {
			return err
		}
		t.receivePackets()
	}
}

func (t *Transcoder) receivePackets() {
	for {
		t.packet.Unref()
		if t.encoder.ReceivePacket(t.packet) != nil {
			return
		}
		d := t.packet.Data()
		frame := make([]byte, len(d))
		copy(frame, d)
		t.frames++
		if t.emit != nil {
			t.emit(frame)
		}
	}
}

func (t *Transcoder) Close() {
	if t.fifo != nil {
		t.fifo.Free()
	}
	if t.resampler != nil {
		t.resampler.Free()
	}
	if t.resampled != nil {
		t.resampled.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoder != nil {
		t.decoder.Free()
	}
	if t.encoder != nil {
		t.encoder.Free()
	}
	if t.input != nil {
		t.input.CloseInput()
		t.input.Free()
	}
	if t.ioCtx != nil {
		t.ioCtx.Free()
	}
	sys.LogDebug("transcoder closed after %d frames", t.frames)
}
