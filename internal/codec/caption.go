package codec

import (
	"log/slog"
	"time"

	"github.com/zsiec/ccx"
	"github.com/zsiec/rewind/internal/media"
)

// CaptionDisplay is how long a decoded caption stays on screen unless a
// newer caption replaces it first.
const CaptionDisplay = 4 * time.Second

// captionChannels are the CEA-608 channels CC1 through CC4.
var captionChannels = []int{1, 2, 3, 4}

// CaptionDecoder decodes CEA-608 byte pairs carried in SEI packets into
// subtitle frames, one per change of displayed text on any channel.
type CaptionDecoder struct {
	log  *slog.Logger
	info media.StreamInfo
	decs map[int]*ccx.CEA608Decoder
	out  fifo

	// Control codes are sent twice for robustness; the repeat is dropped
	// when it arrives within two packets of the first.
	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlCount [2]int
	count         int

	frame media.Frame
}

// NewCaptionDecoder returns a decoder for the caption stream described by
// info. If log is nil, slog.Default() is used.
func NewCaptionDecoder(info media.StreamInfo, log *slog.Logger) *CaptionDecoder {
	if log == nil {
		log = slog.Default()
	}
	d := &CaptionDecoder{log: log, info: info}
	d.resetDecoders()
	return d
}

func (d *CaptionDecoder) resetDecoders() {
	d.decs = make(map[int]*ccx.CEA608Decoder, len(captionChannels))
	for _, ch := range captionChannels {
		d.decs[ch] = ccx.NewCEA608Decoder()
	}
	d.lastCtrl = [2][2]byte{}
	d.lastWasCtrl = [2]bool{}
	d.lastCtrlCount = [2]int{}
}

// SendPacket extracts the caption pairs from the SEI NAL unit in pkt and
// feeds them to the per-channel decoders. A packet without captions is
// not an error.
func (d *CaptionDecoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.out.draining = true
		return nil
	}
	if d.out.draining {
		return ErrDraining
	}
	d.count++

	cd := ccx.ExtractCaptions(pkt.Data)
	if cd == nil {
		return nil
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field & 1

		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			gap := d.count - d.lastCtrlCount[f]
			if d.lastWasCtrl[f] && d.lastCtrl[f] == cp && gap <= 2 {
				d.lastWasCtrl[f] = false
				continue
			}
			d.lastCtrl[f] = cp
			d.lastWasCtrl[f] = true
			d.lastCtrlCount[f] = d.count
		} else {
			d.lastWasCtrl[f] = false
		}

		dec := d.decs[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(cc1, cc2)
		if text == "" {
			continue
		}
		d.log.Debug("caption", "channel", pair.Channel, "pts", pkt.PTS, "text", text)

		fr := &d.frame
		fr.Reset()
		fr.Kind = media.KindSubtitle
		fr.PTS = pkt.PTS
		fr.KeyFrame = true
		fr.Text = text
		fr.End = CaptionDisplay
		d.out.push(fr)
	}
	return nil
}

// ReceiveFrame returns the next caption in decode order.
func (d *CaptionDecoder) ReceiveFrame(dst *media.Frame) error {
	return d.out.pop(dst, 0)
}

// Flush drops buffered captions and resets the channel decoders.
func (d *CaptionDecoder) Flush() {
	d.out.reset()
	d.resetDecoders()
}

// Close releases nothing; it exists to satisfy Decoder.
func (d *CaptionDecoder) Close() error {
	return nil
}
