package demux

// CaptionField selects the CEA-608 field a caption pair is carried in.
type CaptionField byte

const (
	CaptionField1 CaptionField = 0 // CC1 and CC2
	CaptionField2 CaptionField = 1 // CC3 and CC4
)

// maxCCCount is the largest cc_count an A/53 cc_data() can signal.
const maxCCCount = 31

// CaptionSEI builds an H.264 SEI NAL unit (header included, no start code)
// carrying CEA-608 byte pairs as ATSC A/53 cc_data. Parity is added to
// every byte; pairs beyond 31 are dropped.
func CaptionSEI(field CaptionField, pairs ...[2]byte) []byte {
	payload := a53Payload(field, pairs)

	var msg []byte
	msg = appendSEIValue(msg, 4) // user_data_registered_itu_t_t35
	msg = appendSEIValue(msg, len(payload))
	msg = append(msg, payload...)
	msg = append(msg, 0x80) // rbsp trailing bits

	nal := []byte{NALTypeSEI}
	return append(nal, addEPB(msg)...)
}

func a53Payload(field CaptionField, pairs [][2]byte) []byte {
	n := min(len(pairs), maxCCCount)

	p := []byte{
		0xB5,       // itu_t_t35_country_code: United States
		0x00, 0x31, // itu_t_t35_provider_code: ATSC
		'G', 'A', '9', '4',
		0x03, // user_data_type_code: cc_data
		0x40 | byte(n)&0x1F,
		0xFF, // em_data
	}
	for _, pair := range pairs[:n] {
		p = append(p, 0xFC|byte(field)&0x03, AddParity(pair[0]), AddParity(pair[1]))
	}
	return append(p, 0xFF)
}

func appendSEIValue(dst []byte, v int) []byte {
	for v >= 255 {
		dst = append(dst, 0xFF)
		v -= 255
	}
	return append(dst, byte(v))
}

// AddParity sets the high bit of b so that it has odd parity.
func AddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}

// addEPB inserts emulation prevention bytes.
func addEPB(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// AppendAnnexB appends each NAL unit to dst behind a 4-byte start code.
func AppendAnnexB(dst []byte, nals ...[]byte) []byte {
	for _, nal := range nals {
		dst = append(dst, 0x00, 0x00, 0x00, 0x01)
		dst = append(dst, nal...)
	}
	return dst
}
