package demux

// H.264 NAL unit types, ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// H.265 NAL unit types, ITU-T H.265 Table 7-1.
const (
	HEVCNALBlaWLP    = 16
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALSEIPrefix = 39
)

// NALUnit is one NAL unit found in an Annex B byte stream.
type NALUnit struct {
	Type byte   // codec-specific: 5 bits for H.264, 6 bits for H.265
	Data []byte // NAL header and payload, without start code
}

// parseAnnexB splits data at 3- and 4-byte start codes. minNALBytes is the
// NAL header size of the codec.
func parseAnnexB(data []byte, minNALBytes int, nalType func([]byte) byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type span struct{ sc, start int }
	var spans []span
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				spans = append(spans, span{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				spans = append(spans, span{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, s := range spans {
		end := n
		if idx+1 < len(spans) {
			end = spans[idx+1].sc
		}
		if end-s.start < minNALBytes {
			continue
		}
		nal := data[s.start:end]
		units = append(units, NALUnit{Type: nalType(nal), Data: nal})
	}
	return units
}

// ParseAnnexB splits an H.264 Annex B access unit into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return parseAnnexB(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC splits an H.265 Annex B access unit into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return parseAnnexB(data, 2, func(d []byte) byte { return d[0] >> 1 & 0x3F })
}

// IsKeyframe reports whether an H.264 NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsHEVCKeyframe reports whether an H.265 NAL type is a random access point
// (BLA, IDR or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// accessUnit is what the demuxer needs from one video PES payload.
type accessUnit struct {
	keyframe bool
	sei      [][]byte
}

func scanAccessUnit(data []byte, hevc bool) accessUnit {
	var au accessUnit
	if hevc {
		for _, nal := range ParseAnnexBHEVC(data) {
			switch {
			case IsHEVCKeyframe(nal.Type):
				au.keyframe = true
			case nal.Type == HEVCNALSEIPrefix && len(nal.Data) > 2:
				au.sei = append(au.sei, nal.Data)
			}
		}
		return au
	}
	for _, nal := range ParseAnnexB(data) {
		switch {
		case IsKeyframe(nal.Type):
			au.keyframe = true
		case nal.Type == NALTypeSEI:
			au.sei = append(au.sei, nal.Data)
		}
	}
	return au
}
