package codec

import (
	"errors"

	"github.com/gwsu/torc/bitstream"
	"github.com/gwsu/torc/media"
)

// H.264 NAL unit types the decoder cares about.
const (
	nalTypeIDR        = 5
	nalTypeSEI        = 6
	nalTypeSPS        = 7
	nalTypePPS        = 8
	nalTypeAUD        = 9
	nalTypeFillerData = 12
)

// H.265 NAL unit types. IRAP pictures span BLA_W_LP (16) to CRA_NUT (21).
const (
	hevcNALIRAPFirst = 16
	hevcNALIRAPLast  = 21
	hevcNALVPS       = 32
	hevcNALSPS       = 33
	hevcNALPPS       = 34
	hevcNALAUD       = 35
)

var errBadSPS = errors.New("codec: malformed SPS")

// SPSInfo is the subset of H.264 sequence-parameter-set fields the playback
// engine needs: geometry and frame structure.
type SPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	LevelIDC   byte
	Interlaced bool // frame_mbs_only_flag == 0
}

// NALUnit is one parsed H.264/H.265 NAL unit (header byte(s) included,
// start code stripped).
type NALUnit struct {
	Type byte
	Data []byte
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units. Both
// 3- and 4-byte start codes are recognised.
func ParseAnnexB(data []byte) []NALUnit {
	return splitNALUnits(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC splits an H.265 Annex B byte stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return splitNALUnits(data, 2, func(d []byte) byte { return (d[0] >> 1) & 0x3F })
}

// splitNALUnits walks the byte stream once, closing the unit in progress at
// every start code it meets and at the end of the data.
func splitNALUnits(data []byte, minLen int, typeOf func([]byte) byte) []NALUnit {
	var units []NALUnit
	n := len(data)
	start := -1 // payload start of the unit in progress

	flush := func(end int) {
		if start < 0 || end <= start {
			return
		}
		if nal := data[start:end]; len(nal) >= minLen {
			units = append(units, NALUnit{Type: typeOf(nal), Data: nal})
		}
	}

	for i := 0; i+3 <= n; {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		switch {
		case data[i+2] == 1:
			flush(i)
			start = i + 3
			i += 3
		case i+4 <= n && data[i+2] == 0 && data[i+3] == 1:
			flush(i)
			start = i + 4
			i += 4
		default:
			i++
		}
	}
	flush(n)
	return units
}

// stripEmulationPrevention removes the 0x03 emulation bytes a raw NAL
// payload inserts after every two zeros.
func stripEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for i, b := range data {
		if zeros >= 2 && b == 0x03 && (i+1 >= len(data) || data[i+1] <= 0x03) {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// highProfile reports profiles whose SPS carries the chroma-format and
// scaling-matrix block.
func highProfile(idc uint) bool {
	switch idc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// chromaCropUnits maps the chroma sampling to the per-axis crop unit sizes.
func chromaCropUnits(chromaFormat uint, separatePlanes bool) (x, y uint) {
	if separatePlanes {
		return 1, 1 // monochrome-coded planes crop in luma samples
	}
	switch chromaFormat {
	case 0, 3:
		return 1, 1
	case 2:
		return 2, 1
	default: // 4:2:0
		return 2, 2
	}
}

func skipScalingLists(r *bitstream.Reader, chromaFormat uint) {
	lists := 8
	if chromaFormat == 3 {
		lists = 12
	}
	for i := 0; i < lists; i++ {
		if !r.Flag() {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		last, next := 8, 8
		for j := 0; j < size; j++ {
			if next != 0 {
				next = (last + r.SE() + 256) % 256
			}
			if next != 0 {
				last = next
			}
		}
	}
}

// ParseSPS extracts geometry and frame structure from an H.264 SPS NAL unit.
// The input is the raw NAL data with header byte but without start code.
// Fields the engine has no use for (VUI, HRD) are left unread: everything it
// needs precedes them.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errBadSPS
	}

	r := bitstream.NewReader(stripEmulationPrevention(nalu[1:]))

	profile := r.Bits(8)
	r.Skip(8) // constraint flags, reserved bits
	level := r.Bits(8)
	r.UE() // seq_parameter_set_id

	chromaFormat := uint(1)
	separatePlanes := false
	if highProfile(profile) {
		chromaFormat = r.UE()
		if chromaFormat == 3 {
			separatePlanes = r.Flag()
		}
		r.UE()    // bit_depth_luma_minus8
		r.UE()    // bit_depth_chroma_minus8
		r.Skip(1) // qpprime_y_zero_transform_bypass
		if r.Flag() {
			skipScalingLists(r, chromaFormat)
		}
	}

	r.UE() // log2_max_frame_num_minus4
	switch r.UE() {
	case 0: // pic_order_cnt_type 0
		r.UE()
	case 1:
		r.Skip(1)
		r.SE()
		r.SE()
		for i, cycles := uint(0), r.UE(); i < cycles; i++ {
			r.SE()
		}
	}

	r.UE()    // max_num_ref_frames
	r.Skip(1) // gaps_in_frame_num_value_allowed

	widthMbs := r.UE() + 1
	heightUnits := r.UE() + 1
	progressive := r.Flag() // frame_mbs_only
	if !progressive {
		r.Skip(1) // mb_adaptive_frame_field
	}
	r.Skip(1) // direct_8x8_inference

	var crop [4]uint // left, right, top, bottom
	if r.Flag() {
		for i := range crop {
			crop[i] = r.UE()
		}
	}

	if r.Err() != nil {
		return SPSInfo{}, errBadSPS
	}

	unitX, unitY := chromaCropUnits(chromaFormat, separatePlanes)
	fieldMul := uint(2)
	if progressive {
		fieldMul = 1
	}
	unitY *= fieldMul

	return SPSInfo{
		Width:      int(widthMbs*16 - unitX*(crop[0]+crop[1])),
		Height:     int(heightUnits*16*fieldMul - unitY*(crop[2]+crop[3])),
		ProfileIDC: byte(profile),
		LevelIDC:   byte(level),
		Interlaced: !progressive,
	}, nil
}

// h26xDecoder turns H.264/H.265 access units into Pictures. Geometry comes
// from in-band SPS units; pixel reconstruction is the renderer's concern
// (the access unit travels with the picture as an opaque payload).
type h26xDecoder struct {
	codec  media.CodecID
	width  int
	height int
	sps    SPSInfo
	hasSPS bool
}

func newH26xDecoder(codec media.CodecID, width, height int) *h26xDecoder {
	return &h26xDecoder{codec: codec, width: width, height: height}
}

// Decode parses the packet's access unit, updating geometry from any SPS met
// on the way, and returns one picture per packet.
func (d *h26xDecoder) Decode(pkt *media.Packet) (*Picture, error) {
	if len(pkt.Data) == 0 {
		return nil, nil
	}

	var nalus []NALUnit
	if d.codec == media.CodecH265 {
		nalus = ParseAnnexBHEVC(pkt.Data)
	} else {
		nalus = ParseAnnexB(pkt.Data)
	}
	if len(nalus) == 0 {
		return nil, nil
	}

	keyframe := false
	for _, nalu := range nalus {
		if d.codec == media.CodecH265 {
			if nalu.Type >= hevcNALIRAPFirst && nalu.Type <= hevcNALIRAPLast {
				keyframe = true
			}
			continue
		}

		switch nalu.Type {
		case nalTypeIDR:
			keyframe = true
		case nalTypeSPS:
			if info, err := ParseSPS(nalu.Data); err == nil {
				d.sps = info
				d.hasSPS = true
				d.width = info.Width
				d.height = info.Height
			}
			keyframe = true
		}
	}

	pic := &Picture{
		Width:       d.width,
		Height:      d.height,
		Keyframe:    keyframe,
		Interlaced:  d.hasSPS && d.sps.Interlaced,
		PixelAspect: 1.0,
		Data:        pkt.Data,
	}
	return pic, nil
}

// Flush drops nothing: access-unit decoding keeps no inter-frame state
// beyond the parameter sets, which survive a seek.
func (d *h26xDecoder) Flush() {}

func (d *h26xDecoder) Close() error { return nil }
