package webrtc

// H264Depacketizer extracts NAL units from RTP H264 payloads.
// FU-A reassembly state is per instance, so each bound track owns one.
type H264Depacketizer struct {
	fuaBuf  []byte
	nextSeq uint16
	inFU    bool
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Reset drops any partially reassembled FU-A unit.
func (d *H264Depacketizer) Reset() {
	d.fuaBuf = nil
	d.inFU = false
}

// Depacketize extracts NAL units from the RTP H264 payload carried by the
// packet with sequence number seq. Handles single NAL, STAP-A and FU-A.
// A sequence gap inside an FU-A unit drops the whole unit.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.Reset()
		return [][]byte{payload}

	case naluType == 24:
		d.Reset()
		return d.depacketizeSTAPA(payload)

	case naluType == 28:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // skip STAP-A header byte

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0 // F + NRI bits from FU indicator
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	switch {
	case start:
		d.fuaBuf = append([]byte{fnri | naluType}, payload[2:]...)
		d.inFU = true
	case !d.inFU:
		return nil
	case seq != d.nextSeq:
		d.Reset()
		return nil
	default:
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	d.nextSeq = seq + 1

	if end {
		nalu := d.fuaBuf
		d.Reset()
		return [][]byte{nalu}
	}

	return nil
}
