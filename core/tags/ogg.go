package tags

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	oggHeaderLen = 27
	// comment packets beyond this are treated as corrupt
	oggMaxPacket = 64 << 20
)

// oggPackets reassembles the first n packets of the first logical stream.
// Page CRCs are not verified.
func oggPackets(r io.Reader, n int) ([][]byte, error) {
	br := bufio.NewReader(r)
	var (
		packets [][]byte
		current []byte
		serial  uint32
		first   = true
	)
	hdr := make([]byte, oggHeaderLen)
	for len(packets) < n {
		if _, err := io.ReadFull(br, hdr); err != nil {
			return nil, fmt.Errorf("%w: truncated ogg page after %d packets", ErrCorruptFile, len(packets))
		}
		if !bytes.Equal(hdr[:4], []byte("OggS")) {
			return nil, fmt.Errorf("%w: bad ogg capture pattern", ErrCorruptFile)
		}
		pageSerial := binary.LittleEndian.Uint32(hdr[14:18])
		if first {
			serial = pageSerial
			first = false
		}
		lacing := make([]byte, int(hdr[26]))
		if _, err := io.ReadFull(br, lacing); err != nil {
			return nil, fmt.Errorf("%w: truncated ogg segment table", ErrCorruptFile)
		}
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("%w: truncated ogg page body", ErrCorruptFile)
		}
		if pageSerial != serial {
			continue
		}

		off := 0
		for _, l := range lacing {
			current = append(current, body[off:off+int(l)]...)
			off += int(l)
			if len(current) > oggMaxPacket {
				return nil, fmt.Errorf("%w: ogg packet exceeds %d bytes", ErrCorruptFile, oggMaxPacket)
			}
			if l < 255 {
				packets = append(packets, current)
				current = nil
				if len(packets) == n {
					break
				}
			}
		}
	}
	return packets, nil
}

// oggReader reads the comment header of an Ogg Vorbis or Opus stream.
type oggReader struct {
	format Format
}

func (o oggReader) Read(r io.ReadSeeker) (*Metadata, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	packets, err := oggPackets(r, 2)
	if err != nil {
		return nil, err
	}

	prefix := []byte("\x03vorbis")
	if o.format == FormatOggOpus {
		prefix = []byte("OpusTags")
	}
	pkt := packets[1]
	if !bytes.HasPrefix(pkt, prefix) {
		return nil, fmt.Errorf("%w: second ogg packet is not a comment header", ErrCorruptFile)
	}
	vc, err := parseVorbisComments(pkt[len(prefix):])
	if err != nil {
		return nil, err
	}
	m := &Metadata{}
	if err := vc.metadata(m); err != nil {
		return nil, err
	}
	return m, nil
}
