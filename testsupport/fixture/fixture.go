// Package fixture builds small in-memory audio files for tests. It only
// depends on the standard library so any package's tests can use it.
package fixture

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
)

// MPEGFrames returns n silent MPEG-1 Layer III frames (128 kbps, 44.1 kHz).
func MPEGFrames(n int) []byte {
	const frameLen = 417
	out := make([]byte, 0, n*frameLen)
	for i := 0; i < n; i++ {
		frame := make([]byte, frameLen)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x64})
		out = append(out, frame...)
	}
	return out
}

// ID3v1 describes a 128-byte ID3v1.1 trailer.
type ID3v1 struct {
	Title, Artist, Album, Year, Comment string
	Track                               byte
	Genre                               byte
}

// Bytes encodes the trailer. Strings are written as-is and truncated.
func (t ID3v1) Bytes() []byte {
	b := make([]byte, 128)
	copy(b, "TAG")
	copy(b[3:33], t.Title)
	copy(b[33:63], t.Artist)
	copy(b[63:93], t.Album)
	copy(b[93:97], t.Year)
	if t.Track != 0 {
		copy(b[97:125], t.Comment)
		b[125] = 0
		b[126] = t.Track
	} else {
		copy(b[97:127], t.Comment)
	}
	b[127] = t.Genre
	return b
}

// Picture is the content of a FLAC picture block.
type Picture struct {
	Type                         uint32
	MimeType, Description        string
	Width, Height, Depth, Colors uint32
	Data                         []byte
}

// Block encodes the big-endian picture structure.
func (p Picture) Block() []byte {
	var buf bytes.Buffer
	u32 := func(v uint32) { _ = binary.Write(&buf, binary.BigEndian, v) }
	u32(p.Type)
	u32(uint32(len(p.MimeType)))
	buf.WriteString(p.MimeType)
	u32(uint32(len(p.Description)))
	buf.WriteString(p.Description)
	u32(p.Width)
	u32(p.Height)
	u32(p.Depth)
	u32(p.Colors)
	u32(uint32(len(p.Data)))
	buf.Write(p.Data)
	return buf.Bytes()
}

// Comment returns the base64 METADATA_BLOCK_PICTURE comment entry.
func (p Picture) Comment() string {
	return "METADATA_BLOCK_PICTURE=" + base64.StdEncoding.EncodeToString(p.Block())
}

// VorbisComments encodes the little-endian comment structure. Entries are
// "KEY=value" strings.
func VorbisComments(vendor string, entries ...string) []byte {
	var buf bytes.Buffer
	u32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	u32(uint32(len(vendor)))
	buf.WriteString(vendor)
	u32(uint32(len(entries)))
	for _, e := range entries {
		u32(uint32(len(e)))
		buf.WriteString(e)
	}
	return buf.Bytes()
}

// FLACBlock is one raw metadata block.
type FLACBlock struct {
	Type byte
	Data []byte
}

// FLAC builds a stream with STREAMINFO, a comment block holding entries, one
// picture block per picture, a padding block and then audio.
func FLAC(entries []string, pictures []Picture, audio []byte) []byte {
	blocks := []FLACBlock{{Type: 4, Data: VorbisComments("fixture", entries...)}}
	for _, p := range pictures {
		blocks = append(blocks, FLACBlock{Type: 6, Data: p.Block()})
	}
	blocks = append(blocks, FLACBlock{Type: 1, Data: make([]byte, 64)})
	return FLACWithBlocks(blocks, audio)
}

// FLACWithBlocks builds a stream from STREAMINFO followed by blocks and audio.
func FLACWithBlocks(blocks []FLACBlock, audio []byte) []byte {
	streamInfo := make([]byte, 34)
	binary.BigEndian.PutUint16(streamInfo[0:], 4096)
	binary.BigEndian.PutUint16(streamInfo[2:], 4096)
	all := append([]FLACBlock{{Type: 0, Data: streamInfo}}, blocks...)

	var buf bytes.Buffer
	buf.WriteString("fLaC")
	for i, b := range all {
		hdr := []byte{b.Type, byte(len(b.Data) >> 16), byte(len(b.Data) >> 8), byte(len(b.Data))}
		if i == len(all)-1 {
			hdr[0] |= 0x80
		}
		buf.Write(hdr)
		buf.Write(b.Data)
	}
	buf.Write(audio)
	return buf.Bytes()
}

// OggVorbis builds an Ogg stream with a Vorbis identification header and a
// comment header holding entries.
func OggVorbis(entries ...string) []byte {
	ident := append([]byte("\x01vorbis"), make([]byte, 23)...)
	comments := append([]byte("\x03vorbis"), VorbisComments("fixture", entries...)...)
	comments = append(comments, 0x01) // framing bit
	return oggStream(ident, comments)
}

// OggOpus builds an Ogg stream with OpusHead and OpusTags packets.
func OggOpus(entries ...string) []byte {
	head := append([]byte("OpusHead"), 1, 2, 0, 0, 0x80, 0xBB, 0, 0, 0, 0, 0)
	tags := append([]byte("OpusTags"), VorbisComments("fixture", entries...)...)
	return oggStream(head, tags)
}

// oggStream writes each packet on its own page. CRCs are left zero.
func oggStream(packets ...[]byte) []byte {
	var buf bytes.Buffer
	for seq, pkt := range packets {
		var lacing []byte
		rest := len(pkt)
		for rest >= 255 {
			lacing = append(lacing, 255)
			rest -= 255
		}
		lacing = append(lacing, byte(rest))
		// packets needing more than 255 lacing values span pages
		for len(lacing) > 0 {
			n := len(lacing)
			if n > 255 {
				n = 255
			}
			seg := lacing[:n]
			lacing = lacing[n:]
			size := 0
			for _, l := range seg {
				size += int(l)
			}
			hdr := make([]byte, 27)
			copy(hdr, "OggS")
			if seq == 0 {
				hdr[5] = 0x02
			}
			binary.LittleEndian.PutUint32(hdr[14:], 0x51F0)
			binary.LittleEndian.PutUint32(hdr[18:], uint32(seq))
			hdr[26] = byte(len(seg))
			buf.Write(hdr)
			buf.Write(seg)
			buf.Write(pkt[:size])
			pkt = pkt[size:]
		}
	}
	return buf.Bytes()
}
