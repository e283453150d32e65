package tags

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// pictureReader walks a FLAC picture structure. Every read is bounds checked.
type pictureReader struct {
	buf []byte
	off int
}

func (r *pictureReader) u32(name string) (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, fmt.Errorf("%w: picture %s at offset %d overruns block of %d bytes", ErrCorruptFile, name, r.off, len(r.buf))
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *pictureReader) bytes(name string) ([]byte, error) {
	n, err := r.u32(name + " length")
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		return nil, fmt.Errorf("%w: picture %s length %d exceeds remaining %d bytes", ErrCorruptFile, name, n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

// DecodePictureBlock decodes a FLAC METADATA_BLOCK_PICTURE body: type, MIME
// type, description, width, height, depth, colours and data, all big-endian
// 32-bit values or 32-bit length-prefixed strings.
func DecodePictureBlock(b []byte) (*Picture, error) {
	r := &pictureReader{buf: b}
	var (
		p   Picture
		err error
	)
	if p.Type, err = r.u32("type"); err != nil {
		return nil, err
	}
	mime, err := r.bytes("mime")
	if err != nil {
		return nil, err
	}
	desc, err := r.bytes("description")
	if err != nil {
		return nil, err
	}
	if p.Width, err = r.u32("width"); err != nil {
		return nil, err
	}
	if p.Height, err = r.u32("height"); err != nil {
		return nil, err
	}
	if p.Depth, err = r.u32("depth"); err != nil {
		return nil, err
	}
	if p.Colors, err = r.u32("colors"); err != nil {
		return nil, err
	}
	data, err := r.bytes("data")
	if err != nil {
		return nil, err
	}

	p.MimeType = string(mime)
	p.Description = string(desc)
	p.Data = append([]byte(nil), data...)
	return &p, nil
}

// EncodePictureBlock is the inverse of DecodePictureBlock.
func EncodePictureBlock(p *Picture) []byte {
	size := 4*8 + len(p.MimeType) + len(p.Description) + len(p.Data)
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, p.Type)
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.MimeType)))
	out = append(out, p.MimeType...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.Description)))
	out = append(out, p.Description...)
	out = binary.BigEndian.AppendUint32(out, p.Width)
	out = binary.BigEndian.AppendUint32(out, p.Height)
	out = binary.BigEndian.AppendUint32(out, p.Depth)
	out = binary.BigEndian.AppendUint32(out, p.Colors)
	out = binary.BigEndian.AppendUint32(out, uint32(len(p.Data)))
	return append(out, p.Data...)
}

// decodePictureComment decodes the base64 METADATA_BLOCK_PICTURE comment value.
func decodePictureComment(value string) (*Picture, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("%w: picture comment is not base64: %v", ErrCorruptFile, err)
	}
	return DecodePictureBlock(raw)
}

func encodePictureComment(p *Picture) string {
	return base64.StdEncoding.EncodeToString(EncodePictureBlock(p))
}
