package tags

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Reader extracts metadata from one tag flavour.
type Reader interface {
	Read(r io.ReadSeeker) (*Metadata, error)
}

// mp3Reader prefers ID3v2 and fills gaps from an ID3v1 trailer.
type mp3Reader struct{}

func (mp3Reader) Read(r io.ReadSeeker) (*Metadata, error) {
	v1, err := id3v1Reader{}.Read(r)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	head := make([]byte, 3)
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, []byte("ID3")) {
		return v1, nil
	}
	m, err := id3v2Reader{}.Read(r)
	if err != nil {
		return nil, err
	}
	m.fill(v1)
	return m, nil
}

type unsupportedReader struct {
	format Format
}

func (u unsupportedReader) Read(io.ReadSeeker) (*Metadata, error) {
	return nil, fmt.Errorf("%w: no tag reader for %q", ErrUnsupportedFormat, u.format)
}

// ReaderFor returns the tag reader for f.
func ReaderFor(f Format) Reader {
	switch f {
	case FormatMP3:
		return mp3Reader{}
	case FormatFLAC:
		return flacReader{}
	case FormatOggVorbis, FormatOggOpus:
		return oggReader{format: f}
	default:
		return unsupportedReader{format: f}
	}
}

// Extract identifies the file at path and reads its tags.
func Extract(path string) (*Metadata, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FormatUnknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	format, err := Identify(f)
	if err != nil {
		return nil, FormatUnknown, err
	}
	m, err := ReaderFor(format).Read(f)
	if err != nil {
		return nil, format, err
	}
	return m, format, nil
}
