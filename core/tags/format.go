// Package tags identifies audio containers and reads and writes their embedded
// metadata in a single canonical record.
package tags

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"QFMIngest/core/pipeline"
)

// Format is the container/tag flavour of an audio file.
type Format string

const (
	FormatUnknown   Format = ""
	FormatMP3       Format = "mp3"
	FormatFLAC      Format = "flac"
	FormatOggVorbis Format = "ogg-vorbis"
	FormatOggOpus   Format = "ogg-opus"
)

var (
	ErrUnsupportedFormat = fmt.Errorf("unsupported format: %w", pipeline.ErrFormat)
	ErrCorruptFile       = fmt.Errorf("corrupt file: %w", pipeline.ErrFormat)
)

// Extension returns the usual file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatFLAC:
		return "flac"
	case FormatOggVorbis:
		return "ogg"
	case FormatOggOpus:
		return "opus"
	default:
		return ""
	}
}

// ContentType is the MIME type used when uploading a file of format f.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatOggVorbis:
		return "audio/ogg"
	case FormatOggOpus:
		return "audio/opus"
	default:
		return "application/octet-stream"
	}
}

// ContentTypeForExtension maps a preset extension onto a MIME type.
func ContentTypeForExtension(ext string) string {
	for _, f := range []Format{FormatMP3, FormatFLAC, FormatOggVorbis, FormatOggOpus} {
		if f.Extension() == ext {
			return f.ContentType()
		}
	}
	return FormatUnknown.ContentType()
}

const sniffLen = 512

// Identify detects the container from its magic bytes. The reader is rewound
// to the start before returning.
func Identify(r io.ReadSeeker) (Format, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, fmt.Errorf("rewind: %w", err)
	}
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("read header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, fmt.Errorf("rewind: %w", err)
	}
	return identifyBytes(buf[:n])
}

func identifyBytes(b []byte) (Format, error) {
	if len(b) < 4 {
		return FormatUnknown, fmt.Errorf("%w: header is %d bytes", ErrCorruptFile, len(b))
	}
	switch {
	case bytes.HasPrefix(b, []byte("ID3")):
		return FormatMP3, nil
	case bytes.HasPrefix(b, []byte("fLaC")):
		return FormatFLAC, nil
	case bytes.HasPrefix(b, []byte("OggS")):
		return identifyOgg(b)
	case bytes.HasPrefix(b, []byte("RIFF")):
		return FormatUnknown, fmt.Errorf("%w: RIFF/WAVE", ErrUnsupportedFormat)
	case len(b) >= 8 && bytes.Equal(b[4:8], []byte("ftyp")):
		return FormatUnknown, fmt.Errorf("%w: MP4", ErrUnsupportedFormat)
	case isMPEGSync(b):
		return FormatMP3, nil
	}
	return FormatUnknown, ErrUnsupportedFormat
}

// isMPEGSync matches an MPEG audio frame header: 11 sync bits, a valid version
// and a non-reserved layer.
func isMPEGSync(b []byte) bool {
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	return version != 0x01 && layer != 0x00
}

func identifyOgg(b []byte) (Format, error) {
	if len(b) < oggHeaderLen {
		return FormatUnknown, fmt.Errorf("%w: truncated ogg page", ErrCorruptFile)
	}
	segments := int(b[26])
	start := oggHeaderLen + segments
	if len(b) < start+8 {
		return FormatUnknown, fmt.Errorf("%w: truncated ogg page", ErrCorruptFile)
	}
	packet := b[start:]
	switch {
	case bytes.HasPrefix(packet, []byte("\x01vorbis")):
		return FormatOggVorbis, nil
	case bytes.HasPrefix(packet, []byte("OpusHead")):
		return FormatOggOpus, nil
	}
	return FormatUnknown, fmt.Errorf("%w: ogg stream", ErrUnsupportedFormat)
}
