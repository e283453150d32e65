package tags

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	flacStreamInfo    = 0
	flacPadding       = 1
	flacVorbisComment = 4
	flacPicture       = 6

	flacMaxBlock = 1<<24 - 1
)

type flacBlock struct {
	Type byte
	Data []byte
}

// readFLACBlocks reads the metadata blocks following the "fLaC" marker and
// returns them with the offset where audio frames start.
func readFLACBlocks(r io.ReadSeeker) ([]flacBlock, int64, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("rewind: %w", err)
	}
	br := bufio.NewReader(r)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil || !bytes.Equal(magic, []byte("fLaC")) {
		return nil, 0, fmt.Errorf("%w: missing fLaC marker", ErrCorruptFile)
	}

	offset := int64(4)
	var blocks []flacBlock
	for {
		hdr := make([]byte, 4)
		if _, err := io.ReadFull(br, hdr); err != nil {
			return nil, 0, fmt.Errorf("%w: truncated block header at %d", ErrCorruptFile, offset)
		}
		last := hdr[0]&0x80 != 0
		typ := hdr[0] & 0x7F
		size := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, 0, fmt.Errorf("%w: block type %d of %d bytes truncated at %d", ErrCorruptFile, typ, size, offset)
		}
		offset += 4 + int64(size)
		blocks = append(blocks, flacBlock{Type: typ, Data: data})
		if last {
			break
		}
	}
	if len(blocks) == 0 || blocks[0].Type != flacStreamInfo {
		return nil, 0, fmt.Errorf("%w: first block is not STREAMINFO", ErrCorruptFile)
	}
	return blocks, offset, nil
}

type flacReader struct{}

func (flacReader) Read(r io.ReadSeeker) (*Metadata, error) {
	blocks, _, err := readFLACBlocks(r)
	if err != nil {
		return nil, err
	}
	m := &Metadata{}
	for _, b := range blocks {
		switch b.Type {
		case flacVorbisComment:
			vc, err := parseVorbisComments(b.Data)
			if err != nil {
				return nil, err
			}
			if err := vc.metadata(m); err != nil {
				return nil, err
			}
		case flacPicture:
			p, err := DecodePictureBlock(b.Data)
			if err != nil {
				return nil, err
			}
			if m.Picture == nil || p.Type == PictureFrontCover && m.Picture.Type != PictureFrontCover {
				m.Picture = p
			}
		}
	}
	return m, nil
}

// writeFLAC rewrites the metadata blocks of the file at path. STREAMINFO, other
// blocks and the audio frames are copied byte for byte; the file is replaced
// atomically via a sibling temp file.
func writeFLAC(path string, changes Changes) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open flac: %w", err)
	}
	defer src.Close()

	blocks, audioStart, err := readFLACBlocks(src)
	if err != nil {
		return err
	}

	vc := &vorbisComments{Vendor: "QFMIngest"}
	out := make([]flacBlock, 0, len(blocks)+2)
	commentAt := -1
	for _, b := range blocks {
		switch b.Type {
		case flacVorbisComment:
			if commentAt >= 0 {
				continue
			}
			parsed, err := parseVorbisComments(b.Data)
			if err != nil {
				return err
			}
			vc = parsed
			commentAt = len(out)
			out = append(out, b)
		case flacPicture:
			if changes.Picture != nil || changes.ClearPicture {
				continue
			}
			out = append(out, b)
		default:
			out = append(out, b)
		}
	}
	if commentAt < 0 {
		// directly after STREAMINFO
		commentAt = 1
		out = append(out[:1], append([]flacBlock{{Type: flacVorbisComment}}, out[1:]...)...)
	}
	vc.apply(changes)
	out[commentAt].Data = vc.encode()

	if p := changes.Picture; p != nil {
		pic := *p
		if pic.Type == 0 {
			pic.Type = PictureFrontCover
		}
		out = insertBeforePadding(out, flacBlock{Type: flacPicture, Data: EncodePictureBlock(&pic)})
	}

	for _, b := range out {
		if len(b.Data) > flacMaxBlock {
			return fmt.Errorf("%w: block type %d exceeds %d bytes", ErrUnsupportedFormat, b.Type, flacMaxBlock)
		}
	}

	if _, err := src.Seek(audioStart, io.SeekStart); err != nil {
		return fmt.Errorf("seek audio frames: %w", err)
	}
	return replaceFile(path, func(w io.Writer) error {
		if _, err := w.Write([]byte("fLaC")); err != nil {
			return err
		}
		for i, b := range out {
			hdr := []byte{b.Type & 0x7F, byte(len(b.Data) >> 16), byte(len(b.Data) >> 8), byte(len(b.Data))}
			if i == len(out)-1 {
				hdr[0] |= 0x80
			}
			if _, err := w.Write(hdr); err != nil {
				return err
			}
			if _, err := w.Write(b.Data); err != nil {
				return err
			}
		}
		_, err := io.Copy(w, src)
		return err
	})
}

func insertBeforePadding(blocks []flacBlock, b flacBlock) []flacBlock {
	for i, existing := range blocks {
		if existing.Type == flacPadding {
			return append(blocks[:i], append([]flacBlock{b}, blocks[i:]...)...)
		}
	}
	return append(blocks, b)
}

// replaceFile writes a sibling temp file with fill and renames it over path.
func replaceFile(path string, fill func(io.Writer) error) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("flush %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
