package tags

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// xiphKeys maps upper-cased Vorbis comment names to canonical fields.
var xiphKeys = map[string]Field{
	"TITLE":          FieldTitle,
	"ARTIST":         FieldArtist,
	"ALBUM":          FieldAlbum,
	"ALBUMARTIST":    FieldAlbumArtist,
	"ALBUM ARTIST":   FieldAlbumArtist,
	"GENRE":          FieldGenre,
	"DATE":           FieldYear,
	"YEAR":           FieldYear,
	"TRACKNUMBER":    FieldTrack,
	"TRACKTOTAL":     FieldTrackTotal,
	"TOTALTRACKS":    FieldTrackTotal,
	"DISCNUMBER":     FieldDisc,
	"DISCTOTAL":      FieldDiscTotal,
	"TOTALDISCS":     FieldDiscTotal,
	"COMPOSER":       FieldComposer,
	"COMMENT":        FieldComment,
	"DESCRIPTION":    FieldComment,
	"LYRICS":         FieldLyrics,
	"UNSYNCEDLYRICS": FieldLyrics,
	"BPM":            FieldBPM,
}

// xiphWriteKeys is the name each field is written under.
var xiphWriteKeys = map[Field]string{
	FieldTitle:       "TITLE",
	FieldArtist:      "ARTIST",
	FieldAlbum:       "ALBUM",
	FieldAlbumArtist: "ALBUMARTIST",
	FieldGenre:       "GENRE",
	FieldYear:        "DATE",
	FieldTrack:       "TRACKNUMBER",
	FieldTrackTotal:  "TRACKTOTAL",
	FieldDisc:        "DISCNUMBER",
	FieldDiscTotal:   "DISCTOTAL",
	FieldComposer:    "COMPOSER",
	FieldComment:     "COMMENT",
	FieldLyrics:      "LYRICS",
	FieldBPM:         "BPM",
}

const pictureCommentKey = "METADATA_BLOCK_PICTURE"

type comment struct {
	Key   string
	Value string
}

// vorbisComments is a decoded comment header. Order is preserved on rewrite.
type vorbisComments struct {
	Vendor   string
	Comments []comment
}

// parseVorbisComments decodes the little-endian comment structure shared by
// FLAC VORBIS_COMMENT blocks and Ogg comment packets.
func parseVorbisComments(b []byte) (*vorbisComments, error) {
	off := 0
	next := func(what string) ([]byte, error) {
		if len(b)-off < 4 {
			return nil, fmt.Errorf("%w: vorbis comment %s length overruns block", ErrCorruptFile, what)
		}
		n := binary.LittleEndian.Uint32(b[off:])
		off += 4
		if uint64(n) > uint64(len(b)-off) {
			return nil, fmt.Errorf("%w: vorbis comment %s length %d exceeds block", ErrCorruptFile, what, n)
		}
		v := b[off : off+int(n)]
		off += int(n)
		return v, nil
	}

	vendor, err := next("vendor")
	if err != nil {
		return nil, err
	}
	if len(b)-off < 4 {
		return nil, fmt.Errorf("%w: vorbis comment count missing", ErrCorruptFile)
	}
	count := binary.LittleEndian.Uint32(b[off:])
	off += 4

	vc := &vorbisComments{Vendor: string(vendor)}
	for i := uint32(0); i < count; i++ {
		raw, err := next("entry")
		if err != nil {
			return nil, err
		}
		key, value, ok := strings.Cut(string(raw), "=")
		if !ok {
			continue
		}
		vc.Comments = append(vc.Comments, comment{Key: key, Value: value})
	}
	return vc, nil
}

func (vc *vorbisComments) encode() []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(vc.Vendor)))
	out = append(out, vc.Vendor...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(vc.Comments)))
	for _, c := range vc.Comments {
		entry := c.Key + "=" + c.Value
		out = binary.LittleEndian.AppendUint32(out, uint32(len(entry)))
		out = append(out, entry...)
	}
	return out
}

// metadata maps the comments onto m. Picture comments are decoded; a corrupt
// one fails the whole read since its offsets cannot be trusted.
func (vc *vorbisComments) metadata(m *Metadata) error {
	for _, c := range vc.Comments {
		key := strings.ToUpper(strings.TrimSpace(c.Key))
		if key == pictureCommentKey {
			p, err := decodePictureComment(c.Value)
			if err != nil {
				return err
			}
			if m.Picture == nil || p.Type == PictureFrontCover && m.Picture.Type != PictureFrontCover {
				m.Picture = p
			}
			continue
		}
		field, ok := xiphKeys[key]
		if !ok {
			m.SetCustom(c.Key, c.Value)
			continue
		}
		// the first value of a field wins
		if m.Get(field) != "" {
			continue
		}
		m.Set(field, c.Value)
	}
	return nil
}

// apply rewrites the comment list for changes. Every alias of a changed field
// is removed before the new value is appended.
func (vc *vorbisComments) apply(changes Changes) {
	drop := make(map[Field]bool, len(changes.Fields))
	for f := range changes.Fields {
		drop[f] = true
	}
	_, totalChanged := changes.Fields[FieldTrackTotal]
	_, discTotalChanged := changes.Fields[FieldDiscTotal]
	pictureChanged := changes.Picture != nil || changes.ClearPicture

	kept := vc.Comments[:0]
	for _, c := range vc.Comments {
		key := strings.ToUpper(strings.TrimSpace(c.Key))
		if key == pictureCommentKey && pictureChanged {
			continue
		}
		if f, ok := xiphKeys[key]; ok {
			if drop[f] {
				continue
			}
			// a total written separately must not also ride in the number
			if (f == FieldTrack && totalChanged) || (f == FieldDisc && discTotalChanged) {
				if pos, _ := ParseFraction(c.Value); pos != nil {
					c.Value = intString(pos)
				}
			}
		}
		kept = append(kept, c)
	}
	vc.Comments = kept

	for _, f := range AllFields() {
		value, ok := changes.Fields[f]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		vc.Comments = append(vc.Comments, comment{Key: xiphWriteKeys[f], Value: strings.TrimSpace(value)})
	}
}
