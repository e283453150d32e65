package tags

import (
	"fmt"
	"io"
	"strings"

	"github.com/bogem/id3v2/v2"
)

// id3v2Frames maps ID3v2 text frame ids to canonical fields. TRCK and TPOS carry
// "pos/total" and fill both halves.
var id3v2Frames = map[string]Field{
	"TIT2": FieldTitle,
	"TPE1": FieldArtist,
	"TALB": FieldAlbum,
	"TPE2": FieldAlbumArtist,
	"TCON": FieldGenre,
	"TYER": FieldYear,
	"TDRC": FieldYear,
	"TRCK": FieldTrack,
	"TPOS": FieldDisc,
	"TCOM": FieldComposer,
	"TBPM": FieldBPM,
}

// id3v2WriteFrames is the frame each field is written to. Year, comment,
// lyrics and the fraction pairs are handled separately.
var id3v2WriteFrames = map[Field]string{
	FieldTitle:       "TIT2",
	FieldArtist:      "TPE1",
	FieldAlbum:       "TALB",
	FieldAlbumArtist: "TPE2",
	FieldGenre:       "TCON",
	FieldComposer:    "TCOM",
	FieldBPM:         "TBPM",
}

const (
	frameComment = "COMM"
	frameLyrics  = "USLT"
	framePicture = "APIC"
	frameUserTxt = "TXXX"
)

type id3v2Reader struct{}

func (id3v2Reader) Read(r io.ReadSeeker) (*Metadata, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}
	tag, err := id3v2.ParseReader(r, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("%w: id3v2: %v", ErrCorruptFile, err)
	}
	return fromID3v2(tag), nil
}

func fromID3v2(tag *id3v2.Tag) *Metadata {
	m := &Metadata{}
	for id, frames := range tag.AllFrames() {
		for _, frame := range frames {
			switch f := frame.(type) {
			case id3v2.TextFrame:
				text := cleanText(f.Text)
				if field, ok := id3v2Frames[id]; ok {
					if field == FieldGenre {
						text = resolveGenre(text)
					}
					m.Set(field, text)
					continue
				}
				m.SetCustom(id, text)
			case id3v2.UserDefinedTextFrame:
				m.SetCustom(f.Description, cleanText(f.Value))
			case id3v2.CommentFrame:
				if m.Comment == "" {
					m.Comment = cleanText(f.Text)
				} else {
					m.SetCustom(frameComment+":"+f.Description, cleanText(f.Text))
				}
			case id3v2.UnsynchronisedLyricsFrame:
				if m.Lyrics == "" {
					m.Lyrics = cleanText(f.Lyrics)
				}
			case id3v2.PictureFrame:
				// front cover wins over any other picture type
				if m.Picture == nil || f.PictureType == id3v2.PTFrontCover && m.Picture.Type != PictureFrontCover {
					m.Picture = &Picture{
						Type:        uint32(f.PictureType),
						MimeType:    f.MimeType,
						Description: f.Description,
						Data:        append([]byte(nil), f.Picture...),
					}
				}
			}
		}
	}
	return m
}

func cleanText(s string) string {
	s = strings.TrimRight(s, "\x00")
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", "; "))
}

// writeID3v2 applies changes to the ID3v2 tag of the file at path, creating
// one if missing.
func writeID3v2(path string, changes Changes) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("%w: open id3v2: %v", ErrCorruptFile, err)
	}
	defer tag.Close()

	enc := id3v2.EncodingUTF8
	if tag.Version() < 4 {
		enc = id3v2.EncodingUTF16
	}
	tag.SetDefaultEncoding(enc)

	for field, value := range changes.Fields {
		value = strings.TrimSpace(value)
		switch field {
		case FieldYear:
			tag.DeleteFrames("TYER")
			tag.DeleteFrames("TDRC")
			if value != "" {
				id := "TDRC"
				if tag.Version() < 4 {
					id = "TYER"
				}
				tag.AddTextFrame(id, enc, value)
			}
		case FieldComment:
			tag.DeleteFrames(frameComment)
			if value != "" {
				tag.AddCommentFrame(id3v2.CommentFrame{Encoding: enc, Language: "eng", Text: value})
			}
		case FieldLyrics:
			tag.DeleteFrames(frameLyrics)
			if value != "" {
				tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{Encoding: enc, Language: "eng", Lyrics: value})
			}
		case FieldTrack, FieldTrackTotal, FieldDisc, FieldDiscTotal:
			// handled below so pos and total merge into one frame
		default:
			id, ok := id3v2WriteFrames[field]
			if !ok {
				continue
			}
			tag.DeleteFrames(id)
			if value != "" {
				tag.AddTextFrame(id, enc, value)
			}
		}
	}
	writeFractionFrame(tag, enc, "TRCK", changes, FieldTrack, FieldTrackTotal)
	writeFractionFrame(tag, enc, "TPOS", changes, FieldDisc, FieldDiscTotal)

	if changes.ClearPicture || changes.Picture != nil {
		tag.DeleteFrames(framePicture)
	}
	if p := changes.Picture; p != nil {
		pt := byte(p.Type)
		if pt == 0 {
			pt = id3v2.PTFrontCover
		}
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    enc,
			MimeType:    p.MimeType,
			PictureType: pt,
			Description: p.Description,
			Picture:     p.Data,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save id3v2: %w", err)
	}
	return nil
}

func writeFractionFrame(tag *id3v2.Tag, enc id3v2.Encoding, id string, changes Changes, posField, totalField Field) {
	posVal, posChanged := changes.Fields[posField]
	totalVal, totalChanged := changes.Fields[totalField]
	if !posChanged && !totalChanged {
		return
	}
	pos, total := ParseFraction(cleanText(tag.GetTextFrame(id).Text))
	if posChanged {
		var t *int
		pos, t = ParseFraction(posVal)
		if t != nil {
			total = t
		}
	}
	if totalChanged {
		total = parseInt(totalVal)
	}
	tag.DeleteFrames(id)
	if v := formatFraction(pos, total); v != "" {
		tag.AddTextFrame(id, enc, v)
	}
}
