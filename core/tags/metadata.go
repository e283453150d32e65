package tags

import (
	"encoding/json"
	"sort"
	"strings"
)

// Field is a canonical metadata field.
type Field int

const (
	FieldTitle Field = iota + 1
	FieldArtist
	FieldAlbum
	FieldAlbumArtist
	FieldGenre
	FieldYear
	FieldTrack
	FieldTrackTotal
	FieldDisc
	FieldDiscTotal
	FieldComposer
	FieldComment
	FieldLyrics
	FieldBPM
)

// CustomKey is the record name under which unrecognised frames are stored as JSON.
const CustomKey = "custom"

var fieldNames = map[Field]string{
	FieldTitle:       "title",
	FieldArtist:      "artist",
	FieldAlbum:       "album",
	FieldAlbumArtist: "album_artist",
	FieldGenre:       "genre",
	FieldYear:        "year",
	FieldTrack:       "track",
	FieldTrackTotal:  "track_total",
	FieldDisc:        "disc",
	FieldDiscTotal:   "disc_total",
	FieldComposer:    "composer",
	FieldComment:     "comment",
	FieldLyrics:      "lyrics",
	FieldBPM:         "bpm",
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, len(fieldNames))
	for f, n := range fieldNames {
		m[n] = f
	}
	return m
}()

// AllFields lists the canonical fields in declaration order.
func AllFields() []Field {
	out := make([]Field, 0, len(fieldNames))
	for f := FieldTitle; f <= FieldBPM; f++ {
		out = append(out, f)
	}
	return out
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "unknown"
}

// FieldByName resolves a canonical record name.
func FieldByName(name string) (Field, bool) {
	f, ok := fieldsByName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Picture is an embedded image.
type Picture struct {
	Type        uint32 // ID3/FLAC picture type, 3 = front cover
	MimeType    string
	Description string
	Width       uint32
	Height      uint32
	Depth       uint32
	Colors      uint32
	Data        []byte
}

// PictureFrontCover is the picture type used for art set by the library.
const PictureFrontCover = 3

// Metadata is the normalised tag record of one file.
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Year        string
	Track       *int
	TrackTotal  *int
	Disc        *int
	DiscTotal   *int
	Composer    string
	Comment     string
	Lyrics      string
	BPM         string

	// Custom keeps unrecognised frames verbatim, keyed by their format-specific name.
	Custom  map[string]string
	Picture *Picture
}

// Set assigns value to f. Track and disc accept "pos/total"; a total in the
// value also fills the matching *Total field.
func (m *Metadata) Set(f Field, value string) {
	value = strings.TrimSpace(value)
	switch f {
	case FieldTitle:
		m.Title = value
	case FieldArtist:
		m.Artist = value
	case FieldAlbum:
		m.Album = value
	case FieldAlbumArtist:
		m.AlbumArtist = value
	case FieldGenre:
		m.Genre = value
	case FieldYear:
		m.Year = value
	case FieldTrack:
		pos, total := ParseFraction(value)
		m.Track = pos
		if total != nil {
			m.TrackTotal = total
		}
	case FieldTrackTotal:
		m.TrackTotal = parseInt(value)
	case FieldDisc:
		pos, total := ParseFraction(value)
		m.Disc = pos
		if total != nil {
			m.DiscTotal = total
		}
	case FieldDiscTotal:
		m.DiscTotal = parseInt(value)
	case FieldComposer:
		m.Composer = value
	case FieldComment:
		m.Comment = value
	case FieldLyrics:
		m.Lyrics = value
	case FieldBPM:
		m.BPM = value
	}
}

// Get returns the string form of f, or "" when unset.
func (m *Metadata) Get(f Field) string {
	switch f {
	case FieldTitle:
		return m.Title
	case FieldArtist:
		return m.Artist
	case FieldAlbum:
		return m.Album
	case FieldAlbumArtist:
		return m.AlbumArtist
	case FieldGenre:
		return m.Genre
	case FieldYear:
		return m.Year
	case FieldTrack:
		return intString(m.Track)
	case FieldTrackTotal:
		return intString(m.TrackTotal)
	case FieldDisc:
		return intString(m.Disc)
	case FieldDiscTotal:
		return intString(m.DiscTotal)
	case FieldComposer:
		return m.Composer
	case FieldComment:
		return m.Comment
	case FieldLyrics:
		return m.Lyrics
	case FieldBPM:
		return m.BPM
	}
	return ""
}

// SetCustom stores an unrecognised frame. Repeated keys are joined with "; ".
func (m *Metadata) SetCustom(key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	if m.Custom == nil {
		m.Custom = make(map[string]string)
	}
	if prev, ok := m.Custom[key]; ok && prev != "" {
		value = prev + "; " + value
	}
	m.Custom[key] = value
}

// Records flattens the metadata into canonical name -> value. Unset fields are
// omitted and the custom bag is merged as one JSON object under CustomKey.
func (m *Metadata) Records() map[string]string {
	out := make(map[string]string, len(fieldNames)+1)
	for _, f := range AllFields() {
		if v := m.Get(f); v != "" {
			out[f.String()] = v
		}
	}
	if len(m.Custom) > 0 {
		// encoding/json sorts map keys, so the value is stable
		if b, err := json.Marshal(m.Custom); err == nil {
			out[CustomKey] = string(b)
		}
	}
	return out
}

// CustomKeys returns the custom bag keys in sorted order.
func (m *Metadata) CustomKeys() []string {
	keys := make([]string, 0, len(m.Custom))
	for k := range m.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fill copies fields set in other into m where m has none.
func (m *Metadata) fill(other *Metadata) {
	if other == nil {
		return
	}
	for _, f := range AllFields() {
		if m.Get(f) == "" {
			if v := other.Get(f); v != "" {
				m.Set(f, v)
			}
		}
	}
	for k, v := range other.Custom {
		if _, ok := m.Custom[k]; !ok {
			m.SetCustom(k, v)
		}
	}
	if m.Picture == nil {
		m.Picture = other.Picture
	}
}
