package tags

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const id3v1Size = 128

// id3v1Reader reads the fixed 128-byte "TAG" trailer. Text is ISO-8859-1.
type id3v1Reader struct{}

func (id3v1Reader) Read(r io.ReadSeeker) (*Metadata, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek end: %w", err)
	}
	if size < id3v1Size {
		return &Metadata{}, nil
	}
	if _, err := r.Seek(size-id3v1Size, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek id3v1: %w", err)
	}
	buf := make([]byte, id3v1Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read id3v1: %w", err)
	}
	return parseID3v1(buf), nil
}

func parseID3v1(b []byte) *Metadata {
	m := &Metadata{}
	if len(b) != id3v1Size || !bytes.HasPrefix(b, []byte("TAG")) {
		return m
	}
	m.Title = latin1(b[3:33])
	m.Artist = latin1(b[33:63])
	m.Album = latin1(b[63:93])
	m.Year = latin1(b[93:97])

	comment := b[97:127]
	// ID3v1.1: a zero byte followed by a non-zero track number
	if comment[28] == 0 && comment[29] != 0 {
		track := int(comment[29])
		m.Track = &track
		comment = comment[:28]
	}
	m.Comment = latin1(comment)
	if g := int(b[127]); g < len(id3v1Genres) {
		m.Genre = id3v1Genres[g]
	}
	return m
}

func latin1(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return strings.TrimSpace(string(b))
	}
	return strings.TrimSpace(string(out))
}

var genreRefRe = regexp.MustCompile(`^\((\d+)\)(.*)$`)

// resolveGenre expands numeric ID3 genre references such as "(17)" or "17".
func resolveGenre(s string) string {
	s = strings.TrimSpace(s)
	if m := genreRefRe.FindStringSubmatch(s); m != nil {
		if rest := strings.TrimSpace(m[2]); rest != "" {
			return rest
		}
		s = m[1]
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(id3v1Genres) {
		return id3v1Genres[n]
	}
	return s
}

// id3v1Genres is the ID3v1 genre index table including the Winamp extensions.
var id3v1Genres = []string{
	"Blues", "Classic Rock", "Country", "Dance", "Disco", "Funk", "Grunge", "Hip-Hop",
	"Jazz", "Metal", "New Age", "Oldies", "Other", "Pop", "R&B", "Rap",
	"Reggae", "Rock", "Techno", "Industrial", "Alternative", "Ska", "Death Metal", "Pranks",
	"Soundtrack", "Euro-Techno", "Ambient", "Trip-Hop", "Vocal", "Jazz+Funk", "Fusion", "Trance",
	"Classical", "Instrumental", "Acid", "House", "Game", "Sound Clip", "Gospel", "Noise",
	"AlternRock", "Bass", "Soul", "Punk", "Space", "Meditative", "Instrumental Pop", "Instrumental Rock",
	"Ethnic", "Gothic", "Darkwave", "Techno-Industrial", "Electronic", "Pop-Folk", "Eurodance", "Dream",
	"Southern Rock", "Comedy", "Cult", "Gangsta", "Top 40", "Christian Rap", "Pop/Funk", "Jungle",
	"Native American", "Cabaret", "New Wave", "Psychadelic", "Rave", "Showtunes", "Trailer", "Lo-Fi",
	"Tribal", "Acid Punk", "Acid Jazz", "Polka", "Retro", "Musical", "Rock & Roll", "Hard Rock",
	"Folk", "Folk-Rock", "National Folk", "Swing", "Fast Fusion", "Bebob", "Latin", "Revival",
	"Celtic", "Bluegrass", "Avantgarde", "Gothic Rock", "Progressive Rock", "Psychedelic Rock", "Symphonic Rock", "Slow Rock",
	"Big Band", "Chorus", "Easy Listening", "Acoustic", "Humour", "Speech", "Chanson", "Opera",
	"Chamber Music", "Sonata", "Symphony", "Booty Bass", "Primus", "Porn Groove", "Satire", "Slow Jam",
	"Club", "Tango", "Samba", "Folklore", "Ballad", "Power Ballad", "Rhythmic Soul", "Freestyle",
	"Duet", "Punk Rock", "Drum Solo", "A capella", "Euro-House", "Dance Hall",
}
