package tags

import (
	"bytes"
	"os"
	"testing"

	"QFMIngest/testsupport/fixture"

	"github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFLACFieldsAndPicture(t *testing.T) {
	audio := bytes.Repeat([]byte{0xFF, 0xF8, 0x69, 0x08}, 64)
	path := writeTemp(t, "song.flac", fixture.FLAC([]string{
		"TITLE=Old",
		"ALBUM ARTIST=Someone",
		"TRACKNUMBER=2/9",
		"CUSTOMTAG=keep me",
	}, []fixture.Picture{samplePicture()}, audio))

	newCover := &Picture{MimeType: "image/jpeg", Description: "new", Data: []byte{0xFF, 0xD8}}
	err := Write(path, FormatFLAC, Changes{
		Fields: map[Field]string{
			FieldTitle:       "New",
			FieldAlbumArtist: "",
			FieldTrackTotal:  "10",
			FieldGenre:       "IDM",
		},
		Picture: newCover,
	})
	require.NoError(t, err)

	m, format, err := Extract(path)
	require.NoError(t, err)
	assert.Equal(t, FormatFLAC, format)
	assert.Equal(t, "New", m.Title)
	assert.Empty(t, m.AlbumArtist)
	assert.Equal(t, "2", m.Get(FieldTrack))
	assert.Equal(t, "10", m.Get(FieldTrackTotal))
	assert.Equal(t, "IDM", m.Genre)
	assert.Equal(t, map[string]string{"CUSTOMTAG": "keep me"}, m.Custom)
	require.NotNil(t, m.Picture)
	assert.Equal(t, "new", m.Picture.Description)
	assert.Equal(t, uint32(PictureFrontCover), m.Picture.Type)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(raw, audio), "audio frames copied verbatim")

	blocks, _, err := readFLACBlocks(bytes.NewReader(raw))
	require.NoError(t, err)
	pictures := 0
	for _, b := range blocks {
		if b.Type == flacPicture {
			pictures++
		}
	}
	assert.Equal(t, 1, pictures)
	assert.Equal(t, byte(flacStreamInfo), blocks[0].Type)
}

func TestWriteFLACClearPictureAndAddComments(t *testing.T) {
	path := writeTemp(t, "bare.flac", fixture.FLACWithBlocks([]fixture.FLACBlock{
		{Type: 6, Data: samplePicture().Block()},
	}, []byte{0xFF, 0xF8}))

	require.NoError(t, Write(path, FormatFLAC, Changes{
		Fields:       map[Field]string{FieldTitle: "Fresh"},
		ClearPicture: true,
	}))

	m, _, err := Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", m.Title)
	assert.Nil(t, m.Picture)
}

func TestWriteMP3(t *testing.T) {
	path := taggedMP3(t, func(tag *id3v2.Tag) {
		tag.AddTextFrame("TIT2", id3v2.EncodingUTF8, "Old")
		tag.AddTextFrame("TRCK", id3v2.EncodingUTF8, "4/11")
		tag.AddTextFrame("TSRC", id3v2.EncodingUTF8, "KEEP")
	})

	err := Write(path, FormatMP3, Changes{
		Fields: map[Field]string{
			FieldTitle:      "New",
			FieldTrackTotal: "12",
			FieldYear:       "2002",
			FieldComment:    "hello",
		},
		Picture: &Picture{MimeType: "image/png", Data: []byte{0x89, 'P'}},
	})
	require.NoError(t, err)

	m, _, err := Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "New", m.Title)
	assert.Equal(t, "4", m.Get(FieldTrack))
	assert.Equal(t, "12", m.Get(FieldTrackTotal))
	assert.Equal(t, "2002", m.Year)
	assert.Equal(t, "hello", m.Comment)
	assert.Equal(t, "KEEP", m.Custom["TSRC"])
	require.NotNil(t, m.Picture)
	assert.Equal(t, []byte{0x89, 'P'}, m.Picture.Data)

	require.NoError(t, Write(path, FormatMP3, Changes{
		Fields:       map[Field]string{FieldComment: ""},
		ClearPicture: true,
	}))
	m, _, err = Extract(path)
	require.NoError(t, err)
	assert.Empty(t, m.Comment)
	assert.Nil(t, m.Picture)
}

func TestWriteMP3WithoutTag(t *testing.T) {
	path := writeTemp(t, "bare.mp3", fixture.MPEGFrames(3))
	require.NoError(t, Write(path, FormatMP3, Changes{Fields: map[Field]string{FieldArtist: "BoC"}}))

	m, format, err := Extract(path)
	require.NoError(t, err)
	assert.Equal(t, FormatMP3, format)
	assert.Equal(t, "BoC", m.Artist)
}

func TestWriteUnsupported(t *testing.T) {
	path := writeTemp(t, "a.ogg", fixture.OggVorbis("TITLE=x"))
	err := Write(path, FormatOggVorbis, Changes{Fields: map[Field]string{FieldTitle: "y"}})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.NoError(t, Write(path, FormatOggVorbis, Changes{}), "empty changes are a no-op")
}
