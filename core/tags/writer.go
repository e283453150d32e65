package tags

import "fmt"

// Changes is a set of tag edits. An empty field value removes the field.
type Changes struct {
	Fields       map[Field]string
	Picture      *Picture // replaces every embedded picture when set
	ClearPicture bool
}

// Empty reports whether applying c would change nothing.
func (c Changes) Empty() bool {
	return len(c.Fields) == 0 && c.Picture == nil && !c.ClearPicture
}

// Write applies changes to the file at path in place.
func Write(path string, format Format, changes Changes) error {
	if changes.Empty() {
		return nil
	}
	switch format {
	case FormatMP3:
		return writeID3v2(path, changes)
	case FormatFLAC:
		return writeFLAC(path, changes)
	default:
		return fmt.Errorf("%w: writing %q tags", ErrUnsupportedFormat, format)
	}
}
