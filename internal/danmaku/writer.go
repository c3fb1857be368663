// Package danmaku captures live chat into XML transcript sidecars and
// renders closed transcripts into ASS subtitle overlays for burn-in.
//
// The transcript dialect is the bilibili comment format: a root <i>
// element holding <d> entries whose p attribute packs the display
// parameters as "offset,mode,size,color,unixSeconds,pool,uid,row".
package danmaku

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Display modes for transcript entries.
const (
	ModeScrolling = 1
	ModeBottom    = 4
	ModeTop       = 5
)

const (
	defaultTextSize  = 25
	colorWhite       = 16777215
	transcriptHeader = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<i>\n"
	transcriptFooter = "</i>\n"
)

// xmlEscaper covers the characters that break XML text content. Entry
// text never lands in an attribute, so quote escaping is not needed.
var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Entry is one chat message with its display parameters. Fields are
// written verbatim; use NewChatEntry for the standard defaults.
type Entry struct {
	Offset float64 // seconds from transcript start
	Text   string
	Mode   int
	Size   int
	Color  int
	Time   int64 // unix seconds
	Pool   int
	UserID int64
	Row    int
}

// NewChatEntry returns a plain scrolling chat entry timestamped now.
func NewChatEntry(offset float64, text string) Entry {
	return Entry{
		Offset: offset,
		Text:   text,
		Mode:   ModeScrolling,
		Size:   defaultTextSize,
		Color:  colorWhite,
		Time:   time.Now().Unix(),
	}
}

// Transcript is an append-only writer for the XML dialect. Writes go
// straight to the file, so a crash mid-segment loses at most one entry
// and the file stays parseable once closed. A Transcript is
// single-writer; callers must not share one across goroutines.
type Transcript struct {
	path string
	file *os.File
}

// CreateTranscript creates path (and any missing parent directories),
// truncating an existing file, and writes the document header.
func CreateTranscript(path string) (*Transcript, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating transcript directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating transcript: %w", err)
	}
	if _, err := file.WriteString(transcriptHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing transcript header: %w", err)
	}
	return &Transcript{path: path, file: file}, nil
}

// Path returns the transcript's file path.
func (t *Transcript) Path() string {
	return t.path
}

// WriteChat appends a chat message with the standard display defaults.
func (t *Transcript) WriteChat(offset float64, text string) error {
	return t.WriteEntry(NewChatEntry(offset, text))
}

// WriteEntry appends one entry.
func (t *Transcript) WriteEntry(e Entry) error {
	if t.file == nil {
		return errors.New("transcript is closed")
	}
	p := fmt.Sprintf("%.2f,%d,%d,%d,%d,%d,%d,%d",
		e.Offset, e.Mode, e.Size, e.Color, e.Time, e.Pool, e.UserID, e.Row)
	if _, err := fmt.Fprintf(t.file, "<d p=\"%s\">%s</d>\n", p, xmlEscaper.Replace(e.Text)); err != nil {
		return fmt.Errorf("writing transcript entry: %w", err)
	}
	return nil
}

// Close writes the closing root tag and closes the file. Closing an
// already-closed Transcript is a no-op.
func (t *Transcript) Close() error {
	if t.file == nil {
		return nil
	}
	file := t.file
	t.file = nil
	if _, err := file.WriteString(transcriptFooter); err != nil {
		file.Close()
		return fmt.Errorf("writing transcript footer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	return nil
}
