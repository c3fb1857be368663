package danmaku

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Overlay timing. Scrolling entries cross the frame in scrollSeconds;
// pinned entries hold their position for stillSeconds.
const (
	scrollSeconds = 12.0
	stillSeconds  = 5.0
	overlayFont   = "SimHei"
	laneGap       = 4
)

// assEscaper neutralizes override blocks and line breaks in entry text.
var assEscaper = strings.NewReplacer("{", "\\{", "}", "\\}", "\r", "", "\n", "\\N")

// RenderOptions control how a transcript is rendered into subtitles.
// Width and Height come from probing the recorded video; font sizes
// come from configuration.
type RenderOptions struct {
	Width      int
	Height     int
	FontSize   int
	SCFontSize int
}

func (o RenderOptions) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid render resolution %dx%d", o.Width, o.Height)
	}
	if o.FontSize <= 0 || o.SCFontSize <= 0 {
		return fmt.Errorf("invalid font sizes %d/%d", o.FontSize, o.SCFontSize)
	}
	return nil
}

func (o RenderOptions) laneHeight() int {
	return o.FontSize + laneGap
}

// ParseTranscript reads entries from transcript XML. Entries whose
// offset does not parse are dropped; other malformed parameter fields
// fall back to the writer defaults.
func ParseTranscript(r io.Reader) ([]Entry, error) {
	var doc struct {
		Entries []struct {
			P    string `xml:"p,attr"`
			Text string `xml:",chardata"`
		} `xml:"d"`
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}
	entries := make([]Entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		entry, ok := parseEntry(e.P, e.Text)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseEntry(p, text string) (Entry, bool) {
	fields := strings.Split(p, ",")
	if len(fields) < 8 {
		return Entry{}, false
	}
	offset, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || offset < 0 {
		return Entry{}, false
	}
	e := Entry{
		Offset: offset,
		Text:   text,
		Mode:   atoiDefault(fields[1], ModeScrolling),
		Size:   atoiDefault(fields[2], defaultTextSize),
		Color:  atoiDefault(fields[3], colorWhite),
		Pool:   atoiDefault(fields[5], 0),
		Row:    atoiDefault(fields[7], 0),
	}
	if ts, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
		e.Time = ts
	}
	if uid, err := strconv.ParseInt(fields[6], 10, 64); err == nil {
		e.UserID = uid
	}
	return e, true
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ConvertToASS renders the transcript at xmlPath into an ASS subtitle
// file at assPath and returns the number of rendered events. A failed
// conversion leaves no partial output file behind.
func ConvertToASS(xmlPath, assPath string, opts RenderOptions) (int, error) {
	if err := opts.validate(); err != nil {
		return 0, err
	}
	in, err := os.Open(xmlPath)
	if err != nil {
		return 0, fmt.Errorf("opening transcript: %w", err)
	}
	entries, err := ParseTranscript(in)
	in.Close()
	if err != nil {
		return 0, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

	out, err := os.Create(assPath)
	if err != nil {
		return 0, fmt.Errorf("creating subtitle file: %w", err)
	}
	n, err := renderASS(out, entries, opts)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(assPath)
		return 0, fmt.Errorf("rendering subtitles: %w", err)
	}
	return n, nil
}

func renderASS(w io.Writer, entries []Entry, opts RenderOptions) (int, error) {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "[Script Info]\nScriptType: v4.00+\nPlayResX: %d\nPlayResY: %d\nScaledBorderAndShadow: yes\nWrapStyle: 2\n\n", opts.Width, opts.Height)
	bw.WriteString("[V4+ Styles]\nFormat: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(bw, "Style: Danmaku,%s,%d,&H00FFFFFF,&H00FFFFFF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,1,0,7,0,0,0,1\n", overlayFont, opts.FontSize)
	fmt.Fprintf(bw, "Style: SC,%s,%d,&H00FFFFFF,&H00FFFFFF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,1,0,7,0,0,0,1\n\n", overlayFont, opts.SCFontSize)
	bw.WriteString("[Events]\nFormat: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	laneHeight := opts.laneHeight()
	scroll := newLanes(max(1, opts.Height/laneHeight))
	pinned := newLanes(max(1, opts.Height/4/laneHeight))

	count := 0
	for _, e := range entries {
		text := assEscaper.Replace(e.Text)
		if text == "" {
			continue
		}
		style := "Danmaku"
		fontSize := opts.FontSize
		if e.Pool != 0 {
			style = "SC"
			fontSize = opts.SCFontSize
		}

		var end float64
		var override string
		switch e.Mode {
		case ModeTop:
			end = e.Offset + stillSeconds
			lane := pinned.take(e.Offset, stillSeconds)
			override = fmt.Sprintf("{\\an8\\pos(%d,%d)%s}", opts.Width/2, lane*laneHeight, colorOverride(e.Color))
		case ModeBottom:
			end = e.Offset + stillSeconds
			lane := pinned.take(e.Offset, stillSeconds)
			override = fmt.Sprintf("{\\an2\\pos(%d,%d)%s}", opts.Width/2, opts.Height-lane*laneHeight, colorOverride(e.Color))
		default:
			// Everything else scrolls. The lane stays busy until the
			// entry's tail clears the right edge.
			end = e.Offset + scrollSeconds
			width := textWidth(text, fontSize)
			busy := scrollSeconds * width / (float64(opts.Width) + width)
			lane := scroll.take(e.Offset, busy)
			y := lane * laneHeight
			override = fmt.Sprintf("{\\move(%d,%d,%d,%d)%s}", opts.Width, y, -int(math.Ceil(width)), y, colorOverride(e.Color))
		}

		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,%s,,0,0,0,,%s%s\n", assTime(e.Offset), assTime(end), style, override, text)
		count++
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return count, nil
}

// colorOverride returns a per-entry primary colour tag, or "" for the
// default white.
func colorOverride(color int) string {
	if color == colorWhite || color < 0 {
		return ""
	}
	r := (color >> 16) & 0xFF
	g := (color >> 8) & 0xFF
	b := color & 0xFF
	return fmt.Sprintf("\\c&H%02X%02X%02X&", b, g, r)
}

// textWidth estimates rendered width in pixels, counting ASCII as half
// an em and everything else as a full em.
func textWidth(text string, fontSize int) float64 {
	var ems float64
	for _, r := range text {
		if r < 0x80 {
			ems += 0.5
		} else {
			ems++
		}
	}
	return ems * float64(fontSize)
}

// assTime formats seconds as an ASS timestamp (H:MM:SS.CC).
func assTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int(math.Round(seconds * 100))
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360000, cs/6000%60, cs/100%60, cs%100)
}

// lanes tracks vertical rows so simultaneous entries do not overlap.
// When every lane is busy the soonest-free lane is reused; flooding
// degrades to overlap rather than dropping messages.
type lanes struct {
	freeAt []float64
}

func newLanes(n int) *lanes {
	return &lanes{freeAt: make([]float64, n)}
}

func (l *lanes) take(start, busy float64) int {
	best := 0
	for i, freeAt := range l.freeAt {
		if freeAt <= start {
			l.freeAt[i] = start + busy
			return i
		}
		if freeAt < l.freeAt[best] {
			best = i
		}
	}
	l.freeAt[best] = start + busy
	return best
}
