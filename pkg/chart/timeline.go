// Package chart draws the schedule trace as a timeline: one row per task,
// one column per time slice, a filled cell where the task held the
// processor.
package chart

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sort"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// ErrEmpty is returned when there is nothing to draw.
var ErrEmpty = errors.New("chart: empty trace")

// Slot is one time slice of the trace.
type Slot struct {
	Pid  int
	Name string
}

// Options controls the geometry of the chart.
type Options struct {
	CellWidth  int
	RowHeight  int
	LabelWidth int
}

func (o Options) withDefaults() Options {
	if o.CellWidth <= 0 {
		o.CellWidth = 6
	}
	if o.RowHeight <= 0 {
		o.RowHeight = 20
	}
	if o.LabelWidth <= 0 {
		o.LabelWidth = 120
	}
	return o
}

var (
	background = color.RGBA{0xff, 0xff, 0xff, 0xff}
	gridColor  = color.RGBA{0xdd, 0xdd, 0xdd, 0xff}
	textColor  = color.RGBA{0x20, 0x20, 0x20, 0xff}
	palette    = []color.RGBA{
		{0x1f, 0x77, 0xb4, 0xff},
		{0xff, 0x7f, 0x0e, 0xff},
		{0x2c, 0xa0, 0x2c, 0xff},
		{0xd6, 0x27, 0x28, 0xff},
		{0x94, 0x67, 0xbd, 0xff},
		{0x8c, 0x56, 0x4b, 0xff},
	}
)

// ColorFor returns the fill color of pid's row.
func ColorFor(pid int) color.RGBA {
	return palette[pid%len(palette)]
}

type row struct {
	pid   int
	label string
}

func rows(slots []Slot) []row {
	seen := map[int]string{}
	for _, s := range slots {
		seen[s.Pid] = s.Name
	}
	out := make([]row, 0, len(seen))
	for pid, name := range seen {
		out = append(out, row{pid: pid, label: fmt.Sprintf("%d %s", pid, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pid < out[j].pid })
	return out
}

// Render draws slots. Rows are ordered by pid.
func Render(slots []Slot, opts Options) (image.Image, error) {
	if len(slots) == 0 {
		return nil, ErrEmpty
	}
	opts = opts.withDefaults()
	rs := rows(slots)
	index := make(map[int]int, len(rs))
	for i, r := range rs {
		index[r.pid] = i
	}

	w := opts.LabelWidth + len(slots)*opts.CellWidth
	h := len(rs) * opts.RowHeight
	dc := gg.NewContext(w, h)
	dc.SetColor(background)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	for i, r := range rs {
		y := float64(i * opts.RowHeight)
		dc.SetColor(textColor)
		dc.DrawStringAnchored(r.label, 4, y+float64(opts.RowHeight)/2, 0, 0.5)
		dc.SetColor(gridColor)
		dc.SetLineWidth(1)
		dc.DrawLine(0, y+float64(opts.RowHeight)-0.5, float64(w), y+float64(opts.RowHeight)-0.5)
		dc.Stroke()
	}

	for x, s := range slots {
		i := index[s.Pid]
		dc.SetColor(ColorFor(s.Pid))
		dc.DrawRectangle(
			float64(opts.LabelWidth+x*opts.CellWidth),
			float64(i*opts.RowHeight+2),
			float64(opts.CellWidth),
			float64(opts.RowHeight-4),
		)
		dc.Fill()
	}
	return dc.Image(), nil
}

// WritePNG renders slots and encodes the chart as PNG to w.
func WritePNG(w io.Writer, slots []Slot, opts Options) error {
	img, err := Render(slots, opts)
	if err != nil {
		return err
	}
	dc := gg.NewContextForImage(img)
	return dc.EncodePNG(w)
}

// SavePNG renders slots into the PNG file at path.
func SavePNG(path string, slots []Slot, opts Options) error {
	img, err := Render(slots, opts)
	if err != nil {
		return err
	}
	return gg.SavePNG(path, img)
}
