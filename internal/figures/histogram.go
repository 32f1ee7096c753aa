// Package figures renders bootstrap validation histograms as PNG images.
package figures

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/lox/flowcorrect/internal/ingest"
	"github.com/lox/flowcorrect/internal/models"
)

// ErrInvalidStatistic is returned for a statistic without a histogram layout.
var ErrInvalidStatistic = errors.New("invalid statistic")

// Image dimensions.
const (
	Width  = 800
	Height = 400
)

// Statistics lists every statistic that can be plotted, in the order
// WriteAll renders them.
var Statistics = []string{"me", "mae", "rmse", "nse", "kge"}

// binning is the fixed x axis of one statistic. Values outside [Lo, Hi] are
// clamped onto the edge bins.
type binning struct {
	Width float64
	Lo    float64
	Hi    float64
	Ref   float64 // reference line, NaN for none
}

var binnings = map[string]binning{
	"kge":  {Width: 0.5, Lo: -6, Hi: 1, Ref: -0.44},
	"nse":  {Width: 0.5, Lo: -6, Hi: 1, Ref: math.NaN()},
	"me":   {Width: 20, Lo: -200, Hi: 200, Ref: math.NaN()},
	"mae":  {Width: 30, Lo: 0, Hi: 300, Ref: math.NaN()},
	"rmse": {Width: 20, Lo: 0, Hi: 200, Ref: math.NaN()},
}

func lookup(stat string) (binning, error) {
	b, ok := binnings[strings.ToLower(stat)]
	if !ok {
		return binning{}, fmt.Errorf("%w: %q", ErrInvalidStatistic, stat)
	}
	return b, nil
}

func (b binning) bins() int {
	return int(math.Round((b.Hi - b.Lo) / b.Width))
}

func (b binning) clamp(v float64) float64 {
	return math.Min(math.Max(v, b.Lo), b.Hi)
}

// counts clamps finite values into range and counts them per bin. The last
// bin is closed on the right.
func (b binning) counts(vals []float64) []int {
	n := b.bins()
	out := make([]int, n)
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		i := int(math.Floor((b.clamp(v) - b.Lo) / b.Width))
		if i >= n {
			i = n - 1
		}
		out[i]++
	}
	return out
}

// median of the clamped values, NaN when there are none.
func (b binning) median(vals []float64) float64 {
	s := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			s = append(s, b.clamp(v))
		}
	}
	if len(s) == 0 {
		return math.NaN()
	}
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

// columns pulls the raw and corrected values of stat out of ms.
func columns(ms []models.ValidationMetrics, stat string) (sim, corr []float64) {
	sim = make([]float64, len(ms))
	corr = make([]float64, len(ms))
	for i, m := range ms {
		switch stat {
		case "me":
			sim[i], corr[i] = m.MESim, m.MECorr
		case "mae":
			sim[i], corr[i] = m.MAESim, m.MAECorr
		case "rmse":
			sim[i], corr[i] = m.RMSESim, m.RMSECorr
		case "nse":
			sim[i], corr[i] = m.NSESim, m.NSECorr
		case "kge":
			sim[i], corr[i] = m.KGESim, m.KGECorr
		}
	}
	return sim, corr
}

var (
	gridColor  = color.RGBA{210, 210, 210, 255}
	barColor   = color.RGBA{76, 114, 176, 255}
	barEdge    = color.RGBA{50, 80, 130, 255}
	medianLine = color.RGBA{0, 150, 0, 255}
	refLine    = color.RGBA{220, 0, 0, 255}
)

const dpi = 96

var dashes = []vg.Length{vg.Points(4), vg.Points(3)}

// overlay is a vertical line drawn across a panel.
type overlay struct {
	X      float64
	Color  color.Color
	Dashed bool
}

// overlays returns the reference line of b, if any, and the median of vals.
func (b binning) overlays(vals []float64) []overlay {
	var out []overlay
	if !math.IsNaN(b.Ref) {
		out = append(out, overlay{X: b.Ref, Color: refLine, Dashed: true})
	}
	if m := b.median(vals); !math.IsNaN(m) {
		out = append(out, overlay{X: m, Color: medianLine})
	}
	return out
}

// Histogram renders the raw (left) and corrected (right) distributions of
// stat across ms as a PNG. Both panels share the y axis.
func Histogram(ms []models.ValidationMetrics, stat string) ([]byte, error) {
	stat = strings.ToLower(stat)
	b, err := lookup(stat)
	if err != nil {
		return nil, err
	}
	sim, corr := columns(ms, stat)
	simCounts, corrCounts := b.counts(sim), b.counts(corr)

	ymax := 1
	for _, c := range append(append([]int{}, simCounts...), corrCounts...) {
		ymax = max(ymax, c)
	}

	left, err := panel(b, stat+"_sim", simCounts, sim, ymax)
	if err != nil {
		return nil, err
	}
	right, err := panel(b, stat+"_corr", corrCounts, corr, ymax)
	if err != nil {
		return nil, err
	}

	img := vgimg.NewWith(
		vgimg.UseImage(image.NewRGBA(image.Rect(0, 0, Width, Height))),
		vgimg.UseDPI(dpi),
	)
	dc := draw.New(img)

	title := plot.New().Title.TextStyle
	title.Font.Size = vg.Points(14)
	titleHeight := title.Height("X") + vg.Points(8)
	dc.FillText(title, vg.Point{X: dc.Center().X, Y: dc.Max.Y - vg.Points(4)},
		"Bootstrap Validation: "+strings.ToUpper(stat))

	tiles := draw.Tiles{
		Rows:      1,
		Cols:      2,
		PadTop:    titleHeight,
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(8),
		PadX:      vg.Points(16),
	}
	plots := [][]*plot.Plot{{left, right}}
	canvases := plot.Align(plots, tiles, dc)
	left.Draw(canvases[0][0])
	right.Draw(canvases[0][1])

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode %s histogram: %w", stat, err)
	}
	return buf.Bytes(), nil
}

func panel(b binning, label string, counts []int, vals []float64, ymax int) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = label

	grid := plotter.NewGrid()
	grid.Vertical.Color, grid.Horizontal.Color = gridColor, gridColor
	grid.Vertical.Dashes, grid.Horizontal.Dashes = dashes, dashes
	p.Add(grid)

	var bins []plotter.HistogramBin
	for i, c := range counts {
		if c == 0 {
			continue
		}
		lo := b.Lo + float64(i)*b.Width
		bins = append(bins, plotter.HistogramBin{Min: lo, Max: lo + b.Width, Weight: float64(c)})
	}
	if len(bins) > 0 {
		p.Add(&plotter.Histogram{
			Bins:      bins,
			Width:     b.Width,
			FillColor: barColor,
			LineStyle: draw.LineStyle{Color: barEdge, Width: vg.Points(0.5)},
		})
	}

	for _, o := range b.overlays(vals) {
		l, err := plotter.NewLine(plotter.XYs{{X: o.X, Y: 0}, {X: o.X, Y: float64(ymax)}})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		l.Color = o.Color
		l.Width = vg.Points(2)
		if o.Dashed {
			l.Width = vg.Points(1.5)
			l.Dashes = dashes
		}
		p.Add(l)
	}

	// fixed axes so every figure of a statistic is comparable
	p.X.Min, p.X.Max = b.Lo, b.Hi
	p.Y.Min, p.Y.Max = 0, float64(ymax)
	return p, nil
}

// Path returns where WriteAll puts the figure for stat.
func Path(dir, stat string) string {
	return filepath.Join(dir, fmt.Sprintf("bootstrap_%s.png", strings.ToLower(stat)))
}

// WriteFile renders one statistic into dir and returns the file path.
func WriteFile(dir string, ms []models.ValidationMetrics, stat string) (string, error) {
	data, err := Histogram(ms, stat)
	if err != nil {
		return "", err
	}
	p := Path(dir, stat)
	err = ingest.WriteFileAtomic(p, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	return p, err
}

// WriteAll renders every statistic into dir.
func WriteAll(dir string, ms []models.ValidationMetrics) ([]string, error) {
	var paths []string
	for _, stat := range Statistics {
		p, err := WriteFile(dir, ms, stat)
		if err != nil {
			return paths, fmt.Errorf("figure %s: %w", stat, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
