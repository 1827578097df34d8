// Package report summarizes how well fitted parameters reproduce the
// reference data: parity files, error statistics and error histograms.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrEmpty is returned when there is nothing to summarize.
var ErrEmpty = errors.New("report: no data")

// Parity holds reference and predicted values of one quantity (energies or
// force components).
type Parity struct {
	Label string
	Ref   []float64
	Pred  []float64
}

// Add appends one sample.
func (p *Parity) Add(ref, pred float64) {
	p.Ref = append(p.Ref, ref)
	p.Pred = append(p.Pred, pred)
}

// Len returns the number of samples.
func (p *Parity) Len() int {
	return len(p.Ref)
}

// Residuals returns pred-ref for every sample.
func (p *Parity) Residuals() ([]float64, error) {
	if len(p.Ref) != len(p.Pred) {
		return nil, &atoms.ShapeMismatchError{What: "predictions", Want: len(p.Ref), Got: len(p.Pred)}
	}
	res := make([]float64, len(p.Ref))
	floats.SubTo(res, p.Pred, p.Ref)
	return res, nil
}

// Write writes one "ref pred" row per sample, preceded by a comment line
// with the label.
func (p *Parity) Write(w io.Writer) error {
	if len(p.Ref) != len(p.Pred) {
		return &atoms.ShapeMismatchError{What: "predictions", Want: len(p.Ref), Got: len(p.Pred)}
	}

	b := []byte("# ")
	if p.Label != "" {
		b = append(b, p.Label...)
		b = append(b, ": "...)
	}
	b = append(b, "ref pred\n"...)
	for i := range p.Ref {
		b = strconv.AppendFloat(b, p.Ref[i], 'g', -1, 64)
		b = append(b, ' ')
		b = strconv.AppendFloat(b, p.Pred[i], 'g', -1, 64)
		b = append(b, '\n')
	}
	_, err := w.Write(b)
	return err
}

// WriteFile writes the parity data into path.
func (p *Parity) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	err = p.Write(w)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Summary is the error statistics of a Parity.
type Summary struct {
	N      int
	MAE    float64
	RMSE   float64
	MaxAbs float64
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d mae=%.6g rmse=%.6g max=%.6g", s.N, s.MAE, s.RMSE, s.MaxAbs)
}

// Summary computes the error statistics.
func (p *Parity) Summary() (Summary, error) {
	res, err := p.Residuals()
	if err != nil {
		return Summary{}, err
	}
	return Summarize(res)
}

// Summarize computes the error statistics of residuals.
func Summarize(res []float64) (Summary, error) {
	if len(res) == 0 {
		return Summary{}, ErrEmpty
	}

	abs := make([]float64, len(res))
	sq := make([]float64, len(res))
	for i, r := range res {
		abs[i] = math.Abs(r)
		sq[i] = r * r
	}

	return Summary{
		N:      len(res),
		MAE:    stat.Mean(abs, nil),
		RMSE:   math.Sqrt(stat.Mean(sq, nil)),
		MaxAbs: floats.Max(abs),
	}, nil
}

// Histogram is the distribution of residuals. Counts[i] is the number of
// values in [Dividers[i], Dividers[i+1]).
type Histogram struct {
	Dividers []float64
	Counts   []float64
}

// NewHistogram bins x into the given number of equal width bins spanning
// its range.
func NewHistogram(x []float64, bins int) (Histogram, error) {
	if len(x) == 0 {
		return Histogram{}, ErrEmpty
	}
	if bins <= 0 {
		return Histogram{}, fmt.Errorf("report: bins must be positive, got %d", bins)
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Histogram{}, atoms.Domain("NewHistogram", "non-finite value %v", v)
		}
	}

	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	// The last divider is exclusive
	div := floats.Span(make([]float64, bins+1), lo, hi)
	div[bins] = math.Nextafter(hi, math.Inf(1))

	return Histogram{
		Dividers: div,
		Counts:   stat.Histogram(nil, div, sorted, nil),
	}, nil
}

// Render draws the histogram as text bars, the largest bin being width
// characters long.
func (h Histogram) Render(w io.Writer, width int) error {
	if width <= 0 {
		width = 40
	}
	top := 0.
	if len(h.Counts) > 0 {
		top = floats.Max(h.Counts)
	}

	var sb strings.Builder
	for i, c := range h.Counts {
		n := 0
		if top > 0 {
			n = int(math.Round(c / top * float64(width)))
		}
		fmt.Fprintf(&sb, "[%11.4g, %11.4g) %6d %s\n", h.Dividers[i], h.Dividers[i+1], int(c), strings.Repeat("#", n))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
