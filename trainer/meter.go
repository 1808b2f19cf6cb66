package trainer

import (
	"fmt"
	"strings"
)

// AverageMeter keeps a running mean.
type AverageMeter struct {
	sum float64
	n   int
}

// Add records value v observed n times.
func (m *AverageMeter) Add(v float64, n int) {
	m.sum += v * float64(n)
	m.n += n
}

// Value returns the mean, zero when empty.
func (m *AverageMeter) Value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Count returns the number of observations.
func (m *AverageMeter) Count() int {
	return m.n
}

// Reset clears the meter.
func (m *AverageMeter) Reset() {
	m.sum, m.n = 0, 0
}

// ConfusionMeter counts predictions per true class. Rows are true classes,
// columns predicted classes.
type ConfusionMeter struct {
	k int
	m []int
}

// NewConfusionMeter creates a k by k confusion matrix.
func NewConfusionMeter(k int) *ConfusionMeter {
	return &ConfusionMeter{k: k, m: make([]int, k*k)}
}

// Add records predicted against target for a batch.
func (c *ConfusionMeter) Add(predicted []int, target []byte) {
	for i, p := range predicted {
		c.m[int(target[i])*c.k+p]++
	}
}

// At returns how many samples of class truth were predicted as class pred.
func (c *ConfusionMeter) At(truth, pred int) int {
	return c.m[truth*c.k+pred]
}

// Total returns the number of recorded samples.
func (c *ConfusionMeter) Total() (o int) {
	for _, v := range c.m {
		o += v
	}
	return
}

// Correct returns the number of samples on the diagonal.
func (c *ConfusionMeter) Correct() (o int) {
	for i := 0; i < c.k; i++ {
		o += c.m[i*c.k+i]
	}
	return
}

// Accuracy returns the fraction of correct predictions.
func (c *ConfusionMeter) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Correct()) / float64(total)
}

// Reset clears all counts.
func (c *ConfusionMeter) Reset() {
	for i := range c.m {
		c.m[i] = 0
	}
}

// String renders the matrix as a table.
func (c *ConfusionMeter) String() string {
	var sb strings.Builder
	sb.WriteString("     ")
	for j := 0; j < c.k; j++ {
		fmt.Fprintf(&sb, "%6d", j)
	}
	for i := 0; i < c.k; i++ {
		fmt.Fprintf(&sb, "\n%4d ", i)
		for j := 0; j < c.k; j++ {
			fmt.Fprintf(&sb, "%6d", c.m[i*c.k+j])
		}
	}
	return sb.String()
}
