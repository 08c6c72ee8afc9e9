package detection

import (
	"strconv"
	"sync/atomic"

	"github.com/benbjohnson/clock"
)

// IDGenerator produces session-unique detection ids of the form det_<unixms>_<counter>.
// The counter never repeats within a generator, so ids stay unique even when the
// clock stands still.
type IDGenerator struct {
	clock   clock.Clock
	counter atomic.Uint64
}

// NewIDGenerator creates a generator; a nil clock uses the wall clock
func NewIDGenerator(clk clock.Clock) *IDGenerator {
	if clk == nil {
		clk = clock.New()
	}
	return &IDGenerator{clock: clk}
}

// Next returns the next id. Safe for concurrent use.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1) - 1
	ms := g.clock.Now().UnixMilli()
	return "det_" + strconv.FormatInt(ms, 10) + "_" + strconv.FormatUint(n, 10)
}
