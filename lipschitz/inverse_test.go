package lipschitz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// embedInverse places P on the block diagonal and K, Kᵀ next to it.
func embedInverse(topo Topology, inv *Inverse) *mat.Dense {
	n := topo.Order()
	s := mat.NewDense(n, n, nil)
	for i, p := range inv.P {
		off := topo.Offset(i)
		s.Slice(off, off+topo.Width(i), off, off+topo.Width(i)).(*mat.Dense).Copy(p)
	}
	for i, k := range inv.K {
		row, col := topo.Offset(i+1), topo.Offset(i)
		s.Slice(row, row+topo.Width(i+1), col, col+topo.Width(i)).(*mat.Dense).Copy(k)
		s.Slice(col, col+topo.Width(i), row, row+topo.Width(i+1)).(*mat.Dense).Copy(k.T())
	}
	return s
}

func TestInverseBlocksMatchDenseInverse(t *testing.T) {
	for k, widths := range testTopologies {
		t.Run(fmt.Sprint(widths), func(t *testing.T) {
			c := feasibleInstance(t, uint64(20+k), widths...)
			f, err := Factorize(c, 0)
			require.NoError(t, err)
			inv, err := f.Inverse()
			require.NoError(t, err)

			var full mat.Dense
			require.NoError(t, full.Inverse(c.Dense()))

			topo := c.Topology
			for i, p := range inv.P {
				off := topo.Offset(i)
				want := full.Slice(off, off+topo.Width(i), off, off+topo.Width(i))
				assert.Less(t, relErr(p, want), 1e-8, "P%d", i)
			}
			for i, kb := range inv.K {
				row, col := topo.Offset(i+1), topo.Offset(i)
				want := full.Slice(row, row+topo.Width(i+1), col, col+topo.Width(i))
				assert.Less(t, relErr(kb, want), 1e-8, "K%d", i)
			}
		})
	}
}

func TestInverseTimesCertificateDiagonalIsIdentity(t *testing.T) {
	c := feasibleInstance(t, 31, 3, 4, 5, 2)
	f, err := Factorize(c, 0)
	require.NoError(t, err)
	inv, err := f.Inverse()
	require.NoError(t, err)

	topo := c.Topology
	var prod mat.Dense
	prod.Mul(c.Dense(), embedInverse(topo, inv))
	for i := 0; i <= topo.Layers(); i++ {
		off, n := topo.Offset(i), topo.Width(i)
		block := prod.Slice(off, off+n, off, off+n)
		for a := 0; a < n; a++ {
			for b := 0; b < n; b++ {
				want := 0.0
				if a == b {
					want = 1
				}
				assert.InDelta(t, want, block.At(a, b), 1e-8, "block %d entry (%d,%d)", i, a, b)
			}
		}
	}
}
