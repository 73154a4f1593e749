package cursor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func fragsOf(chunks ...string) []Fragment {
	frags := make([]Fragment, len(chunks))
	for i, c := range chunks {
		frags[i] = Fragment{Buf: []byte(c), Seq: uint16(i)}
	}
	return frags
}

func TestGetWithinSingleFragment(t *testing.T) {
	c := New(fragsOf("hello world"))
	got, st := c.Get(5)
	require.Equal(t, OK, st)
	require.Equal(t, "hello", string(got))
}

func TestGetStitchesAcrossFragments(t *testing.T) {
	c := New(fragsOf("he", "ll", "o!"))
	got, st := c.Get(5)
	require.Equal(t, OK, st)
	require.Equal(t, "hello", string(got))
}

func TestGetEOFOnTruncatedInput(t *testing.T) {
	c := New(fragsOf("ab", "c"))
	_, st := c.Get(10)
	require.Equal(t, StatusEOF, st)
}

func TestGetTooSmallOnScratchOverflow(t *testing.T) {
	c := NewWithScratchCap(fragsOf("a", "b", "c"), 2)
	_, st := c.Get(3)
	require.Equal(t, StatusTooSmall, st)
}

func TestSeekCrossesFragmentsAndTerminatesCleanly(t *testing.T) {
	c := New(fragsOf("abc", "def"))
	require.Equal(t, OK, c.Seek(6))
	require.True(t, c.Empty())
	// Landing exactly on the end is legal; a further Seek(n>0) must EOF.
	require.Equal(t, StatusEOF, c.Seek(1))
}

func TestCopyAccumulatesAcrossFragments(t *testing.T) {
	c := New(fragsOf("ab", "cd", "ef"))
	acc := NewAccumulator(10)
	require.Equal(t, OK, c.Copy(6, acc))
	require.Equal(t, "abcdef", string(acc.Bytes()))
}

func TestCopyTooSmallLeavesAccumulatorUnmutated(t *testing.T) {
	c := New(fragsOf("abcdef"))
	acc := NewAccumulator(3)
	st := c.Copy(6, acc)
	require.Equal(t, StatusTooSmall, st)
	require.Equal(t, 0, acc.Fill())
}

func TestBijectionOverArbitraryPartition(t *testing.T) {
	// Property from spec §8: for any partition of the fragment bytes into
	// GET/SEEK/COPY widths summing to N, GET outputs followed by COPY
	// outputs reconstruct the original bytes (SEEK'd spans are skipped,
	// not reconstructed, by definition).
	data := fragsOf("0123", "456789", "ABCDE")
	total := 0
	for _, f := range data {
		total += len(f.Buf)
	}
	c := New(data)
	acc := NewAccumulator(total)

	var gotten bytes.Buffer
	var skipped int
	widths := []struct {
		n  int
		op string
	}{{2, "get"}, {3, "seek"}, {4, "copy"}, {1, "get"}, {5, "seek"}, {
		0, "copy"}}
	// Pad the plan to exactly total bytes with a trailing copy.
	sum := 0
	for _, w := range widths {
		sum += w.n
	}
	widths = append(widths, struct {
		n  int
		op string
	}{total - sum, "copy"})

	for _, w := range widths {
		if w.n <= 0 {
			continue
		}
		switch w.op {
		case "get":
			b, st := c.Get(w.n)
			require.Equal(t, OK, st)
			gotten.Write(b)
		case "seek":
			require.Equal(t, OK, c.Seek(w.n))
			skipped += w.n
		case "copy":
			require.Equal(t, OK, c.Copy(w.n, acc))
		}
	}

	require.True(t, c.Empty())
	// (N+1)th byte always EOFs.
	_, st := c.Get(1)
	require.Equal(t, StatusEOF, st)

	reconstructed := gotten.String() + string(acc.Bytes())
	require.Equal(t, total-skipped, len(reconstructed))
}

func TestEmptyFragmentsAreSkippedTransparently(t *testing.T) {
	c := New([]Fragment{{Buf: nil}, {Buf: []byte("x")}, {Buf: nil}, {Buf: []byte("y")}})
	got, st := c.Get(2)
	require.Equal(t, OK, st)
	require.Equal(t, "xy", string(got))
	require.True(t, c.Empty())
}
