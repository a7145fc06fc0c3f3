package transcript

import (
	"strings"
	"testing"

	"github.com/loqalabs/minutes-core/internal/stt"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestInterimThenFinal(t *testing.T) {
	a := New()
	a.Apply(stt.Delta{Text: "John wel"})
	require.Equal(t, "John wel", a.Text())

	a.Apply(stt.Delta{Text: "John welcomed all.", Final: true})
	require.Equal(t, "John welcomed all. ", a.Text())

	a.Apply(stt.Delta{Text: "Mary pres"})
	require.Equal(t, "John welcomed all. Mary pres", a.Text())

	require.Equal(t, "John welcomed all.", a.Finish())
	require.Equal(t, "John welcomed all. ", a.Text())
}

func TestInterimReplacesInterim(t *testing.T) {
	a := New()
	a.Apply(stt.Delta{Text: "Hel"})
	a.Apply(stt.Delta{Text: "Hello every"})
	a.Apply(stt.Delta{Text: "Hello everyone"})
	require.Equal(t, "Hello everyone", a.Text())
	require.Empty(t, a.Committed())
}

func TestFinishWithOnlyProvisional(t *testing.T) {
	a := New()
	a.Apply(stt.Delta{Text: "half a sentence"})
	require.Empty(t, a.Finish())
}

func TestClear(t *testing.T) {
	a := New()
	a.Apply(stt.Delta{Text: "Apologies from Sue.", Final: true})
	a.Apply(stt.Delta{Text: "and"})
	a.Clear()
	require.Empty(t, a.Text())
	require.Empty(t, a.Finish())
}

// Each final segment shows up exactly once, in order, whatever interim
// noise surrounds it.
func TestFinalsCommittedExactlyOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		word := rapid.StringMatching(`[a-z]{1,8}`)
		segments := rapid.SliceOfN(word, 0, 12).Draw(t, "segments")
		interims := rapid.SliceOfN(rapid.IntRange(0, 3), len(segments), len(segments)).Draw(t, "interims")

		a := New()
		for i, seg := range segments {
			for j := 0; j < interims[i]; j++ {
				a.Apply(stt.Delta{Text: seg[:min(j+1, len(seg))]})
			}
			a.Apply(stt.Delta{Text: seg, Final: true})
		}

		want := strings.Join(segments, " ")
		if got := a.Finish(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		if a.Text() != a.Committed() {
			t.Fatalf("provisional text left after finals: %q", a.Text())
		}
	})
}
