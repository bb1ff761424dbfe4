package trigram

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Bounds(t *testing.T) {
	inputs := []string{
		"abc",
		"xabcx",
		"aaaaaaa",
		"resource \"aws_s3_bucket\" \"logs\" {}",
		"Get-ChildItem -Path C:\\ -Recurse",
		"ünïcödé tèxt",
	}
	for _, in := range inputs {
		set := Generate(in)
		n := utf8.RuneCountInString(in)
		assert.LessOrEqual(t, len(set), n-2, "input %q", in)
		for tg := range set {
			assert.Equal(t, Size, utf8.RuneCountInString(tg), "trigram %q of %q", tg, in)
		}
	}
}

func TestGenerate_DistinctCountWithoutDuplicates(t *testing.T) {
	set := Generate("abcdef")
	assert.Len(t, set, 4)
	assert.Equal(t, []string{"abc", "bcd", "cde", "def"}, set.Texts())
}

func TestGenerate_DuplicatesCollapse(t *testing.T) {
	set := Generate("aaaaaa")
	assert.Len(t, set, 1)
	assert.Equal(t, 0, set["aaa"], "position is the first occurrence")
}

func TestGenerate_Normalizes(t *testing.T) {
	set := Generate("ABC")
	_, ok := set["abc"]
	assert.True(t, ok)
	_, ok = set["ABC"]
	assert.False(t, ok)
}

func TestGenerate_ShortInput(t *testing.T) {
	assert.Empty(t, Generate(""))
	assert.Empty(t, Generate("ab"))
}

func TestGenerate_SpaceBreaksTrigram(t *testing.T) {
	set := Generate("ab c")
	_, ok := set["abc"]
	assert.False(t, ok)
	assert.Equal(t, []string{"ab ", "b c"}, set.Texts())
}

func TestGenerator_ParallelMatchesSequential(t *testing.T) {
	var b strings.Builder
	for i := 0; b.Len() < 50000; i++ {
		b.WriteString("variable \"subnet_")
		b.WriteByte(byte('a' + i%26))
		b.WriteString("\" { default = \"10.0.0.0/24\" }\n")
	}
	content := b.String()

	gen := NewGenerator(1000, 7)
	parallel, err := gen.Generate(context.Background(), content)
	require.NoError(t, err)

	sequential := Generate(content)
	assert.Equal(t, sequential, parallel)
}

func TestGenerator_BelowThresholdIsSequential(t *testing.T) {
	gen := NewGenerator(100, 4)
	set, err := gen.Generate(context.Background(), "module \"vpc\" {}")
	require.NoError(t, err)
	assert.Equal(t, Generate("module \"vpc\" {}"), set)
}

func TestGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := NewGenerator(10, 4)
	_, err := gen.Generate(ctx, strings.Repeat("abcdefghij", 100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewGenerator_Defaults(t *testing.T) {
	gen := NewGenerator(0, -1)
	assert.Equal(t, DefaultParallelThreshold, gen.ParallelThreshold)
	assert.Equal(t, DefaultWorkers, gen.Workers)
}

func TestSet_Sorted(t *testing.T) {
	sorted := Generate("abcab").Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, Trigram{Text: "abc", Position: 0}, sorted[0])
	assert.Equal(t, Trigram{Text: "bca", Position: 1}, sorted[1])
	assert.Equal(t, Trigram{Text: "cab", Position: 2}, sorted[2])
}
