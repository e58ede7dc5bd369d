package directive

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Directive
	}{
		{"none", "plain text [not a directive] and [IMAGE:] empty", nil},
		{"image", "Here you go [IMAGE: a red fox in snow] enjoy", []Directive{{Verb: VerbImage, Payload: "a red fox in snow", Raw: "[IMAGE: a red fox in snow]"}}},
		{"lowercase verb", "[search: golang generics]", []Directive{{Verb: VerbSearch, Payload: "golang generics", Raw: "[search: golang generics]"}}},
		{"fullwidth", "［VIDEO：waves at dusk］", []Directive{{Verb: VerbVideo, Payload: "waves at dusk", Raw: "[VIDEO:waves at dusk]"}}},
		{"multiline payload rejected", "[FETCH: https://a.example\n]", nil},
		{"unknown verb", "[DELETE: everything]", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestExtract_RunInlineAndFenced(t *testing.T) {
	ds := Extract("[RUN: python print(1)]")
	require.Len(t, ds, 1)
	assert.Equal(t, "python", ds[0].Language)
	assert.Equal(t, "print(1)", ds[0].Source)

	text := "Let me check:\n[RUN: bash]\n```bash\necho hi\nls\n```\ndone"
	ds = Extract(text)
	require.Len(t, ds, 1)
	assert.Equal(t, "bash", ds[0].Language)
	assert.Equal(t, "echo hi\nls", ds[0].Source)

	// a RUN without source is ignored
	assert.Empty(t, Extract("[RUN: go] and then prose"))
}

func TestExtract_DedupAndCap(t *testing.T) {
	text := "[SEARCH: a] [SEARCH: a] [SEARCH: b]"
	ds := Extract(text)
	require.Len(t, ds, 2)
	assert.Equal(t, "b", ds[1].Payload)

	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("[IMAGE: p")
		b.WriteByte(byte('0' + i))
		b.WriteString("] ")
	}
	assert.Len(t, Extract(b.String()), MaxPerText)
}

func TestWhole(t *testing.T) {
	d, ok := Whole("  [IMAGE: a castle]  ")
	require.True(t, ok)
	assert.Equal(t, VerbImage, d.Verb)

	_, ok = Whole("draw [IMAGE: a castle]")
	assert.False(t, ok)
	_, ok = Whole("[IMAGE: a] [IMAGE: b]")
	assert.False(t, ok)
}
