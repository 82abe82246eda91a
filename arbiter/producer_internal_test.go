package arbiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRecords(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "array splits into elements",
			line: `[{"a":1},{"b":2}]`,
			want: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name: "array with leading whitespace",
			line: `  [1,2,3]`,
			want: []string{`1`, `2`, `3`},
		},
		{
			name: "object is one record",
			line: `{"asset":"x"}`,
			want: []string{`{"asset":"x"}`},
		},
		{
			name: "scalar is one record",
			line: `42`,
			want: []string{`42`},
		},
		{
			name: "non-JSON preserved as string",
			line: `hello, world`,
			want: []string{`"hello, world"`},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := wrapRecords([]byte(tc.line))
			require.Len(t, got, len(tc.want))
			for i, want := range tc.want {
				assert.JSONEq(t, want, string(got[i]))
			}
		})
	}
}

func TestWrapRecordsEmptyArray(t *testing.T) {
	assert.Empty(t, wrapRecords([]byte(`[]`)))
}
