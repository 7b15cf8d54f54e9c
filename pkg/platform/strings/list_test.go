package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{name: "empty", value: "", want: nil},
		{name: "single", value: "localhost:9092", want: []string{"localhost:9092"}},
		{name: "trims and drops blanks", value: " a:1 , ,b:2,", want: []string{"a:1", "b:2"}},
		{name: "keeps first occurrence", value: "b,a,b, a", want: []string{"b", "a"}},
		{name: "only separators", value: ", ,", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.value, ","))
		})
	}
}

func TestDedupe(t *testing.T) {
	assert.Nil(t, Dedupe(nil))
	assert.Equal(t, []string{"http://a", "http://b"}, Dedupe([]string{" http://a", "http://b", "http://a "}))
}
