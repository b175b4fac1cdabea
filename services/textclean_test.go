package services

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	in := "  Eﬃcient  systems \r\n\r\n\r\n\r\n  second\tparagraph  "
	assert.Equal(t, "Efficient systems\n\nsecond paragraph", CleanText(in))
	assert.Equal(t, "", CleanText(""))
	assert.Equal(t, "ABC", CleanText("ＡＢＣ"))
}

func TestTruncateRespectsRunes(t *testing.T) {
	s := "héllo wörld"
	out := Truncate(s, 4)
	assert.Equal(t, "héll", out)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, s, Truncate(s, 100))
	assert.Equal(t, s, Truncate(s, 0))
}
