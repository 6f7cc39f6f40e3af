package acquire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0.00 B"},
		{512, "512.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1 << 20, "1.00 MB"},
		{5 << 30, "5.00 GB"},
		{1 << 40, "1.00 TB"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HumanBytes(c.n), "n=%d", c.n)
	}
}

func TestSIValue(t *testing.T) {
	cases := []struct {
		v    float64
		want string
	}{
		{0, "0"},
		{1, "1.000 "},
		{1500, "1.500 k"},
		{2.5e6, "2.500 M"},
		{2.5e-9, "2.500 n"},
		{5e-13, "500.000 f"},
		{-0.002, "-2.000 m"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SIValue(c.v), "v=%g", c.v)
	}
}
