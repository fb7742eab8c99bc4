package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCount(t *testing.T) {
	cases := map[int64]string{
		0:          "0",
		999:        "999",
		1000:       "1.0K",
		3400:       "3.4K",
		1_200_000:  "1.2M",
		25_000_000: "25.0M",
	}
	for n, want := range cases {
		assert.Equal(t, want, FormatCount(n), "n=%d", n)
	}
}

func TestProfileImageURLs(t *testing.T) {
	assert.Equal(t, []string{defaultProfileImage}, ProfileImageURLs(""))

	urls := ProfileImageURLs("https://cdn.example.com/p.jpg?x=1")
	require.Len(t, urls, 4)
	assert.Equal(t, "https://images.weserv.nl/?url=https%3A%2F%2Fcdn.example.com%2Fp.jpg%3Fx%3D1", urls[0])
	assert.Equal(t, "https://cdn.example.com/p.jpg?x=1", urls[3])
}
