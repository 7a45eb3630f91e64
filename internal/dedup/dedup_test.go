package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListingID(t *testing.T) {
	cases := []struct {
		name string
		link string
		want string
	}{
		{"plain", "https://www.goofish.com/item?id=123456789", "123456789"},
		{"extra params", "https://www.goofish.com/item?spm=a21.1&id=111&ut_sk=1", "111"},
		{"id not first", "https://m.goofish.com/detail?foo=bar&id=42", "42"},
		{"encoded ampersand", "https://www.goofish.com/item%3Fid%3D987", "987"},
		{"no id", "https://www.goofish.com/item?sku=9", ""},
		{"empty", "", ""},
		{"non numeric", "https://www.goofish.com/item?id=abc", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ListingID(tc.link))
		})
	}
}

func TestListingIDStableAcrossEncodings(t *testing.T) {
	raw := "https://www.goofish.com/item?id=555&title=%E7%9B%B8%E6%9C%BA"
	require.Equal(t, ListingID(raw), ListingID("https://www.goofish.com/item%3Fid%3D555"))
}
