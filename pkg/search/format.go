package search

import (
	"net/url"
	"strconv"
)

const defaultProfileImage = "/assets/profile.png"

// FormatCount renders follower counts as 1.2M, 3.4K or the plain number.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(float64(n)/1_000_000, 'f', 1, 64) + "M"
	case n >= 1_000:
		return strconv.FormatFloat(float64(n)/1_000, 'f', 1, 64) + "K"
	}
	return strconv.FormatInt(n, 10)
}

// ProfileImageURLs lists the image sources to try in order: three public
// image proxies, then the original URL.
func ProfileImageURLs(src string) []string {
	if src == "" {
		return []string{defaultProfileImage}
	}
	q := url.QueryEscape(src)
	return []string{
		"https://images.weserv.nl/?url=" + q,
		"https://wsrv.nl/?url=" + q,
		"https://imageproxy.pimg.tw/resize?url=" + q,
		src,
	}
}
