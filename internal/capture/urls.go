package capture

import (
	"fmt"
	"net/url"
)

// BuildSearchURLs yields the search listing pages for a keyword, one URL
// per page starting at startPage.
func BuildSearchURLs(domain, keyword string, startPage, pages int) []string {
	if pages < 1 {
		pages = 1
	}
	out := make([]string, 0, pages)
	for p := startPage; p < startPage+pages; p++ {
		out = append(out, fmt.Sprintf("https://%s/search?keyword=%s&page=%d", domain, url.QueryEscape(keyword), p))
	}
	return out
}
