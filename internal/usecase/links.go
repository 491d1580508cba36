package usecase

import (
	"net/url"
	"strings"

	"mvdan.cc/xurls/v2"
)

// sourceHosts is the fixed allow-list of post source and mirror
// hostnames. It is compile-time configuration, not a runtime knob.
var sourceHosts = map[string]struct{}{
	"cunnyx.com":       {},
	"fixupx.com":       {},
	"fixvx.com":        {},
	"fxtwitter.com":    {},
	"girlcockx.com":    {},
	"hitlerx.com":      {},
	"nitter.net":       {},
	"nitter.poast.org": {},
	"twitter.com":      {},
	"twittpr.com":      {},
	"vxtwitter.com":    {},
	"x.com":            {},
	"xcancel.com":      {},
	"xfixup.com":       {},
}

// postPathMarker distinguishes individual-post URLs from profiles and
// other pages on the same hosts.
const postPathMarker = "/status/"

var urlPattern = xurls.Strict()

// ExtractLinks scans a message body for candidate post links: https
// URLs on an allow-listed host whose path names an individual post.
// The result preserves first-occurrence order and contains each
// normalized URL at most once. An empty result is a normal outcome.
func ExtractLinks(body string) []string {
	var links []string
	seen := make(map[string]struct{})

	for _, raw := range urlPattern.FindAllString(body, -1) {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		// Hostname() so an explicit :443 cannot slip past the list.
		if u.Scheme != "https" || u.Hostname() == "" {
			continue
		}
		if _, ok := sourceHosts[strings.ToLower(u.Hostname())]; !ok {
			continue
		}
		if !strings.Contains(u.Path, postPathMarker) {
			continue
		}

		normalized := u.String()
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	}
	return links
}
