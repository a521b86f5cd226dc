package feed

import (
	"net/url"
	"strings"

	"mvdan.cc/xurls/v2"
)

// ExtractURL pulls the first URL out of free text. A bare host such as "example.com/feed"
// is accepted and given an https scheme.
func ExtractURL(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	strictRe, err := xurls.StrictMatchingScheme("https?://")
	if err == nil {
		if u := strictRe.FindString(text); u != "" {
			return validURL(u)
		}
	}

	u := xurls.Relaxed().FindString(text)
	if u == "" {
		return "", false
	}

	if !strings.Contains(u, "://") {
		u = "https://" + u
	}

	return validURL(u)
}

func validURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	return u.String(), true
}

// Host returns the lowercased host name of a URL, or "" when it has none.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
}
