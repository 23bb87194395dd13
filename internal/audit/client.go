package audit

import (
	"strings"

	"github.com/mssola/useragent"
)

// Browser families reported in event metadata. Families not listed here are
// reported with the parser's own name.
const (
	BrowserEdge    = "Edge"
	BrowserOpera   = "Opera"
	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserSafari  = "Safari"
	BrowserBot     = "Bot"
	BrowserOther   = "Other"
)

// Client is the coarse classification of a user agent.
type Client struct {
	Browser string
	Mobile  bool
}

// ClassifyUserAgent reports the browser family and form factor of ua.
// An empty ua yields the zero Client.
func ClassifyUserAgent(ua string) Client {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return Client{}
	}

	parsed := useragent.New(ua)
	if parsed.Bot() {
		return Client{Browser: BrowserBot}
	}

	name, _ := parsed.Browser()
	if name == "" {
		name = BrowserOther
	}
	return Client{Browser: name, Mobile: parsed.Mobile()}
}
