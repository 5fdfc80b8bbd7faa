package probe

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform names reported in tab status events.
const (
	PlatformMeet    = "meet"
	PlatformZoom    = "zoom"
	PlatformTeams   = "teams"
	PlatformWebex   = "webex"
	PlatformUnknown = ""
)

var meetCodePattern = regexp.MustCompile(`^/[a-z]{3}-[a-z]{4}-[a-z]{3}$`)

// Detect classifies a tab URL by conferencing platform and reports whether
// the URL points at a live meeting rather than the platform's landing pages.
func Detect(rawURL string) (platform string, meetingActive bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return PlatformUnknown, false
	}
	host := strings.ToLower(u.Hostname())
	path := u.Path

	switch {
	case host == "meet.google.com":
		return PlatformMeet, meetCodePattern.MatchString(path)
	case host == "zoom.us" || strings.HasSuffix(host, ".zoom.us"):
		return PlatformZoom, strings.HasPrefix(path, "/j/") || strings.HasPrefix(path, "/wc/") || strings.HasPrefix(path, "/s/")
	case host == "teams.microsoft.com" || host == "teams.live.com":
		return PlatformTeams, strings.Contains(path, "meetup-join") || strings.Contains(path, "/meet/")
	case strings.HasSuffix(host, ".webex.com") || host == "webex.com":
		return PlatformWebex, strings.Contains(path, "/meet/") || strings.Contains(path, "/join/") || strings.Contains(path, "/wbxmjs/")
	default:
		return PlatformUnknown, false
	}
}
