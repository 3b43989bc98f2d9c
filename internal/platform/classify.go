// Package platform identifies which video platform a URL belongs to and
// produces embeddable player markup for the platforms which support it.
package platform

import (
	"fmt"
	"regexp"
)

type (
	Platform string

	// Info is the classification of a single URL. ID is empty when the
	// platform was recognised but no id could be parsed from the URL.
	Info struct {
		Platform  Platform `json:"platform"`
		ID        string   `json:"id"`
		URL       string   `json:"url"`
		Thumbnail string   `json:"thumbnail,omitempty"`
		Title     string   `json:"title"`
	}

	rule struct {
		platform Platform
		host     *regexp.Regexp
		id       func(url string) string
	}
)

const (
	YouTube   Platform = "youtube"
	Bilibili  Platform = "bilibili"
	Twitter   Platform = "twitter"
	TikTok    Platform = "tiktok"
	Instagram Platform = "instagram"
	Other     Platform = "other"
)

var (
	youtubeID  = regexp.MustCompile(`(?:v=|youtu\.be/)([^&?]+)`)
	bilibiliID = regexp.MustCompile(`BV[a-zA-Z0-9]+`)
	twitterID  = regexp.MustCompile(`status/(\d+)`)

	// Order matters, the first matching rule wins.
	rules = []rule{
		{YouTube, regexp.MustCompile(`youtube\.com|youtu\.be`), submatch(youtubeID, 1)},
		{Bilibili, regexp.MustCompile(`bilibili\.com`), submatch(bilibiliID, 0)},
		{Twitter, regexp.MustCompile(`twitter\.com|x\.com`), submatch(twitterID, 1)},
		{TikTok, regexp.MustCompile(`tiktok\.com`), nil},
		{Instagram, regexp.MustCompile(`instagram\.com`), nil},
	}
)

func submatch(pattern *regexp.Regexp, group int) func(string) string {
	return func(url string) string {
		if m := pattern.FindStringSubmatch(url); len(m) > group {
			return m[group]
		}

		return ""
	}
}

// Detect returns the platform the URL belongs to, or Other.
func Detect(url string) Platform {
	for _, r := range rules {
		if r.host.MatchString(url) {
			return r.platform
		}
	}

	return Other
}

// Classify identifies the platform of the URL and extracts its media id.
// Platforms without an id rule use the URL itself as the id.
func Classify(url string) Info {
	info := Info{Platform: Other, ID: url, URL: url}
	for _, r := range rules {
		if !r.host.MatchString(url) {
			continue
		}

		info.Platform = r.platform
		if r.id != nil {
			info.ID = r.id(url)
		}
		break
	}

	if info.Platform == YouTube && info.ID != "" {
		info.Thumbnail = fmt.Sprintf("https://img.youtube.com/vi/%s/mqdefault.jpg", info.ID)
	}
	info.Title = fmt.Sprintf("Video from %s (%s)", info.Platform, info.ID)

	return info
}
