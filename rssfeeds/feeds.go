package rssfeeds

import "strings"

// FeedConfig represents the configuration for a single RSS feed
type FeedConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FeedPresets maps friendly keys to RSS feed configurations
var FeedPresets = map[string]FeedConfig{
	"cna": {
		Name: "Channel News Asia",
		URL:  "https://www.channelnewsasia.com/api/v1/rss-outbound-feed?_format=xml",
	},
	"st": {
		Name: "Straits Times",
		URL:  "https://www.straitstimes.com/news/singapore/rss.xml",
	},
	"hn": {
		Name: "Hacker News",
		URL:  "https://hnrss.org/newest",
	},
	"tr": {
		Name: "Technology Review",
		URL:  "https://www.technologyreview.com/feed/",
	},
}

// ResolveFeed turns a preset key or a raw URL into a feed config. Raw URLs
// get an empty name; the feed's own title is used instead.
func ResolveFeed(input string) FeedConfig {
	if preset, ok := FeedPresets[strings.ToLower(strings.TrimSpace(input))]; ok {
		return preset
	}
	return FeedConfig{URL: strings.TrimSpace(input)}
}
