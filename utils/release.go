package utils

import "regexp"

// Resolution labels returned by ExtractQuality
const (
	Quality4K      = "4K"
	Quality1080p   = "1080p"
	Quality720p    = "720p"
	Quality480p    = "480p"
	QualityUnknown = "Unknown"
)

var qualityTokens = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`(?i)(^|[^a-z0-9])(2160p|4k|uhd)([^a-z0-9]|$)`), Quality4K},
	{regexp.MustCompile(`(?i)(^|[^a-z0-9])(1080[pi]|fhd)([^a-z0-9]|$)`), Quality1080p},
	{regexp.MustCompile(`(?i)(^|[^a-z0-9])(720p)([^a-z0-9]|$)`), Quality720p},
	{regexp.MustCompile(`(?i)(^|[^a-z0-9])(480p|576p)([^a-z0-9]|$)`), Quality480p},
}

// ExtractQuality returns the resolution a release title claims, matching whole tokens only
func ExtractQuality(title string) string {
	for _, q := range qualityTokens {
		if q.pattern.MatchString(title) {
			return q.label
		}
	}
	return QualityUnknown
}
