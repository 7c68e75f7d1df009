package property

import (
	"strings"
	"sync"

	"github.com/ua-parser/uap-go/uaparser"
)

var (
	parserOnce sync.Once
	parser     *uaparser.Parser
)

// DeviceProperties derives the client.device.* property values from a
// User-Agent header. An empty user agent yields an empty map so unset
// properties stay unset rather than reading as empty strings.
func DeviceProperties(userAgent string) map[string]string {
	if userAgent == "" {
		return nil
	}

	parserOnce.Do(func() {
		parser = uaparser.NewFromSaved()
	})

	client := parser.Parse(userAgent)

	version := strings.Join(nonEmpty(
		client.UserAgent.Major, client.UserAgent.Minor, client.UserAgent.Patch), ".")

	return map[string]string{
		"client.device.browser":         client.UserAgent.Family,
		"client.device.browser_version": version,
		"client.device.os":              client.Os.Family,
		"client.device.family":          client.Device.Family,
	}
}

// DevicePaths returns the client.device.* paths in seeding order.
func DevicePaths() []string {
	return devicePaths
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
