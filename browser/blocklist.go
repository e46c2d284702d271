package browser

import "strings"

// resourceTypes are the resource type names accepted in
// Options.BlockedResourceTypes.
var resourceTypes = map[string]struct{}{
	"Image":      {},
	"Stylesheet": {},
	"Font":       {},
	"Media":      {},
	"Script":     {},
}

// adDomains is a set of well-known ad and tracking domains blocked when
// BlockAds is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"connect.facebook.net":  {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"chartbeat.com":         {},
	"optimizely.com":        {},
	"media.net":             {},
	"openx.net":             {},
	"demdex.net":            {},
	"krxd.net":              {},
	"bluekai.com":           {},
	"sharethis.com":         {},
	"addthis.com":           {},
	"consensu.org":          {},
}

// isAdDomain checks if a hostname or any of its parent domains is in the
// ad blocklist ("pagead2.googlesyndication.com" → "googlesyndication.com").
func isAdDomain(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for host != "" {
		if _, ok := adDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}

// blockSet returns the known resource type names from names.
func blockSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := resourceTypes[n]; ok {
			set[n] = struct{}{}
		}
	}
	return set
}
