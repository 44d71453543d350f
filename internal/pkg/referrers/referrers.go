// Package referrers turns referrer URLs into traffic sources.
package referrers

import (
	"net/url"
	"strings"
)

// Channels a source can belong to.
const (
	ChannelDirect    = "direct"
	ChannelSearch    = "search"
	ChannelSocial    = "social"
	ChannelDirectory = "directory"
	ChannelEmail     = "email"
	ChannelReferral  = "referral"
)

// DirectSource names visits without a referrer.
const DirectSource = "Direct"

type source struct {
	name    string
	channel string
}

// Referrer hostnames seen in front of a repair shop's booking flow.
var knownReferrers = map[string]source{
	// Search engines and maps
	"google.com":      {"Google", ChannelSearch},
	"google.co.uk":    {"Google", ChannelSearch},
	"google.de":       {"Google", ChannelSearch},
	"google.fr":       {"Google", ChannelSearch},
	"google.es":       {"Google", ChannelSearch},
	"google.ca":       {"Google", ChannelSearch},
	"google.com.au":   {"Google", ChannelSearch},
	"maps.google.com": {"Google Maps", ChannelDirectory},
	"bing.com":        {"Bing", ChannelSearch},
	"duckduckgo.com":  {"DuckDuckGo", ChannelSearch},
	"yahoo.com":       {"Yahoo", ChannelSearch},
	"ecosia.org":      {"Ecosia", ChannelSearch},
	"maps.apple.com":  {"Apple Maps", ChannelDirectory},

	// Local service directories and review sites
	"yelp.com":        {"Yelp", ChannelDirectory},
	"yelp.co.uk":      {"Yelp", ChannelDirectory},
	"nextdoor.com":    {"Nextdoor", ChannelDirectory},
	"angi.com":        {"Angi", ChannelDirectory},
	"thumbtack.com":   {"Thumbtack", ChannelDirectory},
	"bbb.org":         {"BBB", ChannelDirectory},
	"trustpilot.com":  {"Trustpilot", ChannelDirectory},
	"tripadvisor.com": {"Tripadvisor", ChannelDirectory},

	// Social media
	"x.com":           {"X/Twitter", ChannelSocial},
	"twitter.com":     {"X/Twitter", ChannelSocial},
	"t.co":            {"X/Twitter", ChannelSocial},
	"facebook.com":    {"Facebook", ChannelSocial},
	"fb.com":          {"Facebook", ChannelSocial},
	"l.facebook.com":  {"Facebook", ChannelSocial},
	"instagram.com":   {"Instagram", ChannelSocial},
	"l.instagram.com": {"Instagram", ChannelSocial},
	"tiktok.com":      {"TikTok", ChannelSocial},
	"reddit.com":      {"Reddit", ChannelSocial},
	"youtube.com":     {"YouTube", ChannelSocial},
	"youtu.be":        {"YouTube", ChannelSocial},
	"pinterest.com":   {"Pinterest", ChannelSocial},
	"whatsapp.com":    {"WhatsApp", ChannelSocial},

	// Email providers (reminder and newsletter clicks)
	"mail.google.com":    {"Gmail", ChannelEmail},
	"outlook.live.com":   {"Outlook", ChannelEmail},
	"outlook.office.com": {"Outlook", ChannelEmail},
	"mail.yahoo.com":     {"Yahoo Mail", ChannelEmail},
	"mail.proton.me":     {"Proton Mail", ChannelEmail},
}

// Source returns the friendly source name of a referrer URL or bare
// hostname. An empty referrer is DirectSource.
func Source(referrer string) string {
	host := Hostname(referrer)
	if host == "" {
		return DirectSource
	}
	return FriendlyName(host)
}

// Channel returns the channel of a referrer URL or bare hostname.
func Channel(referrer string) string {
	host := Hostname(referrer)
	if host == "" {
		return ChannelDirect
	}
	if s, ok := lookup(host); ok {
		return s.channel
	}
	return ChannelReferral
}

// Hostname extracts the lower-cased host of a referrer URL. Bare hostnames
// are accepted.
func Hostname(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	if !strings.Contains(referrer, "://") {
		referrer = "https://" + referrer
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// FriendlyName returns a human-friendly name for a referrer hostname.
// If the hostname is not in the known list, it returns the hostname
// with common prefixes like "www." removed and first letter capitalized.
func FriendlyName(hostname string) string {
	hostname = strings.ToLower(hostname)
	if s, ok := lookup(hostname); ok {
		return s.name
	}
	return capitalizeFirst(strings.TrimPrefix(hostname, "www."))
}

func lookup(hostname string) (source, bool) {
	if s, ok := knownReferrers[hostname]; ok {
		return s, true
	}

	hostname = strings.TrimPrefix(hostname, "www.")
	if s, ok := knownReferrers[hostname]; ok {
		return s, true
	}

	// Longest matching parent domain wins, so maps.google.com beats google.com.
	var (
		best    source
		bestLen int
	)
	for domain, s := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) && len(domain) > bestLen {
			best, bestLen = s, len(domain)
		}
	}
	return best, bestLen > 0
}

// capitalizeFirst capitalizes the first letter of a string
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
