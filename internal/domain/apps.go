package domain

import (
	"slices"
	"strings"
)

// ManagedBrowser is the filtered browser left usable while locked.
const ManagedBrowser = "com.takwa.fortress.browser"

// SelfPackage is this application; its uninstall is blocked while locked.
const SelfPackage = "com.takwa.fortress"

// nuclearApps are always hidden while a policy is active.
var nuclearApps = []string{
	"com.instagram.android",
	"com.zhiliaoapp.musically",
	"com.snapchat.android",
	"com.reddit.frontpage",
	"com.twitter.android",
	"com.tumblr",
	"com.discord",
	"org.telegram.messenger",
	"com.google.android.youtube",
	"com.facebook.katana",
}

// browserApps are suspended, leaving only the managed browser.
var browserApps = []string{
	"com.android.chrome",
	"org.mozilla.firefox",
	"com.opera.browser",
	"com.opera.mini.native",
	"com.microsoft.emmx",
	"com.brave.browser",
	"com.duckduckgo.mobile.android",
	"com.sec.android.app.sbrowser",
	"com.UCMobile.intl",
	"com.kiwibrowser.browser",
}

func NuclearApps() []string { return slices.Clone(nuclearApps) }
func BrowserApps() []string { return slices.Clone(browserApps) }

func IsNuclear(pkg string) bool { return slices.Contains(nuclearApps, pkg) }
func IsBrowser(pkg string) bool { return slices.Contains(browserApps, pkg) }

// BlockedSnapshot is the sorted, de-duplicated set blocked at activation:
// the catalog plus user additions. Neither this app nor the managed browser
// can be blocked.
func BlockedSnapshot(userAdded []string) []string {
	set := make(map[string]struct{}, len(nuclearApps)+len(browserApps)+len(userAdded))
	add := func(pkgs []string) {
		for _, p := range pkgs {
			p = strings.TrimSpace(p)
			if p == "" || p == SelfPackage || p == ManagedBrowser {
				continue
			}
			set[p] = struct{}{}
		}
	}
	add(nuclearApps)
	add(browserApps)
	add(userAdded)

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// SplitBlocked partitions a snapshot into the hidden and suspended subsets.
// Nuclear apps are hidden. Everything else, browsers and user additions
// alike, is suspended. The subsets never overlap.
func SplitBlocked(blocked []string) (hidden, suspended []string) {
	for _, p := range blocked {
		if IsNuclear(p) {
			hidden = append(hidden, p)
		} else {
			suspended = append(suspended, p)
		}
	}
	return hidden, suspended
}
