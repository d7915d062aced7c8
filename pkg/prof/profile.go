package prof

import (
	"fmt"
	"slices"
	"strings"
)

// Profile names a pprof profile.
type Profile string

// Supported profiles.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

var known = []Profile{ProfileCPU, ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileBlock, ProfileMutex}

func (p Profile) String() string { return string(p) }

// File returns the name the profile is written under.
func (p Profile) File() string { return string(p) + ".prof" }

// ParseProfiles parses a comma separated list such as "cpu,mutex". Empty
// elements are skipped and duplicates collapse.
func ParseProfiles(list string) ([]Profile, error) {
	var out []Profile
	seen := make(map[Profile]bool)
	for name := range strings.SplitSeq(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p := Profile(strings.ToLower(name))
		if !isKnown(p) {
			return nil, fmt.Errorf("prof: unknown profile %q", name)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func isKnown(p Profile) bool { return slices.Contains(known, p) }
