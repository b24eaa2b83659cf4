package arch

import "strings"

// PageFlags is the portable page-permission vocabulary. Architectures
// translate it to their descriptor encoding via PageTableFormat.
//
// The cow-marker records that the logical permission of the mapping is
// writable while the hardware writable bit is deliberately clear; it
// lives in an OS-available descriptor bit on both architectures.
type PageFlags uint16

const (
	// FlagPresent marks the descriptor valid.
	FlagPresent PageFlags = 1 << iota
	// FlagWritable allows stores through the mapping.
	FlagWritable
	// FlagUser allows access from user privilege.
	FlagUser
	// FlagNoExecute forbids instruction fetch.
	FlagNoExecute
	// FlagNoCache marks the mapping uncacheable (MMIO).
	FlagNoCache
	// FlagCow is the copy-on-write marker.
	FlagCow
)

// Union returns the combination of both flag sets.
func (f PageFlags) Union(o PageFlags) PageFlags { return f | o }

// Contains reports whether every flag in o is set in f.
func (f PageFlags) Contains(o PageFlags) bool { return f&o == o }

// Without returns f with the flags in o cleared.
func (f PageFlags) Without(o PageFlags) PageFlags { return f &^ o }

func (f PageFlags) String() string {
	if f == 0 {
		return "[]"
	}
	var parts []string
	for _, e := range []struct {
		flag PageFlags
		name string
	}{
		{FlagPresent, "present"},
		{FlagWritable, "writable"},
		{FlagUser, "user"},
		{FlagNoExecute, "nx"},
		{FlagNoCache, "nocache"},
		{FlagCow, "cow"},
	} {
		if f.Contains(e.flag) {
			parts = append(parts, e.name)
		}
	}
	return "[" + strings.Join(parts, "|") + "]"
}

// UserData is the flag set for a writable anonymous user page.
func UserData() PageFlags {
	return FlagPresent | FlagWritable | FlagUser | FlagNoExecute
}

// UserText is the flag set for an executable, read-only user page.
func UserText() PageFlags {
	return FlagPresent | FlagUser
}

// UserRodata is the flag set for a read-only, non-executable user page.
func UserRodata() PageFlags {
	return FlagPresent | FlagUser | FlagNoExecute
}

// KernelData is the flag set for kernel-internal pages. Kernel
// mappings are never user accessible and never user executable.
func KernelData() PageFlags {
	return FlagPresent | FlagWritable | FlagNoExecute
}
