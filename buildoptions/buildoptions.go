//go:build !regalloc_release
// +build !regalloc_release

package buildoptions

// IsDebugMode enables internal consistency checks: lock-step audits of the
// interval/register pairing and the post-resolution edge audit. Disabled
// with the regalloc_release build tag.
const IsDebugMode = true
