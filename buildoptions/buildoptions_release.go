//go:build regalloc_release
// +build regalloc_release

package buildoptions

const IsDebugMode = false
