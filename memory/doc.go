// Package memory provides linear memory and allocator adapters.
//
// Wrapper adapts a wazero api.Memory to wasmasync.LinearMemory and
// AllocatorWrapper adapts an exported cabi_realloc function to
// wasmasync.Allocator. Buffer and Bump are plain Go implementations used for
// host-side staging and tests.
package memory
