package core

import "github.com/shirou/gopsutil/v3/mem"

// AdaptiveReadFragmentSize picks a read fragment size from the
// available system memory: roughly 1/64 of what is free, clamped to
// [MinReadFragmentSize, MaxReadFragmentSize]. Falls back to the minimum
// when the probe fails.
func AdaptiveReadFragmentSize() int64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return MinReadFragmentSize
	}
	size := int64(vm.Available / 64)
	if size < MinReadFragmentSize {
		return MinReadFragmentSize
	}
	if size > MaxReadFragmentSize {
		return MaxReadFragmentSize
	}
	return size
}
