// Package memory samples system memory usage via gopsutil, giving the
// daemon a host-side view to record next to ANE power readings. Heavy
// unified-memory pressure is the usual companion of sustained ANE
// load.
package memory

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"codeberg.org/halvard/anemeter/internal/errors"
	"codeberg.org/halvard/anemeter/internal/model"
)

const ErrReadMemory = errors.ErrorCode("memory_read_failed")

var errFactory = errors.New()

// Sampler reads system memory statistics
type Sampler struct{}

func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample returns a point-in-time memory reading. Swap statistics are
// best effort; a swap read failure leaves the swap fields zero rather
// than discarding the sample.
func (s *Sampler) Sample(ctx context.Context) (model.MemorySample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.MemorySample{}, errFactory.Wrap(ErrReadMemory, err)
	}

	sample := model.MemorySample{
		Total:     vm.Total,
		Used:      vm.Used,
		Available: vm.Available,
		Timestamp: time.Now(),
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		sample.SwapTotal = swap.Total
		sample.SwapUsed = swap.Used
	}

	return sample, nil
}
