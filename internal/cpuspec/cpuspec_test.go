package cpuspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		brand     string
		logical   int
		available int
		want      int
	}{
		{"hybrid intel uses p-cores", "12th Gen Intel(R) Core(TM) i7-12700K", 20, 20, 8},
		{"hybrid capped by cgroup", "13th Gen Intel(R) Core(TM) i9-13900K", 32, 4, 4},
		{"apple base chip", "Apple M2", 8, 8, 4},
		{"apple max chip", "Apple M3 Max", 16, 16, 12},
		{"unknown uses logical cores", "AMD Ryzen 7 5800X 8-Core Processor", 16, 16, 16},
		{"unknown capped by available", "ARMv8 Processor", 4, 2, 2},
		{"nothing reported", "", 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := newSpec(tt.brand, tt.logical)
			assert.Equal(t, tt.want, spec.threadsFor(tt.available))
		})
	}
}

func TestOptimalThreadCountIsPositive(t *testing.T) {
	t.Parallel()
	assert.GreaterOrEqual(t, GetCPUSpec().OptimalThreadCount(), 1)
}
