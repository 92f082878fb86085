package resource

import (
	"fmt"
	"runtime"

	"github.com/prometheus/procfs"
)

const kibPerGiB = 1 << 20

// DetectHost returns capacities sized to the current machine: one cpus slot
// per logical CPU and the currently available memory in GiB.
func DetectHost() (map[string]float64, error) {
	mem, err := AvailableMemoryGiB()
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		CPUs:   float64(runtime.NumCPU()),
		Memory: mem,
	}, nil
}

// AvailableMemoryGiB reads MemAvailable from /proc/meminfo, falling back to
// MemFree on kernels that do not report it.
func AvailableMemoryGiB() (float64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, fmt.Errorf("opening procfs: %w", err)
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("reading meminfo: %w", err)
	}

	switch {
	case mi.MemAvailable != nil:
		return float64(*mi.MemAvailable) / kibPerGiB, nil
	case mi.MemFree != nil:
		return float64(*mi.MemFree) / kibPerGiB, nil
	default:
		return 0, fmt.Errorf("meminfo reports neither MemAvailable nor MemFree")
	}
}
