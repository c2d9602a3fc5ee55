package cluster

import "github.com/valkeygo/valkeygo/topology"

// BalanceReport is a read-only advisory over the current slot
// distribution: this client never migrates slots itself (that is a
// server-side operation, triggered by CLUSTER SETSLOT/MIGRATE out of
// scope here), but surfacing the skew helps an operator decide whether
// to run a rebalance.
type BalanceReport struct {
	PerShardSlotCount []int
	MeanSlotCount     float64
	MaxDeviation      float64
	Balanced          bool
}

// maxAcceptableDeviation is the fraction of the mean a shard's slot
// count may differ by before BalanceReport.Balanced reports false.
const maxAcceptableDeviation = 0.10

// BalanceReport inspects the current slot map's shard sizes and reports
// how far they deviate from an even split.
func (c *Coordinator) BalanceReport() BalanceReport {
	sm := c.machine.SlotMapSnapshot()
	if sm == nil || len(sm.Shards) == 0 {
		return BalanceReport{Balanced: true}
	}

	counts := make([]int, len(sm.Shards))
	for i := range sm.Shards {
		counts[i] = slotCount(sm.Shards[i])
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	mean := float64(total) / float64(len(counts))

	maxDev := 0.0
	for _, n := range counts {
		dev := deviation(float64(n), mean)
		if dev > maxDev {
			maxDev = dev
		}
	}

	return BalanceReport{
		PerShardSlotCount: counts,
		MeanSlotCount:     mean,
		MaxDeviation:      maxDev,
		Balanced:          maxDev <= maxAcceptableDeviation,
	}
}

func slotCount(s topology.Shard) int {
	n := 0
	for _, r := range s.SlotRanges {
		n += r.End - r.Start + 1
	}
	return n
}

func deviation(n, mean float64) float64 {
	if mean == 0 {
		return 0
	}
	d := (n - mean) / mean
	if d < 0 {
		d = -d
	}
	return d
}
