package runstore

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/volstitch/internal/stitch"
)

// SummariseHeads computes HeadStats for every normalised head of a complete
// result. outputs, if non-nil, gives the file each head was written to.
// Visit counts cover the accumulation buffer, including any mirror padding.
func SummariseHeads(res *stitch.Result, outputs []string) []HeadStats {
	if res == nil || !res.Complete {
		return nil
	}
	stats := make([]HeadStats, len(res.Heads))
	for h, v := range res.Heads {
		mean, std := stat.MeanStdDev(v.Data, nil)
		if len(v.Data) < 2 {
			std = 0 // sample stddev is undefined for a single voxel
		}
		lo, hi := res.Buffer.VisitRange(h)
		stats[h] = HeadStats{
			Head:      h,
			Channels:  v.Channels,
			Shape:     v.Shape,
			Mean:      mean,
			StdDev:    std,
			Min:       floats.Min(v.Data),
			Max:       floats.Max(v.Data),
			MinVisits: lo,
			MaxVisits: hi,
		}
		if h < len(outputs) {
			stats[h].OutputPath = outputs[h]
		}
		diagf("head %d: mean %.4g stddev %.4g range [%.4g, %.4g] visits [%d, %d]",
			h, mean, std, stats[h].Min, stats[h].Max, lo, hi)
	}
	return stats
}
