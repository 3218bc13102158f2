// Package quality turns raw connection telemetry into a 0..1 score.
//
// Every function here is pure: the same sample always yields the same
// score, so scores can be recomputed from stored samples at read time.
package quality

const (
	// BitrateCeilingKbps is the bitrate at which the bitrate metric saturates.
	BitrateCeilingKbps = 1000.0
	// LatencyCeilingMs is the latency at which the latency metric reaches zero.
	LatencyCeilingMs = 500.0
)

// Label thresholds, inclusive lower bounds.
const (
	ExcellentThreshold = 0.8
	GoodThreshold      = 0.6
	FairThreshold      = 0.4
	PoorThreshold      = 0.2
)

const (
	LabelExcellent = "Excellent"
	LabelGood      = "Good"
	LabelFair      = "Fair"
	LabelPoor      = "Poor"
	LabelVeryPoor  = "Very Poor"
)

// Sample is one connection-quality report. Nil fields are absent metrics.
type Sample struct {
	Bitrate    *float64 `json:"bitrate,omitempty"`     // kbps
	Latency    *float64 `json:"latency,omitempty"`     // ms
	PacketLoss *float64 `json:"packet_loss,omitempty"` // ratio 0..1
	Resolution string   `json:"resolution,omitempty"`
}

// HasMetrics reports whether at least one numeric metric is present.
func (s *Sample) HasMetrics() bool {
	return s != nil && (s.Bitrate != nil || s.Latency != nil || s.PacketLoss != nil)
}

// Clone returns a deep copy of s.
func (s *Sample) Clone() *Sample {
	if s == nil {
		return nil
	}
	out := &Sample{Resolution: s.Resolution}
	if s.Bitrate != nil {
		v := *s.Bitrate
		out.Bitrate = &v
	}
	if s.Latency != nil {
		v := *s.Latency
		out.Latency = &v
	}
	if s.PacketLoss != nil {
		v := *s.PacketLoss
		out.PacketLoss = &v
	}
	return out
}

// ParticipantScore averages the normalized metrics present in s.
// Returns 0 when s carries no metric.
func ParticipantScore(s *Sample) float64 {
	if !s.HasMetrics() {
		return 0
	}

	var sum float64
	var n int
	if s.Bitrate != nil {
		sum += BitrateScore(*s.Bitrate)
		n++
	}
	if s.Latency != nil {
		sum += LatencyScore(*s.Latency)
		n++
	}
	if s.PacketLoss != nil {
		sum += PacketLossScore(*s.PacketLoss)
		n++
	}
	return sum / float64(n)
}

// CallScore averages the scores of the participants that reported
// at least one metric. Returns 0 when none did.
func CallScore(samples ...*Sample) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if !s.HasMetrics() {
			continue
		}
		sum += ParticipantScore(s)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// BitrateScore maps kbps to [0,1], saturating at BitrateCeilingKbps.
func BitrateScore(kbps float64) float64 {
	return clamp01(kbps / BitrateCeilingKbps)
}

// LatencyScore maps ms to [0,1]; 0ms is 1, LatencyCeilingMs and above is 0.
func LatencyScore(ms float64) float64 {
	if ms < 0 {
		ms = 0
	}
	return clamp01(1 - ms/LatencyCeilingMs)
}

// PacketLossScore maps a loss ratio to [0,1]; no loss is 1.
func PacketLossScore(loss float64) float64 {
	return clamp01(1 - clamp01(loss))
}

// Label returns the qualitative bucket for score.
func Label(score float64) string {
	switch {
	case score >= ExcellentThreshold:
		return LabelExcellent
	case score >= GoodThreshold:
		return LabelGood
	case score >= FairThreshold:
		return LabelFair
	case score >= PoorThreshold:
		return LabelPoor
	default:
		return LabelVeryPoor
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
