package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestParticipantScore(t *testing.T) {
	tests := []struct {
		name   string
		sample *Sample
		want   float64
	}{
		{"nil sample", nil, 0},
		{"no metrics", &Sample{Resolution: "720p"}, 0},
		{"bitrate only", &Sample{Bitrate: f(500)}, 0.5},
		{"saturated bitrate", &Sample{Bitrate: f(4000)}, 1},
		{"latency only", &Sample{Latency: f(100)}, 0.8},
		{"latency beyond ceiling", &Sample{Latency: f(900)}, 0},
		{"loss only", &Sample{PacketLoss: f(0.25)}, 0.75},
		{"all metrics", &Sample{Bitrate: f(1000), Latency: f(250), PacketLoss: f(0)}, (1 + 0.5 + 1) / 3},
		{"negative inputs clamp", &Sample{Bitrate: f(-10), Latency: f(-10), PacketLoss: f(-1)}, 2.0 / 3},
		{"loss above one", &Sample{PacketLoss: f(3)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParticipantScore(tt.sample), 1e-9)
		})
	}
}

func TestCallScore(t *testing.T) {
	a := &Sample{Bitrate: f(800)}
	b := &Sample{Latency: f(0)}

	assert.InDelta(t, 0.9, CallScore(a, b), 1e-9)
	// A participant without metrics does not drag the average down
	assert.InDelta(t, 0.8, CallScore(a, &Sample{}), 1e-9)
	assert.InDelta(t, 0.8, CallScore(nil, a), 1e-9)
	assert.Equal(t, 0.0, CallScore(nil, nil))
	assert.Equal(t, 0.0, CallScore())
}

func TestParticipantScore_Monotonic(t *testing.T) {
	base := func() *Sample {
		return &Sample{Bitrate: f(400), Latency: f(200), PacketLoss: f(0.2)}
	}
	score := ParticipantScore(base())

	better := base()
	*better.Bitrate = 600
	assert.Greater(t, ParticipantScore(better), score)

	better = base()
	*better.Latency = 50
	assert.Greater(t, ParticipantScore(better), score)

	better = base()
	*better.PacketLoss = 0.05
	assert.Greater(t, ParticipantScore(better), score)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, LabelExcellent, Label(1))
	assert.Equal(t, LabelExcellent, Label(0.8))
	assert.Equal(t, LabelGood, Label(0.79))
	assert.Equal(t, LabelGood, Label(0.6))
	assert.Equal(t, LabelFair, Label(0.4))
	assert.Equal(t, LabelPoor, Label(0.2))
	assert.Equal(t, LabelVeryPoor, Label(0.19))
	assert.Equal(t, LabelVeryPoor, Label(0))
}

func TestClone(t *testing.T) {
	s := &Sample{Bitrate: f(100), Resolution: "1080p"}
	c := s.Clone()
	*c.Bitrate = 200

	assert.Equal(t, 100.0, *s.Bitrate)
	assert.Equal(t, "1080p", c.Resolution)
	assert.Nil(t, (*Sample)(nil).Clone())
}
