package iface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholds_Clamp(t *testing.T) {
	cases := []struct {
		name string
		in   Thresholds
		want Thresholds
	}{
		{"zero takes defaults", Thresholds{}, Thresholds{Conf: 0.5, Iou: 0.45, MaxItems: 30}},
		{"in range untouched", Thresholds{Conf: 0.25, Iou: 0.7, MaxItems: 10}, Thresholds{Conf: 0.25, Iou: 0.7, MaxItems: 10}},
		{"conf above one saturates", Thresholds{Conf: 1.5, Iou: 0.5, MaxItems: 10}, Thresholds{Conf: 1, Iou: 0.5, MaxItems: 10}},
		{"conf below zero saturates", Thresholds{Conf: -0.5, Iou: 0.5, MaxItems: 10}, Thresholds{Conf: 0, Iou: 0.5, MaxItems: 10}},
		{"iou above one saturates", Thresholds{Conf: 0.5, Iou: 3, MaxItems: 10}, Thresholds{Conf: 0.5, Iou: 1, MaxItems: 10}},
		{"maxItems above cap saturates", Thresholds{Conf: 0.5, Iou: 0.5, MaxItems: 500}, Thresholds{Conf: 0.5, Iou: 0.5, MaxItems: 100}},
		{"maxItems below one saturates", Thresholds{Conf: 0.5, Iou: 0.5, MaxItems: -3}, Thresholds{Conf: 0.5, Iou: 0.5, MaxItems: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Clamp())
		})
	}
}

func TestParseTask(t *testing.T) {
	for _, s := range []string{"detect", "segment", "classify", "pose", "obb"} {
		task, err := ParseTask(s)
		assert.NoError(t, err)
		assert.Equal(t, s, task.String())
	}
	_, err := ParseTask("tracking")
	assert.Error(t, err)
}

func TestBox_Center(t *testing.T) {
	b := Box{
		LT: Position{X: 0, Y: 0},
		RT: Position{X: 4, Y: 0},
		RB: Position{X: 4, Y: 2},
		LB: Position{X: 0, Y: 2},
	}
	c := b.Center()
	assert.Equal(t, float32(2), c.X)
	assert.Equal(t, float32(1), c.Y)
}
