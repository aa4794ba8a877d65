package iface

import "fmt"

const (
	TaskDetect   = 0x0101
	TaskSegment  = 0x0102
	TaskClassify = 0x0103
	TaskPose     = 0x0104
	TaskOBB      = 0x0105
)

type Task int

func (t Task) String() string {
	switch t {
	case TaskDetect:
		return "detect"
	case TaskSegment:
		return "segment"
	case TaskClassify:
		return "classify"
	case TaskPose:
		return "pose"
	case TaskOBB:
		return "obb"
	default:
		return fmt.Sprintf("unknown(0x%04x)", int(t))
	}
}

func ParseTask(s string) (Task, error) {
	switch s {
	case "detect":
		return TaskDetect, nil
	case "segment":
		return TaskSegment, nil
	case "classify":
		return TaskClassify, nil
	case "pose":
		return TaskPose, nil
	case "obb":
		return TaskOBB, nil
	default:
		return 0, fmt.Errorf("unknown task %q", s)
	}
}

type Position struct {
	X, Y float32
}

// Box is four corners so axis-aligned and oriented boxes share one shape.
type Box struct {
	LT Position
	RT Position
	RB Position
	LB Position
}

func (b Box) Center() Position {
	return Position{
		X: (b.LT.X + b.RT.X + b.RB.X + b.LB.X) / 4,
		Y: (b.LT.Y + b.RT.Y + b.RB.Y + b.LB.Y) / 4,
	}
}

type Keypoint struct {
	X    float32
	Y    float32
	Conf float32
}

type Result struct {
	Conf      float32
	Box       Box
	Center    Position
	Angle     float32    // radians, oriented boxes only
	Keypoints []Keypoint // pose only
	Mask      []Position // segment polygon only
}

type Classification struct {
	Name string
	Conf float32
}

type RetData struct {
	Success bool
	Data    any
}

const (
	DefaultConf     = 0.5
	DefaultIou      = 0.45
	DefaultMaxItems = 30
	MaxItemsCap     = 100
)

// Thresholds are the UI-tunable knobs forwarded to the native call.
// Out-of-range values never error, they saturate via Clamp.
type Thresholds struct {
	Conf     float32
	Iou      float32
	MaxItems int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Conf: DefaultConf, Iou: DefaultIou, MaxItems: DefaultMaxItems}
}

// Clamp fills zero values with defaults and saturates the rest into range:
// Conf and Iou into [0,1], MaxItems into [1,MaxItemsCap].
func (t Thresholds) Clamp() Thresholds {
	if t.Conf == 0 {
		t.Conf = DefaultConf
	}
	if t.Iou == 0 {
		t.Iou = DefaultIou
	}
	if t.MaxItems == 0 {
		t.MaxItems = DefaultMaxItems
	}
	if t.Conf < 0 {
		t.Conf = 0
	} else if t.Conf > 1 {
		t.Conf = 1
	}
	if t.Iou < 0 {
		t.Iou = 0
	} else if t.Iou > 1 {
		t.Iou = 1
	}
	if t.MaxItems < 1 {
		t.MaxItems = 1
	} else if t.MaxItems > MaxItemsCap {
		t.MaxItems = MaxItemsCap
	}
	return t
}

type NamesConf struct {
	IsFile bool
	Data   any
}

type EngineConfig struct {
	UseGPU     bool
	ModelPath  string
	Task       Task
	Names      NamesConf
	Thresholds Thresholds
}

// ImageData is a decoded image plane handed to a backend. The bridge decodes
// base64/JPEG at the edge; backends never see encoded bytes.
type ImageData struct {
	Data     []byte
	Width    int32
	Height   int32
	Channels int32
}
