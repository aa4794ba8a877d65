package engine

import (
	iface "VisionBridge/interface"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unsafe"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const SingleThread = 0x1001
const MultiThread = 0x1002

// ReadLinesReadFile reads a class-names file, one name per line.
// Windows CRLF endings are tolerated, empty lines are dropped.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Predictor is one native model handle. States: UNREGISTERED until New,
// REGISTERED until LoadModel, then IDLE/BUSY around Predict.
type Predictor struct {
	ModelPath  string
	Task       iface.Task
	Names      []string
	Thresholds iface.Thresholds
	UseGPU     bool
	Instance   unsafe.Pointer
	State      int
}

func (p *Predictor) New() bool {
	p.Instance = CreatePredictor()
	p.State = REGISTERED
	return p.Instance != nil
}

func (p *Predictor) CheckConfig() iface.EngineConfig {
	retConfig := iface.EngineConfig{}
	retConfig.ModelPath = p.ModelPath
	retConfig.Task = p.Task
	retConfig.Thresholds = p.Thresholds
	retConfig.UseGPU = p.UseGPU
	retConfig.Names = iface.NamesConf{
		IsFile: false,
		Data:   p.Names,
	}
	return retConfig
}

func resolveNames(names iface.NamesConf) ([]string, error) {
	if names.IsFile {
		path, ok := names.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file path must be a string, got %T", names.Data)
		}
		return ReadLinesReadFile(path)
	}
	rv := reflect.ValueOf(names.Data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("names must be a slice or a file path")
	}
	n := rv.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("names[%d] is not a string", i)
		}
		out[i] = s
	}
	return out, nil
}

func validateModelExt(modelPath string) error {
	want, ok := modelExts[backendCfg.UseBackend]
	if !ok {
		return fmt.Errorf("unsupported backend: %s", backendCfg.UseBackend)
	}
	if filepath.Ext(modelPath) != want {
		return fmt.Errorf("%s.LoadModel only supports %s", backendCfg.UseBackend, want)
	}
	return nil
}

// LoadModel pushes the model and clamped thresholds to the native side.
// Thresholds are always clamped here, before they cross the bridge.
func (p *Predictor) LoadModel(modelPath string, task iface.Task, names iface.NamesConf, thr iface.Thresholds, useGPU bool) (bool, error) {
	resolved, err := resolveNames(names)
	if err != nil {
		return false, err
	}
	if err := validateModelExt(modelPath); err != nil {
		return false, err
	}
	p.Names = resolved
	p.ModelPath = modelPath
	p.Task = task
	p.Thresholds = thr.Clamp()
	p.UseGPU = useGPU
	state := InitPredictor(p.Instance, p.ModelPath, int(task),
		p.Thresholds.Conf, p.Thresholds.Iou, p.Thresholds.MaxItems, p.UseGPU)
	p.State = IDLE
	return state, nil
}

// SetThresholds clamps and pushes new thresholds to the loaded model.
func (p *Predictor) SetThresholds(thr iface.Thresholds) error {
	switch p.State {
	case UNREGISTERED:
		return fmt.Errorf("predictor not registered")
	case REGISTERED:
		return fmt.Errorf("model not loaded")
	}
	p.Thresholds = thr.Clamp()
	PushThresholds(p.Instance, p.Thresholds.Conf, p.Thresholds.Iou, p.Thresholds.MaxItems)
	return nil
}

func (p *Predictor) Destroy() {
	DestroyPredictor(p.Instance)
	p.ModelPath = ""
	p.Task = 0
	p.Names = nil
	p.Thresholds = iface.Thresholds{}
	p.UseGPU = false
	p.Instance = nil
	p.State = UNREGISTERED
}

func (p *Predictor) Predict(img iface.ImageData) iface.RetData {
	switch p.State {
	case UNREGISTERED:
		return iface.RetData{Success: false, Data: "Predictor not registered"}
	case REGISTERED:
		return iface.RetData{Success: false, Data: "Model not loaded"}
	case BUSY:
		return iface.RetData{Success: false, Data: "Predictor is busy"}
	}
	p.State = BUSY
	raw, ok := RunPredict(p.Instance, img.Data, int(img.Width), int(img.Height), int(img.Channels))
	p.State = IDLE
	if !ok {
		return iface.RetData{Success: false, Data: "Prediction failed"}
	}
	return iface.RetData{Success: true, Data: p.decode(raw)}
}

func (p *Predictor) decode(raw RawOutput) any {
	switch p.Task {
	case iface.TaskClassify:
		return decodeClassify(p.Names, raw, p.Thresholds.MaxItems)
	case iface.TaskSegment:
		return decodeSegments(p.Names, raw)
	case iface.TaskPose:
		return decodePoses(p.Names, raw)
	case iface.TaskOBB:
		return decodeOriented(p.Names, raw)
	default:
		return decodeDetections(p.Names, raw)
	}
}

func (p *Predictor) SetInputSize(size int) {
	SetInputSize(p.Instance, size)
}
