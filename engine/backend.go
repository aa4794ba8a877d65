package engine

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

type BackendConfig struct {
	UseBackend     string `yaml:"useBackend"`
	BackendDir     string `yaml:"backendDir"`
	BackendLibName string `yaml:"backendLibName"`
}

var backendCfg BackendConfig

// modelExts maps an inference backend to the model file extension its native
// loader accepts.
var modelExts = map[string]string{
	"ncnn":   ".param",
	"onnx":   ".onnx",
	"tflite": ".tflite",
}

func detArch(system, arch string) string {
	switch arch {
	case "amd64":
		return fmt.Sprintf("%s-%s", system, "x64")
	case "386":
		return fmt.Sprintf("%s-%s", system, "x86")
	case "arm64":
		return fmt.Sprintf("%s-%s", system, "arm64")
	default:
		panic(fmt.Sprintf("Architecture %s not supported", arch))
	}
}

func getPlatform() string {
	system := runtime.GOOS
	arch := runtime.GOARCH
	switch system {
	case "windows", "linux", "darwin":
		return detArch(system, arch)
	default:
		panic(fmt.Sprintf("Operating system %s not supported", system))
	}
}

// LoadEngine selects the inference backend and, where the platform needs it,
// loads the native library described by src/backend.yaml. Call once at startup
// before creating predictors.
func LoadEngine(backend string) error {
	if _, ok := modelExts[backend]; !ok {
		return fmt.Errorf("unsupported backend: %s", backend)
	}
	configData, err := os.ReadFile("src/backend.yaml")
	if err != nil {
		return fmt.Errorf("read backend.yaml: %w", err)
	}
	if err := yaml.Unmarshal(configData, &backendCfg); err != nil {
		return fmt.Errorf("parse backend.yaml: %w", err)
	}
	backendCfg.UseBackend = backend
	return loadNative(getPlatform())
}

// RawOutput is the decoded result arrays handed back by the native Predict
// call. The native side has already run NMS and tensor decoding; these are
// final geometry.
type RawOutput struct {
	Count      int32
	Boxes      []float32 // Count*4, left/top/right/bottom
	Scores     []float32 // Count
	Classes    []int32   // Count
	Angles     []float32 // Count, radians; oriented boxes only
	Keypoints  []float32 // Count*KpNum*3, x/y/conf triples; pose only
	KpNum      int32
	MaskPoints []float32 // flat x/y pairs across all items; segment only
	MaskLens   []int32   // Count, polygon point count per item
}
