package engine

import (
	iface "VisionBridge/interface"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictor_StateGating(t *testing.T) {
	p := &Predictor{}

	t.Run("predict unregistered", func(t *testing.T) {
		ret := p.Predict(iface.ImageData{})
		assert.False(t, ret.Success)
		assert.Equal(t, "Predictor not registered", ret.Data)
	})

	t.Run("predict before load", func(t *testing.T) {
		p.State = REGISTERED
		ret := p.Predict(iface.ImageData{})
		assert.False(t, ret.Success)
		assert.Equal(t, "Model not loaded", ret.Data)
	})

	t.Run("predict while busy", func(t *testing.T) {
		p.State = BUSY
		ret := p.Predict(iface.ImageData{})
		assert.False(t, ret.Success)
		assert.Equal(t, "Predictor is busy", ret.Data)
	})

	t.Run("thresholds before load", func(t *testing.T) {
		p.State = UNREGISTERED
		assert.Error(t, p.SetThresholds(iface.Thresholds{}))
		p.State = REGISTERED
		assert.Error(t, p.SetThresholds(iface.Thresholds{}))
	})
}

func TestPredictor_LoadModel(t *testing.T) {
	backendCfg.UseBackend = "onnx"
	names := iface.NamesConf{
		IsFile: false,
		Data:   []string{"person", "car", "bicycle"},
	}

	t.Run("accepts matching extension and clamps", func(t *testing.T) {
		p := &Predictor{State: REGISTERED}
		_, err := p.LoadModel("model/test_model.onnx", iface.TaskDetect, names,
			iface.Thresholds{Conf: 1.5, Iou: -0.2, MaxItems: 500}, false)
		require.NoError(t, err)
		assert.Equal(t, IDLE, p.State)
		assert.Equal(t, float32(1), p.Thresholds.Conf)
		assert.Equal(t, float32(0), p.Thresholds.Iou)
		assert.Equal(t, 100, p.Thresholds.MaxItems)
		assert.Equal(t, []string{"person", "car", "bicycle"}, p.Names)
	})

	t.Run("zero thresholds take defaults", func(t *testing.T) {
		p := &Predictor{State: REGISTERED}
		_, err := p.LoadModel("model/test_model.onnx", iface.TaskDetect, names, iface.Thresholds{}, false)
		require.NoError(t, err)
		assert.Equal(t, iface.DefaultThresholds(), p.Thresholds)
	})

	t.Run("rejects wrong extension", func(t *testing.T) {
		p := &Predictor{State: REGISTERED}
		_, err := p.LoadModel("model/test_model.param", iface.TaskDetect, names, iface.Thresholds{}, false)
		assert.Error(t, err)
	})

	t.Run("ncnn wants param", func(t *testing.T) {
		backendCfg.UseBackend = "ncnn"
		defer func() { backendCfg.UseBackend = "onnx" }()
		p := &Predictor{State: REGISTERED}
		_, err := p.LoadModel("model/test_model.param", iface.TaskDetect, names, iface.Thresholds{}, false)
		assert.NoError(t, err)
	})

	t.Run("unsupported backend", func(t *testing.T) {
		backendCfg.UseBackend = "openvino"
		defer func() { backendCfg.UseBackend = "onnx" }()
		p := &Predictor{State: REGISTERED}
		_, err := p.LoadModel("model/test_model.onnx", iface.TaskDetect, names, iface.Thresholds{}, false)
		assert.Error(t, err)
	})

	t.Run("rejects non-slice names", func(t *testing.T) {
		p := &Predictor{State: REGISTERED}
		_, err := p.LoadModel("model/test_model.onnx", iface.TaskDetect,
			iface.NamesConf{IsFile: false, Data: 42}, iface.Thresholds{}, false)
		assert.Error(t, err)
	})
}

func TestReadLinesReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\r\ncar\r\n\r\nbicycle\n"), 0o644))
	lines, err := ReadLinesReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "car", "bicycle"}, lines)
}

func TestPredictor_CheckConfig(t *testing.T) {
	backendCfg.UseBackend = "onnx"
	p := &Predictor{State: REGISTERED}
	_, err := p.LoadModel("model/test_model.onnx", iface.TaskPose,
		iface.NamesConf{Data: []string{"person"}}, iface.Thresholds{Conf: 0.3, Iou: 0.6, MaxItems: 5}, true)
	require.NoError(t, err)
	cfg := p.CheckConfig()
	assert.Equal(t, "model/test_model.onnx", cfg.ModelPath)
	assert.Equal(t, iface.Task(iface.TaskPose), cfg.Task)
	assert.Equal(t, iface.Thresholds{Conf: 0.3, Iou: 0.6, MaxItems: 5}, cfg.Thresholds)
	assert.True(t, cfg.UseGPU)
	assert.Equal(t, []string{"person"}, cfg.Names.Data)
}

func TestDecodeDetections(t *testing.T) {
	names := []string{"person", "car"}
	raw := RawOutput{
		Count:   3,
		Boxes:   []float32{0, 0, 10, 20, 5, 5, 15, 25, 1, 1, 2, 2},
		Scores:  []float32{0.9, 0.8, 0.7},
		Classes: []int32{0, 1, 7}, // 7 is out of range, dropped
	}
	dict := decodeDetections(names, raw)
	require.Len(t, dict["person"], 1)
	require.Len(t, dict["car"], 1)
	res := dict["person"][0]
	assert.Equal(t, float32(0.9), res.Conf)
	assert.Equal(t, iface.Position{X: 0, Y: 0}, res.Box.LT)
	assert.Equal(t, iface.Position{X: 10, Y: 20}, res.Box.RB)
	assert.Equal(t, iface.Position{X: 5, Y: 10}, res.Center)
}

func TestDecodeOriented(t *testing.T) {
	names := []string{"plane"}
	raw := RawOutput{
		Count:   1,
		Boxes:   []float32{0, 0, 4, 2},
		Scores:  []float32{0.6},
		Classes: []int32{0},
		Angles:  []float32{1.5707963}, // quarter turn
	}
	dict := decodeOriented(names, raw)
	require.Len(t, dict["plane"], 1)
	res := dict["plane"][0]
	assert.InDelta(t, 1.5707963, float64(res.Angle), 1e-6)
	assert.InDelta(t, 3, float64(res.Box.LT.X), 1e-4)
	assert.InDelta(t, -1, float64(res.Box.LT.Y), 1e-4)
	// center is rotation invariant
	assert.InDelta(t, 2, float64(res.Center.X), 1e-4)
	assert.InDelta(t, 1, float64(res.Center.Y), 1e-4)
}

func TestDecodeSegments(t *testing.T) {
	names := []string{"cat", "dog"}
	raw := RawOutput{
		Count:      2,
		Boxes:      []float32{0, 0, 4, 4, 10, 10, 20, 20},
		Scores:     []float32{0.9, 0.8},
		Classes:    []int32{1, 0},
		MaskLens:   []int32{3, 2},
		MaskPoints: []float32{0, 0, 4, 0, 2, 4, 10, 10, 20, 20},
	}
	dict := decodeSegments(names, raw)
	require.Len(t, dict["dog"], 1)
	require.Len(t, dict["cat"], 1)
	assert.Equal(t, []iface.Position{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 2, Y: 4}}, dict["dog"][0].Mask)
	// second polygon starts after the first one's points
	assert.Equal(t, []iface.Position{{X: 10, Y: 10}, {X: 20, Y: 20}}, dict["cat"][0].Mask)
}

func TestDecodePoses(t *testing.T) {
	names := []string{"person"}
	raw := RawOutput{
		Count:   1,
		Boxes:   []float32{0, 0, 10, 10},
		Scores:  []float32{0.95},
		Classes: []int32{0},
		KpNum:   2,
		Keypoints: []float32{
			1, 2, 0.9,
			3, 4, 0.8,
		},
	}
	dict := decodePoses(names, raw)
	require.Len(t, dict["person"], 1)
	kps := dict["person"][0].Keypoints
	require.Len(t, kps, 2)
	assert.Equal(t, iface.Keypoint{X: 1, Y: 2, Conf: 0.9}, kps[0])
	assert.Equal(t, iface.Keypoint{X: 3, Y: 4, Conf: 0.8}, kps[1])
}

func TestDecodeClassify(t *testing.T) {
	names := []string{"cat", "dog", "bird"}
	raw := RawOutput{
		Count:   3,
		Scores:  []float32{0.7, 0.2, 0.1},
		Classes: []int32{1, 0, 2},
	}
	topK := decodeClassify(names, raw, 2)
	require.Len(t, topK, 2)
	assert.Equal(t, iface.Classification{Name: "dog", Conf: 0.7}, topK[0])
	assert.Equal(t, iface.Classification{Name: "cat", Conf: 0.2}, topK[1])
}
