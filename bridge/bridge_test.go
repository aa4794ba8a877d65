package bridge

import (
	iface "VisionBridge/interface"
	"VisionBridge/registry"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// MockBackend stands in for a native predictor, with optional latency and
// failure injection.
type MockBackend struct {
	mu          sync.Mutex
	cfg         iface.EngineConfig
	latency     time.Duration
	failPredict bool
	destroyed   bool
}

func (m *MockBackend) LoadModel(modelPath string, task iface.Task, names iface.NamesConf, thr iface.Thresholds, useGPU bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = iface.EngineConfig{
		ModelPath:  modelPath,
		Task:       task,
		Names:      names,
		Thresholds: thr.Clamp(),
		UseGPU:     useGPU,
	}
	return true, nil
}

func (m *MockBackend) Predict(img iface.ImageData) iface.RetData {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
	m.mu.Lock()
	fail := m.failPredict
	m.mu.Unlock()
	if fail {
		return iface.RetData{Success: false, Data: "simulated failure"}
	}
	fakeResult := map[string][]iface.Result{
		"mock": {
			{
				Conf: 0.99,
				Box: iface.Box{
					LT: iface.Position{X: 1, Y: 1},
					RT: iface.Position{X: 2, Y: 1},
					RB: iface.Position{X: 2, Y: 2},
					LB: iface.Position{X: 1, Y: 2},
				},
				Center: iface.Position{X: 1.5, Y: 1.5},
			},
		},
	}
	return iface.RetData{Success: true, Data: fakeResult}
}

func (m *MockBackend) SetThresholds(thr iface.Thresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Thresholds = thr.Clamp()
	return nil
}

func (m *MockBackend) CheckConfig() iface.EngineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *MockBackend) SetInputSize(size int) {}

func (m *MockBackend) Destroy() {
	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()
}

func encodedTestImage(t *testing.T) string {
	t.Helper()
	mat := gocv.NewMatWithSize(224, 224, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(".jpg", mat)
	require.NoError(t, err)
	defer buf.Close()
	return base64.StdEncoding.EncodeToString(buf.GetBytes())
}

func TestBridgeOverGRPC(t *testing.T) {
	JobQueue = make(chan JobPackage, 10)
	StartWorker(1)

	reg := registry.New()
	b := New(reg)
	mock := &MockBackend{latency: 5 * time.Millisecond}
	b.Factory = func() iface.Backend { return mock }

	server := StartGRPCServer(b, 50061)
	defer server.GracefulStop()

	conn, err := grpc.NewClient("localhost:50061", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := NewBridgeClient(conn)
	ctx := context.Background()

	var instanceID string

	t.Run("ping", func(t *testing.T) {
		resp, err := client.Call(ctx, "ping", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "pong", resp["message"])
	})

	t.Run("createInstance", func(t *testing.T) {
		resp, err := client.Call(ctx, "createInstance", map[string]any{"description": "mock_worker"})
		require.NoError(t, err)
		instanceID = resp["instanceId"].(string)
		assert.NotEmpty(t, instanceID)
	})

	t.Run("loadModel tolerant coercion and clamping", func(t *testing.T) {
		resp, err := client.Call(ctx, "loadModel", map[string]any{
			"instanceId": instanceID,
			"model":      "model/mock.onnx",
			"task":       "detect",
			"names":      []any{"mock"},
			"confidence": "2.5", // string form, above range
			"iou":        0.6,
			"maxItems":   10.0, // float form
		})
		require.NoError(t, err)
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, float64(1), resp["confidence"])
		assert.InDelta(t, 0.6, resp["iou"].(float64), 0.0001)
		assert.Equal(t, float64(10), resp["maxItems"])
	})

	t.Run("predict round trip", func(t *testing.T) {
		resp, err := client.Call(ctx, "predict", map[string]any{
			"instanceId": instanceID,
			"image":      encodedTestImage(t),
		})
		require.NoError(t, err)
		assert.Equal(t, true, resp["success"])
		results := resp["results"].(map[string]any)
		mockHits := results["mock"].([]any)
		require.Len(t, mockHits, 1)
		hit := mockHits[0].(map[string]any)
		assert.InDelta(t, 0.99, hit["confidence"].(float64), 0.0001)
		center := hit["center"].(map[string]any)
		assert.Equal(t, float64(1.5), center["x"])
		assert.Equal(t, float64(1.5), center["y"])
		box := hit["box"].([]any)
		require.Len(t, box, 4)
		lt := box[0].(map[string]any)
		assert.Equal(t, float64(1), lt["x"])
		assert.Equal(t, float64(1), lt["y"])
		assert.GreaterOrEqual(t, resp["inference_time_ms"].(float64), float64(0))
	})

	t.Run("predict failure surfaces in envelope", func(t *testing.T) {
		mock.mu.Lock()
		mock.failPredict = true
		mock.mu.Unlock()
		defer func() {
			mock.mu.Lock()
			mock.failPredict = false
			mock.mu.Unlock()
		}()
		resp, err := client.Call(ctx, "predict", map[string]any{
			"instanceId": instanceID,
			"image":      encodedTestImage(t),
		})
		require.NoError(t, err)
		assert.Equal(t, false, resp["success"])
		assert.Equal(t, "simulated failure", resp["error"])
	})

	t.Run("setThresholds returns effective values", func(t *testing.T) {
		resp, err := client.Call(ctx, "setThresholds", map[string]any{
			"instanceId": instanceID,
			"confidence": 5.0,
			"maxItems":   -2,
		})
		require.NoError(t, err)
		assert.Equal(t, float64(1), resp["confidence"])
		assert.InDelta(t, 0.45, resp["iou"].(float64), 0.0001) // missing key took default
		assert.Equal(t, float64(1), resp["maxItems"])
	})

	t.Run("checkInstance", func(t *testing.T) {
		resp, err := client.Call(ctx, "checkInstance", map[string]any{"instanceId": instanceID})
		require.NoError(t, err)
		assert.Equal(t, instanceID, resp["instanceId"])
		assert.Equal(t, "mock_worker", resp["description"])
		assert.Equal(t, "model/mock.onnx", resp["model"])
		assert.Equal(t, "detect", resp["task"])
		assert.Equal(t, []any{"mock"}, resp["names"])
	})

	t.Run("listInstances", func(t *testing.T) {
		resp, err := client.Call(ctx, "listInstances", map[string]any{})
		require.NoError(t, err)
		instances := resp["instances"].([]any)
		require.Len(t, instances, 1)
		info := instances[0].(map[string]any)
		assert.Equal(t, instanceID, info["instanceId"])
	})

	t.Run("unknown instance errors", func(t *testing.T) {
		_, err := client.Call(ctx, "predict", map[string]any{
			"instanceId": "no-such-id",
			"image":      encodedTestImage(t),
		})
		assert.Error(t, err)
	})

	t.Run("missing instanceId errors", func(t *testing.T) {
		_, err := client.Call(ctx, "checkInstance", map[string]any{})
		assert.Error(t, err)
	})

	t.Run("unknown method errors but bridge stays up", func(t *testing.T) {
		_, err := client.Call(ctx, "transmogrify", map[string]any{})
		assert.Error(t, err)
		resp, err := client.Call(ctx, "ping", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "pong", resp["message"])
	})

	t.Run("invalid base64 image errors", func(t *testing.T) {
		_, err := client.Call(ctx, "predict", map[string]any{
			"instanceId": instanceID,
			"image":      "not base64!!!",
		})
		assert.Error(t, err)
	})

	t.Run("oversized image rejected", func(t *testing.T) {
		big := base64.StdEncoding.EncodeToString(make([]byte, MaxImageBytes+1))
		_, err := client.Call(ctx, "predict", map[string]any{
			"instanceId": instanceID,
			"image":      big,
		})
		assert.Error(t, err)
	})

	t.Run("disposeInstance", func(t *testing.T) {
		resp, err := client.Call(ctx, "disposeInstance", map[string]any{"instanceId": instanceID})
		require.NoError(t, err)
		assert.Equal(t, true, resp["success"])
		mock.mu.Lock()
		assert.True(t, mock.destroyed)
		mock.mu.Unlock()

		_, err = client.Call(ctx, "disposeInstance", map[string]any{"instanceId": instanceID})
		assert.Error(t, err)
	})
}

func TestDecodeBase64Image(t *testing.T) {
	t.Run("data url prefix tolerated", func(t *testing.T) {
		raw := []byte{0xff, 0xd8, 0xff}
		b64 := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)
		got, err := DecodeBase64Image(b64)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := DecodeBase64Image("@@@")
		assert.Error(t, err)
	})

	t.Run("size cap enforced", func(t *testing.T) {
		_, err := DecodeBase64Image(base64.StdEncoding.EncodeToString(make([]byte, MaxImageBytes+1)))
		assert.Error(t, err)
	})
}

func TestPredict_ContextCancelledWhileQueued(t *testing.T) {
	// no workers draining the queue
	JobQueue = make(chan JobPackage)

	reg := registry.New()
	b := New(reg)
	b.Factory = func() iface.Backend { return &MockBackend{} }

	resp, err := b.Call(context.Background(), "createInstance", map[string]any{})
	require.NoError(t, err)
	id := resp["instanceId"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Call(ctx, "predict", map[string]any{
		"instanceId": id,
		"image":      base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
