// Package bridge is the asynchronous method-call channel between application
// code and the native inference engines. Requests and responses are JSON-like
// maps; inference is dispatched through a worker-consumed job queue.
package bridge

import (
	"VisionBridge/engine"
	iface "VisionBridge/interface"
	"VisionBridge/logger"
	"VisionBridge/monitor"
	"VisionBridge/registry"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// MaxImageBytes caps decoded image payloads on the wire.
const MaxImageBytes = 4 * 1024 * 1024

type JobPackage struct {
	backend iface.Backend
	image   []byte
	Result  chan jobResult
}

type jobResult struct {
	Data iface.RetData
}

var JobQueue chan JobPackage

var CloseChannel chan bool

func StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go runWorker(i)
	}
}

func runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("Worker %d panic: %v. Restarting in 1s...", workerID, r))
			time.Sleep(1 * time.Second)
			go runWorker(workerID)
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Info(fmt.Sprintf("---Worker %d created", workerID))
	for job := range JobQueue {
		img, err := bytesToImage(job.image)
		if err != nil {
			job.Result <- jobResult{Data: iface.RetData{Success: false, Data: fmt.Sprintf("invalid image: %v", err)}}
			continue
		}
		monitor.InferenceTotal.Inc()
		job.Result <- jobResult{Data: job.backend.Predict(img)}
	}
}

// bytesToImage decodes encoded image bytes into raw planes for the backend.
func bytesToImage(data []byte) (iface.ImageData, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return iface.ImageData{}, err
	}
	if mat.Empty() {
		_ = mat.Close()
		return iface.ImageData{}, errors.New("decoded image is empty or unsupported format")
	}
	img := iface.ImageData{
		Data:     mat.ToBytes(),
		Width:    int32(mat.Cols()),
		Height:   int32(mat.Rows()),
		Channels: int32(mat.Channels()),
	}
	if err := mat.Close(); err != nil {
		return iface.ImageData{}, err
	}
	return img, nil
}

// Enqueue hands one prediction to the worker pool and waits for the result.
// Cancellation is honored while the job is still queued.
func Enqueue(ctx context.Context, backend iface.Backend, image []byte) (iface.RetData, error) {
	resultCh := make(chan jobResult, 1)
	job := JobPackage{
		backend: backend,
		image:   image,
		Result:  resultCh,
	}
	select {
	case JobQueue <- job:
	case <-ctx.Done():
		return iface.RetData{}, ctx.Err()
	}
	select {
	case res := <-resultCh:
		return res.Data, nil
	case <-ctx.Done():
		return iface.RetData{}, ctx.Err()
	}
}

// PredictEnvelope shapes a prediction result for the wire.
func PredictEnvelope(ret iface.RetData, elapsedMs int64) map[string]any {
	if !ret.Success {
		return map[string]any{
			"success": false,
			"error":   cast.ToString(ret.Data),
		}
	}
	return map[string]any{
		"success":           true,
		"results":           resultsToPayload(ret.Data),
		"inference_time_ms": elapsedMs,
	}
}

// DecodeBase64Image strips an optional data-URL prefix, decodes, and enforces
// the size cap.
func DecodeBase64Image(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("image too large: %d bytes, limit %d", len(data), MaxImageBytes)
	}
	return data, nil
}

// Bridge dispatches wire methods onto the registry and job queue. Factory
// creates backends for createInstance; tests swap it for a mock.
type Bridge struct {
	Registry *registry.Registry
	Factory  func() iface.Backend
}

func New(reg *registry.Registry) *Bridge {
	return &Bridge{
		Registry: reg,
		Factory: func() iface.Backend {
			p := &engine.Predictor{}
			p.New()
			return p
		},
	}
}

// Call runs one bridge method. Unknown methods error; the bridge stays up.
func (b *Bridge) Call(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	monitor.BridgeCalls.Inc()
	switch method {
	case "ping":
		return map[string]any{"message": "pong"}, nil
	case "createInstance":
		return b.createInstance(payload)
	case "loadModel":
		return b.loadModel(payload)
	case "predict":
		return b.predict(ctx, payload)
	case "setThresholds":
		return b.setThresholds(payload)
	case "checkInstance":
		return b.checkInstance(payload)
	case "listInstances":
		return b.listInstances()
	case "disposeInstance":
		return b.disposeInstance(payload)
	case "shutdown":
		return b.shutdown()
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (b *Bridge) instanceFromPayload(payload map[string]any) (*registry.Handle, error) {
	id, err := cast.ToStringE(payload["instanceId"])
	if err != nil || id == "" {
		return nil, errors.New("instanceId is required")
	}
	h, ok := b.Registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("instance with ID %s not found", id)
	}
	return h, nil
}

// thresholdsFromPayload reads the knobs tolerantly: float64, int, and string
// number forms are all accepted. Missing keys stay zero and take defaults at
// the clamp.
func thresholdsFromPayload(payload map[string]any) iface.Thresholds {
	thr := iface.Thresholds{}
	if v, ok := payload["confidence"]; ok {
		if f, err := cast.ToFloat32E(v); err == nil {
			thr.Conf = f
		}
	}
	if v, ok := payload["iou"]; ok {
		if f, err := cast.ToFloat32E(v); err == nil {
			thr.Iou = f
		}
	}
	if v, ok := payload["maxItems"]; ok {
		if n, err := cast.ToIntE(v); err == nil {
			thr.MaxItems = n
		}
	}
	return thr
}

func namesFromPayload(payload map[string]any) (iface.NamesConf, error) {
	v, ok := payload["names"]
	if !ok || v == nil {
		return iface.NamesConf{IsFile: false, Data: []string{}}, nil
	}
	if s, ok := v.(string); ok {
		return iface.NamesConf{IsFile: true, Data: s}, nil
	}
	names, err := cast.ToStringSliceE(v)
	if err != nil {
		return iface.NamesConf{}, fmt.Errorf("names must be a list of strings or a file path")
	}
	return iface.NamesConf{IsFile: false, Data: names}, nil
}

func (b *Bridge) createInstance(payload map[string]any) (map[string]any, error) {
	description := cast.ToString(payload["description"])
	backend := b.Factory()
	h := b.Registry.Add(backend, description)
	logger.Log().Info("Created instance", zap.String("ID", h.ID), zap.String("Description", description))
	return map[string]any{"instanceId": h.ID}, nil
}

func (b *Bridge) loadModel(payload map[string]any) (map[string]any, error) {
	h, err := b.instanceFromPayload(payload)
	if err != nil {
		return nil, err
	}
	modelPath, err := cast.ToStringE(payload["model"])
	if err != nil || modelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	taskName := cast.ToString(payload["task"])
	if taskName == "" {
		taskName = "detect"
	}
	task, err := iface.ParseTask(taskName)
	if err != nil {
		return nil, err
	}
	names, err := namesFromPayload(payload)
	if err != nil {
		return nil, err
	}
	thr := thresholdsFromPayload(payload)
	useGPU := cast.ToBool(payload["useGpu"])

	ok, err := h.Backend.LoadModel(modelPath, task, names, thr, useGPU)
	if err != nil {
		return nil, err
	}
	cfg := h.Backend.CheckConfig()
	logger.Log().Info("Loaded model",
		zap.String("ID", h.ID),
		zap.String("ModelPath", modelPath),
		zap.String("Task", task.String()),
		zap.Float32("Confidence", cfg.Thresholds.Conf),
		zap.Float32("IoU", cfg.Thresholds.Iou),
		zap.Int("MaxItems", cfg.Thresholds.MaxItems),
		zap.Bool("UseGPU", useGPU))
	return map[string]any{
		"success":    ok,
		"task":       task.String(),
		"confidence": cfg.Thresholds.Conf,
		"iou":        cfg.Thresholds.Iou,
		"maxItems":   cfg.Thresholds.MaxItems,
	}, nil
}

func (b *Bridge) predict(ctx context.Context, payload map[string]any) (map[string]any, error) {
	h, err := b.instanceFromPayload(payload)
	if err != nil {
		return nil, err
	}
	b64, err := cast.ToStringE(payload["image"])
	if err != nil || b64 == "" {
		return nil, errors.New("image is required")
	}
	imgBytes, err := DecodeBase64Image(b64)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ret, err := Enqueue(ctx, h.Backend, imgBytes)
	if err != nil {
		return nil, err
	}
	return PredictEnvelope(ret, time.Since(start).Milliseconds()), nil
}

func (b *Bridge) setThresholds(payload map[string]any) (map[string]any, error) {
	h, err := b.instanceFromPayload(payload)
	if err != nil {
		return nil, err
	}
	if err := h.Backend.SetThresholds(thresholdsFromPayload(payload)); err != nil {
		return nil, err
	}
	cfg := h.Backend.CheckConfig()
	return map[string]any{
		"confidence": cfg.Thresholds.Conf,
		"iou":        cfg.Thresholds.Iou,
		"maxItems":   cfg.Thresholds.MaxItems,
	}, nil
}

func instanceInfo(h *registry.Handle) map[string]any {
	cfg := h.Backend.CheckConfig()
	names := make([]any, 0)
	switch v := cfg.Names.Data.(type) {
	case []string:
		for _, n := range v {
			names = append(names, n)
		}
	case string:
		names = append(names, "From File")
	}
	return map[string]any{
		"instanceId":  h.ID,
		"description": h.Description,
		"state":       h.State(),
		"model":       cfg.ModelPath,
		"task":        cfg.Task.String(),
		"names":       names,
		"confidence":  cfg.Thresholds.Conf,
		"iou":         cfg.Thresholds.Iou,
		"maxItems":    cfg.Thresholds.MaxItems,
		"useGpu":      cfg.UseGPU,
	}
}

func (b *Bridge) checkInstance(payload map[string]any) (map[string]any, error) {
	h, err := b.instanceFromPayload(payload)
	if err != nil {
		return nil, err
	}
	return instanceInfo(h), nil
}

func (b *Bridge) listInstances() (map[string]any, error) {
	handles := b.Registry.List()
	instances := make([]any, 0, len(handles))
	for _, h := range handles {
		instances = append(instances, instanceInfo(h))
	}
	return map[string]any{"instances": instances}, nil
}

func (b *Bridge) disposeInstance(payload map[string]any) (map[string]any, error) {
	id, err := cast.ToStringE(payload["instanceId"])
	if err != nil || id == "" {
		return nil, errors.New("instanceId is required")
	}
	if !b.Registry.Remove(id) {
		return nil, fmt.Errorf("instance with ID %s not found", id)
	}
	logger.Log().Info("Disposed instance", zap.String("ID", id))
	return map[string]any{"success": true}, nil
}

func (b *Bridge) shutdown() (map[string]any, error) {
	go func() {
		time.Sleep(2 * time.Second)
		b.Registry.Clear()
		close(JobQueue)
	}()
	logger.Log().Warn("Shutting down...")
	CloseChannel <- true
	close(CloseChannel)
	return map[string]any{"success": true}, nil
}
