package iface

// Backend is one loaded model handle behind the bridge. The native side owns
// inference; a Backend only forwards calls and decodes the out-arrays.
type Backend interface {
	LoadModel(modelPath string, task Task, names NamesConf, thr Thresholds, useGPU bool) (bool, error)
	Predict(img ImageData) RetData
	SetThresholds(thr Thresholds) error
	CheckConfig() EngineConfig
	SetInputSize(size int)
	Destroy()
}
