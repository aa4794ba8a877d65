//go:build linux || darwin

package engine

/*
#cgo CFLAGS: -Isrc
#cgo LDFLAGS: -Lsrc -lVisionNative
#include "src/visionnative.h"
*/
import "C"
import "unsafe"

// loadNative is a no-op here: the native library is linked at build time.
func loadNative(platform string) error {
	return nil
}

func CreatePredictor() unsafe.Pointer {
	p := C.CreatePredictor()
	return unsafe.Pointer(p)
}

func DestroyPredictor(p unsafe.Pointer) {
	if p == nil {
		return
	}
	C.DestroyPredictor((*C.Predictor)(p))
}

func InitPredictor(p unsafe.Pointer, modelPath string, task int, conf, iou float32, maxItems int, useGPU bool) bool {
	if p == nil {
		return false
	}
	cModelPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cModelPath))
	ret := C.InitPredictor((*C.Predictor)(p), cModelPath, C.int(task),
		C.float(conf), C.float(iou), C.int(maxItems), C.bool(useGPU))
	return bool(ret)
}

func PushThresholds(p unsafe.Pointer, conf, iou float32, maxItems int) bool {
	if p == nil {
		return false
	}
	ret := C.SetThresholds((*C.Predictor)(p), C.float(conf), C.float(iou), C.int(maxItems))
	return bool(ret)
}

func SetInputSize(p unsafe.Pointer, size int) {
	if p == nil {
		return
	}
	C.SetInputSize((*C.Predictor)(p), C.int(size))
}

func RunPredict(p unsafe.Pointer, imageData []byte, width, height, channels int) (raw RawOutput, ok bool) {
	if p == nil || len(imageData) == 0 {
		return
	}
	var outBoxes, outScores, outAngles, outKeypoints, outMaskPoints *C.float
	var outClasses, outMaskLens *C.int
	var outKpNum, outCount C.int

	ret := C.Predict(
		(*C.Predictor)(p),
		(*C.uchar)(unsafe.Pointer(&imageData[0])),
		C.int(width),
		C.int(height),
		C.int(channels),
		&outBoxes,
		&outScores,
		&outClasses,
		&outAngles,
		&outKeypoints,
		&outKpNum,
		&outMaskPoints,
		&outMaskLens,
		&outCount,
	)
	ok = bool(ret)
	raw.Count = int32(outCount)
	raw.KpNum = int32(outKpNum)
	if !ok || raw.Count == 0 {
		return
	}
	n := int(raw.Count)

	raw.Scores = copyFloats(outScores, n)
	raw.Classes = copyInts(outClasses, n)
	if outBoxes != nil {
		raw.Boxes = copyFloats(outBoxes, n*4)
	}
	if outAngles != nil {
		raw.Angles = copyFloats(outAngles, n)
	}
	if outKeypoints != nil && raw.KpNum > 0 {
		raw.Keypoints = copyFloats(outKeypoints, n*int(raw.KpNum)*3)
	}
	if outMaskLens != nil {
		raw.MaskLens = copyInts(outMaskLens, n)
		total := 0
		for _, l := range raw.MaskLens {
			total += int(l)
		}
		if outMaskPoints != nil && total > 0 {
			raw.MaskPoints = copyFloats(outMaskPoints, total*2)
		}
	}

	C.FreeResults(outBoxes, outScores, outClasses, outAngles, outKeypoints, outMaskPoints, outMaskLens)
	return
}

func copyFloats(p *C.float, n int) []float32 {
	src := unsafe.Slice((*C.float)(unsafe.Pointer(p)), n)
	dst := make([]float32, n)
	for i := range src {
		dst[i] = float32(src[i])
	}
	return dst
}

func copyInts(p *C.int, n int) []int32 {
	src := unsafe.Slice((*C.int)(unsafe.Pointer(p)), n)
	dst := make([]int32, n)
	for i := range src {
		dst[i] = int32(src[i])
	}
	return dst
}
