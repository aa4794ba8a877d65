//go:build windows

package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	mod               *syscall.LazyDLL
	procCreate        *syscall.LazyProc
	procDestroy       *syscall.LazyProc
	procInit          *syscall.LazyProc
	procSetThresholds *syscall.LazyProc
	procSetInputSize  *syscall.LazyProc
	procPredict       *syscall.LazyProc
	procFreeResults   *syscall.LazyProc
)

func loadBackendWithDepsWin64(dllDir, dllName string) (*syscall.LazyDLL, error) {
	k32 := syscall.NewLazyDLL("kernel32.dll")
	procSetDllDirectoryW := k32.NewProc("SetDllDirectoryW")
	ptr, err := syscall.UTF16PtrFromString(dllDir)
	if err != nil {
		return nil, err
	}
	ret, _, callErr := procSetDllDirectoryW.Call(uintptr(unsafe.Pointer(ptr)))
	if ret == 0 {
		old := os.Getenv("PATH")
		_ = os.Setenv("PATH", dllDir+";"+old)
		if callErr != nil && !errors.Is(callErr, syscall.Errno(0)) {
			return nil, fmt.Errorf("SetDllDirectoryW failed: %v", callErr)
		}
	}
	dllPath := filepath.Join(dllDir, dllName)
	m := syscall.NewLazyDLL(dllPath)
	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("load %s failed: %w", dllPath, err)
	}
	return m, nil
}

func loadNative(platform string) error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	exeDir := filepath.Dir(exePath)
	dllDir := filepath.Join(exeDir, backendCfg.BackendDir)
	mod, err = loadBackendWithDepsWin64(dllDir, backendCfg.BackendLibName)
	if err != nil {
		return fmt.Errorf("load native library from %s: %w", dllDir, err)
	}
	procCreate = mod.NewProc("CreatePredictor")
	procDestroy = mod.NewProc("DestroyPredictor")
	procInit = mod.NewProc("InitPredictor")
	procSetThresholds = mod.NewProc("SetThresholds")
	procSetInputSize = mod.NewProc("SetInputSize")
	procPredict = mod.NewProc("Predict")
	procFreeResults = mod.NewProc("FreeResults")
	return nil
}

func CreatePredictor() unsafe.Pointer {
	if procCreate == nil {
		return nil
	}
	r, _, _ := procCreate.Call()
	return unsafe.Pointer(r)
}

func DestroyPredictor(p unsafe.Pointer) {
	if p == nil || procDestroy == nil {
		return
	}
	procDestroy.Call(uintptr(p))
}

func InitPredictor(p unsafe.Pointer, modelPath string, task int, conf, iou float32, maxItems int, useGPU bool) bool {
	if p == nil || procInit == nil {
		return false
	}
	mp, _ := syscall.BytePtrFromString(modelPath)
	var ug uintptr
	if useGPU {
		ug = 1
	}
	r, _, _ := procInit.Call(
		uintptr(p),
		uintptr(unsafe.Pointer(mp)),
		uintptr(task),
		uintptr(math.Float32bits(conf)),
		uintptr(math.Float32bits(iou)),
		uintptr(maxItems),
		ug,
	)
	return r != 0
}

func PushThresholds(p unsafe.Pointer, conf, iou float32, maxItems int) bool {
	if p == nil || procSetThresholds == nil {
		return false
	}
	r, _, _ := procSetThresholds.Call(
		uintptr(p),
		uintptr(math.Float32bits(conf)),
		uintptr(math.Float32bits(iou)),
		uintptr(maxItems),
	)
	return r != 0
}

func SetInputSize(p unsafe.Pointer, size int) {
	if p == nil || procSetInputSize == nil {
		return
	}
	_, _, _ = procSetInputSize.Call(
		uintptr(p),
		uintptr(size),
	)
}

func RunPredict(p unsafe.Pointer, imageData []byte, width, height, channels int) (raw RawOutput, ok bool) {
	if p == nil || len(imageData) == 0 || procPredict == nil {
		return
	}

	var outBoxesPtr, outScoresPtr, outClassesPtr, outAnglesPtr uintptr
	var outKeypointsPtr, outMaskPointsPtr, outMaskLensPtr uintptr
	var outKpNum, outCount int32

	r, _, _ := procPredict.Call(
		uintptr(p),
		uintptr(unsafe.Pointer(&imageData[0])),
		uintptr(width),
		uintptr(height),
		uintptr(channels),
		uintptr(unsafe.Pointer(&outBoxesPtr)),
		uintptr(unsafe.Pointer(&outScoresPtr)),
		uintptr(unsafe.Pointer(&outClassesPtr)),
		uintptr(unsafe.Pointer(&outAnglesPtr)),
		uintptr(unsafe.Pointer(&outKeypointsPtr)),
		uintptr(unsafe.Pointer(&outKpNum)),
		uintptr(unsafe.Pointer(&outMaskPointsPtr)),
		uintptr(unsafe.Pointer(&outMaskLensPtr)),
		uintptr(unsafe.Pointer(&outCount)),
	)
	ok = r != 0
	raw.Count = outCount
	raw.KpNum = outKpNum
	if !ok || raw.Count == 0 {
		return
	}
	n := int(raw.Count)

	raw.Scores = append([]float32(nil), unsafe.Slice((*float32)(unsafe.Pointer(outScoresPtr)), n)...)
	raw.Classes = append([]int32(nil), unsafe.Slice((*int32)(unsafe.Pointer(outClassesPtr)), n)...)
	if outBoxesPtr != 0 {
		raw.Boxes = append([]float32(nil), unsafe.Slice((*float32)(unsafe.Pointer(outBoxesPtr)), n*4)...)
	}
	if outAnglesPtr != 0 {
		raw.Angles = append([]float32(nil), unsafe.Slice((*float32)(unsafe.Pointer(outAnglesPtr)), n)...)
	}
	if outKeypointsPtr != 0 && raw.KpNum > 0 {
		raw.Keypoints = append([]float32(nil), unsafe.Slice((*float32)(unsafe.Pointer(outKeypointsPtr)), n*int(raw.KpNum)*3)...)
	}
	if outMaskLensPtr != 0 {
		raw.MaskLens = append([]int32(nil), unsafe.Slice((*int32)(unsafe.Pointer(outMaskLensPtr)), n)...)
		total := 0
		for _, l := range raw.MaskLens {
			total += int(l)
		}
		if outMaskPointsPtr != 0 && total > 0 {
			raw.MaskPoints = append([]float32(nil), unsafe.Slice((*float32)(unsafe.Pointer(outMaskPointsPtr)), total*2)...)
		}
	}

	if procFreeResults != nil {
		procFreeResults.Call(outBoxesPtr, outScoresPtr, outClassesPtr, outAnglesPtr,
			outKeypointsPtr, outMaskPointsPtr, outMaskLensPtr)
	}
	return
}
