package engine

import (
	iface "VisionBridge/interface"
	"math"
)

// Decoding of the native out-arrays into result maps. The native side already
// produced final geometry; this only reshapes flat arrays per task.

func axisBox(l, t, r, b float32) iface.Box {
	return iface.Box{
		LT: iface.Position{X: l, Y: t},
		RT: iface.Position{X: r, Y: t},
		RB: iface.Position{X: r, Y: b},
		LB: iface.Position{X: l, Y: b},
	}
}

// orientedBox rotates the l/t/r/b extents around their center by angle.
func orientedBox(l, t, r, b, angle float32) iface.Box {
	cx := float64(l+r) / 2
	cy := float64(t+b) / 2
	hw := float64(r-l) / 2
	hh := float64(b-t) / 2
	sin, cos := math.Sincos(float64(angle))
	rot := func(dx, dy float64) iface.Position {
		return iface.Position{
			X: float32(cx + dx*cos - dy*sin),
			Y: float32(cy + dx*sin + dy*cos),
		}
	}
	return iface.Box{
		LT: rot(-hw, -hh),
		RT: rot(hw, -hh),
		RB: rot(hw, hh),
		LB: rot(-hw, hh),
	}
}

func emptyResultDict(names []string) map[string][]iface.Result {
	resultDict := make(map[string][]iface.Result)
	for item := range names {
		resultDict[names[item]] = []iface.Result{}
	}
	return resultDict
}

func decodeDetections(names []string, raw RawOutput) map[string][]iface.Result {
	resultDict := emptyResultDict(names)
	for i := 0; i < len(raw.Classes); i++ {
		classIdx := int(raw.Classes[i])
		if classIdx < 0 || classIdx >= len(names) {
			continue
		}
		box := axisBox(raw.Boxes[i*4], raw.Boxes[i*4+1], raw.Boxes[i*4+2], raw.Boxes[i*4+3])
		res := iface.Result{
			Conf:   raw.Scores[i],
			Box:    box,
			Center: box.Center(),
		}
		className := names[classIdx]
		resultDict[className] = append(resultDict[className], res)
	}
	return resultDict
}

func decodeOriented(names []string, raw RawOutput) map[string][]iface.Result {
	resultDict := emptyResultDict(names)
	for i := 0; i < len(raw.Classes); i++ {
		classIdx := int(raw.Classes[i])
		if classIdx < 0 || classIdx >= len(names) {
			continue
		}
		var angle float32
		if i < len(raw.Angles) {
			angle = raw.Angles[i]
		}
		box := orientedBox(raw.Boxes[i*4], raw.Boxes[i*4+1], raw.Boxes[i*4+2], raw.Boxes[i*4+3], angle)
		res := iface.Result{
			Conf:   raw.Scores[i],
			Box:    box,
			Center: box.Center(),
			Angle:  angle,
		}
		className := names[classIdx]
		resultDict[className] = append(resultDict[className], res)
	}
	return resultDict
}

func decodeSegments(names []string, raw RawOutput) map[string][]iface.Result {
	resultDict := emptyResultDict(names)
	offset := 0
	for i := 0; i < len(raw.Classes); i++ {
		var points int
		if i < len(raw.MaskLens) {
			points = int(raw.MaskLens[i])
		}
		classIdx := int(raw.Classes[i])
		if classIdx < 0 || classIdx >= len(names) {
			offset += points
			continue
		}
		box := axisBox(raw.Boxes[i*4], raw.Boxes[i*4+1], raw.Boxes[i*4+2], raw.Boxes[i*4+3])
		mask := make([]iface.Position, 0, points)
		for j := 0; j < points; j++ {
			mask = append(mask, iface.Position{
				X: raw.MaskPoints[(offset+j)*2],
				Y: raw.MaskPoints[(offset+j)*2+1],
			})
		}
		offset += points
		res := iface.Result{
			Conf:   raw.Scores[i],
			Box:    box,
			Center: box.Center(),
			Mask:   mask,
		}
		className := names[classIdx]
		resultDict[className] = append(resultDict[className], res)
	}
	return resultDict
}

func decodePoses(names []string, raw RawOutput) map[string][]iface.Result {
	resultDict := emptyResultDict(names)
	kpNum := int(raw.KpNum)
	for i := 0; i < len(raw.Classes); i++ {
		classIdx := int(raw.Classes[i])
		if classIdx < 0 || classIdx >= len(names) {
			continue
		}
		box := axisBox(raw.Boxes[i*4], raw.Boxes[i*4+1], raw.Boxes[i*4+2], raw.Boxes[i*4+3])
		kps := make([]iface.Keypoint, 0, kpNum)
		for j := 0; j < kpNum; j++ {
			base := (i*kpNum + j) * 3
			kps = append(kps, iface.Keypoint{
				X:    raw.Keypoints[base],
				Y:    raw.Keypoints[base+1],
				Conf: raw.Keypoints[base+2],
			})
		}
		res := iface.Result{
			Conf:      raw.Scores[i],
			Box:       box,
			Center:    box.Center(),
			Keypoints: kps,
		}
		className := names[classIdx]
		resultDict[className] = append(resultDict[className], res)
	}
	return resultDict
}

func decodeClassify(names []string, raw RawOutput, maxItems int) []iface.Classification {
	topK := make([]iface.Classification, 0, maxItems)
	for i := 0; i < len(raw.Classes) && len(topK) < maxItems; i++ {
		classIdx := int(raw.Classes[i])
		if classIdx < 0 || classIdx >= len(names) {
			continue
		}
		topK = append(topK, iface.Classification{
			Name: names[classIdx],
			Conf: raw.Scores[i],
		})
	}
	return topK
}
