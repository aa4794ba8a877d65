package bridge

import (
	iface "VisionBridge/interface"
)

// resultsToPayload flattens backend results into JSON-like values that
// survive the Struct wire codec.
func resultsToPayload(data any) any {
	switch v := data.(type) {
	case map[string][]iface.Result:
		out := make(map[string]any, len(v))
		for class, resList := range v {
			items := make([]any, 0, len(resList))
			for _, res := range resList {
				items = append(items, resultToPayload(res))
			}
			out[class] = items
		}
		return out
	case []iface.Classification:
		items := make([]any, 0, len(v))
		for _, c := range v {
			items = append(items, map[string]any{
				"name":       c.Name,
				"confidence": c.Conf,
			})
		}
		return items
	default:
		return v
	}
}

func positionToPayload(p iface.Position) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

func resultToPayload(res iface.Result) map[string]any {
	m := map[string]any{
		"confidence": res.Conf,
		"box": []any{
			positionToPayload(res.Box.LT),
			positionToPayload(res.Box.RT),
			positionToPayload(res.Box.RB),
			positionToPayload(res.Box.LB),
		},
		"center": positionToPayload(res.Center),
	}
	if res.Angle != 0 {
		m["angle"] = res.Angle
	}
	if len(res.Keypoints) > 0 {
		kps := make([]any, 0, len(res.Keypoints))
		for _, kp := range res.Keypoints {
			kps = append(kps, map[string]any{"x": kp.X, "y": kp.Y, "confidence": kp.Conf})
		}
		m["keypoints"] = kps
	}
	if len(res.Mask) > 0 {
		mask := make([]any, 0, len(res.Mask))
		for _, p := range res.Mask {
			mask = append(mask, positionToPayload(p))
		}
		m["mask"] = mask
	}
	return m
}
