package codecadapter

import "github.com/nvr-edge/ps-h264-bridge/internal/videoruntime"

// validator flags decoded frames that look like decoder-failure noise
// rather than real pictures, so decode_whole can log instead of
// silently forwarding garbage. Adapted from the teacher's RGBA-oriented
// FrameValidator (internal/frame_validator.go) onto the planar YUV
// Frame videoruntime.Decoder returns: macroblocking and frame-to-frame
// histogram checks translate directly onto the luma (Y) plane; the
// teacher's green-dominant RGB heuristic (a decoder producing a
// uniform green frame) becomes a check for pinned, near-neutral chroma
// planes, the YUV analogue of the same decoder-zeroed-output failure.
type validator struct {
	width, height int

	lastY         []byte
	lastHistogram [256]int

	consecutiveInvalid int
}

type validationResult struct {
	isValid bool
	reason  string
}

func newValidator(width, height int) *validator {
	return &validator{width: width, height: height}
}

func (v *validator) updateResolution(width, height int) {
	v.width, v.height = width, height
	v.lastY = nil
	v.lastHistogram = [256]int{}
}

// validate runs the same four-stage pipeline as the teacher's
// ValidateFrame: flat-chroma (decoder-zeroed-output) detection,
// macroblocking, frame-to-frame luma change, and histogram anomaly —
// skipping the latter two for keyframes, which have no meaningful prior
// reference.
func (v *validator) validate(frame *videoruntime.Frame, keyframe bool) validationResult {
	if len(frame.Planes[0]) == 0 {
		return validationResult{false, "empty frame"}
	}

	if v.detectFlatChroma(frame) {
		v.consecutiveInvalid++
		return validationResult{false, "flat chroma planes (decoder failure)"}
	}

	if v.detectMacroblocking(frame) > 0.03 {
		v.consecutiveInvalid++
		return validationResult{false, "macroblocking detected"}
	}

	if keyframe {
		v.updateReference(frame)
		v.consecutiveInvalid = 0
		return validationResult{isValid: true}
	}

	if len(v.lastY) == len(frame.Planes[0]) {
		if v.detectFrameChange(frame) > 0.30 {
			v.consecutiveInvalid++
			return validationResult{false, "excessive frame change"}
		}
		if v.detectHistogramChange(frame) > 1.00 {
			v.consecutiveInvalid++
			return validationResult{false, "histogram anomaly"}
		}
	}

	v.updateReference(frame)
	v.consecutiveInvalid = 0
	return validationResult{isValid: true}
}

func (v *validator) shouldWaitForKeyframe() bool {
	return v.consecutiveInvalid >= 5
}

// detectFlatChroma samples the U/V planes for values pinned close to the
// neutral midpoint (128) across nearly every sample — the YUV signature
// of a decoder that produced a blank/grey frame instead of real output,
// the same failure the teacher's green-dominant RGB check targets.
func (v *validator) detectFlatChroma(frame *videoruntime.Frame) bool {
	u, vPlane := frame.Planes[1], frame.Planes[2]
	if len(u) == 0 || len(vPlane) == 0 {
		return false
	}
	flat, sampled := 0, 0
	const step = 16
	for i := 0; i < len(u) && i < len(vPlane); i += step {
		sampled++
		if abs(int(u[i])-128) < 2 && abs(int(vPlane[i])-128) < 2 {
			flat++
		}
	}
	if sampled == 0 {
		return false
	}
	return float64(flat)/float64(sampled) > 0.98
}

// detectMacroblocking checks luma discontinuities at 16-pixel block
// boundaries, the same block size and ratio threshold the teacher uses.
func (v *validator) detectMacroblocking(frame *videoruntime.Frame) float64 {
	y := frame.Planes[0]
	stride := frame.Strides[0]
	const blockSize = 16
	const edgeThreshold = 20

	anomalies, total := 0, 0
	for row := 0; row < frame.Height; row++ {
		for col := blockSize; col < frame.Width; col += blockSize {
			left := int(y[row*stride+col-1])
			right := int(y[row*stride+col])
			total++
			if abs(left-right) > edgeThreshold {
				anomalies++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(anomalies) / float64(total)
}

func (v *validator) detectFrameChange(frame *videoruntime.Frame) float64 {
	y := frame.Planes[0]
	changed, sampled := 0, 0
	const step = 8
	for i := 0; i < len(y) && i < len(v.lastY); i += step {
		sampled++
		if abs(int(y[i])-int(v.lastY[i])) > 40 {
			changed++
		}
	}
	if sampled == 0 {
		return 0
	}
	return float64(changed) / float64(sampled)
}

func (v *validator) detectHistogramChange(frame *videoruntime.Frame) float64 {
	y := frame.Planes[0]
	var current [256]int
	total := 0
	const step = 16
	for i := 0; i < len(y); i += step {
		current[y[i]]++
		total++
	}
	if total == 0 {
		return 0
	}
	lastTotal := 0
	for _, c := range v.lastHistogram {
		lastTotal += c
	}
	if lastTotal == 0 {
		return 0
	}
	diff := 0.0
	for i := 0; i < 256; i++ {
		diff += absFloat(float64(current[i])/float64(total) - float64(v.lastHistogram[i])/float64(lastTotal))
	}
	return diff / 2.0
}

func (v *validator) updateReference(frame *videoruntime.Frame) {
	y := frame.Planes[0]
	if cap(v.lastY) < len(y) {
		v.lastY = make([]byte, len(y))
	}
	v.lastY = v.lastY[:len(y)]
	copy(v.lastY, y)

	v.lastHistogram = [256]int{}
	const step = 16
	for i := 0; i < len(y); i += step {
		v.lastHistogram[y[i]]++
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
