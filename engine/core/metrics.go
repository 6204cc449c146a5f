package core

const AVG_COUNT uint8 = 30

// Metrics keeps rolling frame statistics. The renderer feeds it the GPU
// timestamp delta of the previous frame once per renderFrame; everything
// here is owned by the caller, there is no process-wide state.
type Metrics struct {
	frameAVGCounter    uint8
	mSTimes            [AVG_COUNT]float64
	mSAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Update records one frame. frameElapsed is in seconds.
func (m *Metrics) Update(frameElapsed float64) {
	// Calculate frame ms average
	frameMS := frameElapsed * 1000.0
	m.mSTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.mSTimes[i]
		}
		m.mSAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all frames.
	m.frames++
}

func (m *Metrics) FPS() float64 {
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	return m.mSAvg
}

func (m *Metrics) Frame() (float64, float64) {
	return m.fps, m.mSAvg
}
