package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold  float64 // RMS energy threshold for speech detection; floor after calibration
	SilenceFrames    int     // Number of consecutive silence frames to mark as end of speech
	FrameSize        int     // Number of samples per frame (320 for 16kHz = 20ms)
	CalibrationRatio float64 // Threshold = ambient RMS * ratio after Calibrate
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold:  500.0,
		SilenceFrames:    40,  // 800ms of silence (40 frames * 20ms)
		FrameSize:        320, // 20ms at 16kHz (16000 * 0.02 = 320)
		CalibrationRatio: 1.5,
	}
}

// VADDetector performs Voice Activity Detection
type VADDetector struct {
	config         *VADConfig
	threshold      float64
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{
		config:    config,
		threshold: config.EnergyThreshold,
	}
}

// Calibrate raises the speech threshold above the ambient noise measured in
// frames. The configured EnergyThreshold stays the lower bound.
func (v *VADDetector) Calibrate(frames [][]int16) {
	if len(frames) == 0 {
		return
	}
	sum := 0.0
	for _, frame := range frames {
		sum += CalculateRMS(frame)
	}
	ambient := sum / float64(len(frames))

	ratio := v.config.CalibrationRatio
	if ratio <= 0 {
		ratio = 1.5
	}
	v.threshold = v.config.EnergyThreshold
	if calibrated := ambient * ratio; calibrated > v.threshold {
		v.threshold = calibrated
	}
}

// Threshold returns the RMS level above which a frame counts as speech
func (v *VADDetector) Threshold() float64 {
	return v.threshold
}

// ProcessFrame processes an audio frame and returns whether speech is detected
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.threshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}
