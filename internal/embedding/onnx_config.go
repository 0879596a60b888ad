package embedding

// ONNXConfig locates the exported CLIP towers. Either path may be empty when
// only one modality is needed; calls for the missing modality fail.
type ONNXConfig struct {
	TextModelPath  string
	ImageModelPath string
	// TokenizerPath is CLIP's BPE merges file; required with TextModelPath.
	TokenizerPath string
	Dimensions     int
	MaxTokens      int
}

func (c *ONNXConfig) applyDefaults() {
	if c.Dimensions <= 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultContextLength
	}
}
