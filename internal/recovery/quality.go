package recovery

import "assetd/pkg/types"

// QualitySettings maps a quality level to renderer parameters. It is a pure
// function; out-of-range levels are clamped first.
func QualitySettings(level types.Quality) types.QualitySettings {
	level = level.Clamp()
	s := types.QualitySettings{Level: level.String()}
	switch level {
	case types.QualityLow:
		s.PixelRatio = 0.75
		s.MaxTextureSize = 1024
		s.MaxLights = 1
		s.AnisotropicLevel = 1
	case types.QualityMedium:
		s.PixelRatio = 1
		s.Antialias = true
		s.ShadowsEnabled = true
		s.ShadowMapSize = 1024
		s.MaxTextureSize = 2048
		s.MaxLights = 2
		s.AnisotropicLevel = 2
	case types.QualityHigh:
		s.PixelRatio = 1.5
		s.Antialias = true
		s.ShadowsEnabled = true
		s.ShadowMapSize = 2048
		s.MaxTextureSize = 4096
		s.MaxLights = 4
		s.PostProcessing = true
		s.AnisotropicLevel = 4
	case types.QualityUltra:
		s.PixelRatio = 2
		s.Antialias = true
		s.ShadowsEnabled = true
		s.ShadowMapSize = 4096
		s.MaxTextureSize = 8192
		s.MaxLights = 8
		s.PostProcessing = true
		s.AnisotropicLevel = 16
	}
	return s
}
