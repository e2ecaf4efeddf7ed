package autostroke

import (
	"fmt"
	"strings"
)

const TerminationChar = 0x04 // ascii EOT (End of Transmission)

// WaveFunc selects the waveform that drives one motion cycle
type WaveFunc int

const (
	WaveFuncUnknown WaveFunc = iota
	WaveFuncSine
	WaveFuncThrust
	WaveFuncSpline
)

// WaveFuncs lists every selectable waveform in display order
var WaveFuncs = []WaveFunc{WaveFuncSine, WaveFuncThrust, WaveFuncSpline}

func (wf WaveFunc) String() string {
	switch wf {
	case WaveFuncSine:
		return "sine"
	case WaveFuncThrust:
		return "thrust"
	case WaveFuncSpline:
		return "spline"
	default:
		fallthrough
	case WaveFuncUnknown:
		return "unknown"
	}
}

// Next cycles to the next selectable waveform
func (wf WaveFunc) Next() WaveFunc {
	if wf == WaveFuncSpline || wf == WaveFuncUnknown {
		return WaveFuncSine
	}
	return wf + 1
}

// ParseWaveFunc reads a waveform name. Matching ignores case and surrounding space.
func ParseWaveFunc(s string) (WaveFunc, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, wf := range WaveFuncs {
		if wf.String() == name {
			return wf, nil
		}
	}
	return WaveFuncUnknown, fmt.Errorf("unknown wave_func %q", s)
}

// MarshalText encodes the waveform by name so JSON and YAML carry "sine", "thrust" or "spline"
func (wf WaveFunc) MarshalText() ([]byte, error) {
	if wf == WaveFuncUnknown {
		return nil, fmt.Errorf("cannot encode unknown wave_func")
	}
	return []byte(wf.String()), nil
}

func (wf *WaveFunc) UnmarshalText(text []byte) error {
	parsed, err := ParseWaveFunc(string(text))
	if err != nil {
		return err
	}
	*wf = parsed
	return nil
}
