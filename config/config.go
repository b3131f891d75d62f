// Package config loads overlay settings from a key=value text file into a
// typed Settings struct. Parsing is strict per key: every key has one
// expected shape and a malformed value for a known key is an error rather
// than a silent fallback. Unknown keys and malformed lines are logged and
// skipped so an old settings file keeps working.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	chroma "github.com/PhilipJohnsen/eyetracked-chromatic-filtering"
)

// Load errors.
var (
	ErrBadValue = errors.New("config: malformed value")
)

// Settings holds every overlay knob with parsed, typed values.
type Settings struct {
	TargetFPS       int
	ForceRGB        bool
	ChannelOrder    chroma.ChannelOrder
	DebugGPUSync    bool
	GPUSyncInterval int
	SurfaceSize     [2]int
	SurfacePos      [2]int
	Radius          [3]int
	Sigma           [3]float64

	// KernelAssetPath points at a WGSL kernel on disk. Empty means the
	// built-in kernel; a non-empty path that cannot be read is a fatal
	// startup error, there is no fallback.
	KernelAssetPath string
}

// Defaults returns the stock settings used when no file is present.
func Defaults() Settings {
	return Settings{
		TargetFPS:       60,
		ForceRGB:        false,
		ChannelOrder:    chroma.OrderRGB,
		DebugGPUSync:    true,
		GPUSyncInterval: 60,
		SurfaceSize:     [2]int{2560, 1440},
		SurfacePos:      [2]int{0, 0},
		Radius:          [3]int{0, 2, 6},
		Sigma:           [3]float64{0.001, 1.0, 3.0},
		KernelAssetPath: "",
	}
}

// BlurParameters bundles the radius and sigma tuples.
func (s Settings) BlurParameters() chroma.BlurParameters {
	return chroma.BlurParameters{Radius: s.Radius, Sigma: s.Sigma}
}

// Validate checks cross-field constraints after loading.
func (s Settings) Validate() error {
	if s.TargetFPS < 1 {
		return fmt.Errorf("%w: target_fps %d, want at least 1", ErrBadValue, s.TargetFPS)
	}
	if s.GPUSyncInterval < 1 {
		return fmt.Errorf("%w: gpu_sync_interval %d, want at least 1", ErrBadValue, s.GPUSyncInterval)
	}
	if s.SurfaceSize[0] < 1 || s.SurfaceSize[1] < 1 {
		return fmt.Errorf("%w: overlay_size %dx%d, want positive", ErrBadValue, s.SurfaceSize[0], s.SurfaceSize[1])
	}
	return s.BlurParameters().Validate()
}

// Load reads the settings file at path. A missing file is not an error: the
// defaults are returned and the condition is logged. Malformed lines and
// unknown keys are skipped with a warning; a malformed value for a known
// key fails the load.
func Load(path string) (Settings, error) {
	s := Defaults()
	log := chroma.Logger()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("config: settings file not found, using defaults", "path", path)
			return s, nil
		}
		return s, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			log.Warn("config: line has no '=', skipped", "line", lineNum, "text", line)
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" {
			log.Warn("config: empty key, skipped", "line", lineNum)
			continue
		}

		if err := s.apply(key, value); err != nil {
			if errors.Is(err, errUnknownKey) {
				log.Warn("config: unknown key, skipped", "line", lineNum, "key", key)
				continue
			}
			return s, fmt.Errorf("config: line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

var errUnknownKey = errors.New("unknown key")

func (s *Settings) apply(key, value string) error {
	var err error
	switch key {
	case "target_fps":
		s.TargetFPS, err = parseInt(key, value)
	case "force_rgb":
		s.ForceRGB, err = parseBool(key, value)
	case "capture_format":
		switch strings.ToLower(value) {
		case "rgb":
			s.ChannelOrder = chroma.OrderRGB
		case "bgr":
			s.ChannelOrder = chroma.OrderBGR
		default:
			err = fmt.Errorf("%w: capture_format %q, want rgb or bgr", ErrBadValue, value)
		}
	case "debug_gpu_sync":
		s.DebugGPUSync, err = parseBool(key, value)
	case "gpu_sync_interval":
		s.GPUSyncInterval, err = parseInt(key, value)
	case "overlay_size":
		s.SurfaceSize, err = parseIntPair(key, value)
	case "overlay_pos":
		s.SurfacePos, err = parseIntPair(key, value)
	case "radius_rgb":
		s.Radius, err = parseIntTriple(key, value)
	case "sigma_rgb":
		s.Sigma, err = parseFloatTriple(key, value)
	case "shader_path":
		s.KernelAssetPath = value
	default:
		err = errUnknownKey
	}
	return err
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q, want integer", ErrBadValue, key, value)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %s %q, want true or false", ErrBadValue, key, value)
}

func splitTuple(key, value string, n int) ([]string, error) {
	parts := strings.Split(value, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: %s %q, want %d comma-separated values", ErrBadValue, key, value, n)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func parseIntPair(key, value string) ([2]int, error) {
	var out [2]int
	parts, err := splitTuple(key, value, 2)
	if err != nil {
		return out, err
	}
	for i, p := range parts {
		out[i], err = parseInt(key, p)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func parseIntTriple(key, value string) ([3]int, error) {
	var out [3]int
	parts, err := splitTuple(key, value, 3)
	if err != nil {
		return out, err
	}
	for i, p := range parts {
		out[i], err = parseInt(key, p)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func parseFloatTriple(key, value string) ([3]float64, error) {
	var out [3]float64
	parts, err := splitTuple(key, value, 3)
	if err != nil {
		return out, err
	}
	for i, p := range parts {
		f, ferr := strconv.ParseFloat(p, 64)
		if ferr != nil {
			return out, fmt.Errorf("%w: %s %q, want float", ErrBadValue, key, p)
		}
		out[i] = f
	}
	return out, nil
}
