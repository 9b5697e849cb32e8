package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FrameName returns the file name for a persisted frame:
// pic_<seq>_<steering>_<throttle>.<ext>.
func FrameName(seq uint64, steering, throttle float64, ext string) string {
	return fmt.Sprintf("pic_%d_%s_%s.%s",
		seq,
		strconv.FormatFloat(steering, 'f', -1, 64),
		strconv.FormatFloat(throttle, 'f', -1, 64),
		ext,
	)
}

// WriteFrame writes frame into dir, creating dir on first use, and returns
// the file name.
func WriteFrame(dir string, seq uint64, steering, throttle float64, ext string, frame []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := FrameName(seq, steering, throttle, ext)
	if err := os.WriteFile(filepath.Join(dir, name), frame, 0o644); err != nil {
		return "", err
	}
	return name, nil
}
