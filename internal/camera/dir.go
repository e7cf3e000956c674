package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// dirCamera replays the images found in a directory in lexical order,
// wrapping around at the end. Non-JPEG inputs are re-encoded at the
// configured quality.
type dirCamera struct {
	files   []string
	quality int
	slots   *slots
	logger  *slog.Logger

	mu   sync.Mutex
	next int
}

func openDir(s Settings, log *slog.Logger) (*dirCamera, error) {
	entries, err := os.ReadDir(s.Device)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(s.Device, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .jpg, .jpeg or .png files in %s", s.Device)
	}
	sort.Strings(files)
	return &dirCamera{
		files:   files,
		quality: s.QualityPercent(),
		slots:   newSlots(s.BufferCount),
		logger:  log,
	}, nil
}

func (c *dirCamera) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq, err := c.slots.take()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	path := c.files[c.next%len(c.files)]
	c.next++
	c.mu.Unlock()

	data, width, height, err := c.load(path)
	if err != nil {
		c.slots.give()
		return nil, fmt.Errorf("%w: %s: %v", ErrNoFrame, filepath.Base(path), err)
	}
	c.logger.Debug("frame loaded", "file", path, "bytes", len(data))

	frame := NewFrame(data, width, height, c.slots.give)
	frame.Sequence = seq
	return frame, nil
}

func (c *dirCamera) load(path string) ([]byte, int, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	if bytes.HasPrefix(data, jpegMagic) {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, 0, 0, err
		}
		return data, cfg.Width, cfg.Height, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, 0, 0, err
	}
	bounds := img.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

func (c *dirCamera) Close() error {
	return nil
}
