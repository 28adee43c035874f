package engine

import (
	"io"
	"os"
)

// capture reads a redirected stream back from the host. size is the full
// file size; text holds at most limit bytes.
type capture struct {
	text string
	size int64
}

func readCapture(path string, limit int64) capture {
	var c capture
	if path == "" {
		return c
	}
	f, err := os.Open(path)
	if err != nil {
		return c
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		c.size = info.Size()
	}
	if limit > 0 {
		if raw, err := io.ReadAll(io.LimitReader(f, limit)); err == nil {
			c.text = string(raw)
		}
	}
	return c
}
