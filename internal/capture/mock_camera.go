package capture

import (
	"image"
	"sync"

	"github.com/pkg/errors"
)

// MockCamera plays back in-memory frames for testing
type MockCamera struct {
	frames  []image.Image
	index   int
	loop    bool
	mu      sync.Mutex
	running bool
	openErr error
	closed  int
}

func NewMockCamera(frames []image.Image, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

// FailOpen makes subsequent Open calls return err
func (c *MockCamera) FailOpen(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.closed++
	}
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, ErrNoFrame
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, errors.Wrap(ErrNoFrame, "no more frames")
		}
	}

	frame := c.frames[c.index]
	c.index++

	return frame, nil
}

// Size reports the bounds of the next frame to be played.
func (c *MockCamera) Size() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || len(c.frames) == 0 {
		return image.Point{}
	}
	return c.frames[c.index%len(c.frames)].Bounds().Size()
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Closed returns how many times an open camera has been closed
func (c *MockCamera) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}
