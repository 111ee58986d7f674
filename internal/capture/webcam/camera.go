// Package webcam reads frames from a local camera device using GoCV (OpenCV).
package webcam

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/ayusman/stationeye/internal/capture"
)

// Ideal capture resolution requested from the device. Drivers may pick the
// closest mode they support, so Size reports what was actually granted.
const (
	IdealWidth  = 1280
	IdealHeight = 720
)

// Camera manages video capture from a camera device.
type Camera struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
}

var _ capture.Camera = (*Camera)(nil)

// New creates a Camera for the given device ID. It is not opened.
func New(deviceID int) *Camera {
	return &Camera{deviceID: deviceID}
}

// Opener returns a capture.CameraOpener that opens device deviceID.
func Opener(deviceID int) capture.CameraOpener {
	return capture.DeviceOpener(func() capture.Camera { return New(deviceID) })
}

// Open opens the device and asks for the ideal resolution.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return errors.Wrapf(err, "open device %d", c.deviceID)
	}
	if !vc.IsOpened() {
		vc.Close()
		return errors.Errorf("device %d not available", c.deviceID)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, IdealWidth)
	vc.Set(gocv.VideoCaptureFrameHeight, IdealHeight)

	c.capture = vc
	c.running = true
	return nil
}

// Close stops the device and releases resources. Closing a closed camera is
// a no-op.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame and converts it to an image.Image.
func (c *Camera) ReadFrame() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, capture.ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := c.capture.Read(&mat); !ok {
		return nil, errors.New("failed to read frame from camera")
	}
	if mat.Empty() {
		return nil, capture.ErrNoFrame
	}

	return mat.ToImage()
}

// Size returns the device's current native resolution.
func (c *Camera) Size() image.Point {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return image.Point{}
	}

	return image.Pt(
		int(c.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(c.capture.Get(gocv.VideoCaptureFrameHeight)),
	)
}

// IsOpen returns true if the camera is currently open.
func (c *Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
