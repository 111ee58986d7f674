package capture

import (
	"bytes"
	"context"
	"image"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, solid(w, h), imaging.PNG))
	return buf.Bytes()
}

func mockOpener(cam *MockCamera) CameraOpener {
	return DeviceOpener(func() Camera { return cam })
}

func TestSource_AcquireCamera(t *testing.T) {
	cam := NewMockCamera([]image.Image{solid(320, 240)}, true)
	src := NewSource(mockOpener(cam))

	st := src.AcquireCamera(context.Background())
	require.Equal(t, StateReady, st.State)
	require.Equal(t, ModeLiveCamera, st.Mode)
	require.True(t, src.Ready())
	require.Equal(t, image.Pt(320, 240), src.Size())

	f1, err := src.Next()
	require.NoError(t, err)
	require.NotEmpty(t, f1.Payload)
	require.Equal(t, 320, f1.Width)
	require.Equal(t, 240, f1.Height)
	require.False(t, f1.OneShot)

	f2, err := src.Next()
	require.NoError(t, err)
	require.Greater(t, f2.Seq, f1.Seq)
}

func TestSource_AcquireCameraFailure(t *testing.T) {
	cam := NewMockCamera(nil, false)
	cam.FailOpen(errors.New("permission denied"))
	src := NewSource(mockOpener(cam))

	st := src.AcquireCamera(context.Background())
	require.Equal(t, StateUnavailable, st.State)
	require.Contains(t, st.Err, "failed to access webcam")
	require.Contains(t, st.Err, "permission denied")

	_, err := src.Next()
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSource_NoOpener(t *testing.T) {
	src := NewSource(nil)
	st := src.AcquireCamera(context.Background())
	require.Equal(t, StateUnavailable, st.State)
}

func TestSource_LoadImage(t *testing.T) {
	src := NewSource(nil)

	st := src.LoadImage(bytes.NewReader(pngBytes(t, 200, 100)))
	require.Equal(t, ModeStaticUpload, st.Mode)

	src.Wait()
	require.Equal(t, StateReady, src.Status().State)
	require.Equal(t, image.Pt(200, 100), src.Size())

	f1, err := src.Next()
	require.NoError(t, err)
	require.True(t, f1.OneShot)
	require.Equal(t, 200, f1.Width)

	f2, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, f1.Seq, f2.Seq, "static frames keep their sequence")

	img, err := src.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 200, img.Bounds().Dx())
}

func TestSource_LoadImageFailures(t *testing.T) {
	tests := []struct {
		name string
		r    io.Reader
		want string
	}{
		{name: "empty", r: bytes.NewReader(nil), want: "file is empty"},
		{name: "not an image", r: strings.NewReader("definitely not a png"), want: "failed to decode image"},
		{name: "read error", r: errReader{}, want: "failed to read image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewSource(nil)
			src.LoadImage(tt.r)
			src.Wait()

			st := src.Status()
			require.Equal(t, StateUnavailable, st.State)
			require.Contains(t, st.Err, tt.want)
		})
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestSource_SwitchReleasesCamera(t *testing.T) {
	cam := NewMockCamera([]image.Image{solid(64, 48)}, true)
	src := NewSource(mockOpener(cam))

	src.AcquireCamera(context.Background())
	require.True(t, cam.IsOpen())

	src.LoadImage(bytes.NewReader(pngBytes(t, 10, 10)))
	require.False(t, cam.IsOpen(), "camera must be stopped before the upload is decoded")
	require.Equal(t, 1, cam.Closed())

	src.Wait()
	require.Equal(t, StateReady, src.Status().State)
	require.Equal(t, ModeStaticUpload, src.Status().Mode)
}

func TestSource_SwitchReleasesCameraWhenNextFails(t *testing.T) {
	cam := NewMockCamera([]image.Image{solid(64, 48)}, true)
	src := NewSource(mockOpener(cam))

	src.AcquireCamera(context.Background())
	src.LoadImage(bytes.NewReader(nil))

	require.False(t, cam.IsOpen())
	require.Equal(t, StateUnavailable, src.Status().State)
}

func TestSource_SupersededDecodeDiscarded(t *testing.T) {
	release := make(chan struct{})
	decode := func(r io.Reader) (image.Image, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if string(data) == "slow" {
			<-release
			return solid(999, 999), nil
		}
		return imaging.Decode(bytes.NewReader(data))
	}
	src := NewSource(nil, WithDecoder(decode))

	src.LoadImage(strings.NewReader("slow"))
	src.LoadImage(bytes.NewReader(pngBytes(t, 30, 20)))

	require.Eventually(t, func() bool {
		return src.Status().State == StateReady
	}, time.Second, 5*time.Millisecond)

	close(release)
	src.Wait()

	require.Equal(t, StateReady, src.Status().State)
	require.Equal(t, image.Pt(30, 20), src.Size(), "late decode must not replace the newer upload")
}

func TestSource_Release(t *testing.T) {
	cam := NewMockCamera([]image.Image{solid(64, 48)}, true)
	src := NewSource(mockOpener(cam))

	var mu sync.Mutex
	var states []State
	src.OnChange(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st.State)
	})

	src.AcquireCamera(context.Background())
	require.NoError(t, src.Release())
	require.NoError(t, src.Release())

	require.False(t, cam.IsOpen())
	require.Equal(t, 1, cam.Closed())
	require.Equal(t, StateUninitialized, src.Status().State)
	require.Equal(t, image.Point{}, src.Size())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRequesting, StateReady, StateUninitialized}, states)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("webcam")
	require.NoError(t, err)
	require.Equal(t, ModeLiveCamera, m)

	_, err = ParseMode("screen")
	require.Error(t, err)
}
