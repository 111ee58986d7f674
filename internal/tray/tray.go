// Package tray provides a system tray menu for stationeye: pause and resume
// detection, see the last detection, open the viewer and quit.
package tray

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/stationeye/internal/detector"
)

const (
	titleDetecting = "● Detecting"
	titlePaused    = "○ Paused"
	lastNone       = "Last: none"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func() bool
	onOpen   func()
	onQuit   func()
	paused   bool
	last     string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a new Tray instance in the detecting state.
func New() *Tray {
	return &Tray{last: lastNone}
}

// OnToggle sets the callback invoked when pause is toggled from the menu.
// It returns the paused state after the toggle.
func (t *Tray) OnToggle(fn func() bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback invoked when the viewer menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback invoked when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray loop.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("stationeye")
	systray.SetTooltip("stationeye object detection")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.paused), "Pause or resume detection")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(t.last, "Last detection")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Viewer...", "Open the live view in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit stationeye")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) handleToggle() {
	t.mu.RLock()
	callback := t.onToggle
	t.mu.RUnlock()

	if callback != nil {
		t.SetPaused(callback())
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetPaused updates the toggle item. It is safe to call before Run.
func (t *Tray) SetPaused(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paused = paused
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(paused))
	}
}

// Paused returns the paused state last shown.
func (t *Tray) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// SetLastResult updates the last detection display from a result.
func (t *Tray) SetLastResult(res *detector.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = lastTitle(res)
	if t.menuLast != nil {
		t.menuLast.SetTitle(t.last)
	}
}

// LastTitle returns the current last-detection text.
func (t *Tray) LastTitle() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func toggleTitle(paused bool) string {
	if paused {
		return titlePaused
	}
	return titleDetecting
}

// lastTitle names the most confident detection and how many others came with it.
func lastTitle(res *detector.Result) string {
	if res == nil || len(res.Detections) == 0 {
		return lastNone
	}

	dets := append([]detector.Detection(nil), res.Detections...)
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	top := dets[0]
	title := fmt.Sprintf("Last: %s %d%%", top.Class, int(math.Round(top.Confidence*100)))
	if n := len(dets) - 1; n > 0 {
		title += fmt.Sprintf(" (+%d)", n)
	}
	return title
}
