// Package settings holds the operator-controlled detection settings read by
// the capture scheduler and the overlay renderer.
package settings

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Speed is the speed/precision preference forwarded to the detection service.
type Speed string

const (
	SpeedBalanced  Speed = "Balanced"
	SpeedFast      Speed = "Fast"
	SpeedPrecision Speed = "Precision"
)

// Known object classes, in display order.
const (
	ClassToolbox          = "Toolbox"
	ClassOxygenTank       = "Oxygen Tank"
	ClassFireExtinguisher = "Fire Extinguisher"
	ClassOther            = "Other"
)

// Classes lists the classes the detection service is known to report.
var Classes = []string{ClassToolbox, ClassOxygenTank, ClassFireExtinguisher, ClassOther}

// ErrInvalidSpeed is returned when a speed preference is not one of the known values.
var ErrInvalidSpeed = errors.New("invalid detection speed")

// ParseSpeed validates a speed preference string.
func ParseSpeed(s string) (Speed, error) {
	switch Speed(s) {
	case SpeedBalanced, SpeedFast, SpeedPrecision:
		return Speed(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidSpeed, "%q", s)
	}
}

// Detection is the settings surface consumed by the pipeline.
type Detection struct {
	Speed          Speed           `json:"detectionSpeed"`
	ShowLabels     bool            `json:"showLabels"`
	ShowConfidence bool            `json:"showConfidence"`
	EnabledClasses map[string]bool `json:"enabledClasses"`
}

// Default returns the settings an operator starts with: every class
// enabled, labels and confidence shown, balanced speed.
func Default() Detection {
	enabled := make(map[string]bool, len(Classes))
	for _, c := range Classes {
		enabled[c] = true
	}
	return Detection{
		Speed:          SpeedBalanced,
		ShowLabels:     true,
		ShowConfidence: true,
		EnabledClasses: enabled,
	}
}

// RequestedClasses returns the sorted names of the enabled classes.
// An empty result means no filter: the service reports every class.
func (d Detection) RequestedClasses() []string {
	var out []string
	for name, on := range d.EnabledClasses {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy so callers can hold a snapshot while the
// operator keeps editing.
func (d Detection) Clone() Detection {
	c := d
	c.EnabledClasses = make(map[string]bool, len(d.EnabledClasses))
	for k, v := range d.EnabledClasses {
		c.EnabledClasses[k] = v
	}
	return c
}

// Validate checks the settings before they are accepted from the operator.
func (d Detection) Validate() error {
	if _, err := ParseSpeed(string(d.Speed)); err != nil {
		return err
	}
	return nil
}

// Persister saves settings between runs.
type Persister interface {
	SaveDetectionSettings(d Detection) error
}

// Store is the mutable holder of the current settings.
type Store struct {
	mu        sync.RWMutex
	current   Detection
	persister Persister
	listeners []func(Detection)
}

// NewStore creates a Store seeded with initial. persister may be nil.
func NewStore(initial Detection, persister Persister) *Store {
	return &Store{
		current:   initial.Clone(),
		persister: persister,
	}
}

// Get returns a snapshot of the current settings.
func (s *Store) Get() Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Set replaces the settings wholesale.
func (s *Store) Set(d Detection) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return s.apply(d.Clone())
}

// Update applies fn to a copy of the current settings and stores the result.
func (s *Store) Update(fn func(*Detection)) error {
	next := s.Get()
	fn(&next)
	return s.Set(next)
}

// OnChange registers fn to be called after every accepted change.
func (s *Store) OnChange(fn func(Detection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) apply(d Detection) error {
	s.mu.Lock()
	s.current = d
	listeners := append([]func(Detection){}, s.listeners...)
	persister := s.persister
	s.mu.Unlock()

	if persister != nil {
		if err := persister.SaveDetectionSettings(d); err != nil {
			return errors.Wrap(err, "persist detection settings")
		}
	}

	// Call listeners outside the lock to prevent deadlocks
	for _, fn := range listeners {
		fn(d.Clone())
	}
	return nil
}
