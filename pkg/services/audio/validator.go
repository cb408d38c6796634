package audio

import (
	"errors"
	"fmt"
	"os"
)

// defaults from the recording UI
const (
	MinSize     = 2048
	MinDuration = 0.5 // seconds
)

// errors
var (
	ErrMissingFile = errors.New("audio file missing")
	ErrTooSmall    = errors.New("audio file too small")
	ErrUndecodable = errors.New("audio file undecodable")
	ErrTooShort    = errors.New("recording too short")
)

// Validator checks a recorded clip before upload
type Validator struct {
	MinSize     int64
	MinDuration float64
}

// NewValidator returns a validator with the default limits
func NewValidator() *Validator {
	return &Validator{MinSize: MinSize, MinDuration: MinDuration}
}

// Validate checks existence, size, decodability and duration, in that order.
func (v *Validator) Validate(path string) error {
	_, err := v.Probe(path)
	return err
}

// Probe is Validate that also returns the decoded header on success.
// Other I/O failures are returned wrapped and match none of the sentinels.
func (v *Validator) Probe(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissingFile
		}
		return nil, fmt.Errorf("stat audio: %w", err)
	}
	if fi.IsDir() {
		return nil, ErrMissingFile
	}
	if fi.Size() < v.MinSize {
		return nil, ErrTooSmall
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	info, err := DecodeInfo(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUndecodable, err)
	}
	if info.Duration < v.MinDuration {
		return info, ErrTooShort
	}
	return info, nil
}
