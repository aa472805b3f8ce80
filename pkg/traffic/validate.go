package traffic

import (
	"errors"
	"fmt"
	"math"
)

// Validation limits
const (
	MaxCameraIDLength = 128 // Maximum camera identifier length
	MinConfidence     = 0.0
	MaxConfidence     = 1.0
)

var (
	// ErrCameraIDEmpty is returned when a record has no camera id
	ErrCameraIDEmpty = errors.New("camera id cannot be empty")

	// ErrCameraIDTooLong is returned when a camera id exceeds MaxCameraIDLength
	ErrCameraIDTooLong = fmt.Errorf("camera id too long (max %d chars)", MaxCameraIDLength)

	// ErrUnknownVehicleType is returned for a vehicle type outside car|bus|truck
	ErrUnknownVehicleType = errors.New("unknown vehicle type")

	// ErrUnknownDirection is returned for a direction outside in|out
	ErrUnknownDirection = errors.New("unknown direction")

	// ErrNegativeCount is returned when a count is below zero
	ErrNegativeCount = errors.New("count cannot be negative")

	// ErrConfidenceRange is returned when a confidence is outside [0,1]
	ErrConfidenceRange = fmt.Errorf("confidence out of range [%.0f,%.0f]", MinConfidence, MaxConfidence)

	// ErrMissingTimestamp is returned when a record has a zero timestamp
	ErrMissingTimestamp = errors.New("timestamp is required")
)

// ParseVehicleType converts a raw string into a VehicleType.
func ParseVehicleType(s string) (VehicleType, error) {
	switch v := VehicleType(s); v {
	case Car, Bus, Truck:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVehicleType, s)
}

// ParseDirection converts a raw string into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case In, Out:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

func validateCameraID(id string) error {
	if id == "" {
		return ErrCameraIDEmpty
	}
	if len(id) > MaxCameraIDLength {
		return fmt.Errorf("%w: %q has %d chars", ErrCameraIDTooLong, id, len(id))
	}
	return nil
}

func validateConfidence(c float64) error {
	if math.IsNaN(c) || c < MinConfidence || c > MaxConfidence {
		return fmt.Errorf("%w: %v", ErrConfidenceRange, c)
	}
	return nil
}

// Validate checks an hourly stat before it is written.
func (s HourlyStat) Validate() error {
	if err := validateCameraID(s.CameraID); err != nil {
		return err
	}
	if s.Hour.IsZero() {
		return fmt.Errorf("%w: camera %q", ErrMissingTimestamp, s.CameraID)
	}
	if _, err := ParseVehicleType(string(s.VehicleType)); err != nil {
		return err
	}
	if _, err := ParseDirection(string(s.Direction)); err != nil {
		return err
	}
	if s.Count < 0 {
		return fmt.Errorf("%w: camera %q has %d", ErrNegativeCount, s.CameraID, s.Count)
	}
	if s.AvgConfidence != nil {
		if err := validateConfidence(*s.AvgConfidence); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a live snapshot before it is written.
func (s LiveSnapshot) Validate() error {
	if err := validateCameraID(s.CameraID); err != nil {
		return err
	}
	if s.SnapshotTime.IsZero() {
		return fmt.Errorf("%w: camera %q", ErrMissingTimestamp, s.CameraID)
	}
	for _, c := range []int64{s.CarIn, s.CarOut, s.BusIn, s.BusOut, s.TruckIn, s.TruckOut} {
		if c < 0 {
			return fmt.Errorf("%w: camera %q has %d", ErrNegativeCount, s.CameraID, c)
		}
	}
	return validateConfidence(s.AvgConfidence)
}
