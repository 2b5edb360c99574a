package controller

import (
	"errors"
	"fmt"
)

var (
	errBandWithoutChannel = errors.New("controller: band and channel must be set together")
	errFrequencyAndBand   = errors.New("controller: frequency and band/channel are exclusive")
)

// Request is a partial settings change as received over HTTP or MQTT.
// Nil fields are left alone.
type Request struct {
	Frequency *uint16 `json:"frequency,omitempty"`
	Power     *uint16 `json:"power,omitempty"`
	PitMode   *bool   `json:"pitMode,omitempty"`
	Band      *int    `json:"band,omitempty"`
	Channel   *int    `json:"channel,omitempty"`
}

// Empty reports whether the request changes nothing.
func (r Request) Empty() bool {
	return r.Frequency == nil && r.Power == nil && r.PitMode == nil &&
		r.Band == nil && r.Channel == nil
}

// Validate checks field combinations without touching a controller.
func (r Request) Validate() error {
	if (r.Band == nil) != (r.Channel == nil) {
		return errBandWithoutChannel
	}
	if r.Frequency != nil && r.Band != nil {
		return errFrequencyAndBand
	}
	return nil
}

// Apply forwards each set field to c: tuning first, then power, then pit
// mode. It stops at the first error.
func (r Request) Apply(c *Controller) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Band != nil {
		if err := c.SetBandAndChannel(*r.Band, *r.Channel); err != nil {
			return err
		}
	}
	if r.Frequency != nil {
		if err := c.SetFrequency(*r.Frequency); err != nil {
			return err
		}
	}
	if r.Power != nil {
		if err := c.SetPower(*r.Power); err != nil {
			return err
		}
	}
	if r.PitMode != nil {
		if err := c.SetPitMode(*r.PitMode); err != nil {
			return err
		}
	}
	return nil
}

func (r Request) String() string {
	s := "{"
	if r.Frequency != nil {
		s += fmt.Sprintf(" freq=%d", *r.Frequency)
	}
	if r.Band != nil && r.Channel != nil {
		s += fmt.Sprintf(" band=%d ch=%d", *r.Band, *r.Channel)
	}
	if r.Power != nil {
		s += fmt.Sprintf(" power=%d", *r.Power)
	}
	if r.PitMode != nil {
		s += fmt.Sprintf(" pit=%v", *r.PitMode)
	}
	return s + " }"
}
