// Copyright 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lac1

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

// Scale converts between physical units and LAC-1 native units.
//
// Positions are encoder counts. Velocity and acceleration limits are the
// change in encoder count per servo loop (scaled by 65536) needed to reach
// 1 mm/s and 1 mm/s².
type Scale struct {
	// CountsPerMM is the encoder resolution.
	CountsPerMM float64
	// ServoLoopRate is the frequency of the LAC-1 servo loop.
	ServoLoopRate physic.Frequency
}

// DefaultScale returns the scale of the reference stage.
func DefaultScale() Scale {
	return Scale{
		CountsPerMM:   DefaultCountsPerMM,
		ServoLoopRate: DefaultServoLoopRate,
	}
}

// Validate checks that the scale can be used for conversions.
func (s Scale) Validate() error {
	if !(s.CountsPerMM > 0) || math.IsInf(s.CountsPerMM, 0) {
		return fmt.Errorf("%w: counts per mm must be positive, got %v", ErrInvalidParameter, s.CountsPerMM)
	}
	if s.ServoLoopRate <= 0 {
		return fmt.Errorf("%w: servo loop rate must be positive, got %s", ErrInvalidParameter, s.ServoLoopRate)
	}
	return nil
}

func (s Scale) loopHz() float64 {
	return float64(s.ServoLoopRate) / float64(physic.Hertz)
}

// VelocityConstant returns KV, the SV argument equivalent to 1 mm/s.
func (s Scale) VelocityConstant() float64 {
	return 65536 * s.CountsPerMM / s.loopHz()
}

// AccelerationConstant returns KA, the SA argument equivalent to 1 mm/s².
func (s Scale) AccelerationConstant() float64 {
	hz := s.loopHz()
	return 65536 * s.CountsPerMM / (hz * hz)
}

// MMToCounts converts millimetres to the nearest encoder count.
func (s Scale) MMToCounts(mm float64) int {
	return int(math.Round(mm * s.CountsPerMM))
}

// UMToCounts converts micrometres to the nearest encoder count.
func (s Scale) UMToCounts(um float64) int {
	return int(math.Round(um * s.CountsPerMM / 1000))
}

// CountsToMM converts encoder counts to millimetres.
func (s Scale) CountsToMM(counts int) float64 {
	return float64(counts) / s.CountsPerMM
}

// CountsToUM converts encoder counts to micrometres.
func (s Scale) CountsToUM(counts int) float64 {
	return 1000 * float64(counts) / s.CountsPerMM
}

// CountsToDistance converts encoder counts to a physic.Distance, truncated
// to the nanometre.
func (s Scale) CountsToDistance(counts int) physic.Distance {
	return physic.Distance(float64(counts) / s.CountsPerMM * float64(physic.MilliMetre))
}

// DistanceToMM converts a physic.Distance to millimetres.
func DistanceToMM(d physic.Distance) float64 {
	return float64(d) / float64(physic.MilliMetre)
}

// travelLimitMM is the largest absolute target accepted, in millimetres.
func travelLimitMM(travel physic.Distance, safetyFactor float64) float64 {
	return DistanceToMM(travel) * safetyFactor
}
