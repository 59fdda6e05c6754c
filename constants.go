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
	"time"

	"periph.io/x/conn/v3/physic"
)

// Serial link constants.
const (
	// DefaultBaudRate is the LAC-1 factory baud rate.
	DefaultBaudRate = 19200
	// DefaultReadTimeout is the per-read timeout of the serial port. One read
	// returning nothing within it counts as one timeout tick.
	DefaultReadTimeout = 10 * time.Millisecond
	// DefaultReplyTimeout is the total time a reply line may take to arrive.
	// The tick budget is derived from it and the read timeout.
	DefaultReplyTimeout = 30 * time.Second
	// DefaultMinCommandInterval is the processing time the LAC-1 needs after a
	// line it did not answer synchronously before it accepts the next one.
	DefaultMinCommandInterval = 100 * time.Millisecond
)

// Stage and servo constants for the SMAC stage the driver was built against.
const (
	// DefaultCountsPerMM is the encoder resolution.
	DefaultCountsPerMM = 1000.0
	// DefaultTravel is the mechanical travel of the stage.
	DefaultTravel = 25 * physic.MilliMetre
	// DefaultServoLoopRate is the LAC-1 servo loop frequency.
	DefaultServoLoopRate = 5 * physic.KiloHertz
	// DefaultSafetyFactor scales the travel used for absolute move bounds.
	DefaultSafetyFactor = 1.0
)

// Motion constants.
const (
	// WaitStopTime is the WS argument used to block until motion has stopped.
	WaitStopTime = 10
	// SafeVelocity and SafeAcceleration are applied on connect so that motion
	// issued before limits are configured is slow (mm/s and mm/s²).
	SafeVelocity     = 1.0
	SafeAcceleration = 1.0
)

// Position query retry constants. Only transport errors and malformed replies
// are retried; device faults are returned straight away.
const (
	// PositionQueryAttempts is the number of attempts for a position read.
	PositionQueryAttempts = 10
	// PositionQueryBackoff is the delay before the first retry.
	PositionQueryBackoff = 10 * time.Millisecond
	// PositionQueryMaxBackoff caps the delay between retries.
	PositionQueryMaxBackoff = 100 * time.Millisecond
)
