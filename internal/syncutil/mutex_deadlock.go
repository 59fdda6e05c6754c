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

//go:build deadlock

// Package syncutil provides the mutex types used by the serial transport and
// the device simulator. This file is compiled when building with
// -tags=deadlock.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether the binary was built with -tags=deadlock.
const DeadlockDetection = true

// defaultHoldTimeout covers one command line waiting out its whole reply
// budget while a homing macro runs. The go-deadlock default of 30s would
// report a healthy MS100 as a deadlock.
const defaultHoldTimeout = 5 * time.Minute

func init() {
	deadlock.Opts.DeadlockTimeout = defaultHoldTimeout
}

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}

// SetHoldTimeout sets how long a lock may be waited for before deadlock
// detection reports it.
func SetHoldTimeout(d time.Duration) {
	deadlock.Opts.DeadlockTimeout = d
}
