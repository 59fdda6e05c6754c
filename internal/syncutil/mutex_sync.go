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

//go:build !deadlock

// Package syncutil provides the mutex types used by the serial transport and
// the device simulator. Standard sync.Mutex and sync.RWMutex are used by
// default. Build with -tags=deadlock to detect lock-order problems via
// github.com/sasha-s/go-deadlock.
package syncutil

import (
	"sync"
	"time"
)

// DeadlockDetection reports whether the binary was built with -tags=deadlock.
const DeadlockDetection = false

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.Mutex to expose its interface
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.RWMutex to expose its interface
type RWMutex struct {
	sync.RWMutex
}

// SetHoldTimeout sets how long a lock may be waited for before deadlock
// detection reports it. It does nothing without -tags=deadlock.
func SetHoldTimeout(time.Duration) {}
