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

package frame

// Reply framing bytes
const (
	Prompt      = '>' // LAC-1 is ready for the next command line
	ErrorMarker = '?' // first byte of a line reporting a device fault
	CR          = '\r'
	LF          = '\n'
)

// PromptLine is the line produced by the prompt when reading stops on it
const PromptLine = string(Prompt)

// chunkSize is the number of bytes requested per read
const chunkSize = 64
