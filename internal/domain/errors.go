// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrRunNotFound = errors.New("run not found")
var ErrRunTerminal = errors.New("run already in a terminal status")
var ErrInvalidTransition = errors.New("invalid control transition")
var ErrEmptyInput = errors.New("run input must not be empty")
var ErrCheckpointNotFound = errors.New("checkpoint not found")
