// Copyright 2026 The OpenTrusty Authors
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

package insight

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a unit of work failure
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindRejected  Kind = "rejected"
	KindMalformed Kind = "malformed"
)

// Domain errors
var (
	ErrTimeout   = errors.New("timeout")
	ErrTransport = errors.New("transport error")
	ErrRejected  = errors.New("rejected by insight service")
	ErrMalformed = errors.New("malformed response")
)

// UnitOfWorkError is a failure scoped to a single tenant
type UnitOfWorkError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *UnitOfWorkError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "timeout"
	case KindRejected:
		if e.StatusCode != 0 {
			return fmt.Sprintf("rejected: status %d: %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("rejected: %v", e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *UnitOfWorkError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the failure kind
func (e *UnitOfWorkError) Is(target error) bool {
	switch e.Kind {
	case KindTimeout:
		return target == ErrTimeout
	case KindTransport:
		return target == ErrTransport
	case KindRejected:
		return target == ErrRejected
	case KindMalformed:
		return target == ErrMalformed
	}
	return false
}

// Classify converts an arbitrary error into a UnitOfWorkError.
// Deadline errors become timeouts; unknown errors are treated as transport failures.
func Classify(err error) *UnitOfWorkError {
	if err == nil {
		return nil
	}
	var uowErr *UnitOfWorkError
	if errors.As(err, &uowErr) {
		return uowErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UnitOfWorkError{Kind: KindTimeout, Err: err}
	}
	return &UnitOfWorkError{Kind: KindTransport, Err: err}
}
