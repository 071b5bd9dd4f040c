// Copyright 2024 The Matrix.org Foundation C.I.C.
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

// Package types provides the types that are used internally within the
// roomserver collaborator API.
package types

import (
	"github.com/matrix-org/gomatrixserverlib"
)

// HeaderedEvent is a wrapper around a PDU which is used to pass events
// between components along with the room version they were created in.
type HeaderedEvent struct {
	gomatrixserverlib.PDU
}

func (h *HeaderedEvent) MarshalJSON() ([]byte, error) {
	return h.PDU.JSON(), nil
}
