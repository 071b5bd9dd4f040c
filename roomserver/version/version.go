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

package version

import (
	"github.com/matrix-org/gomatrixserverlib"
)

// DefaultRoomVersion contains the room version that will, by
// default, be used to create new rooms on this server.
func DefaultRoomVersion() gomatrixserverlib.RoomVersion {
	return gomatrixserverlib.RoomVersionV10
}

// SupportedRoomVersions returns a map of descriptions for room
// versions that this server can participate in.
func SupportedRoomVersions() map[gomatrixserverlib.RoomVersion]gomatrixserverlib.IRoomVersion {
	return gomatrixserverlib.RoomVersions()
}

// knockableRoomVersions are the room versions that declare support for the
// knock membership state. Knock events in rooms of any other version must
// be rejected.
var knockableRoomVersions = map[gomatrixserverlib.RoomVersion]struct{}{
	gomatrixserverlib.RoomVersionV7:  {},
	gomatrixserverlib.RoomVersionV8:  {},
	gomatrixserverlib.RoomVersionV9:  {},
	gomatrixserverlib.RoomVersionV10: {},
}

// KnockingSupported returns whether the given room version permits the
// knock membership state.
func KnockingSupported(version gomatrixserverlib.RoomVersion) bool {
	_, ok := knockableRoomVersions[version]
	return ok
}
