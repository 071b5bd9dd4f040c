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

package api

import (
	"github.com/matrix-org/gomatrixserverlib"
	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/sloppyjuicy/synapse/roomserver/types"
)

// QueryLatestEventsAndStateRequest is a request to QueryLatestEventsAndState
type QueryLatestEventsAndStateRequest struct {
	// The room ID to query the latest events for.
	RoomID string `json:"room_id"`
	// The state key tuples to fetch from the room current state.
	// If this list is empty or nil then *ALL* current state events are returned.
	StateToFetch []gomatrixserverlib.StateKeyTuple `json:"state_to_fetch"`
}

// QueryLatestEventsAndStateResponse is a response to QueryLatestEventsAndState
// This is used when sending events to set the prev_events, auth_events and depth.
// It is also used to tell whether the event is allowed by the event auth rules.
type QueryLatestEventsAndStateResponse struct {
	// Does the room exist?
	// If the room doesn't exist this will be false and LatestEvents will be empty.
	RoomExists bool `json:"room_exists"`
	// The room version of the room.
	RoomVersion gomatrixserverlib.RoomVersion `json:"room_version"`
	// The latest events in the room.
	// These are used to set the prev_events when sending an event.
	LatestEvents []string `json:"latest_events"`
	// The state events requested.
	// This list will be in an arbitrary order.
	// These are used to set the auth_events when sending an event.
	// These are used to check whether the event is allowed.
	StateEvents []*types.HeaderedEvent `json:"state_events"`
	// The depth of the latest events.
	// This is one greater than the maximum depth of the latest events.
	// This is used to set the depth when sending an event.
	Depth int64 `json:"depth"`
}

// QueryCurrentStateRequest is a request to QueryCurrentState
type QueryCurrentStateRequest struct {
	RoomID         string
	AllowWildcards bool
	// State key tuples. If a state_key has '*' and AllowWildcards is true,
	// returns all matching state events with that event type.
	StateTuples []gomatrixserverlib.StateKeyTuple
}

// QueryCurrentStateResponse is a response to QueryCurrentState
type QueryCurrentStateResponse struct {
	StateEvents map[gomatrixserverlib.StateKeyTuple]*types.HeaderedEvent
}

// QueryServerJoinedToRoomRequest is a request to QueryServerJoinedToRoom
type QueryServerJoinedToRoomRequest struct {
	// The server name we're checking, or empty for the local server.
	ServerName spec.ServerName `json:"server_name"`
	// The room ID to look up.
	RoomID string `json:"room_id"`
}

// QueryServerJoinedToRoomResponse is a response to QueryServerJoinedToRoom
type QueryServerJoinedToRoomResponse struct {
	// True if the room exists on the server.
	RoomExists bool `json:"room_exists"`
	// True if we still believe that the server is participating in the room.
	IsInRoom bool `json:"is_in_room"`
}

// QueryMembershipForUserRequest is a request to QueryMembershipForUser
type QueryMembershipForUserRequest struct {
	// ID of the room to fetch membership from
	RoomID string
	// ID of the user for whom membership is requested
	UserID spec.UserID
}

// QueryMembershipForUserResponse is a response to QueryMembershipForUser
type QueryMembershipForUserResponse struct {
	// The EventID of the latest membership event, if any
	EventID string `json:"event_id"`
	// True if the user is in room
	IsInRoom bool `json:"is_in_room"`
	// The current membership
	Membership string `json:"membership"`
	// True if the room exists on this server
	RoomExists bool `json:"room_exists"`
}

// QueryPublishedRoomsRequest is a request to QueryPublishedRooms
type QueryPublishedRoomsRequest struct {
	// Optional. Filter on this room ID only.
	RoomID string
	// Optional. Filter on this appservice network ID only. Empty means the
	// default publication scope.
	NetworkID string
	// Include rooms from all networks as well as the default scope.
	IncludeAllNetworks bool
}

// QueryPublishedRoomsResponse is a response to QueryPublishedRooms
type QueryPublishedRoomsResponse struct {
	// The IDs of the rooms that are published in the requested scope.
	RoomIDs []string
}
