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

// Package api contains the interfaces that the room directory and the
// federation knock handlers expect their roomserver collaborator to satisfy.
// The roomserver owns the event graph, state resolution and alias storage;
// this package only describes the surface that is consumed here.
package api

import (
	"context"

	"github.com/matrix-org/gomatrixserverlib"
)

// ErrNotAllowed is an error returned if an actor is not allowed
// to execute some action (e.g. publish a room they have no power over).
type ErrNotAllowed struct {
	Err error
}

func (e ErrNotAllowed) Error() string {
	return e.Err.Error()
}

// QueryLatestEventsAndStateAPI queries the latest events and state for a room.
type QueryLatestEventsAndStateAPI interface {
	QueryLatestEventsAndState(ctx context.Context, req *QueryLatestEventsAndStateRequest, res *QueryLatestEventsAndStateResponse) error
}

// InputRoomEventsAPI is used to write new events into the room graph. The
// roomserver runs the auth rules for the room version against the event
// before persisting it, and persistence is idempotent by event ID.
type InputRoomEventsAPI interface {
	InputRoomEvents(ctx context.Context, req *InputRoomEventsRequest, res *InputRoomEventsResponse)
}

// ClientRoomserverAPI is the roomserver surface used by the client-facing
// directory endpoints.
type ClientRoomserverAPI interface {
	QueryLatestEventsAndStateAPI

	QueryRoomVersionForRoom(ctx context.Context, roomID string) (gomatrixserverlib.RoomVersion, error)
	QueryMembershipForUser(ctx context.Context, req *QueryMembershipForUserRequest, res *QueryMembershipForUserResponse) error
	QueryPublishedRooms(ctx context.Context, req *QueryPublishedRoomsRequest, res *QueryPublishedRoomsResponse) error

	GetRoomIDForAlias(ctx context.Context, req *GetRoomIDForAliasRequest, res *GetRoomIDForAliasResponse) error
	GetCreatorIDForAlias(ctx context.Context, req *GetCreatorIDForAliasRequest, res *GetCreatorIDForAliasResponse) error
	SetRoomAlias(ctx context.Context, req *SetRoomAliasRequest, res *SetRoomAliasResponse) error
	RemoveRoomAlias(ctx context.Context, req *RemoveRoomAliasRequest, res *RemoveRoomAliasResponse) error

	// PerformPublish changes the visibility of a room in one publication
	// scope. Returns ErrNotAllowed if the actor may not publish the room.
	PerformPublish(ctx context.Context, req *PerformPublishRequest) error
}

// FederationRoomserverAPI is the roomserver surface used by the federation
// knock endpoints. Reads made after InputRoomEvents from the same request
// path observe the written event (read-your-writes for the same room).
type FederationRoomserverAPI interface {
	QueryLatestEventsAndStateAPI
	InputRoomEventsAPI

	QueryRoomVersionForRoom(ctx context.Context, roomID string) (gomatrixserverlib.RoomVersion, error)
	QueryServerJoinedToRoom(ctx context.Context, req *QueryServerJoinedToRoomRequest, res *QueryServerJoinedToRoomResponse) error
	GetRoomIDForAlias(ctx context.Context, req *GetRoomIDForAliasRequest, res *GetRoomIDForAliasResponse) error
	// QueryCurrentState retrieves the requested state events. If state events
	// are not found, they will be missing from the response.
	QueryCurrentState(ctx context.Context, req *QueryCurrentStateRequest, res *QueryCurrentStateResponse) error
}
