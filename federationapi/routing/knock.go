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

package routing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/matrix-org/gomatrixserverlib"
	"github.com/matrix-org/gomatrixserverlib/fclient"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"

	"github.com/sloppyjuicy/synapse/internal/eventutil"
	"github.com/sloppyjuicy/synapse/roomserver/api"
	"github.com/sloppyjuicy/synapse/roomserver/types"
	"github.com/sloppyjuicy/synapse/roomserver/version"
	"github.com/sloppyjuicy/synapse/setup/config"
)

// In knockable room versions the sender ID of an event is always the
// user ID of its sender.
func userIDForSender(roomID spec.RoomID, senderID spec.SenderID) (*spec.UserID, error) {
	return spec.NewUserID(string(senderID), true)
}

// MakeKnock implements the /make_knock API
func MakeKnock(
	httpReq *http.Request,
	request *fclient.FederationRequest,
	cfg *config.FederationAPI,
	rsAPI api.FederationRoomserverAPI,
	roomID spec.RoomID, userID spec.UserID,
	remoteVersions []gomatrixserverlib.RoomVersion,
) util.JSONResponse {
	roomVersion, err := rsAPI.QueryRoomVersionForRoom(httpReq.Context(), roomID.String())
	if err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Debug("failed obtaining room version")
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Room does not exist"),
		}
	}

	// The knock must come from the server that owns the knocking user.
	if userID.Domain() != request.Origin() {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("The knock must be sent by the server of the user"),
		}
	}

	// Check that the room that the knocking server is trying to knock on is
	// actually one of the room versions that they listed in their supported
	// ?ver= in the knock URL.
	remoteSupportsVersion := false
	for _, v := range remoteVersions {
		if v == roomVersion {
			remoteSupportsVersion = true
			break
		}
	}
	// If it isn't, stop trying to knock on the room.
	if !remoteSupportsVersion {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.IncompatibleRoomVersion(string(roomVersion)),
		}
	}

	// The room version also has to have knocking enabled in the first place.
	if !version.KnockingSupported(roomVersion) {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden(fmt.Sprintf("Room version %q does not support knocking", roomVersion)),
		}
	}

	req := api.QueryServerJoinedToRoomRequest{
		ServerName: request.Destination(),
		RoomID:     roomID.String(),
	}
	res := api.QueryServerJoinedToRoomResponse{}
	if err = rsAPI.QueryServerJoinedToRoom(httpReq.Context(), &req, &res); err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("rsAPI.QueryServerJoinedToRoom failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	if !res.RoomExists || !res.IsInRoom {
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound(fmt.Sprintf("This server is not joined to room %s", roomID.String())),
		}
	}

	// A user who has already been banned is not welcome to knock.
	if _, jsonErr := checkKnockerMembership(httpReq, rsAPI, roomID, userID); jsonErr != nil {
		return *jsonErr
	}

	stateKey := userID.String()
	proto := gomatrixserverlib.ProtoEvent{
		SenderID: userID.String(),
		RoomID:   roomID.String(),
		Type:     spec.MRoomMember,
		StateKey: &stateKey,
	}
	content := gomatrixserverlib.MemberContent{
		Membership: spec.Knock,
	}
	if err = proto.SetContent(content); err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("proto.SetContent failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	identity := cfg.Matrix.SigningIdentity()
	queryRes := api.QueryLatestEventsAndStateResponse{}
	event, err := eventutil.QueryAndBuildEvent(httpReq.Context(), &proto, identity, time.Now(), rsAPI, &queryRes)
	switch e := err.(type) {
	case nil:
	case eventutil.ErrRoomNoExists:
		util.GetLogger(httpReq.Context()).WithError(err).Error("eventutil.QueryAndBuildEvent failed")
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Room does not exist"),
		}
	case gomatrixserverlib.BadJSONError:
		util.GetLogger(httpReq.Context()).WithError(err).Error("eventutil.QueryAndBuildEvent failed")
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON(e.Error()),
		}
	default:
		util.GetLogger(httpReq.Context()).WithError(err).Error("eventutil.QueryAndBuildEvent failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: map[string]interface{}{
			"event":        json.RawMessage(event.JSON()),
			"room_version": roomVersion,
		},
	}
}

// SendKnock implements the /send_knock API
// nolint:gocyclo
func SendKnock(
	httpReq *http.Request,
	request *fclient.FederationRequest,
	cfg *config.FederationAPI,
	rsAPI api.FederationRoomserverAPI,
	keys gomatrixserverlib.JSONVerifier,
	roomID spec.RoomID, eventID string,
) util.JSONResponse {
	roomVersion, err := rsAPI.QueryRoomVersionForRoom(httpReq.Context(), roomID.String())
	if err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Debug("failed obtaining room version")
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Room does not exist"),
		}
	}
	if !version.KnockingSupported(roomVersion) {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden(fmt.Sprintf("Room version %q does not support knocking", roomVersion)),
		}
	}

	verImpl, err := gomatrixserverlib.GetRoomVersion(roomVersion)
	if err != nil {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.UnsupportedRoomVersion(err.Error()),
		}
	}

	// Decode the event JSON from the request.
	event, err := verImpl.NewEventFromUntrustedJSON(request.Content())
	if err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("The knock event JSON could not be decoded")
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("The knock must be a valid matrix event."),
		}
	}

	// Check that the event is from the server sending the request.
	sender, err := userIDForSender(event.RoomID(), event.SenderID())
	if err != nil {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("The event JSON contains an invalid sender"),
		}
	}
	if sender.Domain() != request.Origin() {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("The knock must be sent by the server of the user"),
		}
	}

	// Check that the event corresponds to the room and event ID in the URL.
	if event.RoomID().String() != roomID.String() {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("The room ID in the request path must match the room ID in the knock event JSON"),
		}
	}
	if event.EventID() != eventID {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("The event ID in the request path must match the event ID in the knock event JSON"),
		}
	}

	// A knock is a membership event with its state key set to the sender.
	if event.StateKey() == nil || event.StateKeyEquals("") {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("No state key was provided in the knock event."),
		}
	}
	if !event.StateKeyEquals(string(event.SenderID())) {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("Event state key must match the event sender."),
		}
	}
	membership, err := event.Membership()
	if err != nil {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("missing content.membership key"),
		}
	}
	if membership != spec.Knock {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("The membership in the event content must be set to knock."),
		}
	}

	// Check that the event is signed by the server sending the request.
	if err = gomatrixserverlib.VerifyEventSignatures(httpReq.Context(), event, keys, userIDForSender); err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("The knock event is not correctly signed")
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("The knock must be signed by the server it originated on."),
		}
	}

	// We are only expected to handle knocks for rooms we are actually in.
	joinedReq := api.QueryServerJoinedToRoomRequest{
		ServerName: request.Destination(),
		RoomID:     roomID.String(),
	}
	joinedRes := api.QueryServerJoinedToRoomResponse{}
	if err = rsAPI.QueryServerJoinedToRoom(httpReq.Context(), &joinedReq, &joinedRes); err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("rsAPI.QueryServerJoinedToRoom failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	if !joinedRes.RoomExists || !joinedRes.IsInRoom {
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound(fmt.Sprintf("This server is not joined to room %s", roomID.String())),
		}
	}

	knockEventID, jsonErr := checkKnockerMembership(httpReq, rsAPI, roomID, *sender)
	if jsonErr != nil {
		return *jsonErr
	}

	// Fetch the stripped state before the knock lands so the response
	// reflects the room as the knocking user was shown it.
	stateEvents, jsonErr := knockRoomStateEvents(httpReq, rsAPI, roomID)
	if jsonErr != nil {
		return *jsonErr
	}

	// If this exact event is already the sender's current membership then
	// this is a resubmission and there is nothing new to write into the
	// room. A fresh knock event from an already-knocking user still goes
	// through, replacing the old one.
	if knockEventID == event.EventID() {
		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: sendKnockResponse{
				KnockStateEvents: eventutil.KnockRoomState(stateEvents, event),
			},
		}
	}

	// Send the event to the room server.
	// We are responsible for notifying other servers that a user has knocked
	// on the room, so set SendAsServer to cfg.Matrix.ServerName
	var response api.InputRoomEventsResponse
	rsAPI.InputRoomEvents(httpReq.Context(), &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{
			{
				Kind:          api.KindNew,
				Event:         &types.HeaderedEvent{PDU: event},
				SendAsServer:  string(cfg.Matrix.ServerName),
				TransactionID: nil,
				Origin:        request.Origin(),
			},
		},
	}, &response)

	if response.ErrMsg != "" {
		util.GetLogger(httpReq.Context()).WithField(logrus.ErrorKey, response.ErrMsg).WithField("not_allowed", response.NotAllowed).Error("rsAPI.InputRoomEvents failed")
		if response.NotAllowed {
			return util.JSONResponse{
				Code: http.StatusForbidden,
				JSON: spec.Forbidden(response.ErrMsg),
			}
		}
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: sendKnockResponse{
			KnockStateEvents: eventutil.KnockRoomState(stateEvents, event),
		},
	}
}

type sendKnockResponse struct {
	KnockStateEvents []eventutil.StrippedStateEvent `json:"knock_state_events"`
}

// checkKnockerMembership rejects a knock from a user whose current
// membership in the room forbids knocking again. If the user already has
// a knock in place it returns that knock's event ID, so a resubmission of
// the same event can be answered without writing a duplicate.
func checkKnockerMembership(
	httpReq *http.Request,
	rsAPI api.FederationRoomserverAPI,
	roomID spec.RoomID, userID spec.UserID,
) (string, *util.JSONResponse) {
	stateReq := api.QueryCurrentStateRequest{
		RoomID: roomID.String(),
		StateTuples: []gomatrixserverlib.StateKeyTuple{
			{EventType: spec.MRoomMember, StateKey: userID.String()},
		},
	}
	stateRes := api.QueryCurrentStateResponse{}
	if err := rsAPI.QueryCurrentState(httpReq.Context(), &stateReq, &stateRes); err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("rsAPI.QueryCurrentState failed")
		return "", &util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	for _, memberEvent := range stateRes.StateEvents {
		if memberEvent == nil {
			continue
		}
		membership, err := memberEvent.Membership()
		if err != nil {
			continue
		}
		switch membership {
		case spec.Ban:
			return "", &util.JSONResponse{
				Code: http.StatusForbidden,
				JSON: spec.Forbidden("You are banned from this room"),
			}
		case spec.Join:
			return "", &util.JSONResponse{
				Code: http.StatusForbidden,
				JSON: spec.Forbidden("You are already joined to this room"),
			}
		case spec.Knock:
			return memberEvent.EventID(), nil
		}
	}
	return "", nil
}

// knockRoomStateEvents fetches the room state events that may be shown to
// a knocking user.
func knockRoomStateEvents(
	httpReq *http.Request,
	rsAPI api.FederationRoomserverAPI,
	roomID spec.RoomID,
) ([]gomatrixserverlib.PDU, *util.JSONResponse) {
	stateReq := api.QueryCurrentStateRequest{
		RoomID:      roomID.String(),
		StateTuples: eventutil.KnockStateTuples(),
	}
	stateRes := api.QueryCurrentStateResponse{}
	if err := rsAPI.QueryCurrentState(httpReq.Context(), &stateReq, &stateRes); err != nil {
		util.GetLogger(httpReq.Context()).WithError(err).Error("rsAPI.QueryCurrentState failed")
		return nil, &util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	stateEvents := make([]gomatrixserverlib.PDU, 0, len(stateRes.StateEvents))
	for _, stateEvent := range stateRes.StateEvents {
		if stateEvent != nil {
			stateEvents = append(stateEvents, stateEvent.PDU)
		}
	}
	return stateEvents, nil
}
