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
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/matrix-org/gomatrixserverlib"
	"github.com/matrix-org/gomatrixserverlib/fclient"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"

	"github.com/sloppyjuicy/synapse/clientapi/httputil"
	roomserverAPI "github.com/sloppyjuicy/synapse/roomserver/api"
	"github.com/sloppyjuicy/synapse/setup/config"
	userapi "github.com/sloppyjuicy/synapse/userapi/api"
)

type roomDirectoryResponse struct {
	RoomID  string   `json:"room_id"`
	Servers []string `json:"servers"`
}

// DirectoryRoom looks up a room alias
func DirectoryRoom(
	req *http.Request,
	roomAlias string,
	federation fclient.FederationClient,
	cfg *config.ClientAPI,
	rsAPI roomserverAPI.ClientRoomserverAPI,
) util.JSONResponse {
	_, domain, err := gomatrixserverlib.SplitID('#', roomAlias)
	if err != nil {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("Room alias must be in the form '#localpart:domain'"),
		}
	}

	var res roomDirectoryResponse

	// Query the roomserver API to check if the alias exists locally.
	queryReq := &roomserverAPI.GetRoomIDForAliasRequest{
		Alias:              roomAlias,
		IncludeAppservices: true,
	}
	queryRes := &roomserverAPI.GetRoomIDForAliasResponse{}
	if err = rsAPI.GetRoomIDForAlias(req.Context(), queryReq, queryRes); err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("rsAPI.GetRoomIDForAlias failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	res.RoomID = queryRes.RoomID
	res.Servers = queryRes.Servers

	if res.RoomID == "" {
		// If we don't know it locally, do a federation query.
		// But don't send the query to ourselves.
		if !cfg.Matrix.IsLocalServerName(domain) {
			fedRes, fedErr := federation.LookupRoomAlias(req.Context(), cfg.Matrix.ServerName, domain, roomAlias)
			if fedErr != nil {
				// TODO: Return 502 if the remote server errored.
				// TODO: Return 504 if the remote server timed out.
				util.GetLogger(req.Context()).WithError(fedErr).Error("federation.LookupRoomAlias failed")
				return util.JSONResponse{
					Code: http.StatusInternalServerError,
					JSON: spec.InternalServerError{},
				}
			}
			res.RoomID = fedRes.RoomID
			res.Servers = make([]string, len(fedRes.Servers))
			for i, s := range fedRes.Servers {
				res.Servers[i] = string(s)
			}
		}

		if res.RoomID == "" {
			return util.JSONResponse{
				Code: http.StatusNotFound,
				JSON: spec.NotFound(
					fmt.Sprintf("Room alias %s not found", roomAlias),
				),
			}
		}
	} else if len(res.Servers) == 0 {
		// We are always a valid candidate for serving a room we know about.
		res.Servers = []string{string(cfg.Matrix.ServerName)}
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: res,
	}
}

// SetLocalAlias implements PUT /directory/room/{roomAlias}
func SetLocalAlias(
	req *http.Request,
	device *userapi.Device,
	alias string,
	cfg *config.ClientAPI,
	rsAPI roomserverAPI.ClientRoomserverAPI,
) util.JSONResponse {
	_, domain, err := gomatrixserverlib.SplitID('#', alias)
	if err != nil || !roomserverAPI.IsValidAlias(alias) {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("Room alias must be in the form '#localpart:domain'"),
		}
	}

	if !cfg.Matrix.IsLocalServerName(domain) {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("Alias must be on local homeserver"),
		}
	}

	if resErr := checkAliasNamespace(device, alias, cfg); resErr != nil {
		return *resErr
	}

	var r struct {
		RoomID  string   `json:"room_id"`
		Servers []string `json:"servers"`
	}
	if resErr := httputil.UnmarshalJSONRequest(req, &r); resErr != nil {
		return *resErr
	}
	if r.RoomID == "" {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.MissingParam(`Missing parameter "room_id"`),
		}
	}

	// An alias can only be pointed at a room that exists.
	if _, err = rsAPI.QueryRoomVersionForRoom(req.Context(), r.RoomID); err != nil {
		return util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.InvalidParam("Room does not exist"),
		}
	}

	queryReq := roomserverAPI.SetRoomAliasRequest{
		UserID:  device.UserID,
		RoomID:  r.RoomID,
		Alias:   alias,
		Servers: r.Servers,
	}
	var queryRes roomserverAPI.SetRoomAliasResponse
	if err := rsAPI.SetRoomAlias(req.Context(), &queryReq, &queryRes); err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("rsAPI.SetRoomAlias failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	if queryRes.AliasExists {
		return util.JSONResponse{
			Code: http.StatusConflict,
			JSON: spec.Unknown("The alias " + alias + " already exists."),
		}
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: struct{}{},
	}
}

// checkAliasNamespace ensures the alias does not fall within an exclusive
// namespace of an application service other than the requester's own.
func checkAliasNamespace(device *userapi.Device, alias string, cfg *config.ClientAPI) *util.JSONResponse {
	if device.AccountType == userapi.AccountTypeAppService {
		// Application services may only create aliases inside the
		// namespaces they registered.
		for _, appservice := range cfg.Derived.ApplicationServices {
			if appservice.ID == device.AppserviceID {
				if appservice.IsInterestedInRoomAlias(alias) {
					return nil
				}
				break
			}
		}
		return &util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("The application service has not reserved this alias namespace"),
		}
	}

	reqUserID, _, err := gomatrixserverlib.SplitID('@', device.UserID)
	if err != nil {
		return &util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("User ID must be in the form '@localpart:domain'"),
		}
	}
	for _, appservice := range cfg.Derived.ApplicationServices {
		// Don't prevent an AS from creating aliases in its own namespace.
		if reqUserID == appservice.SenderLocalpart {
			continue
		}
		if appservice.OwnsNamespaceCoveringAlias(alias) {
			return &util.JSONResponse{
				Code: http.StatusBadRequest,
				JSON: spec.ASExclusive("Alias is reserved by an application service"),
			}
		}
	}
	return nil
}

// aliasDeleteOutcome is the result of one authorization strategy for
// deleting a room alias. "Not applicable" is distinct from "denied": a
// strategy that does not apply to the requester falls through to the
// next one, while a denial is final.
type aliasDeleteOutcome int

const (
	aliasDeleteNotApplicable aliasDeleteOutcome = iota
	aliasDeleteAuthorized
	aliasDeleteDenied
)

type aliasDeleteStrategy func(ctx context.Context, device *userapi.Device, alias string) (aliasDeleteOutcome, *util.JSONResponse)

// appserviceAliasDeleteStrategy authorizes an application service to delete
// aliases inside the namespaces it registered.
func appserviceAliasDeleteStrategy(cfg *config.ClientAPI) aliasDeleteStrategy {
	return func(ctx context.Context, device *userapi.Device, alias string) (aliasDeleteOutcome, *util.JSONResponse) {
		if device.AccountType != userapi.AccountTypeAppService {
			return aliasDeleteNotApplicable, nil
		}
		for _, appservice := range cfg.Derived.ApplicationServices {
			if appservice.ID == device.AppserviceID && appservice.IsInterestedInRoomAlias(alias) {
				return aliasDeleteAuthorized, nil
			}
		}
		return aliasDeleteDenied, nil
	}
}

// userAliasDeleteStrategy authorizes the creator of the alias and server
// administrators.
func userAliasDeleteStrategy(rsAPI roomserverAPI.ClientRoomserverAPI) aliasDeleteStrategy {
	return func(ctx context.Context, device *userapi.Device, alias string) (aliasDeleteOutcome, *util.JSONResponse) {
		if device.AccountType == userapi.AccountTypeAdmin {
			return aliasDeleteAuthorized, nil
		}
		creatorReq := roomserverAPI.GetCreatorIDForAliasRequest{Alias: alias}
		var creatorRes roomserverAPI.GetCreatorIDForAliasResponse
		if err := rsAPI.GetCreatorIDForAlias(ctx, &creatorReq, &creatorRes); err != nil {
			util.GetLogger(ctx).WithError(err).Error("rsAPI.GetCreatorIDForAlias failed")
			return aliasDeleteDenied, &util.JSONResponse{
				Code: http.StatusInternalServerError,
				JSON: spec.InternalServerError{},
			}
		}
		if creatorRes.UserID == device.UserID {
			return aliasDeleteAuthorized, nil
		}
		return aliasDeleteDenied, nil
	}
}

// RemoveLocalAlias implements DELETE /directory/room/{roomAlias}
func RemoveLocalAlias(
	req *http.Request,
	device *userapi.Device,
	alias string,
	cfg *config.ClientAPI,
	rsAPI roomserverAPI.ClientRoomserverAPI,
) util.JSONResponse {
	queryReq := roomserverAPI.GetRoomIDForAliasRequest{Alias: alias}
	var queryRes roomserverAPI.GetRoomIDForAliasResponse
	if err := rsAPI.GetRoomIDForAlias(req.Context(), &queryReq, &queryRes); err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("rsAPI.GetRoomIDForAlias failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	if queryRes.RoomID == "" {
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("The alias does not exist."),
		}
	}

	// Try each authorization strategy in order. The first one that
	// applies to the requester decides.
	strategies := []aliasDeleteStrategy{
		appserviceAliasDeleteStrategy(cfg),
		userAliasDeleteStrategy(rsAPI),
	}
	authorized := false
	for _, strategy := range strategies {
		outcome, resErr := strategy(req.Context(), device, alias)
		if resErr != nil {
			return *resErr
		}
		if outcome == aliasDeleteNotApplicable {
			continue
		}
		authorized = outcome == aliasDeleteAuthorized
		break
	}
	if !authorized {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("You do not have permission to remove this alias."),
		}
	}

	removeReq := roomserverAPI.RemoveRoomAliasRequest{Alias: alias}
	var removeRes roomserverAPI.RemoveRoomAliasResponse
	if err := rsAPI.RemoveRoomAlias(req.Context(), &removeReq, &removeRes); err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("rsAPI.RemoveRoomAlias failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	if !removeRes.Found {
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("The alias does not exist."),
		}
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: struct{}{},
	}
}

type roomVisibility struct {
	Visibility string `json:"visibility"`
}

// GetVisibility implements GET /directory/list/room/{roomID}
func GetVisibility(
	req *http.Request, rsAPI roomserverAPI.ClientRoomserverAPI,
	roomID string,
) util.JSONResponse {
	if _, err := rsAPI.QueryRoomVersionForRoom(req.Context(), roomID); err != nil {
		return util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Room does not exist"),
		}
	}

	var res roomserverAPI.QueryPublishedRoomsResponse
	err := rsAPI.QueryPublishedRooms(req.Context(), &roomserverAPI.QueryPublishedRoomsRequest{
		RoomID: roomID,
	}, &res)
	if err != nil {
		util.GetLogger(req.Context()).WithError(err).Error("QueryPublishedRooms failed")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	var v roomVisibility
	if len(res.RoomIDs) == 1 {
		v.Visibility = spec.Public
	} else {
		v.Visibility = "private"
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: v,
	}
}

// SetVisibility implements PUT and DELETE on /directory/list/room/{roomID}.
// A DELETE is the same as setting the visibility to "private".
func SetVisibility(
	req *http.Request, rsAPI roomserverAPI.ClientRoomserverAPI, dev *userapi.Device,
	roomID string,
) util.JSONResponse {
	resErr := checkMemberInRoom(req.Context(), rsAPI, dev.UserID, roomID)
	if resErr != nil {
		return *resErr
	}

	queryEventsReq := roomserverAPI.QueryLatestEventsAndStateRequest{
		RoomID: roomID,
		StateToFetch: []gomatrixserverlib.StateKeyTuple{{
			EventType: spec.MRoomPowerLevels,
			StateKey:  "",
		}},
	}
	var queryEventsRes roomserverAPI.QueryLatestEventsAndStateResponse
	err := rsAPI.QueryLatestEventsAndState(req.Context(), &queryEventsReq, &queryEventsRes)
	if err != nil || len(queryEventsRes.StateEvents) == 0 {
		util.GetLogger(req.Context()).WithError(err).Error("could not query events from room")
		return util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}

	// NOTSPEC: Check if the user's power is greater than power required to change m.room.canonical_alias event
	power, _ := gomatrixserverlib.NewPowerLevelContentFromEvent(queryEventsRes.StateEvents[0].PDU)
	if power.UserLevel(spec.SenderID(dev.UserID)) < power.EventLevel(spec.MRoomCanonicalAlias, true) {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("userID doesn't have power level to change visibility"),
		}
	}

	v := roomVisibility{Visibility: spec.Public}
	if req.Method == http.MethodDelete {
		v.Visibility = "private"
	} else {
		if reqErr := httputil.UnmarshalJSONRequest(req, &v); reqErr != nil {
			return *reqErr
		}
		if v.Visibility == "" {
			v.Visibility = spec.Public
		}
	}
	if resErr := validateVisibility(v.Visibility); resErr != nil {
		return *resErr
	}

	if err := rsAPI.PerformPublish(req.Context(), &roomserverAPI.PerformPublishRequest{
		RoomID:     roomID,
		Visibility: v.Visibility,
	}); err != nil {
		return publishError(req.Context(), err)
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: struct{}{},
	}
}

// SetVisibilityAS implements PUT and DELETE on
// /directory/list/appservice/{networkID}/{roomID}. The network-scoped room
// list is independent of the default one, so publishing here never changes
// what GetVisibility reports.
func SetVisibilityAS(
	req *http.Request, rsAPI roomserverAPI.ClientRoomserverAPI, cfg *config.ClientAPI,
	dev *userapi.Device, networkID, roomID string,
) util.JSONResponse {
	if dev.AccountType != userapi.AccountTypeAppService {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("Only appservice may use this endpoint"),
		}
	}
	registered := false
	for _, appservice := range cfg.Derived.ApplicationServices {
		if appservice.ID == dev.AppserviceID {
			registered = true
			break
		}
	}
	if !registered {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("Unknown application service"),
		}
	}

	var v roomVisibility
	// If the method is delete, we simply mark the visibility as private
	if req.Method == http.MethodDelete {
		v.Visibility = "private"
	} else {
		if reqErr := httputil.UnmarshalJSONRequest(req, &v); reqErr != nil {
			return *reqErr
		}
		if v.Visibility == "" {
			v.Visibility = spec.Public
		}
	}
	if resErr := validateVisibility(v.Visibility); resErr != nil {
		return *resErr
	}

	if err := rsAPI.PerformPublish(req.Context(), &roomserverAPI.PerformPublishRequest{
		RoomID:       roomID,
		Visibility:   v.Visibility,
		NetworkID:    networkID,
		AppserviceID: dev.AppserviceID,
	}); err != nil {
		return publishError(req.Context(), err)
	}

	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: struct{}{},
	}
}

func validateVisibility(visibility string) *util.JSONResponse {
	if visibility != spec.Public && visibility != "private" {
		return &util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.InvalidParam(`visibility must be "public" or "private"`),
		}
	}
	return nil
}

func publishError(ctx context.Context, err error) util.JSONResponse {
	var notAllowed roomserverAPI.ErrNotAllowed
	if errors.As(err, &notAllowed) {
		return util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden(notAllowed.Error()),
		}
	}
	util.GetLogger(ctx).WithError(err).Error("rsAPI.PerformPublish failed")
	return util.JSONResponse{
		Code: http.StatusInternalServerError,
		JSON: spec.InternalServerError{},
	}
}

func checkMemberInRoom(ctx context.Context, rsAPI roomserverAPI.ClientRoomserverAPI, userID, roomID string) *util.JSONResponse {
	parsedUserID, err := spec.NewUserID(userID, true)
	if err != nil {
		return &util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	var membershipRes roomserverAPI.QueryMembershipForUserResponse
	err = rsAPI.QueryMembershipForUser(ctx, &roomserverAPI.QueryMembershipForUserRequest{
		RoomID: roomID,
		UserID: *parsedUserID,
	}, &membershipRes)
	if err != nil {
		util.GetLogger(ctx).WithError(err).Error("rsAPI.QueryMembershipForUser failed")
		return &util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.InternalServerError{},
		}
	}
	if !membershipRes.RoomExists {
		return &util.JSONResponse{
			Code: http.StatusNotFound,
			JSON: spec.NotFound("Room does not exist"),
		}
	}
	if !membershipRes.IsInRoom {
		return &util.JSONResponse{
			Code: http.StatusForbidden,
			JSON: spec.Forbidden("You aren't a member of the room and weren't previously a member of the room."),
		}
	}
	return nil
}
