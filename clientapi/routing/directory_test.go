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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/matrix-org/gomatrixserverlib"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	roomserverAPI "github.com/sloppyjuicy/synapse/roomserver/api"
	"github.com/sloppyjuicy/synapse/roomserver/types"
	"github.com/sloppyjuicy/synapse/setup/config"
	userapi "github.com/sloppyjuicy/synapse/userapi/api"
)

const testRoomID = "!abc123:test"

// publication identifies one entry in one published room list scope.
type publication struct {
	roomID    string
	networkID string
}

// fakeDirectoryRoomserver implements api.ClientRoomserverAPI over plain maps.
type fakeDirectoryRoomserver struct {
	aliases     map[string]string // alias -> room ID
	creators    map[string]string // alias -> creator user ID
	rooms       map[string]gomatrixserverlib.RoomVersion
	memberships map[string]map[string]bool // room ID -> user ID -> joined
	published   map[publication]string     // -> visibility
	powerLevels *types.HeaderedEvent
}

func newDirectoryRoomserver(t *testing.T) *fakeDirectoryRoomserver {
	t.Helper()
	plJSON := `{"type":"m.room.power_levels","state_key":"","sender":"@creator:test","room_id":"` + testRoomID + `","content":{"users":{"@creator:test":100},"state_default":50}}`
	plEvent, err := gomatrixserverlib.MustGetRoomVersion(gomatrixserverlib.RoomVersionV10).
		NewEventFromTrustedJSON([]byte(plJSON), false)
	if err != nil {
		t.Fatalf("failed to create power levels event: %s", err)
	}
	return &fakeDirectoryRoomserver{
		aliases:  map[string]string{},
		creators: map[string]string{},
		rooms: map[string]gomatrixserverlib.RoomVersion{
			testRoomID: gomatrixserverlib.RoomVersionV10,
		},
		memberships: map[string]map[string]bool{
			testRoomID: {"@creator:test": true},
		},
		published:   map[publication]string{},
		powerLevels: &types.HeaderedEvent{PDU: plEvent},
	}
}

func (f *fakeDirectoryRoomserver) QueryLatestEventsAndState(ctx context.Context, req *roomserverAPI.QueryLatestEventsAndStateRequest, res *roomserverAPI.QueryLatestEventsAndStateResponse) error {
	res.RoomExists = true
	res.StateEvents = []*types.HeaderedEvent{f.powerLevels}
	return nil
}

func (f *fakeDirectoryRoomserver) QueryRoomVersionForRoom(ctx context.Context, roomID string) (gomatrixserverlib.RoomVersion, error) {
	if v, ok := f.rooms[roomID]; ok {
		return v, nil
	}
	return "", fmt.Errorf("room %q does not exist", roomID)
}

func (f *fakeDirectoryRoomserver) QueryMembershipForUser(ctx context.Context, req *roomserverAPI.QueryMembershipForUserRequest, res *roomserverAPI.QueryMembershipForUserResponse) error {
	_, res.RoomExists = f.rooms[req.RoomID]
	res.IsInRoom = f.memberships[req.RoomID][req.UserID.String()]
	if res.IsInRoom {
		res.Membership = "join"
	}
	return nil
}

func (f *fakeDirectoryRoomserver) QueryPublishedRooms(ctx context.Context, req *roomserverAPI.QueryPublishedRoomsRequest, res *roomserverAPI.QueryPublishedRoomsResponse) error {
	for pub, visibility := range f.published {
		if visibility != "public" {
			continue
		}
		if req.RoomID != "" && pub.roomID != req.RoomID {
			continue
		}
		if !req.IncludeAllNetworks && pub.networkID != req.NetworkID {
			continue
		}
		res.RoomIDs = append(res.RoomIDs, pub.roomID)
	}
	return nil
}

func (f *fakeDirectoryRoomserver) GetRoomIDForAlias(ctx context.Context, req *roomserverAPI.GetRoomIDForAliasRequest, res *roomserverAPI.GetRoomIDForAliasResponse) error {
	res.RoomID = f.aliases[req.Alias]
	return nil
}

func (f *fakeDirectoryRoomserver) GetCreatorIDForAlias(ctx context.Context, req *roomserverAPI.GetCreatorIDForAliasRequest, res *roomserverAPI.GetCreatorIDForAliasResponse) error {
	res.UserID = f.creators[req.Alias]
	return nil
}

func (f *fakeDirectoryRoomserver) SetRoomAlias(ctx context.Context, req *roomserverAPI.SetRoomAliasRequest, res *roomserverAPI.SetRoomAliasResponse) error {
	if _, ok := f.aliases[req.Alias]; ok {
		res.AliasExists = true
		return nil
	}
	f.aliases[req.Alias] = req.RoomID
	f.creators[req.Alias] = req.UserID
	return nil
}

func (f *fakeDirectoryRoomserver) RemoveRoomAlias(ctx context.Context, req *roomserverAPI.RemoveRoomAliasRequest, res *roomserverAPI.RemoveRoomAliasResponse) error {
	if _, ok := f.aliases[req.Alias]; !ok {
		return nil
	}
	delete(f.aliases, req.Alias)
	delete(f.creators, req.Alias)
	res.Found = true
	return nil
}

func (f *fakeDirectoryRoomserver) PerformPublish(ctx context.Context, req *roomserverAPI.PerformPublishRequest) error {
	f.published[publication{roomID: req.RoomID, networkID: req.NetworkID}] = req.Visibility
	return nil
}

func testClientConfig(t *testing.T) *config.ClientAPI {
	t.Helper()
	return &config.ClientAPI{
		Matrix: &config.Global{ServerName: "test"},
		Derived: &config.Derived{
			ApplicationServices: []config.ApplicationService{{
				ID:              "irc-bridge",
				SenderLocalpart: "ircbot",
				NamespaceMap: map[string][]config.ApplicationServiceNamespace{
					"aliases": {{
						Exclusive:    true,
						Regex:        "#irc_.*:test",
						RegexpObject: regexp.MustCompile("#irc_.*:test"),
					}},
				},
			}},
		},
	}
}

func jsonBodyRequest(method, target, body string) *http.Request {
	return httptest.NewRequest(method, target, strings.NewReader(body))
}

var (
	creatorDevice    = &userapi.Device{ID: "dev1", UserID: "@creator:test", AccountType: userapi.AccountTypeUser}
	strangerDevice   = &userapi.Device{ID: "dev2", UserID: "@stranger:test", AccountType: userapi.AccountTypeUser}
	adminDevice      = &userapi.Device{ID: "dev3", UserID: "@admin:test", AccountType: userapi.AccountTypeAdmin}
	appserviceDevice = &userapi.Device{ID: "dev4", UserID: "@ircbot:test", AccountType: userapi.AccountTypeAppService, AppserviceID: "irc-bridge"}
)

func TestSetLocalAlias(t *testing.T) {
	cfg := testClientConfig(t)

	t.Run("create then resolve round trip", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"`+testRoomID+`"}`)
		res := SetLocalAlias(req, creatorDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusOK, res.Code)

		getReq := httptest.NewRequest(http.MethodGet, "/directory/room/x", nil)
		getRes := DirectoryRoom(getReq, "#treehouse:test", nil, cfg, rsAPI)
		assert.Equal(t, http.StatusOK, getRes.Code)
		body, err := json.Marshal(getRes.JSON)
		assert.NoError(t, err)
		assert.Equal(t, testRoomID, gjson.GetBytes(body, "room_id").String())
		assert.Equal(t, "test", gjson.GetBytes(body, "servers.0").String())
	})

	t.Run("missing room_id", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{}`)
		res := SetLocalAlias(req, creatorDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusBadRequest, res.Code)
	})

	t.Run("room must exist", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"!nonexistent:test"}`)
		res := SetLocalAlias(req, creatorDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusBadRequest, res.Code)
	})

	t.Run("alias must be local", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"`+testRoomID+`"}`)
		res := SetLocalAlias(req, creatorDevice, "#treehouse:elsewhere", cfg, rsAPI)
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("exclusive appservice namespace is reserved", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"`+testRoomID+`"}`)
		res := SetLocalAlias(req, creatorDevice, "#irc_channel:test", cfg, rsAPI)
		assert.Equal(t, http.StatusBadRequest, res.Code)
		body, err := json.Marshal(res.JSON)
		assert.NoError(t, err)
		assert.Equal(t, "M_EXCLUSIVE", gjson.GetBytes(body, "errcode").String())
	})

	t.Run("appservice may use its own namespace", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"`+testRoomID+`"}`)
		res := SetLocalAlias(req, appserviceDevice, "#irc_channel:test", cfg, rsAPI)
		assert.Equal(t, http.StatusOK, res.Code)
	})

	t.Run("appservice may not leave its namespace", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"`+testRoomID+`"}`)
		res := SetLocalAlias(req, appserviceDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("conflicting alias", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		rsAPI.aliases["#treehouse:test"] = testRoomID
		req := jsonBodyRequest(http.MethodPut, "/directory/room/x", `{"room_id":"`+testRoomID+`"}`)
		res := SetLocalAlias(req, creatorDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusConflict, res.Code)
	})
}

func TestDirectoryRoomNotFound(t *testing.T) {
	cfg := testClientConfig(t)
	rsAPI := newDirectoryRoomserver(t)
	req := httptest.NewRequest(http.MethodGet, "/directory/room/x", nil)
	res := DirectoryRoom(req, "#nothere:test", nil, cfg, rsAPI)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestRemoveLocalAlias(t *testing.T) {
	cfg := testClientConfig(t)
	seed := func(t *testing.T, alias, creator string) *fakeDirectoryRoomserver {
		t.Helper()
		rsAPI := newDirectoryRoomserver(t)
		rsAPI.aliases[alias] = testRoomID
		rsAPI.creators[alias] = creator
		return rsAPI
	}

	t.Run("missing alias is not found", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := httptest.NewRequest(http.MethodDelete, "/directory/room/x", nil)
		res := RemoveLocalAlias(req, creatorDevice, "#nothere:test", cfg, rsAPI)
		assert.Equal(t, http.StatusNotFound, res.Code)
	})

	t.Run("creator may delete", func(t *testing.T) {
		rsAPI := seed(t, "#treehouse:test", "@creator:test")
		req := httptest.NewRequest(http.MethodDelete, "/directory/room/x", nil)
		res := RemoveLocalAlias(req, creatorDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusOK, res.Code)
		assert.NotContains(t, rsAPI.aliases, "#treehouse:test")
	})

	t.Run("stranger may not delete", func(t *testing.T) {
		rsAPI := seed(t, "#treehouse:test", "@creator:test")
		req := httptest.NewRequest(http.MethodDelete, "/directory/room/x", nil)
		res := RemoveLocalAlias(req, strangerDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusForbidden, res.Code)
		assert.Contains(t, rsAPI.aliases, "#treehouse:test")
	})

	t.Run("admin may delete any alias", func(t *testing.T) {
		rsAPI := seed(t, "#treehouse:test", "@creator:test")
		req := httptest.NewRequest(http.MethodDelete, "/directory/room/x", nil)
		res := RemoveLocalAlias(req, adminDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusOK, res.Code)
	})

	t.Run("appservice may delete inside its namespace", func(t *testing.T) {
		rsAPI := seed(t, "#irc_channel:test", "@ircbot:test")
		req := httptest.NewRequest(http.MethodDelete, "/directory/room/x", nil)
		res := RemoveLocalAlias(req, appserviceDevice, "#irc_channel:test", cfg, rsAPI)
		assert.Equal(t, http.StatusOK, res.Code)
	})

	t.Run("appservice denial does not fall through", func(t *testing.T) {
		// The appservice created this alias outside of its namespace,
		// so even the creator fallback must not rescue the delete.
		rsAPI := seed(t, "#treehouse:test", "@ircbot:test")
		req := httptest.NewRequest(http.MethodDelete, "/directory/room/x", nil)
		res := RemoveLocalAlias(req, appserviceDevice, "#treehouse:test", cfg, rsAPI)
		assert.Equal(t, http.StatusForbidden, res.Code)
		assert.Contains(t, rsAPI.aliases, "#treehouse:test")
	})
}

func TestVisibility(t *testing.T) {
	t.Run("unknown room is not found", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := httptest.NewRequest(http.MethodGet, "/directory/list/room/x", nil)
		res := GetVisibility(req, rsAPI, "!nonexistent:test")
		assert.Equal(t, http.StatusNotFound, res.Code)
	})

	t.Run("rooms are private until published", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := httptest.NewRequest(http.MethodGet, "/directory/list/room/x", nil)
		res := GetVisibility(req, rsAPI, testRoomID)
		assert.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, roomVisibility{Visibility: "private"}, res.JSON)
	})

	t.Run("set then get round trip", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/list/room/x", `{"visibility":"public"}`)
		res := SetVisibility(req, rsAPI, creatorDevice, testRoomID)
		assert.Equal(t, http.StatusOK, res.Code)

		getReq := httptest.NewRequest(http.MethodGet, "/directory/list/room/x", nil)
		getRes := GetVisibility(getReq, rsAPI, testRoomID)
		assert.Equal(t, roomVisibility{Visibility: "public"}, getRes.JSON)

		// Setting the same visibility again changes nothing.
		req = jsonBodyRequest(http.MethodPut, "/directory/list/room/x", `{"visibility":"public"}`)
		res = SetVisibility(req, rsAPI, creatorDevice, testRoomID)
		assert.Equal(t, http.StatusOK, res.Code)
		getRes = GetVisibility(getReq, rsAPI, testRoomID)
		assert.Equal(t, roomVisibility{Visibility: "public"}, getRes.JSON)
	})

	t.Run("delete makes the room private", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		rsAPI.published[publication{roomID: testRoomID}] = "public"
		req := httptest.NewRequest(http.MethodDelete, "/directory/list/room/x", nil)
		res := SetVisibility(req, rsAPI, creatorDevice, testRoomID)
		assert.Equal(t, http.StatusOK, res.Code)

		getReq := httptest.NewRequest(http.MethodGet, "/directory/list/room/x", nil)
		getRes := GetVisibility(getReq, rsAPI, testRoomID)
		assert.Equal(t, roomVisibility{Visibility: "private"}, getRes.JSON)
	})

	t.Run("non-members may not change visibility", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/list/room/x", `{"visibility":"public"}`)
		res := SetVisibility(req, rsAPI, strangerDevice, testRoomID)
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("members need enough power", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		rsAPI.memberships[testRoomID]["@stranger:test"] = true
		req := jsonBodyRequest(http.MethodPut, "/directory/list/room/x", `{"visibility":"public"}`)
		res := SetVisibility(req, rsAPI, strangerDevice, testRoomID)
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("visibility values are validated", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/list/room/x", `{"visibility":"everyone"}`)
		res := SetVisibility(req, rsAPI, creatorDevice, testRoomID)
		assert.Equal(t, http.StatusBadRequest, res.Code)
	})
}

func TestVisibilityAS(t *testing.T) {
	cfg := testClientConfig(t)

	t.Run("regular users are rejected", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/list/appservice/irc/x", `{"visibility":"public"}`)
		res := SetVisibilityAS(req, rsAPI, cfg, creatorDevice, "irc", testRoomID)
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("network scope is independent of the default scope", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		req := jsonBodyRequest(http.MethodPut, "/directory/list/appservice/irc/x", `{"visibility":"public"}`)
		res := SetVisibilityAS(req, rsAPI, cfg, appserviceDevice, "irc", testRoomID)
		assert.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, "public", rsAPI.published[publication{roomID: testRoomID, networkID: "irc"}])

		// The room is still unlisted in the default directory.
		getReq := httptest.NewRequest(http.MethodGet, "/directory/list/room/x", nil)
		getRes := GetVisibility(getReq, rsAPI, testRoomID)
		assert.Equal(t, roomVisibility{Visibility: "private"}, getRes.JSON)
	})

	t.Run("delete unlists from the network", func(t *testing.T) {
		rsAPI := newDirectoryRoomserver(t)
		rsAPI.published[publication{roomID: testRoomID, networkID: "irc"}] = "public"
		req := httptest.NewRequest(http.MethodDelete, "/directory/list/appservice/irc/x", nil)
		res := SetVisibilityAS(req, rsAPI, cfg, appserviceDevice, "irc", testRoomID)
		assert.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, "private", rsAPI.published[publication{roomID: testRoomID, networkID: "irc"}])
	})
}
