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

package eventutil

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matrix-org/gomatrixserverlib"
	"github.com/stretchr/testify/assert"
)

func mustEventFromJSON(t *testing.T, json string) gomatrixserverlib.PDU {
	t.Helper()
	ev, err := gomatrixserverlib.MustGetRoomVersion(gomatrixserverlib.RoomVersionV7).
		NewEventFromTrustedJSON([]byte(json), false)
	if err != nil {
		t.Fatalf("failed to create event: %s", err)
	}
	return ev
}

func TestStripStateDropsUndisclosedTypes(t *testing.T) {
	state := []gomatrixserverlib.PDU{
		mustEventFromJSON(t, `{"type":"m.room.create","state_key":"","sender":"@alice:test","room_id":"!room:test","content":{"room_version":"7"}}`),
		mustEventFromJSON(t, `{"type":"m.room.join_rules","state_key":"","sender":"@alice:test","room_id":"!room:test","content":{"join_rule":"knock"}}`),
		mustEventFromJSON(t, `{"type":"m.room.power_levels","state_key":"","sender":"@alice:test","room_id":"!room:test","content":{"users":{"@alice:test":100}}}`),
		mustEventFromJSON(t, `{"type":"m.room.member","state_key":"@alice:test","sender":"@alice:test","room_id":"!room:test","content":{"membership":"join"}}`),
		mustEventFromJSON(t, `{"type":"m.room.name","state_key":"","sender":"@alice:test","room_id":"!room:test","content":{"name":"Secret room"}}`),
	}

	stripped := StripState(state)

	gotTypes := make([]string, 0, len(stripped))
	for _, ev := range stripped {
		gotTypes = append(gotTypes, ev.Type)
	}
	if diff := cmp.Diff([]string{"m.room.create", "m.room.join_rules", "m.room.name"}, gotTypes); diff != "" {
		t.Errorf("unexpected stripped state types (-want +got):\n%s", diff)
	}

	// Only the disclosure fields survive the projection.
	body, err := json.Marshal(stripped[0])
	assert.NoError(t, err)
	assert.JSONEq(t, `{"type":"m.room.create","state_key":"","content":{"room_version":"7"}}`, string(body))
}

func TestKnockRoomStateAppendsKnockEventLast(t *testing.T) {
	state := []gomatrixserverlib.PDU{
		mustEventFromJSON(t, `{"type":"m.room.join_rules","state_key":"","sender":"@alice:test","room_id":"!room:test","content":{"join_rule":"knock"}}`),
	}
	knock := mustEventFromJSON(t, `{"type":"m.room.member","state_key":"@bob:remote","sender":"@bob:remote","room_id":"!room:test","content":{"membership":"knock"}}`)

	stripped := KnockRoomState(state, knock)

	assert.Len(t, stripped, 2)
	last := stripped[len(stripped)-1]
	assert.Equal(t, "m.room.member", last.Type)
	assert.Equal(t, "@bob:remote", last.StateKey)
	assert.JSONEq(t, `{"membership":"knock"}`, string(last.Content))
}

func TestKnockRoomStateWithoutKnockEvent(t *testing.T) {
	stripped := KnockRoomState(nil, nil)
	assert.Empty(t, stripped)
}

func TestKnockRoomStateWithNoDisclosableState(t *testing.T) {
	knock := mustEventFromJSON(t, `{"type":"m.room.member","state_key":"@bob:remote","sender":"@bob:remote","room_id":"!room:test","content":{"membership":"knock"}}`)

	// A room with nothing to disclose still hands back the knock itself.
	stripped := KnockRoomState(nil, knock)

	assert.Len(t, stripped, 1)
	assert.Equal(t, "m.room.member", stripped[0].Type)
	assert.Equal(t, "@bob:remote", stripped[0].StateKey)
	assert.JSONEq(t, `{"membership":"knock"}`, string(stripped[0].Content))
}
