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

	"github.com/matrix-org/gomatrixserverlib"
	"github.com/matrix-org/gomatrixserverlib/spec"
)

// StrippedStateEvent is a room state event reduced to the fields that we
// are willing to disclose to users that are not in the room.
type StrippedStateEvent struct {
	Type     string          `json:"type"`
	StateKey string          `json:"state_key"`
	Content  json.RawMessage `json:"content"`
}

// Only state events of these types may be shown to a user who has not
// been admitted to the room yet. Everything else stays hidden until
// their membership is accepted. The order here fixes the order that the
// stripped events appear in responses.
var strippedStateTypes = []string{
	spec.MRoomCreate,
	spec.MRoomJoinRules,
	spec.MRoomCanonicalAlias,
	spec.MRoomName,
	spec.MRoomTopic,
	spec.MRoomAvatar,
	spec.MRoomEncryption,
}

// KnockStateTuples returns the state tuples to fetch from the room state
// when building a stripped state response.
func KnockStateTuples() []gomatrixserverlib.StateKeyTuple {
	tuples := make([]gomatrixserverlib.StateKeyTuple, 0, len(strippedStateTypes))
	for _, eventType := range strippedStateTypes {
		tuples = append(tuples, gomatrixserverlib.StateKeyTuple{
			EventType: eventType,
			StateKey:  "",
		})
	}
	return tuples
}

// StripState reduces the given state events down to the fields and event
// types that may be disclosed to users outside of the room. State events
// with types outside of the disclosure set are dropped silently.
func StripState(stateEvents []gomatrixserverlib.PDU) []StrippedStateEvent {
	stripped := make([]StrippedStateEvent, 0, len(stateEvents))
	for _, eventType := range strippedStateTypes {
		for _, event := range stateEvents {
			if event.Type() != eventType || event.StateKey() == nil {
				continue
			}
			stripped = append(stripped, StrippedStateEvent{
				Type:     event.Type(),
				StateKey: *event.StateKey(),
				Content:  event.Content(),
			})
		}
	}
	return stripped
}

// KnockRoomState builds the stripped room state to hand back to a knocking
// user, so their client can display the room name, avatar and join rules
// while the knock is pending. The knock membership event itself is always
// included last.
func KnockRoomState(stateEvents []gomatrixserverlib.PDU, knockEvent gomatrixserverlib.PDU) []StrippedStateEvent {
	stripped := StripState(stateEvents)
	if knockEvent != nil && knockEvent.StateKey() != nil {
		stripped = append(stripped, StrippedStateEvent{
			Type:     knockEvent.Type(),
			StateKey: *knockEvent.StateKey(),
			Content:  knockEvent.Content(),
		})
	}
	return stripped
}
