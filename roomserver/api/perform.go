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

// PerformPublishRequest is a request to change the published status of a room
// in the published room directory.
type PerformPublishRequest struct {
	RoomID     string
	Visibility string
	// The network ID to publish the room on, or empty for the default
	// network. Only settable by application services.
	NetworkID string
	// The ID of the application service making the change, if any.
	AppserviceID string
}
