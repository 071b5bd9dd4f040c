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

package federationapi

import (
	"github.com/matrix-org/gomatrixserverlib"
	"github.com/matrix-org/gomatrixserverlib/fclient"

	"github.com/sloppyjuicy/synapse/federationapi/routing"
	"github.com/sloppyjuicy/synapse/internal/httputil"
	roomserverAPI "github.com/sloppyjuicy/synapse/roomserver/api"
	"github.com/sloppyjuicy/synapse/setup/config"
)

// AddPublicRoutes sets up and registers HTTP handlers on the base API muxes for the FederationAPI component.
func AddPublicRoutes(
	routers httputil.Routers,
	cfg *config.FederationAPI,
	rsAPI roomserverAPI.FederationRoomserverAPI,
	keyRing gomatrixserverlib.JSONVerifier,
	federation fclient.FederationClient,
) {
	routing.Setup(
		routers, cfg, rsAPI, keyRing, federation,
	)
}
