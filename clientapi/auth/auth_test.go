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

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sloppyjuicy/synapse/userapi/api"
)

type fakeAccessTokenAPI struct {
	devices map[string]*api.Device
}

func (f *fakeAccessTokenAPI) QueryAccessToken(ctx context.Context, req *api.QueryAccessTokenRequest, res *api.QueryAccessTokenResponse) error {
	res.Device = f.devices[req.AccessToken]
	return nil
}

func TestVerifyUserFromRequest(t *testing.T) {
	userAPI := &fakeAccessTokenAPI{
		devices: map[string]*api.Device{
			"valid_token": {ID: "dev1", UserID: "@alice:test", AccessToken: "valid_token"},
		},
	}

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid_token")
		device, errRes := VerifyUserFromRequest(req, userAPI)
		if errRes != nil {
			t.Fatalf("expected success, got HTTP %d", errRes.Code)
		}
		if device.UserID != "@alice:test" {
			t.Errorf("got user %q, want @alice:test", device.UserID)
		}
	})

	t.Run("valid query parameter token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?access_token=valid_token", nil)
		device, errRes := VerifyUserFromRequest(req, userAPI)
		if errRes != nil {
			t.Fatalf("expected success, got HTTP %d", errRes.Code)
		}
		if device.ID != "dev1" {
			t.Errorf("got device %q, want dev1", device.ID)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, errRes := VerifyUserFromRequest(req, userAPI)
		if errRes == nil || errRes.Code != http.StatusUnauthorized {
			t.Fatalf("expected HTTP 401, got %+v", errRes)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer wrong_token")
		_, errRes := VerifyUserFromRequest(req, userAPI)
		if errRes == nil || errRes.Code != http.StatusUnauthorized {
			t.Fatalf("expected HTTP 401, got %+v", errRes)
		}
	})

	t.Run("mixing header and query token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?access_token=valid_token", nil)
		req.Header.Set("Authorization", "Bearer valid_token")
		_, errRes := VerifyUserFromRequest(req, userAPI)
		if errRes == nil || errRes.Code != http.StatusUnauthorized {
			t.Fatalf("expected HTTP 401, got %+v", errRes)
		}
	})

	t.Run("malformed authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic valid_token")
		if _, err := ExtractAccessToken(req); err == nil {
			t.Fatal("expected an error for a non-Bearer Authorization header")
		}
	})
}
