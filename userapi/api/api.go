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

import "context"

// AccountType is an enum representing the kind of account behind a device.
type AccountType int

const (
	// AccountTypeUser is a regular user account
	AccountTypeUser AccountType = 1
	// AccountTypeGuest is a guest account
	AccountTypeGuest AccountType = 2
	// AccountTypeAdmin is an admin account
	AccountTypeAdmin AccountType = 3
	// AccountTypeAppService is an account used by an application service
	AccountTypeAppService AccountType = 4
)

// Device represents a client's device (mobile, web, etc)
type Device struct {
	ID     string
	UserID string
	// The access_token granted to this device.
	AccessToken string
	// The unique ID of the session identified by the access token.
	SessionID int64
	// The account type of the user who owns this device.
	AccountType AccountType
	// The ID of the application service this device belongs to, if any.
	AppserviceID string
}

// QueryAccessTokenRequest is a request to QueryAccessToken
type QueryAccessTokenRequest struct {
	AccessToken string
	// optional user assertion, e.g. if the access token is an appservice token
	AppServiceUserID string
}

// QueryAccessTokenResponse is a response to QueryAccessToken
type QueryAccessTokenResponse struct {
	Device *Device
	Err    string // e.g. ErrorForbidden
}

// QueryAcccessTokenAPI is the interface the user API must satisfy for access
// token verification.
type QueryAcccessTokenAPI interface {
	QueryAccessToken(ctx context.Context, req *QueryAccessTokenRequest, res *QueryAccessTokenResponse) error
}
