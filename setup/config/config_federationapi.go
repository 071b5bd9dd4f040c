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

package config

type FederationAPI struct {
	Matrix *Global `yaml:"-"`

	// Should we prefer direct key fetches over perspective ones?
	PreferDirectFetch bool `yaml:"prefer_direct_fetch"`

	// Rate limiting options for incoming federation requests, applied
	// per origin server.
	RateLimiting FederationRateLimiting `yaml:"rate_limiting"`
}

func (c *FederationAPI) Defaults() {
	c.RateLimiting.Defaults()
}

func (c *FederationAPI) Verify(configErrs *ConfigErrors) {
	c.RateLimiting.Verify(configErrs)
}

// FederationRateLimiting configures the sliding window limiter applied to
// requests from each remote server.
type FederationRateLimiting struct {
	// Is rate limiting enabled or disabled?
	Enabled bool `yaml:"enabled"`

	// The length of the sliding window in milliseconds.
	WindowSizeMS int64 `yaml:"window_size_ms"`

	// How many requests a server can have in flight within the window
	// before new requests are artificially delayed.
	SleepLimit int64 `yaml:"sleep_limit"`

	// How long in milliseconds to delay a request once the sleep limit
	// has been reached.
	SleepDelayMS int64 `yaml:"sleep_delay_ms"`

	// How many requests a server can have waiting within the window
	// before further requests are rejected outright.
	RejectLimit int64 `yaml:"reject_limit"`

	// How many requests from a single server may be processed
	// concurrently. Requests over this limit wait for a slot.
	ConcurrentRequests int64 `yaml:"concurrent_requests"`
}

func (r *FederationRateLimiting) Defaults() {
	r.Enabled = true
	r.WindowSizeMS = 1000
	r.SleepLimit = 10
	r.SleepDelayMS = 500
	r.RejectLimit = 50
	r.ConcurrentRequests = 3
}

func (r *FederationRateLimiting) Verify(configErrs *ConfigErrors) {
	if !r.Enabled {
		return
	}
	checkPositive(configErrs, "federation_api.rate_limiting.window_size_ms", r.WindowSizeMS)
	checkPositive(configErrs, "federation_api.rate_limiting.sleep_limit", r.SleepLimit)
	checkPositive(configErrs, "federation_api.rate_limiting.sleep_delay_ms", r.SleepDelayMS)
	checkPositive(configErrs, "federation_api.rate_limiting.reject_limit", r.RejectLimit)
	checkPositive(configErrs, "federation_api.rate_limiting.concurrent_requests", r.ConcurrentRequests)
	if r.RejectLimit < r.SleepLimit {
		configErrs.Add("federation_api.rate_limiting.reject_limit must not be lower than sleep_limit")
	}
}
