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

package base

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sloppyjuicy/synapse/internal"
	"github.com/sloppyjuicy/synapse/internal/httputil"
	"github.com/sloppyjuicy/synapse/setup/config"
)

// HTTPServerTimeout is the writer timeout applied to the external listener.
const HTTPServerTimeout = time.Minute * 5

// Base is the shared state needed by the public API components: the parsed
// configuration and the routers the components register their handlers on.
type Base struct {
	Cfg     *config.Config
	Routers httputil.Routers
}

// NewBase verifies the configuration, sets up error reporting if enabled
// and creates the public routers. It will exit the process if the
// configuration fails verification.
func NewBase(cfg *config.Config, componentName string) *Base {
	configErrors := &config.ConfigErrors{}
	cfg.Verify(configErrors)
	if len(*configErrors) > 0 {
		for _, err := range *configErrors {
			logrus.Errorf("Configuration error: %s", err)
		}
		logrus.Fatalf("Failed to start due to configuration errors")
	}

	logrus.WithField("component", componentName).Infof("Synapse version %s", internal.VersionString())

	if cfg.Global.Sentry.Enabled {
		logrus.Info("Setting up Sentry for debugging...")
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Global.Sentry.DSN,
			Environment:      cfg.Global.Sentry.Environment,
			ServerName:       string(cfg.Global.ServerName),
			Release:          "synapse@" + internal.VersionString(),
			AttachStacktrace: true,
		})
		if err != nil {
			logrus.WithError(err).Panic("failed to start Sentry")
		}
	}

	return &Base{
		Cfg:     cfg,
		Routers: httputil.NewRouters(),
	}
}

// SetupAndServeHTTP sets up the HTTP server to serve the public client and
// federation APIs and blocks serving it.
func (b *Base) SetupAndServeHTTP(externalHTTPAddr string) error {
	externalRouter := mux.NewRouter().SkipClean(true).UseEncodedPath()

	externalServ := &http.Server{
		Addr:         externalHTTPAddr,
		WriteTimeout: HTTPServerTimeout,
		Handler:      externalRouter,
	}

	if b.Cfg.Global.Metrics.Enabled {
		externalRouter.Handle("/metrics", httputil.WrapHandlerInBasicAuth(promhttp.Handler(), b.Cfg.Global.Metrics.BasicAuth))
	}

	var clientHandler http.Handler = b.Routers.Client
	var federationHandler http.Handler = b.Routers.Federation
	if b.Cfg.Global.Sentry.Enabled {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		})
		clientHandler = sentryHandler.Handle(clientHandler)
		federationHandler = sentryHandler.Handle(federationHandler)
	}
	externalRouter.PathPrefix(httputil.PublicClientPathPrefix).Handler(httputil.WrapHandlerInCORS(clientHandler))
	externalRouter.PathPrefix(httputil.PublicFederationPathPrefix).Handler(federationHandler)

	logrus.Infof("Starting external listener on %s", externalServ.Addr)
	return externalServ.ListenAndServe()
}
