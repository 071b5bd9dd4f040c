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

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v2"
)

type AppServiceAPI struct {
	Matrix  *Global  `yaml:"-"`
	Derived *Derived `yaml:"-"`

	// The paths to the application service registration files to load.
	ConfigFiles []Path `yaml:"config_files"`
}

func (c *AppServiceAPI) Defaults() {}

func (c *AppServiceAPI) Verify(configErrs *ConfigErrors) {}

// ApplicationServiceNamespace is the namespace that a specific application
// service has management over.
type ApplicationServiceNamespace struct {
	// Whether or not the namespace is managed solely by this application service
	Exclusive bool `yaml:"exclusive"`
	// A regex pattern that represents the namespace
	Regex string `yaml:"regex"`
	// The compiled form of Regex, built when the registration is loaded
	RegexpObject *regexp.Regexp `yaml:"-"`
}

// ApplicationService represents a Matrix application service.
// https://matrix.org/docs/spec/application_service/unstable.html
type ApplicationService struct {
	// User-defined, unique, persistent ID of the application service
	ID string `yaml:"id"`
	// Base URL of the application service
	URL string `yaml:"url"`
	// Application service token provided in requests to a homeserver
	ASToken string `yaml:"as_token"`
	// Homeserver token provided in requests to an application service
	HSToken string `yaml:"hs_token"`
	// Localpart of application service user
	SenderLocalpart string `yaml:"sender_localpart"`
	// Information about an application service's namespaces. Key is either
	// "users", "aliases" or "rooms"
	NamespaceMap map[string][]ApplicationServiceNamespace `yaml:"namespaces"`
}

// IsInterestedInRoomAlias returns a boolean depending on whether the
// application service has subscribed to the given room alias through
// one of its "aliases" namespaces.
func (a *ApplicationService) IsInterestedInRoomAlias(roomAlias string) bool {
	for _, namespace := range a.NamespaceMap["aliases"] {
		if namespace.RegexpObject != nil && namespace.RegexpObject.MatchString(roomAlias) {
			return true
		}
	}
	return false
}

// OwnsNamespaceCoveringAlias returns true if the given room alias falls
// within an exclusive "aliases" namespace of this application service.
// Only the owning application service may create or delete such aliases.
func (a *ApplicationService) OwnsNamespaceCoveringAlias(roomAlias string) bool {
	for _, namespace := range a.NamespaceMap["aliases"] {
		if namespace.Exclusive && namespace.RegexpObject != nil &&
			namespace.RegexpObject.MatchString(roomAlias) {
			return true
		}
	}
	return false
}

// loadAppServices iterates through all application service config files
// and loads their data into the config object, compiling each namespace
// regex along the way.
func loadAppServices(
	c *AppServiceAPI, derived *Derived,
	basePath string, readFile func(string) ([]byte, error),
) error {
	for _, configPath := range c.ConfigFiles {
		var appservice ApplicationService

		configData, err := readFile(absPath(basePath, configPath))
		if err != nil {
			return err
		}
		if err = yaml.UnmarshalStrict(configData, &appservice); err != nil {
			return err
		}
		if err = compileNamespaceRegexes(&appservice); err != nil {
			return fmt.Errorf("appservice %q: %w", appservice.ID, err)
		}

		derived.ApplicationServices = append(derived.ApplicationServices, appservice)
	}

	return checkUniqueness(derived.ApplicationServices)
}

func compileNamespaceRegexes(appservice *ApplicationService) error {
	for key, namespaces := range appservice.NamespaceMap {
		for i, namespace := range namespaces {
			regexpObject, err := regexp.Compile(namespace.Regex)
			if err != nil {
				return fmt.Errorf(
					"invalid regex in %q namespace: %w", key, err,
				)
			}
			appservice.NamespaceMap[key][i].RegexpObject = regexpObject
		}
	}
	return nil
}

func checkUniqueness(appservices []ApplicationService) error {
	ids := make(map[string]struct{}, len(appservices))
	tokens := make(map[string]struct{}, len(appservices))
	for i := range appservices {
		as := &appservices[i]
		if _, ok := ids[as.ID]; ok {
			return fmt.Errorf("duplicate appservice ID %q", as.ID)
		}
		ids[as.ID] = struct{}{}
		if _, ok := tokens[as.ASToken]; ok {
			return fmt.Errorf("duplicate appservice as_token in %q", as.ID)
		}
		tokens[as.ASToken] = struct{}{}
	}
	return nil
}
