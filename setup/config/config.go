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
	"bytes"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matrix-org/gomatrixserverlib"
	"golang.org/x/crypto/ed25519"
	"gopkg.in/yaml.v2"
)

// Version is the current version of the config format.
// This will change whenever we make breaking changes to the config format.
const Version = 2

// Path on the filesystem. Relative paths are resolved against the directory
// of the config file that named them.
type Path string

// Config contains all the config used by the room directory and federated
// knocking components.
type Config struct {
	// The version of the configuration file.
	// If the version in a file doesn't match the current version then we
	// can give a clear error message telling the user to update their
	// config file to the current version.
	Version int `yaml:"version"`

	Global        Global        `yaml:"global"`
	ClientAPI     ClientAPI     `yaml:"client_api"`
	FederationAPI FederationAPI `yaml:"federation_api"`
	AppServiceAPI AppServiceAPI `yaml:"app_service_api"`

	// Derived values, built up from the rest of the config at load time.
	// Not written to or read from a config file.
	Derived Derived `yaml:"-"`
}

// Derived contains values derived from the config once it has been loaded.
type Derived struct {
	// The application services parsed from the registration files named
	// by AppServiceAPI.ConfigFiles.
	ApplicationServices []ApplicationService
}

func (c *Config) Defaults(generate bool) {
	c.Version = Version
	c.Global.Defaults(generate)
	c.ClientAPI.Defaults()
	c.FederationAPI.Defaults()
	c.AppServiceAPI.Defaults()
	c.Wire()
}

func (c *Config) Verify(configErrs *ConfigErrors) {
	type verifiable interface {
		Verify(configErrs *ConfigErrors)
	}
	for _, section := range []verifiable{
		&c.Global, &c.ClientAPI, &c.FederationAPI, &c.AppServiceAPI,
	} {
		section.Verify(configErrs)
	}
}

// Wire points the component sections back at the global section so that
// each component can be handed its own config struct alone.
func (c *Config) Wire() {
	c.ClientAPI.Matrix = &c.Global
	c.ClientAPI.Derived = &c.Derived
	c.FederationAPI.Matrix = &c.Global
	c.AppServiceAPI.Matrix = &c.Global
	c.AppServiceAPI.Derived = &c.Derived
}

// Load a yaml config file, reading the signing key and any application
// service registration files it refers to.
func Load(configPath string) (*Config, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	absBasePath, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return nil, err
	}
	// Pass the current working directory and os.ReadFile so that they can
	// be mocked in the tests
	return loadConfig(absBasePath, configData, os.ReadFile)
}

func loadConfig(
	basePath string,
	configData []byte,
	readFile func(string) ([]byte, error),
) (*Config, error) {
	var c Config
	c.Defaults(false)

	var err error
	if err = yaml.Unmarshal(configData, &c); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if c.Version != Version {
		return nil, fmt.Errorf(
			"config version %d not supported, expected %d", c.Version, Version,
		)
	}
	c.Wire()

	privateKeyPath := absPath(basePath, c.Global.PrivateKeyPath)
	privateKeyData, err := readFile(privateKeyPath)
	if err != nil {
		return nil, err
	}
	if c.Global.KeyID, c.Global.PrivateKey, err = readKeyPEM(privateKeyPath, privateKeyData); err != nil {
		return nil, err
	}

	if err = loadAppServices(&c.AppServiceAPI, &c.Derived, basePath, readFile); err != nil {
		return nil, err
	}

	var configErrs ConfigErrors
	c.Verify(&configErrs)
	if configErrs != nil {
		return nil, configErrs
	}
	return &c, nil
}

// An ConfigErrors stores problems encountered when parsing a config file.
// It implements the error interface.
type ConfigErrors []string

// Add appends an error to the list of errors in this ConfigErrors.
// It is a wrapper to the builtin append and hides pointers from
// the client code.
// This method is safe to use with an uninitialized ConfigErrors because
// if it is nil, it will be properly allocated.
func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

// Error returns a string detailing how many errors were contained within a
// ConfigErrors type.
func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf(
		"%s (and %d other problems)", errs[0], len(errs)-1,
	)
}

// checkNotEmpty verifies the given value is not empty in the configuration.
// If it is, adds an error to the list.
func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkPositive verifies the given value is positive (zero included)
// in the configuration. If it is not, adds an error to the list.
func checkPositive(configErrs *ConfigErrors, key string, value int64) {
	if value < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", key, value))
	}
}

func absPath(dir string, path Path) string {
	if filepath.IsAbs(string(path)) {
		// filepath.Join cleans the path so we should clean the absolute paths as well for consistency.
		return filepath.Clean(string(path))
	}
	return filepath.Join(dir, string(path))
}

func readKeyPEM(path string, data []byte) (gomatrixserverlib.KeyID, ed25519.PrivateKey, error) {
	for {
		var keyBlock *pem.Block
		keyBlock, data = pem.Decode(data)
		if keyBlock == nil {
			return "", nil, fmt.Errorf("no matrix private key PEM data in %q", path)
		}
		if keyBlock.Type == "MATRIX PRIVATE KEY" {
			keyID := keyBlock.Headers["Key-ID"]
			if keyID == "" {
				return "", nil, fmt.Errorf("missing key ID in PEM data in %q", path)
			}
			if !strings.HasPrefix(keyID, "ed25519:") {
				return "", nil, fmt.Errorf("key ID %q doesn't start with \"ed25519:\" in %q", keyID, path)
			}
			_, privKey, err := ed25519.GenerateKey(bytes.NewReader(keyBlock.Bytes))
			if err != nil {
				return "", nil, err
			}
			return gomatrixserverlib.KeyID(keyID), privKey, nil
		}
	}
}
