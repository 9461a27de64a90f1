/*
Copyright 2011-2024 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/flanglet/kbzip2"
)

const (
	_MAX_JOBS               = 64
	_MAX_VERBOSITY          = 5
	_MIN_CLUSTER_ROUNDS     = 1
	_MAX_CLUSTER_ROUNDS     = 16
	_DEFAULT_CLUSTER_ROUNDS = 4
)

// Config holds the default option values. Options given on the command line
// take precedence.
//
//	level = 9
//	jobs = 4
//	verbosity = 1
//	force = false
//	verify = true
//	cluster_iterations = 4
type Config struct {
	Level             uint `toml:"level"`
	Jobs              uint `toml:"jobs"`
	Verbosity         uint `toml:"verbosity"`
	Force             bool `toml:"force"`
	Verify            bool `toml:"verify"`
	ClusterIterations uint `toml:"cluster_iterations"`
}

func defaultConfig() Config {
	return Config{
		Level:             kbzip2.MAX_LEVEL,
		Jobs:              1,
		Verbosity:         1,
		ClusterIterations: _DEFAULT_CLUSTER_ROUNDS,
	}
}

// loadConfig returns the default configuration overridden by the content of
// the TOML file 'fileName' (if not empty). Unknown keys are rejected.
func loadConfig(fileName string) (Config, error) {
	cfg := defaultConfig()

	if len(fileName) == 0 {
		return cfg, nil
	}

	md, err := toml.DecodeFile(fileName, &cfg)

	if err != nil {
		return cfg, fmt.Errorf("Cannot read configuration file '%s': %v", fileName, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("Unknown key '%s' in configuration file '%s'", undecoded[0].String(), fileName)
	}

	return cfg, cfg.validate()
}

func (this Config) validate() error {
	if this.Level < kbzip2.MIN_LEVEL || this.Level > kbzip2.MAX_LEVEL {
		return fmt.Errorf("Invalid level: %d (must be in [%d..%d])", this.Level, kbzip2.MIN_LEVEL, kbzip2.MAX_LEVEL)
	}

	if this.Jobs == 0 || this.Jobs > _MAX_JOBS {
		return fmt.Errorf("Invalid number of jobs: %d (must be in [1..%d])", this.Jobs, _MAX_JOBS)
	}

	if this.Verbosity > _MAX_VERBOSITY {
		return fmt.Errorf("Invalid verbosity: %d (must be in [0..%d])", this.Verbosity, _MAX_VERBOSITY)
	}

	if this.ClusterIterations < _MIN_CLUSTER_ROUNDS || this.ClusterIterations > _MAX_CLUSTER_ROUNDS {
		return fmt.Errorf("Invalid number of clustering iterations: %d (must be in [%d..%d])",
			this.ClusterIterations, _MIN_CLUSTER_ROUNDS, _MAX_CLUSTER_ROUNDS)
	}

	return nil
}
