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

// Package config composes every component's own Config into one top-level
// YAML document, the same composition-of-Configs idiom each component
// already follows on its own (peer.Config, choke.Config,
// piecestore.PendingConfig, filemapper.CacheConfig, and so on).
package config

import (
	"fmt"
	"io/ioutil"

	validator "gopkg.in/validator.v2"
	yaml "gopkg.in/yaml.v2"

	"github.com/SkyPlay-Code/btswarm/btlog"
	"github.com/SkyPlay-Code/btswarm/choke"
	"github.com/SkyPlay-Code/btswarm/peer"
	"github.com/SkyPlay-Code/btswarm/storage/filemapper"
	"github.com/SkyPlay-Code/btswarm/storage/piecestore"
	"github.com/SkyPlay-Code/btswarm/swarm"
	"github.com/SkyPlay-Code/btswarm/tracker"
	"github.com/SkyPlay-Code/btswarm/utils/bandwidth"
)

// Config is the top-level configuration for one running instance of the
// swarm engine, composed from each subsystem's own Config.
type Config struct {
	ListenAddr string `yaml:"listen_addr" validate:"nonzero"`
	BaseDir    string `yaml:"base_dir" validate:"nonzero"`

	Log     btlog.Config            `yaml:"log"`
	Swarm   swarm.Config            `yaml:"swarm"`
	Peer    peer.Config             `yaml:"peer"`
	Choke   choke.Config            `yaml:"choke"`
	Pending piecestore.PendingConfig `yaml:"pending"`
	Cache   filemapper.CacheConfig  `yaml:"cache"`
	Tracker tracker.HTTPConfig      `yaml:"tracker"`

	Bandwidth bandwidth.Config `yaml:"bandwidth"`
}

// Load reads and validates a Config from a YAML file at path.
func Load(path string) (Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %s", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal %s: %s", path, err)
	}
	c.Swarm.ListenAddr = c.ListenAddr
	c.Swarm.BaseDir = c.BaseDir
	if err := validator.Validate(c); err != nil {
		return Config{}, fmt.Errorf("config: validate: %s", err)
	}
	return c, nil
}
