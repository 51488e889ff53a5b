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

// Package btlog configures the structured logger threaded through every
// long-lived component of the swarm engine: the orchestrator, each peer
// session, the choke controller, and the tracker client all take a
// *zap.SugaredLogger at construction, the same way connstate.New and
// torrentlog.New thread one through their own components.
package btlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the logger's level and output format.
type Config struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func (c *Config) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// New builds a *zap.SugaredLogger from config, tagged with fields common to
// every log line this engine emits.
func New(config Config, fields map[string]interface{}) (*zap.SugaredLogger, error) {
	config.applyDefaults()

	var level zapcore.Level
	if err := level.Set(config.Level); err != nil {
		return nil, fmt.Errorf("btlog: invalid level %q: %s", config.Level, err)
	}

	zapConfig := zap.NewProductionConfig()
	if !config.JSON {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("btlog: build logger: %s", err)
	}

	sugared := logger.Sugar()
	for k, v := range fields {
		sugared = sugared.With(k, v)
	}
	return sugared, nil
}

// NewNop returns a no-op logger, for use in tests.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
