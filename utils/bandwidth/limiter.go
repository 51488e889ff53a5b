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

// Package bandwidth implements a token-bucket rate limiter for a peer
// session's egress and ingress byte streams.
package bandwidth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	EgressBitsPerSec  uint64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec"`

	// TokenSize is the number of bits a single bucket token represents.
	// Smaller values give finer-grained but costlier rate limiting.
	TokenSize uint64 `yaml:"token_size"`

	Enable bool `yaml:"enable"`
}

// Limiter rate limits egress and ingress byte transfer independently. When
// disabled, every reservation is a no-op.
type Limiter struct {
	config  Config
	egress  *rate.Limiter
	ingress *rate.Limiter

	egressLimit  int64
	ingressLimit int64
}

// NewLimiter creates a Limiter from config.
func NewLimiter(config Config) (*Limiter, error) {
	if !config.Enable {
		return &Limiter{config: config}, nil
	}
	if config.EgressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: egress bits per sec must be non-zero")
	}
	if config.IngressBitsPerSec == 0 {
		return nil, errors.New("bandwidth: ingress bits per sec must be non-zero")
	}
	if config.TokenSize == 0 {
		config.TokenSize = 1
	}
	egressBurst := int(config.EgressBitsPerSec / config.TokenSize)
	ingressBurst := int(config.IngressBitsPerSec / config.TokenSize)
	if egressBurst == 0 {
		egressBurst = 1
	}
	if ingressBurst == 0 {
		ingressBurst = 1
	}
	return &Limiter{
		config:  config,
		egress:  rate.NewLimiter(rate.Limit(egressBurst), egressBurst),
		ingress: rate.NewLimiter(rate.Limit(ingressBurst), ingressBurst),
	}, nil
}

// ReserveEgress blocks until nbytes of egress bandwidth is available.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	return l.reserve(l.egress, nbytes)
}

// ReserveIngress blocks until nbytes of ingress bandwidth is available.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	return l.reserve(l.ingress, nbytes)
}

func (l *Limiter) reserve(lim *rate.Limiter, nbytes int64) error {
	if lim == nil {
		return nil
	}
	tokens := tokensForBytes(nbytes, l.config.TokenSize)
	if tokens > lim.Burst() {
		return fmt.Errorf("bandwidth: reservation of %d bytes (%d tokens) exceeds bucket capacity of %d tokens",
			nbytes, tokens, lim.Burst())
	}
	r := lim.ReserveN(time.Now(), tokens)
	if !r.OK() {
		return errors.New("bandwidth: reservation denied")
	}
	time.Sleep(r.Delay())
	return nil
}

func tokensForBytes(nbytes int64, tokenSize uint64) int {
	bits := nbytes * 8
	tokens := bits / int64(tokenSize)
	if bits%int64(tokenSize) != 0 {
		tokens++
	}
	if tokens < 1 {
		tokens = 1
	}
	return int(tokens)
}

// Adjust rescales both limits by dividing the configured bits-per-sec by
// denom, used to give each of several concurrent torrents a fair share of
// a single global bandwidth budget. The result is floored at 1 so that a
// large denom never starves a torrent down to zero throughput.
func (l *Limiter) Adjust(denom int) error {
	if denom <= 0 {
		return errors.New("bandwidth: denom must be positive")
	}
	if l.egress == nil {
		return nil
	}
	l.egressLimit = divFloor(int64(l.config.EgressBitsPerSec), int64(denom))
	l.ingressLimit = divFloor(int64(l.config.IngressBitsPerSec), int64(denom))
	l.egress.SetLimit(rate.Limit(l.egressLimit))
	l.ingress.SetLimit(rate.Limit(l.ingressLimit))
	return nil
}

func divFloor(n, denom int64) int64 {
	v := n / denom
	if v < 1 {
		v = 1
	}
	return v
}

// EgressLimit returns the current egress limit, as last set by Adjust (or
// the configured EgressBitsPerSec if Adjust has never been called).
func (l *Limiter) EgressLimit() int64 {
	if l.egress == nil {
		return 0
	}
	if l.egressLimit == 0 {
		return int64(l.config.EgressBitsPerSec)
	}
	return l.egressLimit
}

// IngressLimit returns the current ingress limit, as last set by Adjust (or
// the configured IngressBitsPerSec if Adjust has never been called).
func (l *Limiter) IngressLimit() int64 {
	if l.ingress == nil {
		return 0
	}
	if l.ingressLimit == 0 {
		return int64(l.config.IngressBitsPerSec)
	}
	return l.ingressLimit
}
