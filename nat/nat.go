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

// Package nat specifies the best-effort port-mapping hook a UPnP/NAT-PMP
// client would occupy so an incoming listener is reachable from outside a
// home router. It is an explicit non-goal; PortMapper's default
// implementation performs no mapping and always reports the listener's
// own port as the external one.
package nat

import "context"

// PortMapper maps an internal listening port to an externally reachable
// one, returning the external port or an error.
type PortMapper interface {
	Map(ctx context.Context, internalPort int) (externalPort int, err error)
	Unmap(ctx context.Context, internalPort int) error
}

// NoOpPortMapper performs no mapping, assuming the listener is already
// externally reachable (e.g. on a public IP or behind manual forwarding).
type NoOpPortMapper struct{}

// Map returns internalPort unchanged.
func (NoOpPortMapper) Map(ctx context.Context, internalPort int) (int, error) {
	return internalPort, nil
}

// Unmap is a no-op.
func (NoOpPortMapper) Unmap(ctx context.Context, internalPort int) error {
	return nil
}
