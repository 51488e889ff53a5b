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
package swarm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhaseMachineTransitions(t *testing.T) {
	require := require.New(t)

	m := newPhaseMachine(PhaseMagnet)
	require.Equal(PhaseMagnet, m.Phase())
	require.False(m.Seeding())

	m.SetPhase(PhaseTransition)
	require.Equal(PhaseTransition, m.Phase())

	m.SetPhase(PhaseDownload)
	require.Equal(PhaseDownload, m.Phase())
	require.False(m.Seeding())

	m.SetPhase(PhaseSeed)
	require.True(m.Seeding())
}

func TestPhaseString(t *testing.T) {
	require := require.New(t)

	require.Equal("magnet", PhaseMagnet.String())
	require.Equal("transition", PhaseTransition.String())
	require.Equal("download", PhaseDownload.String())
	require.Equal("seed", PhaseSeed.String())
	require.Equal("unknown", Phase(99).String())
}
