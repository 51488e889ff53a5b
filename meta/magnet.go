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
package meta

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/SkyPlay-Code/btswarm/core"
)

// Magnet is a parsed magnet URI, carrying everything needed to begin
// metadata acquisition before the info dictionary itself is known.
type Magnet struct {
	InfoHash    core.InfoHash
	DisplayName string
	Trackers    []string
}

// btihPrefix is the exact-topic namespace this engine understands; magnet
// links addressing content by any other namespace are rejected.
const btihPrefix = "urn:btih:"

// ParseMagnet parses a "magnet:?xt=urn:btih:..." URI.
func ParseMagnet(raw string) (*Magnet, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse magnet uri: %s", err)
	}
	if u.Scheme != "magnet" {
		return nil, fmt.Errorf("not a magnet uri: scheme %q", u.Scheme)
	}
	q := u.Query()

	var infoHash core.InfoHash
	found := false
	for _, xt := range q["xt"] {
		if !strings.HasPrefix(xt, btihPrefix) {
			continue
		}
		topic := xt[len(btihPrefix):]
		h, err := parseTopic(topic)
		if err != nil {
			return nil, fmt.Errorf("parse xt topic %q: %s", topic, err)
		}
		infoHash = h
		found = true
		break
	}
	if !found {
		return nil, errors.New("magnet uri has no urn:btih topic")
	}

	return &Magnet{
		InfoHash:    infoHash,
		DisplayName: q.Get("dn"),
		Trackers:    q["tr"],
	}, nil
}

// parseTopic decodes a btih topic, which is conventionally 40 hex
// characters but may appear as a 32-character base32 string per BEP-9.
func parseTopic(topic string) (core.InfoHash, error) {
	switch len(topic) {
	case 40:
		return core.NewInfoHashFromHex(topic)
	case 32:
		b, err := base32Decode(topic)
		if err != nil {
			return core.InfoHash{}, err
		}
		var h core.InfoHash
		if len(b) != 20 {
			return core.InfoHash{}, fmt.Errorf("decoded base32 topic has %d bytes, want 20", len(b))
		}
		copy(h[:], b)
		return h, nil
	default:
		return core.InfoHash{}, fmt.Errorf("unsupported topic length %d", len(topic))
	}
}

// String reconstructs a magnet URI equivalent to the parsed value.
func (m *Magnet) String() string {
	v := url.Values{}
	v.Set("xt", btihPrefix+m.InfoHash.Hex())
	if m.DisplayName != "" {
		v.Set("dn", m.DisplayName)
	}
	for _, tr := range m.Trackers {
		v.Add("tr", tr)
	}
	return "magnet:?" + v.Encode()
}
