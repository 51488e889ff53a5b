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
package bencode

// KV is a single key/value pair within a Dict.
type KV struct {
	Key   string
	Value interface{}
}

// Dict is a bencoded dictionary decoded generically, preserving the
// original on-the-wire order of its keys. A plain Go map cannot serve this
// role because bencode dictionaries, unlike JSON objects, are defined as
// ordered by the protocol (keys must be sorted lexicographically by the
// producer) and re-encoding an unordered map risks producing a
// byte-for-byte different -- and therefore differently hashed -- encoding
// than the one received.
type Dict []KV

// Get returns the value associated with key, if present.
func (d Dict) Get(key string) (interface{}, bool) {
	for _, kv := range d {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// RawMessage captures a bencode-encoded value verbatim, without decoding
// its contents, and re-emits those exact bytes on encode. It is used to
// round-trip the "info" dictionary of a .torrent file byte-for-byte, since
// the torrent's info hash is a SHA-1 digest of the dictionary's original
// encoding, not of any canonical re-encoding of it.
type RawMessage []byte

// MarshalBencode returns m unmodified, or the empty byte string "0:" when m
// is empty.
func (m RawMessage) MarshalBencode() ([]byte, error) {
	if len(m) == 0 {
		return []byte("0:"), nil
	}
	return []byte(m), nil
}

// UnmarshalBencode stores a copy of data in m.
func (m *RawMessage) UnmarshalBencode(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}
