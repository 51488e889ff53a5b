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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type simpleStruct struct {
	Name   string `bencode:"name"`
	Length int64  `bencode:"length"`
}

func TestMarshalUnmarshalStruct(t *testing.T) {
	require := require.New(t)

	in := simpleStruct{Name: "file.txt", Length: 1234}
	b, err := Marshal(in)
	require.NoError(err)

	var out simpleStruct
	require.NoError(Unmarshal(b, &out))
	require.Equal(in, out)
}

func TestEncodeMapSortsKeys(t *testing.T) {
	require := require.New(t)

	m := map[string]int64{"z": 1, "a": 2, "m": 3}
	b, err := Marshal(m)
	require.NoError(err)
	require.Equal("d1:ai2e1:mi3e1:zi1ee", string(b))
}

func TestDictPreservesOrder(t *testing.T) {
	require := require.New(t)

	encoded := "d3:zzzi1e1:ai2ee"
	var v interface{}
	require.NoError(Unmarshal([]byte(encoded), &v))
	d, ok := v.(Dict)
	require.True(ok)
	require.Len(d, 2)
	require.Equal("zzz", d[0].Key)
	require.Equal("a", d[1].Key)

	// Re-encoding must preserve the original, non-sorted order.
	out, err := Marshal(d)
	require.NoError(err)
	require.Equal(encoded, string(out))
}

func TestDecodeListOfIntegers(t *testing.T) {
	require := require.New(t)

	var v interface{}
	require.NoError(Unmarshal([]byte("li1ei2ei3ee"), &v))
	list, ok := v.([]interface{})
	require.True(ok)
	require.Equal([]interface{}{int64(1), int64(2), int64(3)}, list)
}

func TestDecoderOffsetTracksConsumedBytes(t *testing.T) {
	require := require.New(t)

	buf := bytes.NewBufferString("i42ei7e")
	d := NewDecoder(buf)
	var first int64
	require.NoError(d.Decode(&first))
	require.Equal(int64(42), first)
	require.Equal(int64(4), d.Offset())

	var second int64
	require.NoError(d.Decode(&second))
	require.Equal(int64(7), second)
}

func TestRawMessageRoundTrip(t *testing.T) {
	require := require.New(t)

	type withRaw struct {
		Info RawMessage `bencode:"info"`
	}
	encoded := "d4:infod6:lengthi100eee"
	var w withRaw
	require.NoError(Unmarshal([]byte(encoded), &w))
	require.Equal("d6:lengthi100ee", string(w.Info))

	out, err := Marshal(w)
	require.NoError(err)
	require.Equal(encoded, string(out))
}

func TestBigIntFallbackForOversizedIntegers(t *testing.T) {
	require := require.New(t)

	var v interface{}
	// larger than max int64
	require.NoError(Unmarshal([]byte("i99999999999999999999999e"), &v))
	_, ok := v.(int64)
	require.False(ok, "expected big.Int fallback, not int64")
}

func TestUnmarshalInvalidArg(t *testing.T) {
	require := require.New(t)

	err := Unmarshal([]byte("i1e"), 5)
	require.Error(err)
	_, ok := err.(*UnmarshalInvalidArgError)
	require.True(ok)
}

func TestSyntaxErrorOnTruncatedInput(t *testing.T) {
	require := require.New(t)

	var v interface{}
	err := Unmarshal([]byte("d3:foo"), &v)
	require.Error(err)
	_, ok := err.(*SyntaxError)
	require.True(ok)
}
