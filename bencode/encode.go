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
	"bufio"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"
)

// Encoder writes bencoded values.
type Encoder struct {
	w *bufio.Writer
}

// Encode writes the bencode representation of v.
func (e *Encoder) Encode(v interface{}) error {
	if err := e.encodeValue(reflect.ValueOf(v)); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) writeString(s string) error {
	_, err := e.w.WriteString(s)
	return err
}

func (e *Encoder) encodeValue(rv reflect.Value) error {
	if !rv.IsValid() {
		return e.writeString("0:")
	}

	if m, ok := rv.Interface().(Marshaler); ok {
		b, err := m.MarshalBencode()
		if err != nil {
			return &MarshalerError{rv.Type(), err}
		}
		_, err = e.w.Write(b)
		return err
	}
	if rv.CanAddr() {
		if m, ok := rv.Addr().Interface().(Marshaler); ok {
			b, err := m.MarshalBencode()
			if err != nil {
				return &MarshalerError{rv.Type(), err}
			}
			_, err = e.w.Write(b)
			return err
		}
	}

	switch v := rv.Interface().(type) {
	case Dict:
		return e.encodeDict(v)
	case *big.Int:
		return e.writeString(fmt.Sprintf("i%se", v.String()))
	case []byte:
		return e.encodeBytes(v)
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return e.writeString("0:")
		}
		return e.encodeValue(rv.Elem())
	case reflect.Interface:
		return e.encodeValue(reflect.ValueOf(rv.Interface()))
	case reflect.Bool:
		if rv.Bool() {
			return e.writeString("i1e")
		}
		return e.writeString("i0e")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeString(fmt.Sprintf("i%de", rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.writeString(fmt.Sprintf("i%de", rv.Uint()))
	case reflect.String:
		return e.encodeBytes([]byte(rv.String()))
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return e.encodeBytes(b)
		}
		return e.encodeList(rv)
	case reflect.Map:
		return e.encodeMap(rv)
	case reflect.Struct:
		return e.encodeStruct(rv)
	default:
		return &MarshalTypeError{rv.Type()}
	}
}

func (e *Encoder) encodeBytes(b []byte) error {
	if err := e.writeString(strconv.Itoa(len(b)) + ":"); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) encodeList(rv reflect.Value) error {
	if err := e.writeString("l"); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if err := e.encodeValue(rv.Index(i)); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

func (e *Encoder) encodeDict(d Dict) error {
	if err := e.writeString("d"); err != nil {
		return err
	}
	for _, kv := range d {
		if err := e.encodeBytes([]byte(kv.Key)); err != nil {
			return err
		}
		if err := e.encodeValue(reflect.ValueOf(kv.Value)); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

// encodeMap sorts keys lexicographically, as the protocol requires for any
// dictionary the encoder itself is constructing (as opposed to a Dict
// parsed off the wire, whose order is preserved exactly).
func (e *Encoder) encodeMap(rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return &MarshalTypeError{rv.Type()}
	}
	if err := e.writeString("d"); err != nil {
		return err
	}
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		if err := e.encodeBytes([]byte(k.String())); err != nil {
			return err
		}
		if err := e.encodeValue(rv.MapIndex(k)); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

func (e *Encoder) encodeStruct(rv reflect.Value) error {
	if err := e.writeString("d"); err != nil {
		return err
	}
	t := rv.Type()
	type namedField struct {
		name string
		v    reflect.Value
	}
	var named []namedField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name := f.Name
		omitempty := false
		if tag, ok := f.Tag.Lookup("bencode"); ok {
			parts := splitTag(tag)
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitempty = true
				}
			}
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		named = append(named, namedField{name, fv})
	}
	for _, nf := range named {
		if err := e.encodeBytes([]byte(nf.name)); err != nil {
			return err
		}
		if err := e.encodeValue(nf.v); err != nil {
			return err
		}
	}
	return e.writeString("e")
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	parts = append(parts, tag[start:])
	return parts
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	}
	return false
}
