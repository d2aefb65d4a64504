package task

import (
	"encoding/json"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/hpgtool/hpg/internal/hpgerr"
)

// Variables is the script-visible variable bag. Its root is a JSON object;
// values may be any JSON type. Script assignment writes to a run-scoped
// defaults layer consulted only when the root has no value, so inventory
// and command-line variables always win over script defaults.
//
// Only the root crosses the wire; defaults are a property of one run.
type Variables struct {
	raw      map[string]interface{}
	defaults map[string]interface{}
}

// NewVariables returns an empty bag.
func NewVariables() Variables {
	return Variables{raw: map[string]interface{}{}}
}

// FromJSON parses a JSON object into a Variables root.
func FromJSON(data []byte) (Variables, error) {
	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return Variables{}, hpgerr.Wrap(hpgerr.Config, err, "parsing variables")
	}
	var obj, ok = root.(map[string]interface{})
	if !ok {
		return Variables{}, hpgerr.New(hpgerr.Config, "invalid variables type, must be a JSON Object")
	}
	return Variables{raw: obj}, nil
}

// FromFile reads a JSON variables file.
func FromFile(path string) (Variables, error) {
	var data, err = os.ReadFile(path)
	if err != nil {
		return Variables{}, hpgerr.Wrap(hpgerr.Io, err, "reading variables file %s", path)
	}
	var v Variables
	if v, err = FromJSON(data); err != nil {
		return Variables{}, hpgerr.Wrap(hpgerr.Config, err, "invalid vars file %s", path)
	}
	return v, nil
}

// FromMap lifts a string map into a Variables root.
func FromMap(m map[string]string) Variables {
	var raw = make(map[string]interface{}, len(m))
	for k, v := range m {
		raw[k] = v
	}
	return Variables{raw: raw}
}

// Get looks up key in the root, then in the defaults layer.
func (v Variables) Get(key string) (interface{}, bool) {
	if val, ok := v.raw[key]; ok {
		return val, true
	}
	if v.defaults != nil {
		if val, ok := v.defaults[key]; ok {
			return val, true
		}
	}
	return nil, false
}

// SetDefault records a fallback value for key, effective for this run only.
func (v *Variables) SetDefault(key string, val interface{}) {
	if v.defaults == nil {
		v.defaults = map[string]interface{}{}
	}
	v.defaults[key] = val
}

// Merge returns the shallow merge of v and other, with other's keys taking
// precedence. Defaults layers do not merge; they are run-local.
func (v Variables) Merge(other Variables) Variables {
	var out = make(map[string]interface{}, len(v.raw)+len(other.raw))
	for k, val := range v.raw {
		out[k] = val
	}
	for k, val := range other.raw {
		out[k] = val
	}
	return Variables{raw: out}
}

// Root exposes the root object, for conversion into the scripting host.
func (v Variables) Root() map[string]interface{} { return v.raw }

// MarshalCBOR encodes only the root object.
func (v Variables) MarshalCBOR() ([]byte, error) {
	if v.raw == nil {
		return cbor.Marshal(map[string]interface{}{})
	}
	return cbor.Marshal(v.raw)
}

// UnmarshalCBOR decodes a root object.
func (v *Variables) UnmarshalCBOR(data []byte) error {
	var raw map[string]interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.raw = raw
	return nil
}
