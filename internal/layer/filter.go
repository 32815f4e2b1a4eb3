package layer

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rule admits features whose tag Key has one of Values.
type Rule struct {
	Key    string
	Values []string
}

// FilterTable decides which roles a feature plays from its tags. A table is
// immutable after construction and safe for concurrent use.
type FilterTable struct {
	rules map[Role][]Rule
	index map[Role]map[string]map[string]bool
}

// DefaultFilterTable returns the stationery-shop siting rules. It panics if
// the built-in rules fail validation.
func DefaultFilterTable() *FilterTable {
	t, err := NewFilterTable(map[Role][]Rule{
		RoleAnchors: {
			{Key: "amenity", Values: []string{"school", "college"}},
		},
		RoleCompetitors: {
			{Key: "shop", Values: []string{"stationery", "supermarket", "department_store"}},
		},
		RoleRoads: {
			{Key: "highway", Values: []string{
				"primary", "secondary", "tertiary", "residential",
				"unclassified", "pedestrian", "living_street",
			}},
		},
		RoleTransitStops: {
			{Key: "highway", Values: []string{"bus_stop"}},
			{Key: "public_transport", Values: []string{"platform", "stop_position"}},
			{Key: "railway", Values: []string{"tram_stop", "halt", "station"}},
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewFilterTable validates and copies rules.
func NewFilterTable(rules map[Role][]Rule) (*FilterTable, error) {
	t := &FilterTable{
		rules: make(map[Role][]Rule, len(rules)),
		index: make(map[Role]map[string]map[string]bool, len(rules)),
	}
	for role, rs := range rules {
		if !knownRole(role) {
			return nil, eris.Errorf("layer: unknown role %q", role)
		}
		idx := make(map[string]map[string]bool)
		for _, r := range rs {
			if r.Key == "" || len(r.Values) == 0 {
				return nil, eris.Errorf("layer: role %s has an empty rule", role)
			}
			vals := append([]string(nil), r.Values...)
			t.rules[role] = append(t.rules[role], Rule{Key: r.Key, Values: vals})
			if idx[r.Key] == nil {
				idx[r.Key] = make(map[string]bool)
			}
			for _, v := range vals {
				idx[r.Key][v] = true
			}
		}
		t.index[role] = idx
	}
	return t, nil
}

func knownRole(r Role) bool {
	for _, k := range Roles {
		if k == r {
			return true
		}
	}
	return false
}

// ParseFilterTable reads a table in the form
//
//	anchors:
//	  amenity: [school, college]
func ParseFilterTable(data []byte) (*FilterTable, error) {
	var raw map[string]map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "layer: parse filter table")
	}
	rules := make(map[Role][]Rule, len(raw))
	for role, keys := range raw {
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			rules[Role(role)] = append(rules[Role(role)], Rule{Key: k, Values: keys[k]})
		}
	}
	return NewFilterTable(rules)
}

// LoadFilterTable reads a table from path; an empty path yields the default.
func LoadFilterTable(path string) (*FilterTable, error) {
	if path == "" {
		return DefaultFilterTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: read filter table %s", path)
	}
	return ParseFilterTable(data)
}

// Classify returns the roles whose rules admit tags, in canonical order.
func (t *FilterTable) Classify(tags map[string]string) []Role {
	var out []Role
	for _, role := range Roles {
		for key, vals := range t.index[role] {
			if v, ok := tags[key]; ok && vals[v] {
				out = append(out, role)
				break
			}
		}
	}
	return out
}

// Rules returns a copy of the rules for role.
func (t *FilterTable) Rules(role Role) []Rule {
	out := make([]Rule, 0, len(t.rules[role]))
	for _, r := range t.rules[role] {
		out = append(out, Rule{Key: r.Key, Values: append([]string(nil), r.Values...)})
	}
	return out
}

// Allowed returns the sorted values admitted for key by any role.
func (t *FilterTable) Allowed(key string) []string {
	set := make(map[string]bool)
	for _, idx := range t.index {
		for v := range idx[key] {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Keys returns the sorted set of tag keys referenced by any rule.
func (t *FilterTable) Keys() []string {
	set := make(map[string]bool)
	for _, idx := range t.index {
		for k := range idx {
			set[k] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
