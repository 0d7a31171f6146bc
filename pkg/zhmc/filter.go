package zhmc

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Filters maps property names to filter values. A value is either a scalar
// or a slice of scalars; slice entries are logically ORed.
//
// String-valued filters are regular expressions matched against the entire
// property value (anchored at both ends). Matching is case-sensitive unless
// the resource definition marks names case-insensitive, in which case the
// name property is matched case-insensitively. Non-string filters compare
// by equality.
type Filters map[string]any

// divide splits the filters into server-side query parameters (properties
// the HMC list operation accepts as filters) and the remainder, which is
// evaluated client-side after retrieval. A property pushed to the server is
// also kept client-side: server- and client-side filtering must agree, and
// the cross-check is cheap.
func (f Filters) divide(queryProps []string) (url.Values, Filters) {
	query := url.Values{}
	client := Filters{}
	qp := make(map[string]bool, len(queryProps))
	for _, p := range queryProps {
		qp[p] = true
	}
	for name, value := range f {
		client[name] = value
		if !qp[name] {
			continue
		}
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				query.Add(name, fmt.Sprintf("%v", item))
			}
		case []string:
			for _, item := range v {
				query.Add(name, item)
			}
		default:
			query.Add(name, fmt.Sprintf("%v", value))
		}
	}
	return query, client
}

// matches reports whether the resource's local properties satisfy all
// filters. Properties absent from the resource never match.
func (f Filters) matches(r *Resource, def *ResourceDefinition) (bool, error) {
	for name, value := range f {
		actual, ok := r.Property(name)
		if !ok {
			return false, nil
		}
		caseInsensitive := def.CaseInsensitiveNames && name == def.NameProp
		ok, err := matchValue(name, value, actual, caseInsensitive)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// matchValue evaluates one filter value against one property value. Slice
// filter values are ORed.
func matchValue(name string, filter, actual any, caseInsensitive bool) (bool, error) {
	switch fv := filter.(type) {
	case []any:
		for _, item := range fv {
			ok, err := matchScalar(name, item, actual, caseInsensitive)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range fv {
			ok, err := matchScalar(name, item, actual, caseInsensitive)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return matchScalar(name, filter, actual, caseInsensitive)
	}
}

func matchScalar(name string, filter, actual any, caseInsensitive bool) (bool, error) {
	if pattern, ok := filter.(string); ok {
		str, ok := actual.(string)
		if !ok {
			return false, nil
		}
		re, err := compileFilterPattern(pattern, caseInsensitive)
		if err != nil {
			return false, ErrInvalidFilter.MsgErr(
				fmt.Sprintf("invalid filter expression for property %q: %q", name, pattern), err)
		}
		return re.MatchString(str), nil
	}
	return scalarEqual(filter, actual), nil
}

// compileFilterPattern anchors the pattern at both ends so that a plain
// string only matches the whole property value.
func compileFilterPattern(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	anchored := "^(?:" + pattern + ")$"
	if caseInsensitive {
		anchored = "(?i)" + anchored
	}
	return regexp.Compile(anchored)
}

// scalarEqual compares non-string property values. JSON decoding turns all
// numbers into float64, so numeric filter values of any Go integer type are
// compared numerically.
func scalarEqual(filter, actual any) bool {
	if fn, ok := toFloat(filter); ok {
		if an, ok := toFloat(actual); ok {
			return fn == an
		}
		return false
	}
	return filter == actual
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// optimizedName returns the name value if the filters consist of exactly one
// entry on the manager's name property with a plain string value (no regex
// metacharacters). This is the precondition for the name-cache optimized
// lookup path.
func (f Filters) optimizedName(nameProp string) (string, bool) {
	if len(f) != 1 {
		return "", false
	}
	value, ok := f[nameProp]
	if !ok {
		return "", false
	}
	name, ok := value.(string)
	if !ok || !isPlainString(name) {
		return "", false
	}
	return name, true
}

// isPlainString reports whether s contains no regexp metacharacters, i.e.
// a regex match against s is the same as string equality.
func isPlainString(s string) bool {
	return !strings.ContainsAny(s, `.^$*+?()[]{}|\`)
}
