// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"regexp"
	"strings"
)

// DPTType is a KNX datapoint type. Sub is nil for main-only types (DPT-n);
// DPST-n-m tokens carry both numbers.
type DPTType struct {
	Main int  `json:"main"`
	Sub  *int `json:"sub"`
}

// Equal reports whether two datapoint types are identical.
func (d DPTType) Equal(other DPTType) bool {
	if d.Main != other.Main {
		return false
	}
	if (d.Sub == nil) != (other.Sub == nil) {
		return false
	}
	return d.Sub == nil || *d.Sub == *other.Sub
}

// parseDPTToken parses a single whitespace-delimited datapoint type token.
func parseDPTToken(token string) (DPTType, bool) {
	parts := strings.Split(token, "-")
	switch {
	case len(parts) == 2 && parts[0] == "DPT":
		if main, ok := atoi(parts[1]); ok {
			return DPTType{Main: main}, true
		}
	case len(parts) == 3 && parts[0] == "DPST":
		main, okMain := atoi(parts[1])
		sub, okSub := atoi(parts[2])
		if okMain && okSub {
			return DPTType{Main: main, Sub: &sub}, true
		}
	}
	return DPTType{}, false
}

func atoi(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// ParseDPTTypes parses a whitespace separated list of datapoint type tokens.
// Unknown tokens are skipped; duplicates are removed keeping first-seen order.
func ParseDPTTypes(value string) []DPTType {
	var dpts []DPTType
	for _, token := range strings.Fields(value) {
		dpt, ok := parseDPTToken(token)
		if !ok {
			continue
		}
		duplicate := false
		for _, seen := range dpts {
			if seen.Equal(dpt) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			dpts = append(dpts, dpt)
		}
	}
	return dpts
}

// GetDPTType returns the first datapoint type of a token list, or nil.
func GetDPTType(value string) *DPTType {
	dpts := ParseDPTTypes(value)
	if len(dpts) == 0 {
		return nil
	}
	return &dpts[0]
}

// kindIndex returns the byte offset of the first `kind-` segment in id, or -1.
func kindIndex(id, kind string) int {
	prefix := kind + "-"
	if strings.HasPrefix(id, prefix) {
		return 0
	}
	if i := strings.Index(id, "_"+prefix); i >= 0 {
		return i + 1
	}
	return -1
}

// StripModuleInstance removes module and module-instance segments from a
// reference id, keeping a leading MD- segment and the last SM- segment
// immediately before the kind token.
//
//	StripModuleInstance("MD-4_M-15_MI-1_SM-1_M-1_MI-1-1-2_SM-1_O-3-1_R-2", "O")
//	  == "MD-4_SM-1_O-3-1_R-2"
//
// Ids that start with the kind token or do not contain it pass through
// unchanged; any other segment before the kind token is dropped. The
// operation is idempotent.
func StripModuleInstance(id, kind string) string {
	idx := kindIndex(id, kind)
	if idx <= 0 {
		return id
	}
	remainder := id[idx:]
	segments := strings.Split(strings.TrimSuffix(id[:idx], "_"), "_")

	var kept []string
	if strings.HasPrefix(segments[0], "MD-") {
		kept = append(kept, segments[0])
	}
	if last := segments[len(segments)-1]; strings.HasPrefix(last, "SM-") {
		kept = append(kept, last)
	}
	kept = append(kept, remainder)
	return strings.Join(kept, "_")
}

// GetModuleInstancePart extracts the module-instance portion of a reference
// id: the substring from the leading MD- segment up to (exclusive) the first
// `_<nextKind>-` occurrence. Ids without an MD- segment yield the empty
// string.
func GetModuleInstancePart(ref, nextKind string) string {
	mdIdx := kindIndex(ref, "MD")
	if mdIdx < 0 {
		return ""
	}
	kindIdx := strings.Index(ref[mdIdx:], "_"+nextKind+"-")
	if kindIdx < 0 {
		return ref[mdIdx:]
	}
	return ref[mdIdx : mdIdx+kindIdx]
}

// textParameterInsertModuleInstance rebuilds a parameter instance reference
// id for a text parameter that lives inside a module: the application program
// prefix is taken from textParameterRefID, the module-instance part from
// instanceRef, and the trailing parameter segment (P- or UP-) from
// textParameterRefID. Ids without an MD- segment are returned unchanged.
func textParameterInsertModuleInstance(instanceRef, instanceNextKind, textParameterRefID string) string {
	mdIdx := strings.Index(textParameterRefID, "_MD-")
	if mdIdx < 0 {
		return textParameterRefID
	}
	appPrefix := textParameterRefID[:mdIdx]
	paramSegment := ""
	if i := kindIndex(textParameterRefID[mdIdx:], "UP"); i > 0 {
		paramSegment = textParameterRefID[mdIdx+i:]
	} else if i := kindIndex(textParameterRefID[mdIdx:], "P"); i > 0 {
		paramSegment = textParameterRefID[mdIdx+i:]
	}
	modulePart := GetModuleInstancePart(instanceRef, instanceNextKind)
	if modulePart == "" {
		return appPrefix + "_" + paramSegment
	}
	return appPrefix + "_" + modulePart + "_" + paramSegment
}

// textParameterTemplate matches `{{0}}` and `{{0:default}}` placeholders.
var textParameterTemplate = regexp.MustCompile(`\{\{0(:[^{}]*)?\}\}`)

// replaceTextParameter substitutes `{{0}}` / `{{0:default}}` placeholders in
// a display text. A nil value substitutes the fallback (or the empty string
// when there is none); other placeholders are left literal.
func replaceTextParameter(text string, value *string) string {
	return textParameterTemplate.ReplaceAllStringFunc(text, func(match string) string {
		if value != nil {
			return *value
		}
		inner := match[2 : len(match)-2]
		if i := strings.IndexByte(inner, ':'); i >= 0 {
			return inner[i+1:]
		}
		return ""
	})
}
