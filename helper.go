// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"errors"
	"strconv"
	"strings"
)

// Errors
var (

	// ErrInvalidPassword is returned when a protected archive is opened
	// without a password, or the password fails to decrypt the inner archive.
	ErrInvalidPassword = errors.New("invalid or missing archive password")

	// ErrProjectNotFound is returned when no P-XXXX.signature file exists at
	// the root of the outer archive.
	ErrProjectNotFound = errors.New("project signature not found in archive")

	// ErrUnexpectedFileContent is returned when a required file is malformed,
	// e.g. the schema namespace cannot be read from knx_master.xml.
	ErrUnexpectedFileContent = errors.New("unexpected file content")

	// ErrUnexpectedData is returned when a required cross-reference fails to
	// resolve after parsing, indicating an inconsistent project.
	ErrUnexpectedData = errors.New("unexpected data in project")
)

// Known schema versions of the project XML namespace.
const (
	SchemaETS4  = 11 // ETS 4.1/4.2
	SchemaETS56 = 14 // ETS 5.6
	SchemaETS57 = 20 // ETS 5.7
	SchemaETS6  = 21 // ETS 6
)

// mediumTypes maps medium type reference ids to display names.
var mediumTypes = map[string]string{
	"MT-0": "Twisted Pair (TP)",
	"MT-1": "Powerline (PL)",
	"MT-2": "KNX RF (RF)",
	"MT-5": "KNXnet/IP (IP)",
}

// MediumTypeName returns the display name for a medium type reference id.
// Unknown ids are returned unchanged.
func MediumTypeName(refID string) string {
	if name, ok := mediumTypes[refID]; ok {
		return name
	}
	return refID
}

// parseInt converts a decimal attribute value, tolerating the empty string.
func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseFlag converts an "Enabled"/"Disabled" XML attribute to a tri-state
// boolean. An absent attribute yields nil.
func parseFlag(s string) *bool {
	switch s {
	case "Enabled":
		v := true
		return &v
	case "Disabled":
		v := false
		return &v
	}
	return nil
}

// boolValue unwraps a tri-state flag, defaulting to false.
func boolValue(b *bool) bool {
	return b != nil && *b
}

// manufacturerPrefix returns the leading M-XXXX segment of a reference id.
func manufacturerPrefix(refID string) string {
	if i := strings.IndexByte(refID, '_'); i >= 0 {
		return refID[:i]
	}
	return refID
}
