// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddressStyle is the group address presentation style of a project.
type GroupAddressStyle string

// Group address styles as spelled in project.xml.
const (
	GroupAddressStyleFree       GroupAddressStyle = "Free"
	GroupAddressStyleTwoLevel   GroupAddressStyle = "TwoLevel"
	GroupAddressStyleThreeLevel GroupAddressStyle = "ThreeLevel"
)

// FormatGroupAddress renders a raw 16 bit group address in the given style.
//
//	Free:       "18438"
//	TwoLevel:   "9/6"    (main = top 5 bits, sub = bottom 11 bits)
//	ThreeLevel: "9/0/6"  (main = top 5 bits, middle = 3 bits, sub = 8 bits)
func FormatGroupAddress(raw uint16, style GroupAddressStyle) string {
	switch style {
	case GroupAddressStyleTwoLevel:
		return fmt.Sprintf("%d/%d", raw>>11, raw&0x7FF)
	case GroupAddressStyleThreeLevel:
		return fmt.Sprintf("%d/%d/%d", raw>>11, (raw>>8)&0x7, raw&0xFF)
	default:
		return strconv.Itoa(int(raw))
	}
}

// ParseGroupAddress is the inverse of FormatGroupAddress.
func ParseGroupAddress(address string, style GroupAddressStyle) (uint16, error) {
	parts := strings.Split(address, "/")
	switch style {
	case GroupAddressStyleTwoLevel:
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: two level group address %q", ErrUnexpectedData, address)
		}
		main, sub := parseInt(parts[0]), parseInt(parts[1])
		if main > 31 || sub > 2047 {
			return 0, fmt.Errorf("%w: group address %q out of range", ErrUnexpectedData, address)
		}
		return uint16(main<<11 | sub), nil
	case GroupAddressStyleThreeLevel:
		if len(parts) != 3 {
			return 0, fmt.Errorf("%w: three level group address %q", ErrUnexpectedData, address)
		}
		main, middle, sub := parseInt(parts[0]), parseInt(parts[1]), parseInt(parts[2])
		if main > 31 || middle > 7 || sub > 255 {
			return 0, fmt.Errorf("%w: group address %q out of range", ErrUnexpectedData, address)
		}
		return uint16(main<<11 | middle<<8 | sub), nil
	default:
		raw, err := strconv.ParseUint(address, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: free style group address %q", ErrUnexpectedData, address)
		}
		return uint16(raw), nil
	}
}
