// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"fmt"
	"strings"
)

// xmlGroupAddress is a GroupAddress element of 0.xml.
type xmlGroupAddress struct {
	Name        string
	Identifier  string // local part of the Id, e.g. "GA-623"
	RawAddress  uint16
	Address     string // formatted per project style
	ProjectUID  int
	Description string
	Comment     string
	DPT         *DPTType
	DataSecure  bool
}

// xmlGroupRange is a node of the recursive GroupRange tree.
type xmlGroupRange struct {
	Name           string
	RangeStart     int
	RangeEnd       int
	Comment        string
	GroupAddresses []string // formatted addresses of directly held addresses
	Ranges         []*xmlGroupRange
}

// xmlArea is a topology area.
type xmlArea struct {
	Address     int
	Name        string
	Description string
	Lines       []*xmlLine
}

// xmlLine is a topology line inside an area.
type xmlLine struct {
	Address     int
	Name        string
	Description string
	MediumType  string
	Devices     []*deviceInstance
	Area        *xmlArea
}

// channelNode is a channel entry of a device's group object tree.
type channelNode struct {
	RefID                  string
	Text                   string
	Name                   string
	GroupObjectInstanceIDs []string
}

// moduleInstanceArgument is one Argument of a ModuleInstance.
type moduleInstanceArgument struct {
	RefID     string
	Value     string
	Name      string // filled from the application program
	Allocates int    // filled from the application program
}

// moduleInstance is a ModuleInstance of a device, possibly a sub-module.
type moduleInstance struct {
	Identifier string
	RefID      string
	Arguments  []*moduleInstanceArgument
}

// comObjectModule attributes a communication object to the module definition
// it was cloned from.
type comObjectModule struct {
	Definition string `json:"definition"`
	RootNumber int    `json:"root_number"`
}

// comObjectInstanceRef is a ComObjectInstanceRef of a device with the merged
// attributes filled in during resolution.
type comObjectInstanceRef struct {
	Identifier     string
	RefID          string // raw RefId attribute, also the output key id
	ComObjectRefID string // stripped and application-prefixed lookup id

	Text              string
	FunctionText      string
	Description       string
	ReadFlag          *bool
	WriteFlag         *bool
	CommunicationFlag *bool
	TransmitFlag      *bool
	UpdateFlag        *bool
	ReadOnInitFlag    *bool
	DatapointTypes    []DPTType
	ChannelID         string
	Links             []string

	// Filled during resolution.
	Name                 string
	Number               int
	ObjectSize           string
	BaseNumberArgumentRef string
	Module               *comObjectModule
}

// flags returns the six communication flags with absent values defaulted.
func (c *comObjectInstanceRef) flags() Flags {
	return Flags{
		Read:       boolValue(c.ReadFlag),
		Write:      boolValue(c.WriteFlag),
		Communication: boolValue(c.CommunicationFlag),
		Transmit:   boolValue(c.TransmitFlag),
		Update:     boolValue(c.UpdateFlag),
		ReadOnInit: boolValue(c.ReadOnInitFlag),
	}
}

// deviceInstance is a DeviceInstance element with everything the resolver
// needs to merge the application program back in.
type deviceInstance struct {
	Identifier         string
	Address            int
	Name               string
	Description        string
	LastModified       string
	ProjectUID         int
	ProductRef         string
	HardwareProgramRef string
	Manufacturer       string // M-XXXX prefix of the product ref
	Line               *xmlLine

	AdditionalAddresses  []string
	ComObjectInstanceRefs []*comObjectInstanceRef
	ModuleInstances      []*moduleInstance
	Channels             []*channelNode
	ParameterValues      map[string]*string // parameter instance ref id -> value

	// Filled after catalog and application program resolution.
	ApplicationProgramRef string
	ProductName           string
	HardwareName          string
	OrderNumber           string
	ManufacturerName      string
}

// individualAddress renders the device's bus address as area.line.device.
func (d *deviceInstance) individualAddress() string {
	return fmt.Sprintf("%d.%d.%d", d.Line.Area.Address, d.Line.Address, d.Address)
}

// formatAdditionalAddress renders an additional address for display.
func (d *deviceInstance) formatAdditionalAddress(address string) string {
	return fmt.Sprintf("%d/%d/%s", d.Line.Area.Address, d.Line.Address, address)
}

// applicationProgramFile is the archive path of the device's application
// program XML, or the empty string when no program was resolved.
func (d *deviceInstance) applicationProgramFile() string {
	if d.ApplicationProgramRef == "" {
		return ""
	}
	return d.Manufacturer + "/" + d.ApplicationProgramRef + ".xml"
}

// moduleInstanceFor returns the module instance whose identifier is the
// longest prefix of the given reference id, or nil.
func (d *deviceInstance) moduleInstanceFor(refID string) *moduleInstance {
	var match *moduleInstance
	for _, mi := range d.ModuleInstances {
		if strings.HasPrefix(refID, mi.Identifier+"_") || refID == mi.Identifier {
			if match == nil || len(mi.Identifier) > len(match.Identifier) {
				match = mi
			}
		}
	}
	return match
}

// xmlFunction is a Function element hoisted out of its containing space.
type xmlFunction struct {
	Identifier    string
	Name          string
	FunctionType  string
	ProjectUID    int
	UsageID       string
	UsageText     string
	SpaceID       string
	GroupAddresses []*functionGroupAddressRef
}

// functionGroupAddressRef is a GroupAddressRef child of a Function.
type functionGroupAddressRef struct {
	Identifier string
	RefID      string
	Role       string
	ProjectUID int
	Address    string // resolved formatted address
	Name       string // resolved group address name
}

// xmlSpace is a node of the recursive location tree.
type xmlSpace struct {
	Identifier  string
	Name        string
	Type        string
	UsageID     string
	UsageText   string
	Number      string
	Description string
	ProjectUID  int
	Devices     []string // device individual addresses
	Spaces      []*xmlSpace
	Functions   []string // function identifiers
}

// xmlProjectInformation is the metadata read from project.xml.
type xmlProjectInformation struct {
	ProjectID         string
	Name              string
	LastModified      string
	GroupAddressStyle GroupAddressStyle
	GUID              string
	CreatedBy         string
	SchemaVersion     int
	ToolVersion       string
}

// applicationChannel is a Channel definition of an application program.
type applicationChannel struct {
	Identifier         string
	Text               string
	FunctionText       string
	Name               string
	Number             string
	TextParameterRefID string
}

// applicationComObject is a ComObject definition of an application program.
type applicationComObject struct {
	Identifier     string
	Name           string
	Text           string
	FunctionText   string
	Number         int
	ObjectSize     string
	ReadFlag       *bool
	WriteFlag      *bool
	CommunicationFlag *bool
	TransmitFlag   *bool
	UpdateFlag     *bool
	ReadOnInitFlag *bool
	DatapointTypes []DPTType
	BaseNumber     string // argument reference for module cloned objects
}

// applicationComObjectRef is a ComObjectRef overriding parts of a ComObject.
type applicationComObjectRef struct {
	Identifier         string
	RefID              string
	Name               string
	Text               string
	FunctionText       string
	ObjectSize         string
	ReadFlag           *bool
	WriteFlag          *bool
	CommunicationFlag  *bool
	TransmitFlag       *bool
	UpdateFlag         *bool
	ReadOnInitFlag     *bool
	DatapointTypes     []DPTType
	TextParameterRefID string
}

// allocator is a named number range used for module base number arithmetic.
type allocator struct {
	Identifier string
	Name       string
	Start      int
	End        int
	BaseValue  string // optional reference to a parent module argument
}

// argumentMeta is the catalog-side metadata of a module definition argument.
type argumentMeta struct {
	Name      string
	Allocates int
}

// applicationProgram is the retained subset of one application program XML.
type applicationProgram struct {
	Identifier    string
	ComObjects    map[string]*applicationComObject
	ComObjectRefs map[string]*applicationComObjectRef
	Allocators    map[string]*allocator
	ArgumentMetas map[string]*argumentMeta
	NumericArgs   map[string]string
	Channels      map[string]*applicationChannel
}

// product is a Products/Product entry of a hardware catalog.
type product struct {
	Identifier   string
	Text         string
	OrderNumber  string
	HardwareName string
}
