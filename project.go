// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/knxsuite/knxproj/log"
)

// projectParser holds the object graph read from 0.xml.
type projectParser struct {
	schemaVersion int
	style         GroupAddressStyle
	spaceUsages   map[string]string
	functionTypes map[string]string
	logger        *log.Helper

	groupAddresses []*xmlGroupAddress
	groupRanges    []*xmlGroupRange
	areas          []*xmlArea
	devices        []*deviceInstance
	spaces         []*xmlSpace
	functions      []*xmlFunction

	gaByIdentifier map[string]*xmlGroupAddress
	// space device references are collected as identifiers during the
	// streaming pass and resolved to individual addresses afterwards.
	deviceAddresses map[string]string
}

func newProjectParser(info *xmlProjectInformation, master *masterData, logger *log.Helper) *projectParser {
	return &projectParser{
		schemaVersion:   info.SchemaVersion,
		style:           info.GroupAddressStyle,
		spaceUsages:     master.SpaceUsages,
		functionTypes:   master.FunctionTypes,
		logger:          logger,
		gaByIdentifier:  map[string]*xmlGroupAddress{},
		deviceAddresses: map[string]string{},
	}
}

// forEachChild iterates the direct child elements of the element whose start
// tag was just consumed. fn must consume each child's whole subtree.
func forEachChild(dec *xml.Decoder, fn func(xml.StartElement) error) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := fn(t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// parse streams 0.xml once, collecting group addresses, ranges, topology,
// devices, locations and functions.
func (p *projectParser) parse(r io.Reader) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: 0.xml: %v", ErrUnexpectedFileContent, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "Installation" {
			continue
		}
		if err := forEachChild(dec, func(child xml.StartElement) error {
			switch child.Name.Local {
			case "GroupAddresses":
				return p.parseGroupAddresses(dec)
			case "Topology":
				return p.parseTopology(dec)
			case "Locations", "Buildings":
				return p.parseLocations(dec)
			default:
				return dec.Skip()
			}
		}); err != nil {
			return fmt.Errorf("%w: 0.xml: %v", ErrUnexpectedFileContent, err)
		}
	}
	p.resolveSpaceDevices(p.spaces)
	return nil
}

// --- group addresses -------------------------------------------------------

func (p *projectParser) parseGroupAddresses(dec *xml.Decoder) error {
	return forEachChild(dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "GroupRanges":
			return forEachChild(dec, func(rangeElem xml.StartElement) error {
				if rangeElem.Name.Local != "GroupRange" {
					return dec.Skip()
				}
				gr, err := p.parseGroupRange(dec, rangeElem)
				if err != nil {
					return err
				}
				p.groupRanges = append(p.groupRanges, gr)
				return nil
			})
		case "GroupRange":
			gr, err := p.parseGroupRange(dec, child)
			if err != nil {
				return err
			}
			p.groupRanges = append(p.groupRanges, gr)
			return nil
		case "GroupAddress":
			p.addGroupAddress(child, nil)
			return dec.Skip()
		default:
			return dec.Skip()
		}
	})
}

func (p *projectParser) parseGroupRange(dec *xml.Decoder, start xml.StartElement) (*xmlGroupRange, error) {
	gr := &xmlGroupRange{
		Name:       attrValue(start, "Name"),
		RangeStart: parseInt(attrValue(start, "RangeStart")),
		RangeEnd:   parseInt(attrValue(start, "RangeEnd")),
		Comment:    decodeRichText(attrValue(start, "Comment")),
	}
	err := forEachChild(dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "GroupRange":
			nested, err := p.parseGroupRange(dec, child)
			if err != nil {
				return err
			}
			gr.Ranges = append(gr.Ranges, nested)
			return nil
		case "GroupAddress":
			p.addGroupAddress(child, gr)
			return dec.Skip()
		default:
			return dec.Skip()
		}
	})
	return gr, err
}

func (p *projectParser) addGroupAddress(element xml.StartElement, gr *xmlGroupRange) {
	raw := parseInt(attrValue(element, "Address"))
	ga := &xmlGroupAddress{
		Name:        attrValue(element, "Name"),
		RawAddress:  uint16(raw),
		Address:     FormatGroupAddress(uint16(raw), p.style),
		ProjectUID:  parseInt(attrValue(element, "Puid")),
		Description: attrValue(element, "Description"),
		Comment:     decodeRichText(attrValue(element, "Comment")),
		DPT:         p.parseDPT(attrValue(element, "DatapointType")),
		DataSecure:  attrValue(element, "Security") == "On",
	}
	if id := attrValue(element, "Id"); id != "" {
		parts := strings.SplitN(id, "_", 2)
		ga.Identifier = parts[len(parts)-1]
	}
	p.groupAddresses = append(p.groupAddresses, ga)
	p.gaByIdentifier[ga.Identifier] = ga
	if gr != nil {
		gr.GroupAddresses = append(gr.GroupAddresses, ga.Address)
	}
}

// parseDPT parses a datapoint type attribute, logging unknown tokens.
func (p *projectParser) parseDPT(value string) *DPTType {
	for _, token := range strings.Fields(value) {
		if _, ok := parseDPTToken(token); !ok {
			p.logger.Warnf("unknown datapoint type token %q", token)
		}
	}
	return GetDPTType(value)
}

func (p *projectParser) parseDPTList(value string) []DPTType {
	for _, token := range strings.Fields(value) {
		if _, ok := parseDPTToken(token); !ok {
			p.logger.Warnf("unknown datapoint type token %q", token)
		}
	}
	return ParseDPTTypes(value)
}

// --- topology --------------------------------------------------------------

func (p *projectParser) parseTopology(dec *xml.Decoder) error {
	return forEachChild(dec, func(child xml.StartElement) error {
		if child.Name.Local != "Area" {
			return dec.Skip()
		}
		return p.parseArea(dec, child)
	})
}

func (p *projectParser) parseArea(dec *xml.Decoder, start xml.StartElement) error {
	area := &xmlArea{
		Address:     parseInt(attrValue(start, "Address")),
		Name:        attrValue(start, "Name"),
		Description: attrValue(start, "Description"),
	}
	p.areas = append(p.areas, area)
	return forEachChild(dec, func(child xml.StartElement) error {
		if child.Name.Local != "Line" {
			return dec.Skip()
		}
		return p.parseLine(dec, child, area)
	})
}

func (p *projectParser) parseLine(dec *xml.Decoder, start xml.StartElement, area *xmlArea) error {
	line := &xmlLine{
		Address:     parseInt(attrValue(start, "Address")),
		Name:        attrValue(start, "Name"),
		Description: attrValue(start, "Description"),
		MediumType:  attrValue(start, "MediumTypeRefId"),
		Area:        area,
	}
	area.Lines = append(area.Lines, line)
	return forEachChild(dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "DeviceInstance":
			return p.parseDevice(dec, child, line)
		case "Segment":
			// Schema 21 moves the medium type onto a Segment indirection
			// between the line and its devices.
			if mt := attrValue(child, "MediumTypeRefId"); mt != "" {
				line.MediumType = mt
			}
			return forEachChild(dec, func(segChild xml.StartElement) error {
				if segChild.Name.Local != "DeviceInstance" {
					return dec.Skip()
				}
				return p.parseDevice(dec, segChild, line)
			})
		default:
			return dec.Skip()
		}
	})
}

func (p *projectParser) parseDevice(dec *xml.Decoder, start xml.StartElement, line *xmlLine) error {
	address := attrValue(start, "Address")
	if address == "" {
		// Devices without an individual address (power supplies etc.) are
		// not part of the output.
		return dec.Skip()
	}
	productRef := attrValue(start, "ProductRefId")
	device := &deviceInstance{
		Identifier:         attrValue(start, "Id"),
		Address:            parseInt(address),
		Name:               attrValue(start, "Name"),
		Description:        attrValue(start, "Description"),
		LastModified:       attrValue(start, "LastModified"),
		ProjectUID:         parseInt(attrValue(start, "Puid")),
		ProductRef:         productRef,
		HardwareProgramRef: attrValue(start, "Hardware2ProgramRefId"),
		Manufacturer:       manufacturerPrefix(productRef),
		Line:               line,
		ParameterValues:    map[string]*string{},
	}
	line.Devices = append(line.Devices, device)
	p.devices = append(p.devices, device)
	p.deviceAddresses[device.Identifier] = device.individualAddress()

	return forEachChild(dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "AdditionalAddresses":
			return forEachChild(dec, func(addr xml.StartElement) error {
				if a := attrValue(addr, "Address"); a != "" {
					device.AdditionalAddresses = append(device.AdditionalAddresses,
						device.formatAdditionalAddress(a))
				}
				return dec.Skip()
			})
		case "ComObjectInstanceRefs":
			return forEachChild(dec, func(ref xml.StartElement) error {
				return p.parseComObjectInstanceRef(dec, ref, device)
			})
		case "ModuleInstances":
			return forEachChild(dec, func(mi xml.StartElement) error {
				if mi.Name.Local != "ModuleInstance" {
					return dec.Skip()
				}
				return p.parseModuleInstance(dec, mi, device)
			})
		case "GroupObjectTree":
			return p.parseGroupObjectTree(dec, device)
		case "ParameterInstanceRefs":
			return forEachChild(dec, func(ref xml.StartElement) error {
				if ref.Name.Local == "ParameterInstanceRef" {
					var value *string
					for _, a := range ref.Attr {
						if a.Name.Local == "Value" {
							v := a.Value
							value = &v
						}
					}
					device.ParameterValues[attrValue(ref, "RefId")] = value
				}
				return dec.Skip()
			})
		default:
			return dec.Skip()
		}
	})
}

func (p *projectParser) parseComObjectInstanceRef(dec *xml.Decoder, start xml.StartElement, device *deviceInstance) error {
	ref := &comObjectInstanceRef{
		Identifier:     attrValue(start, "Id"),
		RefID:          attrValue(start, "RefId"),
		Text:           attrValue(start, "Text"),
		FunctionText:   attrValue(start, "FunctionText"),
		Description:    attrValue(start, "Description"),
		ReadFlag:       parseFlag(attrValue(start, "ReadFlag")),
		WriteFlag:      parseFlag(attrValue(start, "WriteFlag")),
		CommunicationFlag: parseFlag(attrValue(start, "CommunicationFlag")),
		TransmitFlag:   parseFlag(attrValue(start, "TransmitFlag")),
		UpdateFlag:     parseFlag(attrValue(start, "UpdateFlag")),
		ReadOnInitFlag: parseFlag(attrValue(start, "ReadOnInitFlag")),
		DatapointTypes: p.parseDPTList(attrValue(start, "DatapointType")),
		ChannelID:      attrValue(start, "ChannelId"),
	}

	if p.schemaVersion >= SchemaETS57 {
		ref.Links = strings.Fields(attrValue(start, "Links"))
		if err := dec.Skip(); err != nil {
			return err
		}
	} else {
		// Older schemas link through a Connectors subtree; the group address
		// reference carries a project id prefix that has to go.
		if err := forEachChild(dec, func(child xml.StartElement) error {
			if child.Name.Local != "Connectors" {
				return dec.Skip()
			}
			return forEachChild(dec, func(conn xml.StartElement) error {
				switch conn.Name.Local {
				case "Send", "Receive":
					if gaRef := attrValue(conn, "GroupAddressRefId"); gaRef != "" {
						if i := strings.IndexByte(gaRef, '_'); i >= 0 {
							gaRef = gaRef[i+1:]
						}
						ref.Links = append(ref.Links, gaRef)
					}
				}
				return dec.Skip()
			})
		}); err != nil {
			return err
		}
	}

	// Orphan policy: an instance ref that links nothing never reaches the
	// output.
	if len(ref.Links) == 0 {
		return nil
	}
	device.ComObjectInstanceRefs = append(device.ComObjectInstanceRefs, ref)
	return nil
}

func (p *projectParser) parseModuleInstance(dec *xml.Decoder, start xml.StartElement, device *deviceInstance) error {
	mi := &moduleInstance{
		Identifier: attrValue(start, "Id"),
		RefID:      attrValue(start, "RefId"),
	}
	device.ModuleInstances = append(device.ModuleInstances, mi)
	return forEachChild(dec, func(child xml.StartElement) error {
		if child.Name.Local != "Arguments" {
			return dec.Skip()
		}
		return forEachChild(dec, func(arg xml.StartElement) error {
			if arg.Name.Local == "Argument" {
				mi.Arguments = append(mi.Arguments, &moduleInstanceArgument{
					RefID: attrValue(arg, "RefId"),
					Value: attrValue(arg, "Value"),
				})
			}
			return dec.Skip()
		})
	})
}

// parseGroupObjectTree walks the device's group object tree and keeps channel
// nodes that actually use group object instances.
func (p *projectParser) parseGroupObjectTree(dec *xml.Decoder, device *deviceInstance) error {
	var walk func(start xml.StartElement) error
	walk = func(start xml.StartElement) error {
		if start.Name.Local == "Node" && attrValue(start, "Type") == "Channel" {
			instances := strings.Fields(attrValue(start, "GroupObjectInstances"))
			if len(instances) > 0 {
				device.Channels = append(device.Channels, &channelNode{
					RefID:                  attrValue(start, "RefId"),
					Text:                   attrValue(start, "Text"),
					GroupObjectInstanceIDs: instances,
				})
			}
		}
		return forEachChild(dec, walk)
	}
	return forEachChild(dec, walk)
}

// --- locations -------------------------------------------------------------

func (p *projectParser) parseLocations(dec *xml.Decoder) error {
	return forEachChild(dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Space", "BuildingPart":
			space, err := p.parseSpace(dec, child)
			if err != nil {
				return err
			}
			p.spaces = append(p.spaces, space)
			return nil
		default:
			return dec.Skip()
		}
	})
}

func (p *projectParser) parseSpace(dec *xml.Decoder, start xml.StartElement) (*xmlSpace, error) {
	usageID := attrValue(start, "Usage")
	space := &xmlSpace{
		Identifier:  attrValue(start, "Id"),
		Name:        attrValue(start, "Name"),
		Type:        attrValue(start, "Type"),
		UsageID:     usageID,
		UsageText:   p.spaceUsages[usageID],
		Number:      attrValue(start, "Number"),
		Description: attrValue(start, "Description"),
		ProjectUID:  parseInt(attrValue(start, "Puid")),
	}
	err := forEachChild(dec, func(child xml.StartElement) error {
		switch child.Name.Local {
		case "Space", "BuildingPart":
			nested, err := p.parseSpace(dec, child)
			if err != nil {
				return err
			}
			space.Spaces = append(space.Spaces, nested)
			return nil
		case "DeviceInstanceRef":
			// Resolved to an individual address once all devices are known.
			space.Devices = append(space.Devices, attrValue(child, "RefId"))
			return dec.Skip()
		case "Function":
			fn, err := p.parseFunction(dec, child, space)
			if err != nil {
				return err
			}
			p.functions = append(p.functions, fn)
			space.Functions = append(space.Functions, fn.Identifier)
			return nil
		default:
			return dec.Skip()
		}
	})
	return space, err
}

func (p *projectParser) parseFunction(dec *xml.Decoder, start xml.StartElement, space *xmlSpace) (*xmlFunction, error) {
	typeID := attrValue(start, "Type")
	fn := &xmlFunction{
		Identifier:   attrValue(start, "Id"),
		Name:         attrValue(start, "Name"),
		FunctionType: typeID,
		ProjectUID:   parseInt(attrValue(start, "Puid")),
		UsageID:      typeID,
		UsageText:    p.functionTypes[typeID],
		SpaceID:      space.Identifier,
	}
	err := forEachChild(dec, func(child xml.StartElement) error {
		if child.Name.Local == "GroupAddressRef" {
			fn.GroupAddresses = append(fn.GroupAddresses, &functionGroupAddressRef{
				Identifier: attrValue(child, "Id"),
				RefID:      attrValue(child, "RefId"),
				Role:       attrValue(child, "Role"),
				ProjectUID: parseInt(attrValue(child, "Puid")),
			})
		}
		return dec.Skip()
	})
	return fn, err
}

// resolveSpaceDevices rewrites the collected device identifiers into
// individual addresses, dropping references to devices that were not emitted.
func (p *projectParser) resolveSpaceDevices(spaces []*xmlSpace) {
	for _, space := range spaces {
		resolved := space.Devices[:0]
		for _, id := range space.Devices {
			if ia, ok := p.deviceAddresses[id]; ok {
				resolved = append(resolved, ia)
			}
		}
		space.Devices = resolved
		p.resolveSpaceDevices(space.Spaces)
	}
}

// resolveFunctionAddresses fills each function group address reference with
// the formatted address. A dangling reference is fatal.
func (p *projectParser) resolveFunctionAddresses() error {
	for _, fn := range p.functions {
		for _, ref := range fn.GroupAddresses {
			local := ref.RefID
			if i := strings.IndexByte(local, '_'); i >= 0 {
				local = local[i+1:]
			}
			ga, ok := p.gaByIdentifier[local]
			if !ok {
				ga, ok = p.gaByIdentifier[ref.RefID]
			}
			if !ok {
				return fmt.Errorf("%w: function %s references unknown group address %s",
					ErrUnexpectedData, fn.Identifier, ref.RefID)
			}
			ref.Address = ga.Address
			ref.Name = ga.Name
		}
	}
	return nil
}

// --- project information ---------------------------------------------------

var projectNamespace = regexp.MustCompile(`/project/(\d+)`)

// loadProjectInfo reads project.xml (or Project.xml). A missing
// ProjectInformation element yields defaults rather than an error.
func loadProjectInfo(r io.Reader) (*xmlProjectInformation, error) {
	info := &xmlProjectInformation{
		GroupAddressStyle: GroupAddressStyleThreeLevel,
	}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: project.xml: %v", ErrUnexpectedFileContent, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "KNX":
			info.CreatedBy = attrValue(start, "CreatedBy")
			info.ToolVersion = attrValue(start, "ToolVersion")
			if m := projectNamespace.FindStringSubmatch(start.Name.Space); m != nil {
				info.SchemaVersion = parseInt(m[1])
			}
		case "Project":
			info.ProjectID = attrValue(start, "Id")
		case "ProjectInformation":
			info.Name = attrValue(start, "Name")
			info.LastModified = attrValue(start, "LastModified")
			info.GUID = attrValue(start, "Guid")
			if style := attrValue(start, "GroupAddressStyle"); style != "" {
				info.GroupAddressStyle = GroupAddressStyle(style)
			}
		}
	}
	return info, nil
}
