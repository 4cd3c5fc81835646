// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"sort"
	"strconv"
)

// Flags are the six communication flags of a communication object.
type Flags struct {
	Read          bool `json:"read"`
	Write         bool `json:"write"`
	Communication bool `json:"communication"`
	Transmit      bool `json:"transmit"`
	Update        bool `json:"update"`
	ReadOnInit    bool `json:"read_on_init"`
}

// ProjectInfo is the project metadata of the output document.
type ProjectInfo struct {
	ProjectID         string            `json:"project_id"`
	Name              string            `json:"name"`
	LastModified      string            `json:"last_modified"`
	GroupAddressStyle GroupAddressStyle `json:"group_address_style"`
	GUID              string            `json:"guid"`
	CreatedBy         string            `json:"created_by"`
	SchemaVersion     int               `json:"schema_version"`
	ToolVersion       string            `json:"tool_version"`
	LibraryVersion    string            `json:"library_version"`
	LanguageCode      string            `json:"language_code"`
}

// CommunicationObject is one resolved communication object instance.
type CommunicationObject struct {
	Name              string           `json:"name"`
	Number            int              `json:"number"`
	Text              string           `json:"text"`
	FunctionText      string           `json:"function_text"`
	Description       string           `json:"description"`
	DeviceAddress     string           `json:"device_address"`
	ObjectSize        string           `json:"object_size"`
	Flags             Flags            `json:"flags"`
	DPTs              []DPTType        `json:"dpts"`
	Channel           string           `json:"channel"`
	Module            *comObjectModule `json:"module"`
	GroupAddressLinks []string         `json:"group_address_links"`
}

// Channel is a device channel with the communication objects it groups.
type Channel struct {
	Identifier             string   `json:"identifier"`
	Name                   string   `json:"name"`
	CommunicationObjectIDs []string `json:"communication_object_ids"`
}

// Device is one device instance of the output document.
type Device struct {
	Name                   string    `json:"name"`
	IndividualAddress      string    `json:"individual_address"`
	Description            string    `json:"description"`
	ProjectUID             int       `json:"project_uid"`
	ManufacturerName       string    `json:"manufacturer_name"`
	ProductName            string    `json:"product_name"`
	HardwareName           string    `json:"hardware_name"`
	OrderNumber            string    `json:"order_number"`
	ApplicationProgramRef  string    `json:"application_program_ref"`
	AdditionalAddresses    []string  `json:"additional_addresses"`
	CommunicationObjectIDs []string  `json:"communication_object_ids"`
	Channels               []Channel `json:"channels"`
}

// Line is one topology line.
type Line struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MediumType  string   `json:"medium_type"`
	Devices     []string `json:"devices"`
}

// Area is one topology area.
type Area struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Lines       map[string]*Line `json:"lines"`
}

// Space is one node of the location tree.
type Space struct {
	Type        string            `json:"type"`
	Identifier  string            `json:"identifier"`
	Name        string            `json:"name"`
	UsageID     string            `json:"usage_id"`
	UsageText   string            `json:"usage_text"`
	Number      string            `json:"number"`
	Description string            `json:"description"`
	ProjectUID  int               `json:"project_uid"`
	Devices     []string          `json:"devices"`
	Spaces      map[string]*Space `json:"spaces"`
	Functions   []string          `json:"functions"`
}

// GroupAddress is one resolved group address.
type GroupAddress struct {
	Name                   string   `json:"name"`
	Identifier             string   `json:"identifier"`
	RawAddress             uint16   `json:"raw_address"`
	Address                string   `json:"address"`
	ProjectUID             int      `json:"project_uid"`
	DPT                    *DPTType `json:"dpt"`
	DataSecure             bool     `json:"data_secure"`
	CommunicationObjectIDs []string `json:"communication_object_ids"`
	Description            string   `json:"description"`
	Comment                string   `json:"comment"`
}

// GroupRange is one node of the group range tree.
type GroupRange struct {
	Name           string                 `json:"name"`
	AddressStart   int                    `json:"address_start"`
	AddressEnd     int                    `json:"address_end"`
	Comment        string                 `json:"comment"`
	GroupAddresses []string               `json:"group_addresses"`
	GroupRanges    map[string]*GroupRange `json:"group_ranges"`
}

// FunctionGroupAddress is a group address reference of a function.
type FunctionGroupAddress struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	ProjectUID int    `json:"project_uid"`
	Role       string `json:"role"`
}

// Function is one room function.
type Function struct {
	Identifier     string                           `json:"identifier"`
	Name           string                           `json:"name"`
	FunctionType   string                           `json:"function_type"`
	ProjectUID     int                              `json:"project_uid"`
	UsageText      string                           `json:"usage_text"`
	SpaceID        string                           `json:"space_id"`
	GroupAddresses map[string]*FunctionGroupAddress `json:"group_addresses"`
}

// Document is the resolved project returned to the caller. All containers
// are keyed by stable strings, so JSON rendering is deterministic.
type Document struct {
	Info                 ProjectInfo                     `json:"info"`
	CommunicationObjects map[string]*CommunicationObject `json:"communication_objects"`
	Devices              map[string]*Device              `json:"devices"`
	Topology             map[string]*Area                `json:"topology"`
	Locations            map[string]*Space               `json:"locations"`
	GroupAddresses       map[string]*GroupAddress        `json:"group_addresses"`
	GroupRanges          map[string]*GroupRange          `json:"group_ranges"`
	Functions            map[string]*Function            `json:"functions"`
}

// transform flattens the resolved internal graph into the public document.
func (kp *File) transform(parser *projectParser, info *xmlProjectInformation, master *masterData) *Document {
	doc := &Document{
		Info: ProjectInfo{
			ProjectID:         info.ProjectID,
			Name:              info.Name,
			LastModified:      info.LastModified,
			GroupAddressStyle: info.GroupAddressStyle,
			GUID:              info.GUID,
			CreatedBy:         info.CreatedBy,
			SchemaVersion:     info.SchemaVersion,
			ToolVersion:       info.ToolVersion,
			LibraryVersion:    Version,
			LanguageCode:      master.LanguageCode,
		},
		CommunicationObjects: map[string]*CommunicationObject{},
		Devices:              map[string]*Device{},
		Topology:             map[string]*Area{},
		Locations:            map[string]*Space{},
		GroupAddresses:       map[string]*GroupAddress{},
		GroupRanges:          map[string]*GroupRange{},
		Functions:            map[string]*Function{},
	}

	for _, ga := range parser.groupAddresses {
		doc.GroupAddresses[ga.Address] = &GroupAddress{
			Name:        ga.Name,
			Identifier:  ga.Identifier,
			RawAddress:  ga.RawAddress,
			Address:     ga.Address,
			ProjectUID:  ga.ProjectUID,
			DPT:         ga.DPT,
			DataSecure:  ga.DataSecure,
			Description: ga.Description,
			Comment:     ga.Comment,
		}
	}

	kp.transformDevices(parser, doc)
	kp.transformTopology(parser, doc)

	for _, space := range parser.spaces {
		doc.Locations[space.Name] = transformSpace(space)
	}
	rawByAddress := make(map[string]uint16, len(parser.groupAddresses))
	for _, ga := range parser.groupAddresses {
		rawByAddress[ga.Address] = ga.RawAddress
	}
	for _, gr := range parser.groupRanges {
		doc.GroupRanges[gr.Name] = transformGroupRange(gr, rawByAddress)
	}
	for _, fn := range parser.functions {
		function := &Function{
			Identifier:     fn.Identifier,
			Name:           fn.Name,
			FunctionType:   fn.FunctionType,
			ProjectUID:     fn.ProjectUID,
			UsageText:      fn.UsageText,
			SpaceID:        fn.SpaceID,
			GroupAddresses: map[string]*FunctionGroupAddress{},
		}
		for _, ref := range fn.GroupAddresses {
			function.GroupAddresses[ref.RefID] = &FunctionGroupAddress{
				Address:    ref.Address,
				Name:       ref.Name,
				ProjectUID: ref.ProjectUID,
				Role:       ref.Role,
			}
		}
		doc.Functions[fn.Identifier] = function
	}

	combine(doc)
	return doc
}

// transformDevices emits devices and their communication objects, dropping
// objects whose links all point at unknown group addresses.
func (kp *File) transformDevices(parser *projectParser, doc *Document) {
	for _, device := range parser.devices {
		ia := device.individualAddress()
		out := &Device{
			Name:                  device.Name,
			IndividualAddress:     ia,
			Description:           device.Description,
			ProjectUID:            device.ProjectUID,
			ManufacturerName:      device.ManufacturerName,
			ProductName:           device.ProductName,
			HardwareName:          device.HardwareName,
			OrderNumber:           device.OrderNumber,
			ApplicationProgramRef: device.ApplicationProgramRef,
			AdditionalAddresses:   device.AdditionalAddresses,
		}
		if out.Name == "" {
			out.Name = device.ProductName
		}

		for _, ref := range device.ComObjectInstanceRefs {
			var links []string
			for _, link := range ref.Links {
				if ga, ok := parser.gaByIdentifier[link]; ok {
					links = append(links, ga.Address)
				}
			}
			if len(links) == 0 {
				// All links point nowhere; the object is silently dropped.
				continue
			}
			sort.Strings(links)
			key := ia + "/" + ref.RefID
			doc.CommunicationObjects[key] = &CommunicationObject{
				Name:              ref.Name,
				Number:            ref.Number,
				Text:              ref.Text,
				FunctionText:      ref.FunctionText,
				Description:       ref.Description,
				DeviceAddress:     ia,
				ObjectSize:        ref.ObjectSize,
				Flags:             ref.flags(),
				DPTs:              ref.DatapointTypes,
				Channel:           ref.ChannelID,
				Module:            ref.Module,
				GroupAddressLinks: links,
			}
			out.CommunicationObjectIDs = append(out.CommunicationObjectIDs, key)
			for _, address := range links {
				ga := doc.GroupAddresses[address]
				ga.CommunicationObjectIDs = append(ga.CommunicationObjectIDs, key)
			}
		}
		sort.Strings(out.CommunicationObjectIDs)

		for _, node := range device.Channels {
			channel := Channel{
				Identifier: node.RefID,
				Name:       node.Name,
			}
			// Group object instance ids name the raw instance refs directly.
			for _, instance := range node.GroupObjectInstanceIDs {
				key := ia + "/" + instance
				if _, ok := doc.CommunicationObjects[key]; ok {
					channel.CommunicationObjectIDs = append(channel.CommunicationObjectIDs, key)
				}
			}
			out.Channels = append(out.Channels, channel)
		}

		doc.Devices[ia] = out
	}

	for _, ga := range doc.GroupAddresses {
		sort.Strings(ga.CommunicationObjectIDs)
	}
}

// transformTopology emits the area / line tree with devices in address order.
func (kp *File) transformTopology(parser *projectParser, doc *Document) {
	for _, area := range parser.areas {
		outArea := &Area{
			Name:        area.Name,
			Description: area.Description,
			Lines:       map[string]*Line{},
		}
		for _, line := range area.Lines {
			outLine := &Line{
				Name:        line.Name,
				Description: line.Description,
				MediumType:  MediumTypeName(line.MediumType),
			}
			devices := append([]*deviceInstance(nil), line.Devices...)
			sort.Slice(devices, func(i, j int) bool {
				return devices[i].Address < devices[j].Address
			})
			for _, device := range devices {
				outLine.Devices = append(outLine.Devices, device.individualAddress())
			}
			outArea.Lines[strconv.Itoa(line.Address)] = outLine
		}
		doc.Topology[strconv.Itoa(area.Address)] = outArea
	}
}

func transformSpace(space *xmlSpace) *Space {
	out := &Space{
		Type:        space.Type,
		Identifier:  space.Identifier,
		Name:        space.Name,
		UsageID:     space.UsageID,
		UsageText:   space.UsageText,
		Number:      space.Number,
		Description: space.Description,
		ProjectUID:  space.ProjectUID,
		Devices:     space.Devices,
		Spaces:      map[string]*Space{},
		Functions:   space.Functions,
	}
	sort.Strings(out.Devices)
	for _, nested := range space.Spaces {
		out.Spaces[nested.Name] = transformSpace(nested)
	}
	return out
}

func transformGroupRange(gr *xmlGroupRange, rawByAddress map[string]uint16) *GroupRange {
	out := &GroupRange{
		Name:           gr.Name,
		AddressStart:   gr.RangeStart,
		AddressEnd:     gr.RangeEnd,
		Comment:        gr.Comment,
		GroupAddresses: gr.GroupAddresses,
		GroupRanges:    map[string]*GroupRange{},
	}
	// Direct addresses in raw address order.
	sort.Slice(out.GroupAddresses, func(i, j int) bool {
		return rawByAddress[out.GroupAddresses[i]] < rawByAddress[out.GroupAddresses[j]]
	})
	for _, nested := range gr.Ranges {
		out.GroupRanges[nested.Name] = transformGroupRange(nested, rawByAddress)
	}
	return out
}

// combine infers missing datapoint types: communication objects fall back to
// their object size, group addresses to the consensus of their linked
// objects.
func combine(doc *Document) {
	for _, co := range doc.CommunicationObjects {
		if len(co.DPTs) == 0 {
			co.DPTs = dptFromObjectSize(co.ObjectSize)
		}
	}
	for _, ga := range doc.GroupAddresses {
		if ga.DPT != nil {
			continue
		}
		var linked []*CommunicationObject
		for _, id := range ga.CommunicationObjectIDs {
			linked = append(linked, doc.CommunicationObjects[id])
		}
		ga.DPT = dptFromCommObjects(linked)
	}
}

func dptFromObjectSize(objectSize string) []DPTType {
	switch objectSize {
	case "1 Bit":
		return []DPTType{{Main: 1}}
	case "2 Bit":
		// DPT 23.x also has 2 bits; it is deliberately ignored here.
		return []DPTType{{Main: 2}}
	case "4 Bit":
		return []DPTType{{Main: 3}}
	}
	return nil
}

// dptFromCommObjects returns the consensus datapoint type of a set of
// communication objects: the single shared type, a main-only type when only
// the main numbers agree, or nil.
func dptFromCommObjects(commObjects []*CommunicationObject) *DPTType {
	var dpts []DPTType
	for _, co := range commObjects {
		for _, dpt := range co.DPTs {
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
	}
	if len(dpts) == 0 {
		return nil
	}
	if len(dpts) == 1 {
		return &dpts[0]
	}
	main := dpts[0].Main
	for _, dpt := range dpts[1:] {
		if dpt.Main != main {
			return nil
		}
	}
	return &DPTType{Main: main}
}
