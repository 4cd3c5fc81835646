// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"reflect"
	"strings"
	"testing"
)

func newTestParser(schemaVersion int, style GroupAddressStyle) *projectParser {
	info := &xmlProjectInformation{
		SchemaVersion:     schemaVersion,
		GroupAddressStyle: style,
	}
	master := &masterData{
		Manufacturers: map[string]string{},
		SpaceUsages:   map[string]string{"SU-1": "Living Room"},
		FunctionTypes: map[string]string{},
		Translations:  translationTable{},
	}
	return newProjectParser(info, master, testLogger())
}

func TestParseProjectConnectors(t *testing.T) {

	// ETS 4 and 5.6 style: links live in a Connectors subtree and group
	// address references carry a project id prefix.
	const project0 = `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/14">
  <Project Id="P-01"><Installations><Installation>
    <Topology>
      <Area Address="1" Name="A">
        <Line Address="1" Name="L" MediumTypeRefId="MT-0">
          <DeviceInstance Id="P-01-0_DI-1" Address="4" Name="Dev"
            ProductRefId="M-0001_H-1_P-1" Hardware2ProgramRefId="M-0001_H-1_HP-1">
            <ComObjectInstanceRefs>
              <ComObjectInstanceRef Id="X1" RefId="M-0001_A-1_O-0_R-1">
                <Connectors>
                  <Send GroupAddressRefId="P-01-0_GA-5" />
                  <Receive GroupAddressRefId="P-01-0_GA-6" />
                </Connectors>
              </ComObjectInstanceRef>
              <ComObjectInstanceRef Id="X2" RefId="M-0001_A-1_O-1_R-1" />
            </ComObjectInstanceRefs>
          </DeviceInstance>
        </Line>
      </Area>
    </Topology>
  </Installation></Installations></Project>
</KNX>`

	p := newTestParser(14, GroupAddressStyleThreeLevel)
	if err := p.parse(strings.NewReader(project0)); err != nil {
		t.Fatalf("parse failed, reason: %v", err)
	}

	if len(p.devices) != 1 {
		t.Fatalf("device count assertion failed, got %d", len(p.devices))
	}
	device := p.devices[0]
	if len(device.ComObjectInstanceRefs) != 1 {
		t.Fatalf("instance ref count assertion failed, got %d",
			len(device.ComObjectInstanceRefs))
	}
	got := device.ComObjectInstanceRefs[0].Links
	if !reflect.DeepEqual(got, []string{"GA-5", "GA-6"}) {
		t.Errorf("connector links assertion failed, got %v", got)
	}
	if device.individualAddress() != "1.1.4" {
		t.Errorf("individual address assertion failed, got %q", device.individualAddress())
	}
}

func TestParseProjectSegment(t *testing.T) {

	// ETS 6 inserts a Segment between the line and its devices and moves the
	// medium type onto it.
	const project0 = `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/21">
  <Project Id="P-02"><Installations><Installation>
    <Topology>
      <Area Address="1" Name="A">
        <Line Address="1" Name="L">
          <Segment Id="S-1" Number="0" MediumTypeRefId="MT-5">
            <DeviceInstance Id="P-02-0_DI-1" Address="10" Name="IP Device"
              ProductRefId="M-0002_H-2_P-2" Hardware2ProgramRefId="M-0002_H-2_HP-2" />
          </Segment>
        </Line>
      </Area>
    </Topology>
  </Installation></Installations></Project>
</KNX>`

	p := newTestParser(21, GroupAddressStyleThreeLevel)
	if err := p.parse(strings.NewReader(project0)); err != nil {
		t.Fatalf("parse failed, reason: %v", err)
	}

	if len(p.areas) != 1 || len(p.areas[0].Lines) != 1 {
		t.Fatalf("topology shape assertion failed")
	}
	line := p.areas[0].Lines[0]
	if line.MediumType != "MT-5" {
		t.Errorf("segment medium type assertion failed, got %q", line.MediumType)
	}
	if len(line.Devices) != 1 || line.Devices[0].Address != 10 {
		t.Errorf("segment device assertion failed, got %+v", line.Devices)
	}
}

func TestParseProjectFlatGroupAddresses(t *testing.T) {

	const project0 = `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/21">
  <Project Id="P-03"><Installations><Installation>
    <GroupAddresses>
      <GroupRanges>
        <GroupRange Name="All" RangeStart="1" RangeEnd="65535">
          <GroupAddress Id="P-03-0_GA-1" Address="18438" Name="Free style" />
        </GroupRange>
      </GroupRanges>
    </GroupAddresses>
  </Installation></Installations></Project>
</KNX>`

	tests := []struct {
		style GroupAddressStyle
		want  string
	}{
		{GroupAddressStyleFree, "18438"},
		{GroupAddressStyleTwoLevel, "9/6"},
		{GroupAddressStyleThreeLevel, "9/0/6"},
	}

	for _, tt := range tests {
		t.Run(string(tt.style), func(t *testing.T) {
			p := newTestParser(21, tt.style)
			if err := p.parse(strings.NewReader(project0)); err != nil {
				t.Fatalf("parse failed, reason: %v", err)
			}
			if len(p.groupAddresses) != 1 {
				t.Fatalf("group address count assertion failed, got %d", len(p.groupAddresses))
			}
			if got := p.groupAddresses[0].Address; got != tt.want {
				t.Errorf("formatted address assertion failed, got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadProjectInfo(t *testing.T) {

	const meta = `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/21" CreatedBy="ETS6" ToolVersion="6.0.4">
  <Project Id="P-04">
    <ProjectInformation Name="Top secret" LastModified="2023-12-24T18:00:00Z"
      GroupAddressStyle="TwoLevel" Guid="deadbeef" />
  </Project>
</KNX>`

	info, err := loadProjectInfo(strings.NewReader(meta))
	if err != nil {
		t.Fatalf("loadProjectInfo failed, reason: %v", err)
	}
	if info.ProjectID != "P-04" || info.Name != "Top secret" {
		t.Errorf("project info assertion failed, got %+v", info)
	}
	if info.GroupAddressStyle != GroupAddressStyleTwoLevel {
		t.Errorf("style assertion failed, got %q", info.GroupAddressStyle)
	}
	if info.SchemaVersion != 21 {
		t.Errorf("schema version assertion failed, got %d", info.SchemaVersion)
	}
	if info.CreatedBy != "ETS6" || info.ToolVersion != "6.0.4" {
		t.Errorf("tool metadata assertion failed, got %+v", info)
	}
	if info.GUID != "deadbeef" {
		t.Errorf("guid assertion failed, got %q", info.GUID)
	}
}

func TestLoadProjectInfoDefaults(t *testing.T) {

	const meta = `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/14" CreatedBy="ETS5" ToolVersion="5.6"></KNX>`

	info, err := loadProjectInfo(strings.NewReader(meta))
	if err != nil {
		t.Fatalf("loadProjectInfo failed, reason: %v", err)
	}
	if info.GroupAddressStyle != GroupAddressStyleThreeLevel {
		t.Errorf("default style assertion failed, got %q", info.GroupAddressStyle)
	}
	if info.CreatedBy != "ETS5" {
		t.Errorf("created by assertion failed, got %q", info.CreatedBy)
	}
}
