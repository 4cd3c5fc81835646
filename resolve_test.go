// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"errors"
	"testing"
)

const testAppID = "M-0083_A-0048-23-BEEF"

func newTestFile() *File {
	return &File{opts: &Options{}, logger: testLogger()}
}

func testTopologyDevice() *deviceInstance {
	area := &xmlArea{Address: 1}
	line := &xmlLine{Address: 1, Area: area}
	return &deviceInstance{
		Identifier:      "P-05-0_DI-1",
		Address:         1,
		Line:            line,
		ParameterValues: map[string]*string{},
	}
}

func moduleTestProgram() *applicationProgram {
	return &applicationProgram{
		Identifier: testAppID,
		ComObjects: map[string]*applicationComObject{
			testAppID + "_MD-1_O-3": {
				Identifier: testAppID + "_MD-1_O-3",
				Name:       "Obj3",
				Text:       "Switch",
				Number:     3,
				ObjectSize: "1 Bit",
				BaseNumber: testAppID + "_MD-1_A-2",
			},
		},
		ComObjectRefs: map[string]*applicationComObjectRef{
			testAppID + "_MD-1_O-3_R-4": {
				Identifier: testAppID + "_MD-1_O-3_R-4",
				RefID:      testAppID + "_MD-1_O-3",
			},
		},
		Allocators: map[string]*allocator{
			testAppID + "_L-1": {Identifier: testAppID + "_L-1", Start: 10, End: 100},
		},
		ArgumentMetas: map[string]*argumentMeta{
			testAppID + "_MD-1_A-2": {Name: "BaseNumber", Allocates: 5},
		},
		NumericArgs: map[string]string{},
		Channels:    map[string]*applicationChannel{},
	}
}

func TestResolveBaseNumberAllocator(t *testing.T) {

	kp := newTestFile()
	app := moduleTestProgram()
	device := testTopologyDevice()
	device.ModuleInstances = []*moduleInstance{{
		Identifier: "MD-1_M-1_MI-2",
		RefID:      "MD-1",
		Arguments: []*moduleInstanceArgument{
			{RefID: "MD-1_A-2", Value: "L-1"},
		},
	}}
	ref := &comObjectInstanceRef{
		RefID:          "MD-1_M-1_MI-2_O-3_R-4",
		ComObjectRefID: testAppID + "_MD-1_O-3_R-4",
		Links:          []string{"GA-1"},
	}
	device.ComObjectInstanceRefs = []*comObjectInstanceRef{ref}

	if err := kp.mergeApplicationProgram(app, []*deviceInstance{device}); err != nil {
		t.Fatalf("mergeApplicationProgram failed, reason: %v", err)
	}

	// allocator start 10 + allocates 5 * (instance 2 - 1) = 15, plus the
	// object's root number 3.
	if ref.Number != 18 {
		t.Errorf("effective number assertion failed, got %d, want 18", ref.Number)
	}
	if ref.Module == nil {
		t.Fatalf("module attribution missing")
	}
	if ref.Module.Definition != "MD-1" || ref.Module.RootNumber != 3 {
		t.Errorf("module attribution assertion failed, got %+v", ref.Module)
	}
	arg := device.ModuleInstances[0].Arguments[0]
	if arg.Name != "BaseNumber" || arg.Allocates != 5 {
		t.Errorf("argument metadata assertion failed, got %+v", arg)
	}
}

func TestResolveBaseNumberLiteral(t *testing.T) {

	kp := newTestFile()
	app := moduleTestProgram()
	device := testTopologyDevice()
	device.ModuleInstances = []*moduleInstance{{
		Identifier: "MD-1_M-1_MI-1",
		RefID:      "MD-1",
		Arguments: []*moduleInstanceArgument{
			{RefID: "MD-1_A-2", Value: "7"},
		},
	}}
	ref := &comObjectInstanceRef{
		RefID:          "MD-1_M-1_MI-1_O-3_R-4",
		ComObjectRefID: testAppID + "_MD-1_O-3_R-4",
		Links:          []string{"GA-1"},
	}
	device.ComObjectInstanceRefs = []*comObjectInstanceRef{ref}

	if err := kp.mergeApplicationProgram(app, []*deviceInstance{device}); err != nil {
		t.Fatalf("mergeApplicationProgram failed, reason: %v", err)
	}
	if ref.Number != 10 {
		t.Errorf("effective number assertion failed, got %d, want 10", ref.Number)
	}
}

func TestResolveBaseNumberMissingAllocator(t *testing.T) {

	kp := newTestFile()
	app := moduleTestProgram()
	delete(app.Allocators, testAppID+"_L-1")
	device := testTopologyDevice()
	device.ModuleInstances = []*moduleInstance{{
		Identifier: "MD-1_M-1_MI-1",
		RefID:      "MD-1",
		Arguments: []*moduleInstanceArgument{
			{RefID: "MD-1_A-2", Value: "L-1"},
		},
	}}
	device.ComObjectInstanceRefs = []*comObjectInstanceRef{{
		RefID:          "MD-1_M-1_MI-1_O-3_R-4",
		ComObjectRefID: testAppID + "_MD-1_O-3_R-4",
		Links:          []string{"GA-1"},
	}}

	err := kp.mergeApplicationProgram(app, []*deviceInstance{device})
	if !errors.Is(err, ErrUnexpectedData) {
		t.Errorf("expected ErrUnexpectedData, got %v", err)
	}
}

func TestResolveSubModuleBaseValue(t *testing.T) {

	kp := newTestFile()
	app := moduleTestProgram()
	app.ComObjects[testAppID+"_MD-1_O-3"].BaseNumber = testAppID + "_MD-1_SM-1_A-9"
	app.ArgumentMetas[testAppID+"_MD-1_SM-1_A-9"] = &argumentMeta{Name: "SubBase", Allocates: 2}
	app.Allocators[testAppID+"_L-7"] = &allocator{
		Identifier: testAppID + "_L-7",
		Start:      4,
		BaseValue:  "MD-1_A-8",
	}
	app.NumericArgs[testAppID+"_MD-1_A-8"] = "40"

	device := testTopologyDevice()
	device.ModuleInstances = []*moduleInstance{{
		Identifier: "MD-1_M-1_MI-3_SM-1",
		RefID:      "MD-1_SM-1",
		Arguments: []*moduleInstanceArgument{
			{RefID: "MD-1_SM-1_A-9", Value: "L-7"},
		},
	}}
	ref := &comObjectInstanceRef{
		RefID:          "MD-1_M-1_MI-3_SM-1_O-3_R-4",
		ComObjectRefID: testAppID + "_MD-1_O-3_R-4",
		Links:          []string{"GA-1"},
	}
	device.ComObjectInstanceRefs = []*comObjectInstanceRef{ref}

	if err := kp.mergeApplicationProgram(app, []*deviceInstance{device}); err != nil {
		t.Fatalf("mergeApplicationProgram failed, reason: %v", err)
	}

	// allocator start 4 + allocates 2 * (instance 3 - 1) = 8, plus the base
	// value 40 of the parent module, plus root number 3.
	if ref.Number != 51 {
		t.Errorf("effective number assertion failed, got %d, want 51", ref.Number)
	}
}

func TestResolveInstanceRefInheritance(t *testing.T) {

	kp := newTestFile()
	app := &applicationProgram{
		Identifier: testAppID,
		ComObjects: map[string]*applicationComObject{
			testAppID + "_O-3": {
				Identifier:   testAppID + "_O-3",
				Name:         "Obj3",
				Text:         "Object text",
				FunctionText: "Object function",
				Number:       3,
				ObjectSize:   "1 Bit",
				ReadFlag:     parseFlag("Enabled"),
				WriteFlag:    parseFlag("Disabled"),
			},
		},
		ComObjectRefs: map[string]*applicationComObjectRef{
			testAppID + "_O-3_R-4": {
				Identifier:     testAppID + "_O-3_R-4",
				RefID:          testAppID + "_O-3",
				Text:           "Ref text",
				DatapointTypes: []DPTType{{Main: 1, Sub: intPtr(1)}},
				WriteFlag:      parseFlag("Enabled"),
			},
		},
		Allocators:    map[string]*allocator{},
		ArgumentMetas: map[string]*argumentMeta{},
		NumericArgs:   map[string]string{},
		Channels:      map[string]*applicationChannel{},
	}
	device := testTopologyDevice()
	ref := &comObjectInstanceRef{
		RefID:          "O-3_R-4",
		ComObjectRefID: testAppID + "_O-3_R-4",
		Links:          []string{"GA-1"},
	}
	device.ComObjectInstanceRefs = []*comObjectInstanceRef{ref}

	if err := kp.mergeApplicationProgram(app, []*deviceInstance{device}); err != nil {
		t.Fatalf("mergeApplicationProgram failed, reason: %v", err)
	}

	// Ref overrides win over the object, the object fills the rest.
	if ref.Text != "Ref text" {
		t.Errorf("text inheritance assertion failed, got %q", ref.Text)
	}
	if ref.FunctionText != "Object function" {
		t.Errorf("function text inheritance assertion failed, got %q", ref.FunctionText)
	}
	if ref.ObjectSize != "1 Bit" {
		t.Errorf("object size inheritance assertion failed, got %q", ref.ObjectSize)
	}
	if ref.Name != "Obj3" {
		t.Errorf("name inheritance assertion failed, got %q", ref.Name)
	}
	if !boolValue(ref.ReadFlag) || !boolValue(ref.WriteFlag) {
		t.Errorf("flag inheritance assertion failed, got read=%v write=%v",
			boolValue(ref.ReadFlag), boolValue(ref.WriteFlag))
	}
	if len(ref.DatapointTypes) != 1 || ref.DatapointTypes[0].Main != 1 {
		t.Errorf("datapoint type inheritance assertion failed, got %v", ref.DatapointTypes)
	}
	if ref.Number != 3 {
		t.Errorf("number assertion failed, got %d, want 3", ref.Number)
	}
	if ref.Module != nil {
		t.Errorf("unexpected module attribution %+v", ref.Module)
	}
}

func TestResolveChannels(t *testing.T) {

	kp := newTestFile()
	app := moduleTestProgram()
	app.Channels[testAppID+"_MD-1_CH-4"] = &applicationChannel{
		Identifier:         testAppID + "_MD-1_CH-4",
		Text:               "Channel {{0:A}}",
		Name:               "Channel",
		TextParameterRefID: testAppID + "_MD-1_P-9",
	}

	device := testTopologyDevice()
	value := "Left"
	device.ParameterValues[testAppID+"_MD-1_M-1_MI-1_P-9"] = &value
	device.Channels = []*channelNode{{
		RefID:                  "MD-1_M-1_MI-1_CH-4",
		GroupObjectInstanceIDs: []string{"MD-1_M-1_MI-1_O-3_R-4"},
	}}

	if err := kp.mergeApplicationProgram(app, []*deviceInstance{device}); err != nil {
		t.Fatalf("mergeApplicationProgram failed, reason: %v", err)
	}

	if device.Channels[0].Name != "Channel Left" {
		t.Errorf("channel name assertion failed, got %q", device.Channels[0].Name)
	}
}

func TestResolveChannelArgumentPlaceholder(t *testing.T) {

	kp := newTestFile()
	app := moduleTestProgram()
	app.Channels[testAppID+"_MD-1_CH-4"] = &applicationChannel{
		Identifier: testAppID + "_MD-1_CH-4",
		Text:       "Output {{Label}}",
	}

	device := testTopologyDevice()
	device.ModuleInstances = []*moduleInstance{{
		Identifier: "MD-1_M-1_MI-1",
		RefID:      "MD-1",
		Arguments: []*moduleInstanceArgument{
			{RefID: "MD-1_A-3", Value: "Garage", Name: "Label"},
		},
	}}
	// Keep the argument name stable across the merge.
	app.ArgumentMetas[testAppID+"_MD-1_A-3"] = &argumentMeta{Name: "Label"}
	device.Channels = []*channelNode{{
		RefID: "MD-1_M-1_MI-1_CH-4",
	}}

	if err := kp.mergeApplicationProgram(app, []*deviceInstance{device}); err != nil {
		t.Fatalf("mergeApplicationProgram failed, reason: %v", err)
	}

	if device.Channels[0].Name != "Output Garage" {
		t.Errorf("channel name assertion failed, got %q", device.Channels[0].Name)
	}
}

func TestModuleInstanceIndex(t *testing.T) {

	tests := []struct {
		in  string
		out int
	}{
		{"MD-1_M-1_MI-2_O-3_R-4", 2},
		{"MD-4_M-15_MI-1_SM-1_M-1_MI-1-1-2_SM-1_O-3-1_R-2", 1},
		{"O-3_R-4", 1},
		{"MD-1_M-1_MI-13_O-1", 13},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := moduleInstanceIndex(tt.in); got != tt.out {
				t.Errorf("moduleInstanceIndex(%q) assertion failed, got %d, want %d",
					tt.in, got, tt.out)
			}
		})
	}
}
