// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// moduleInstancePattern extracts the instance index of a module cloned
// reference id. For nested sub-modules several _MI- tokens exist; the
// outermost one is used. Vendors with deeply nested sub-modules have not
// been observed relying on the inner indices.
var moduleInstancePattern = regexp.MustCompile(`_MI-(\d+)`)

func moduleInstanceIndex(refID string) int {
	if m := moduleInstancePattern.FindStringSubmatch(refID); m != nil {
		return parseInt(m[1])
	}
	return 1
}

// mergeApplicationProgram writes the parsed application program back into
// every grouped device: argument metadata, inherited communication object
// attributes, effective numbers and channel names.
func (kp *File) mergeApplicationProgram(app *applicationProgram, devices []*deviceInstance) error {
	for _, device := range devices {
		for _, mi := range device.ModuleInstances {
			for _, arg := range mi.Arguments {
				if meta, ok := app.ArgumentMetas[argumentKey(app.Identifier, arg.RefID)]; ok {
					arg.Name = meta.Name
					arg.Allocates = meta.Allocates
				}
			}
		}
		for _, ref := range device.ComObjectInstanceRefs {
			if err := kp.resolveInstanceRef(app, device, ref); err != nil {
				return err
			}
		}
		kp.resolveChannels(app, device)
	}
	return nil
}

// resolveInstanceRef inherits missing attributes from the ComObjectRef and
// its ComObject and computes the effective object number.
func (kp *File) resolveInstanceRef(app *applicationProgram, device *deviceInstance, ref *comObjectInstanceRef) error {
	cr, ok := app.ComObjectRefs[ref.ComObjectRefID]
	if !ok {
		kp.logger.Warnf("device %s: com object ref %s not found in application program %s",
			device.individualAddress(), ref.ComObjectRefID, app.Identifier)
		return nil
	}
	co, ok := app.ComObjects[cr.RefID]
	if !ok {
		kp.logger.Warnf("device %s: com object %s not found in application program %s",
			device.individualAddress(), cr.RefID, app.Identifier)
		return nil
	}

	// Copy-if-absent, ref before object.
	inheritString(&ref.Text, cr.Text, co.Text)
	inheritString(&ref.FunctionText, cr.FunctionText, co.FunctionText)
	inheritString(&ref.ObjectSize, cr.ObjectSize, co.ObjectSize)
	inheritString(&ref.Name, cr.Name, co.Name)
	inheritFlag(&ref.ReadFlag, cr.ReadFlag, co.ReadFlag)
	inheritFlag(&ref.WriteFlag, cr.WriteFlag, co.WriteFlag)
	inheritFlag(&ref.CommunicationFlag, cr.CommunicationFlag, co.CommunicationFlag)
	inheritFlag(&ref.TransmitFlag, cr.TransmitFlag, co.TransmitFlag)
	inheritFlag(&ref.UpdateFlag, cr.UpdateFlag, co.UpdateFlag)
	inheritFlag(&ref.ReadOnInitFlag, cr.ReadOnInitFlag, co.ReadOnInitFlag)
	if len(ref.DatapointTypes) == 0 {
		if len(cr.DatapointTypes) != 0 {
			ref.DatapointTypes = cr.DatapointTypes
		} else {
			ref.DatapointTypes = co.DatapointTypes
		}
	}

	if cr.TextParameterRefID != "" {
		paramRef := textParameterInsertModuleInstance(ref.RefID, "O", cr.TextParameterRefID)
		ref.Text = replaceTextParameter(ref.Text, device.ParameterValues[paramRef])
	}

	ref.Number = co.Number
	ref.BaseNumberArgumentRef = co.BaseNumber

	if strings.HasPrefix(ref.RefID, "MD-") && ref.BaseNumberArgumentRef != "" {
		offset, err := kp.resolveBaseNumber(app, device, ref)
		if err != nil {
			return err
		}
		ref.Number = co.Number + offset
		ref.Module = &comObjectModule{
			Definition: GetModuleInstancePart(StripModuleInstance(ref.RefID, "O"), "O"),
			RootNumber: co.Number,
		}
	}
	return nil
}

// resolveBaseNumber computes the number offset of a module cloned
// communication object. A literal argument value is the offset itself;
// otherwise the value names an allocator and the offset is
// allocator.start + allocates * (instance index - 1), plus, for sub-modules,
// the allocator's recursively resolved base value.
func (kp *File) resolveBaseNumber(app *applicationProgram, device *deviceInstance, ref *comObjectInstanceRef) (int, error) {
	mi := device.moduleInstanceFor(ref.RefID)
	if mi == nil {
		return 0, fmt.Errorf("%w: no module instance owns com object ref %s of device %s",
			ErrUnexpectedData, ref.RefID, device.individualAddress())
	}

	var arg *moduleInstanceArgument
	for _, candidate := range mi.Arguments {
		full := argumentKey(app.Identifier, candidate.RefID)
		if full == ref.BaseNumberArgumentRef ||
			candidate.RefID == ref.BaseNumberArgumentRef ||
			strings.HasSuffix(ref.BaseNumberArgumentRef, "_"+candidate.RefID) {
			arg = candidate
			break
		}
	}
	if arg == nil {
		return 0, fmt.Errorf("%w: base number argument %s missing from module instance %s",
			ErrUnexpectedData, ref.BaseNumberArgumentRef, mi.Identifier)
	}

	if n, err := strconv.Atoi(arg.Value); err == nil {
		return n, nil
	}

	alloc, ok := app.Allocators[argumentKey(app.Identifier, arg.Value)]
	if !ok {
		return 0, fmt.Errorf("%w: allocator %s missing from application program %s",
			ErrUnexpectedData, arg.Value, app.Identifier)
	}
	offset := alloc.Start + arg.Allocates*(moduleInstanceIndex(ref.RefID)-1)

	if strings.Contains(mi.Identifier, "_SM-") && alloc.BaseValue != "" {
		base, err := kp.resolveAllocatorBase(app, alloc.BaseValue)
		if err != nil {
			return 0, err
		}
		offset += base
	}
	return offset, nil
}

// resolveAllocatorBase follows a chain of base value references through the
// numeric arguments of parent modules until a literal is reached.
func (kp *File) resolveAllocatorBase(app *applicationProgram, baseValue string) (int, error) {
	seen := map[string]bool{}
	for {
		if n, err := strconv.Atoi(baseValue); err == nil {
			return n, nil
		}
		key := argumentKey(app.Identifier, baseValue)
		if seen[key] {
			return 0, fmt.Errorf("%w: allocator base value cycle at %s", ErrUnexpectedData, key)
		}
		seen[key] = true
		next, ok := app.NumericArgs[key]
		if !ok {
			return 0, fmt.Errorf("%w: allocator base value %s missing from application program %s",
				ErrUnexpectedData, baseValue, app.Identifier)
		}
		baseValue = next
	}
}

// resolveChannels renders the display names of the device's channel nodes.
func (kp *File) resolveChannels(app *applicationProgram, device *deviceInstance) {
	for _, node := range device.Channels {
		var appChannel *applicationChannel
		key := app.Identifier + "_" + StripModuleInstance(node.RefID, "CH")
		if ch, ok := app.Channels[key]; ok {
			appChannel = ch
		}

		if node.Text == "" && appChannel != nil {
			node.Text = appChannel.Text
		}
		if appChannel != nil && appChannel.TextParameterRefID != "" {
			paramRef := textParameterInsertModuleInstance(node.RefID, "CH", appChannel.TextParameterRefID)
			node.Text = replaceTextParameter(node.Text, device.ParameterValues[paramRef])
		}

		// Channel texts of modules may name module instance arguments.
		if strings.Contains(node.Text, "{{") {
			if mi := device.moduleInstanceFor(node.RefID); mi != nil {
				for _, arg := range mi.Arguments {
					if arg.Name != "" {
						node.Text = strings.ReplaceAll(node.Text, "{{"+arg.Name+"}}", arg.Value)
					}
				}
			}
		}

		node.Name = node.Text
		if node.Name == "" && appChannel != nil {
			node.Name = appChannel.Name
		}
	}
}

func inheritString(dst *string, parents ...string) {
	if *dst != "" {
		return
	}
	for _, p := range parents {
		if p != "" {
			*dst = p
			return
		}
	}
}

func inheritFlag(dst **bool, parents ...*bool) {
	if *dst != nil {
		return
	}
	for _, p := range parents {
		if p != nil {
			*dst = p
			return
		}
	}
}
