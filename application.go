// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// resolveApplicationPrograms groups devices by application program file,
// parses each file exactly once and merges the results into the grouped
// devices. Devices without a resolved application program keep their project
// level data and are reported with a warning.
func (kp *File) resolveApplicationPrograms(a *archive, parser *projectParser, languageCode string) error {
	groups := map[string][]*deviceInstance{}
	for _, device := range parser.devices {
		file := device.applicationProgramFile()
		if file == "" {
			kp.logger.Warnf("device %s has no application program, communication objects stay unresolved",
				device.individualAddress())
			continue
		}
		groups[file] = append(groups[file], device)
	}

	// Deterministic parse order.
	files := make([]string, 0, len(groups))
	for file := range groups {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		devices := groups[file]
		stream, err := a.openFile(file)
		if err != nil {
			return err
		}
		app, err := loadApplicationProgram(stream, devices[0].ApplicationProgramRef, devices, languageCode)
		stream.Close()
		if err != nil {
			return err
		}
		if err := kp.mergeApplicationProgram(app, devices); err != nil {
			return err
		}
	}
	return nil
}

// argumentKey qualifies a module instance argument reference with the
// application program id. References that are already fully qualified pass
// through.
func argumentKey(appID, refID string) string {
	if strings.HasPrefix(refID, "M-") {
		return refID
	}
	return appID + "_" + refID
}

// loadApplicationProgram reads one application program XML in a single
// streaming pass. Only communication object refs, module definition
// arguments and numeric arguments actually referenced by the grouped devices
// are retained; the pass breaks on the Languages tag and, when a language is
// active, continues the translation scan from the same decoder.
func loadApplicationProgram(r io.Reader, appID string, devices []*deviceInstance, languageCode string) (*applicationProgram, error) {
	app := &applicationProgram{
		Identifier:    appID,
		ComObjects:    map[string]*applicationComObject{},
		ComObjectRefs: map[string]*applicationComObjectRef{},
		Allocators:    map[string]*allocator{},
		ArgumentMetas: map[string]*argumentMeta{},
		NumericArgs:   map[string]string{},
		Channels:      map[string]*applicationChannel{},
	}

	usedRefs := map[string]bool{}
	usedArguments := map[string]bool{}
	for _, device := range devices {
		for _, ref := range device.ComObjectInstanceRefs {
			usedRefs[ref.ComObjectRefID] = true
		}
		for _, mi := range device.ModuleInstances {
			for _, arg := range mi.Arguments {
				usedArguments[argumentKey(appID, arg.RefID)] = true
			}
		}
	}

	dec := xml.NewDecoder(r)
	inModuleDefs := false

structural:
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return app, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: application program %s: %v", ErrUnexpectedFileContent, appID, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch name {
			case "Languages":
				// Structure is done; the translation scan continues on the
				// same decoder below.
				break structural
			case "ModuleDefs":
				inModuleDefs = true
			case "ComObject":
				co := parseApplicationComObject(t)
				app.ComObjects[co.Identifier] = co
			case "ComObjectRef":
				if id := attrValue(t, "Id"); usedRefs[id] {
					app.ComObjectRefs[id] = parseApplicationComObjectRef(t)
				}
			case "Allocator":
				al := &allocator{
					Identifier: attrValue(t, "Id"),
					Name:       attrValue(t, "Name"),
					Start:      parseInt(attrValue(t, "Start")),
					End:        parseInt(attrValue(t, "maxInclusive")),
					BaseValue:  attrValue(t, "BaseValue"),
				}
				if al.End == 0 {
					al.End = parseInt(attrValue(t, "MaxInclusive"))
				}
				app.Allocators[al.Identifier] = al
			case "Channel":
				ch := &applicationChannel{
					Identifier:         attrValue(t, "Id"),
					Text:               attrValue(t, "Text"),
					FunctionText:       attrValue(t, "FunctionText"),
					Name:               attrValue(t, "Name"),
					Number:             attrValue(t, "Number"),
					TextParameterRefID: attrValue(t, "TextParameterRefId"),
				}
				app.Channels[ch.Identifier] = ch
			case "Argument":
				if !inModuleDefs {
					break
				}
				if id := attrValue(t, "Id"); usedArguments[id] {
					app.ArgumentMetas[id] = &argumentMeta{
						Name:      attrValue(t, "Name"),
						Allocates: parseInt(attrValue(t, "Allocates")),
					}
				}
			case "NumericArg":
				if id := attrValue(t, "RefId"); usedArguments[id] {
					app.NumericArgs[id] = attrValue(t, "Value")
				}
			}
		case xml.EndElement:
			if t.Name.Local == "ModuleDefs" {
				inModuleDefs = false
			}
		}
	}

	if languageCode == "" {
		return app, nil
	}
	if err := app.parseTranslations(dec, languageCode); err != nil {
		return nil, fmt.Errorf("%w: application program %s: %v", ErrUnexpectedFileContent, appID, err)
	}
	return app, nil
}

// parseTranslations continues on the held decoder inside the Languages
// element and overrides texts of retained objects for the active language.
func (app *applicationProgram) parseTranslations(dec *xml.Decoder, languageCode string) error {
	var translationRef string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Language":
				if attrValue(t, "Identifier") != languageCode {
					if err := dec.Skip(); err != nil {
						return err
					}
				}
			case "TranslationElement":
				translationRef = attrValue(t, "RefId")
			case "Translation":
				if translationRef == "" {
					break
				}
				attribute := attrValue(t, "AttributeName")
				text := attrValue(t, "Text")
				app.applyTranslation(translationRef, attribute, text)
			}
		case xml.EndElement:
			if t.Name.Local == "TranslationElement" {
				translationRef = ""
			}
			if t.Name.Local == "Languages" {
				return nil
			}
		}
	}
}

// applyTranslation overrides the Text / FunctionText of a retained object.
func (app *applicationProgram) applyTranslation(refID, attribute, text string) {
	switch attribute {
	case "Text":
		if co, ok := app.ComObjects[refID]; ok {
			co.Text = text
		}
		if cr, ok := app.ComObjectRefs[refID]; ok {
			cr.Text = text
		}
		if ch, ok := app.Channels[refID]; ok {
			ch.Text = text
		}
	case "FunctionText":
		if co, ok := app.ComObjects[refID]; ok {
			co.FunctionText = text
		}
		if cr, ok := app.ComObjectRefs[refID]; ok {
			cr.FunctionText = text
		}
		if ch, ok := app.Channels[refID]; ok {
			ch.FunctionText = text
		}
	}
}

func parseApplicationComObject(t xml.StartElement) *applicationComObject {
	return &applicationComObject{
		Identifier:        attrValue(t, "Id"),
		Name:              attrValue(t, "Name"),
		Text:              attrValue(t, "Text"),
		FunctionText:      attrValue(t, "FunctionText"),
		Number:            parseInt(attrValue(t, "Number")),
		ObjectSize:        attrValue(t, "ObjectSize"),
		ReadFlag:          parseFlag(attrValue(t, "ReadFlag")),
		WriteFlag:         parseFlag(attrValue(t, "WriteFlag")),
		CommunicationFlag: parseFlag(attrValue(t, "CommunicationFlag")),
		TransmitFlag:      parseFlag(attrValue(t, "TransmitFlag")),
		UpdateFlag:        parseFlag(attrValue(t, "UpdateFlag")),
		ReadOnInitFlag:    parseFlag(attrValue(t, "ReadOnInitFlag")),
		DatapointTypes:    ParseDPTTypes(attrValue(t, "DatapointType")),
		BaseNumber:        attrValue(t, "BaseNumber"),
	}
}

func parseApplicationComObjectRef(t xml.StartElement) *applicationComObjectRef {
	return &applicationComObjectRef{
		Identifier:         attrValue(t, "Id"),
		RefID:              attrValue(t, "RefId"),
		Name:               attrValue(t, "Name"),
		Text:               attrValue(t, "Text"),
		FunctionText:       attrValue(t, "FunctionText"),
		ObjectSize:         attrValue(t, "ObjectSize"),
		ReadFlag:           parseFlag(attrValue(t, "ReadFlag")),
		WriteFlag:          parseFlag(attrValue(t, "WriteFlag")),
		CommunicationFlag:  parseFlag(attrValue(t, "CommunicationFlag")),
		TransmitFlag:       parseFlag(attrValue(t, "TransmitFlag")),
		UpdateFlag:         parseFlag(attrValue(t, "UpdateFlag")),
		ReadOnInitFlag:     parseFlag(attrValue(t, "ReadOnInitFlag")),
		DatapointTypes:     ParseDPTTypes(attrValue(t, "DatapointType")),
		TextParameterRefID: attrValue(t, "TextParameterRefId"),
	}
}
