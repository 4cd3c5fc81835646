// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"encoding/xml"
	"fmt"
	"io"
)

// hardwareCatalog accumulates the product and program lookup tables of all
// manufacturer Hardware.xml files.
type hardwareCatalog struct {
	// Products maps product reference ids to catalog entries.
	Products map[string]*product
	// ApplicationPrograms maps Hardware2Program ids to application program
	// reference ids.
	ApplicationPrograms map[string]string
}

func newHardwareCatalog() *hardwareCatalog {
	return &hardwareCatalog{
		Products:            map[string]*product{},
		ApplicationPrograms: map[string]string{},
	}
}

// load reads one manufacturer Hardware.xml in a streaming pass and merges its
// entries into the catalog. Product texts are translated from the
// manufacturer's own Languages block when a language code is active.
func (hc *hardwareCatalog) load(r io.Reader, languageCode string) error {
	dec := xml.NewDecoder(r)
	var stack []string
	var hardwareName string
	var hardware2ProgramID string
	var translationRef string
	fileProducts := map[string]*product{}
	translations := translationTable{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: Hardware.xml: %v", ErrUnexpectedFileContent, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			switch {
			case name == "Hardware" && parent == "Hardware":
				hardwareName = attrValue(t, "Name")
			case name == "Product" && parent == "Products":
				p := &product{
					Identifier:   attrValue(t, "Id"),
					Text:         attrValue(t, "Text"),
					OrderNumber:  attrValue(t, "OrderNumber"),
					HardwareName: hardwareName,
				}
				fileProducts[p.Identifier] = p
			case name == "Hardware2Program" && parent == "Hardware2Programs":
				hardware2ProgramID = attrValue(t, "Id")
			case name == "ApplicationProgramRef" && hardware2ProgramID != "":
				hc.ApplicationPrograms[hardware2ProgramID] = attrValue(t, "RefId")
			case name == "Language" && parent == "Languages":
				if languageCode == "" || attrValue(t, "Identifier") != languageCode {
					if err := dec.Skip(); err != nil {
						return fmt.Errorf("%w: Hardware.xml: %v", ErrUnexpectedFileContent, err)
					}
					continue
				}
			case name == "TranslationElement":
				translationRef = attrValue(t, "RefId")
			case name == "Translation" && translationRef != "":
				attrs := translations[translationRef]
				if attrs == nil {
					attrs = map[string]string{}
					translations[translationRef] = attrs
				}
				attrs[attrValue(t, "AttributeName")] = attrValue(t, "Text")
			}
			stack = append(stack, name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			switch t.Name.Local {
			case "Hardware2Program":
				hardware2ProgramID = ""
			case "TranslationElement":
				translationRef = ""
			}
		}
	}

	for id, p := range fileProducts {
		p.Text = translations.text(id, "Text", p.Text)
		hc.Products[id] = p
	}
	return nil
}
