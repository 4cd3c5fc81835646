// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/knxsuite/knxproj/log"
)

// ets4ProductLanguages is the fixed product language list of ETS 4 masters,
// which carry no ProductLanguages element.
var ets4ProductLanguages = []string{
	"cs-CZ", "da-DK", "de-DE", "el-GR", "en-US", "es-ES", "fi-FI", "fr-FR",
	"hu-HU", "is-IS", "it-IT", "ja-JP", "nb-NO", "nl-NL", "pl-PL", "pt-PT",
	"ro-RO", "ru-RU", "sk-SK", "sl-SI", "sv-SE", "tr-TR", "uk-UA", "zh-CN",
}

// translationTable maps reference ids to per-attribute translated texts.
type translationTable map[string]map[string]string

// text returns the translated value of an attribute, or the fallback.
func (t translationTable) text(refID, attribute, fallback string) string {
	if attrs, ok := t[refID]; ok {
		if v, ok := attrs[attribute]; ok {
			return v
		}
	}
	return fallback
}

// masterData is the content of knx_master.xml needed for resolution.
type masterData struct {
	Manufacturers    map[string]string
	SpaceUsages      map[string]string
	FunctionTypes    map[string]string
	ProductLanguages []string
	LanguageCode     string
	Translations     translationTable
}

// loadMasterData reads knx_master.xml in one streaming pass. The requested
// language, when given, is resolved against the available product languages;
// translation failures degrade to untranslated text.
func loadMasterData(r io.Reader, schemaVersion int, language string, logger *log.Helper) (*masterData, error) {
	md := &masterData{
		Manufacturers: map[string]string{},
		SpaceUsages:   map[string]string{},
		FunctionTypes: map[string]string{},
		Translations:  translationTable{},
	}

	dec := xml.NewDecoder(r)
	var stack []string
	var translationRef string
	skipLanguages := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: knx_master.xml: %v", ErrUnexpectedFileContent, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			switch {
			case name == "Manufacturer" && parent == "Manufacturers":
				md.Manufacturers[attrValue(t, "Id")] = attrValue(t, "Name")
			case name == "SpaceUsage" && parent == "SpaceUsages":
				md.SpaceUsages[attrValue(t, "Id")] = attrValue(t, "Text")
			case name == "FunctionType" && parent == "FunctionTypes":
				md.FunctionTypes[attrValue(t, "Id")] = attrValue(t, "Text")
			case name == "Language" && parent == "ProductLanguages":
				md.ProductLanguages = append(md.ProductLanguages, attrValue(t, "Identifier"))
			case name == "Languages":
				// Languages comes last in the master; the language code must
				// be resolved before descending into it.
				md.resolveLanguage(schemaVersion, language, logger)
				if md.LanguageCode == "" {
					skipLanguages = true
					if err := dec.Skip(); err != nil {
						return nil, fmt.Errorf("%w: knx_master.xml: %v", ErrUnexpectedFileContent, err)
					}
					continue
				}
			case name == "Language" && parent == "Languages":
				if attrValue(t, "Identifier") != md.LanguageCode {
					if err := dec.Skip(); err != nil {
						return nil, fmt.Errorf("%w: knx_master.xml: %v", ErrUnexpectedFileContent, err)
					}
					continue
				}
			case name == "TranslationElement":
				translationRef = attrValue(t, "RefId")
			case name == "Translation" && translationRef != "":
				attrs := md.Translations[translationRef]
				if attrs == nil {
					attrs = map[string]string{}
					md.Translations[translationRef] = attrs
				}
				attrs[attrValue(t, "AttributeName")] = attrValue(t, "Text")
			}
			stack = append(stack, name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if t.Name.Local == "TranslationElement" {
				translationRef = ""
			}
		}
	}

	if !skipLanguages && md.LanguageCode == "" {
		// Masters without a Languages block never hit the resolution above.
		md.resolveLanguage(schemaVersion, language, logger)
	}
	md.applyTranslations()
	return md, nil
}

// resolveLanguage translates the caller supplied language into an available
// product language code. Exact matches win, then a shared two letter prefix.
func (md *masterData) resolveLanguage(schemaVersion int, language string, logger *log.Helper) {
	if language == "" || md.LanguageCode != "" {
		return
	}
	languages := md.ProductLanguages
	if schemaVersion < SchemaETS56 && len(languages) == 0 {
		languages = ets4ProductLanguages
		md.ProductLanguages = languages
	}
	for _, code := range languages {
		if code == language {
			md.LanguageCode = code
			return
		}
	}
	prefix := strings.ToLower(language)
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	for _, code := range languages {
		if i := strings.IndexByte(code, '-'); i > 0 && code[:i] == prefix {
			logger.Infof("using language code %q for %q", code, language)
			md.LanguageCode = code
			return
		}
	}
	logger.Warnf("no matching language code found for %q", language)
}

// applyTranslations substitutes translated texts for space usages and
// function types.
func (md *masterData) applyTranslations() {
	for id := range md.SpaceUsages {
		md.SpaceUsages[id] = md.Translations.text(id, "Text", md.SpaceUsages[id])
	}
	for id := range md.FunctionTypes {
		md.FunctionTypes[id] = md.Translations.text(id, "Text", md.FunctionTypes[id])
	}
}

// attrValue returns the value of a named attribute of a start element.
func attrValue(element xml.StartElement, name string) string {
	for _, a := range element.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
