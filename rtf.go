// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"html"
	"strconv"
	"strings"
)

// decodeRichText converts an RTF document to plain text and HTML-unescapes
// the result. Non-RTF input is unescaped and returned as-is. Formatting is
// intentionally discarded.
func decodeRichText(text string) string {
	if !strings.HasPrefix(text, `{\rtf`) {
		return html.UnescapeString(text)
	}
	return html.UnescapeString(stripRTF(text))
}

// destinations whose content never contributes visible text.
var rtfIgnoredDestinations = map[string]bool{
	"fonttbl":    true,
	"colortbl":   true,
	"stylesheet": true,
	"info":       true,
	"pict":       true,
	"header":     true,
	"footer":     true,
}

// stripRTF extracts the visible text of an RTF document. Control words are
// dropped except for the common text escapes (\par, \tab, \line, \'hh, \uN).
func stripRTF(text string) string {
	var out strings.Builder
	skipGroupDepth := 0
	depth := 0
	i := 0
	for i < len(text) {
		c := text[i]
		switch c {
		case '{':
			depth++
			i++
		case '}':
			if skipGroupDepth != 0 && depth == skipGroupDepth {
				skipGroupDepth = 0
			}
			depth--
			i++
		case '\\':
			i++
			if i >= len(text) {
				break
			}
			switch next := text[i]; {
			case next == '\'':
				// \'hh hex escaped byte
				if i+2 < len(text) {
					if b, err := strconv.ParseUint(text[i+1:i+3], 16, 8); err == nil && skipGroupDepth == 0 {
						out.WriteByte(byte(b))
					}
					i += 3
				} else {
					i = len(text)
				}
			case next == '\\' || next == '{' || next == '}':
				if skipGroupDepth == 0 {
					out.WriteByte(next)
				}
				i++
			case next == '~':
				if skipGroupDepth == 0 {
					out.WriteByte(' ')
				}
				i++
			case next == '*':
				// \* marks an unknown destination: skip the whole group.
				if skipGroupDepth == 0 {
					skipGroupDepth = depth
				}
				i++
			case isRTFLetter(next):
				word, param, rest := readRTFControlWord(text[i:])
				i += rest
				if skipGroupDepth != 0 {
					break
				}
				switch word {
				case "par", "line":
					out.WriteByte('\n')
				case "tab":
					out.WriteByte('\t')
				case "u":
					// \uN unicode escape, followed by a fallback character.
					out.WriteRune(rune(param))
					if i < len(text) && text[i] != '\\' && text[i] != '{' && text[i] != '}' {
						i++ // consume the substitute character
					}
				default:
					if rtfIgnoredDestinations[word] {
						skipGroupDepth = depth
					}
				}
			default:
				i++
			}
		case '\r', '\n':
			i++
		default:
			if skipGroupDepth == 0 {
				out.WriteByte(c)
			}
			i++
		}
	}
	return strings.TrimSpace(out.String())
}

func isRTFLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// readRTFControlWord reads a control word with an optional numeric parameter
// starting at text[0] (the first letter). It returns the word, the parameter
// and the number of bytes consumed, including one trailing space delimiter.
func readRTFControlWord(text string) (word string, param int, consumed int) {
	i := 0
	for i < len(text) && isRTFLetter(text[i]) {
		i++
	}
	word = text[:i]
	sign := 1
	if i < len(text) && text[i] == '-' {
		sign = -1
		i++
	}
	start := i
	for i < len(text) && text[i] >= '0' && text[i] <= '9' {
		i++
	}
	if i > start {
		param, _ = strconv.Atoi(text[start:i])
		param *= sign
	}
	if i < len(text) && text[i] == ' ' {
		i++
	}
	return word, param, i
}
