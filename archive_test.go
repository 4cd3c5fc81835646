// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/yeka/zip"
)

const testMasterXML = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n" +
	"<KnxMaster xmlns=\"http://knx.org/xml/project/20\">\n" +
	"<MasterData></MasterData>\n" +
	"</KnxMaster>\n"

const testMasterXMLETS6 = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n" +
	"<KnxMaster xmlns=\"http://knx.org/xml/project/21\">\n" +
	"<MasterData></MasterData>\n" +
	"</KnxMaster>\n"

// buildZip assembles an unencrypted ZIP from name to content pairs.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry %s failed, reason: %v", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("writing zip entry %s failed, reason: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip failed, reason: %v", err)
	}
	return buf.Bytes()
}

// buildEncryptedZip assembles an encrypted ZIP from name to content pairs.
func buildEncryptedZip(t *testing.T, files map[string]string, password string,
	method zip.EncryptionMethod) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Encrypt(name, password, method)
		if err != nil {
			t.Fatalf("creating encrypted zip entry %s failed, reason: %v", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("writing zip entry %s failed, reason: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip failed, reason: %v", err)
	}
	return buf.Bytes()
}

func TestGenerateETS6ZipPassword(t *testing.T) {

	tests := []struct {
		in  string
		out string
	}{
		{"test", "2+IIP7ErCPPKxFjJXc59GFx2+w/1VTLHjJ2duc04CYQ="},
		{"a", "+FAwP4iI7/Pu4WB3HdIHbbFmteLahPAVkjJShKeozAA="},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := GenerateETS6ZipPassword(tt.in)
			if err != nil {
				t.Fatalf("GenerateETS6ZipPassword(%q) failed, reason: %v", tt.in, err)
			}
			if got != tt.out {
				t.Errorf("key derivation assertion failed, got %q, want %q", got, tt.out)
			}
		})
	}
}

func TestOpenArchiveUnprotected(t *testing.T) {

	data := buildZip(t, map[string]string{
		"P-01AB.signature":  "sig",
		"knx_master.xml":    testMasterXML,
		"P-01AB/0.xml":      "<KNX></KNX>",
		"P-01AB/project.xml": "<KNX></KNX>",
	})

	a, err := openArchive(data, "")
	if err != nil {
		t.Fatalf("openArchive failed, reason: %v", err)
	}
	if a.projectID != "P-01AB" {
		t.Errorf("project id assertion failed, got %q, want %q", a.projectID, "P-01AB")
	}
	if a.schemaVersion != 20 {
		t.Errorf("schema version assertion failed, got %v, want 20", a.schemaVersion)
	}
	if a.protected {
		t.Errorf("archive unexpectedly classified as protected")
	}

	rc, err := a.openProject0()
	if err != nil {
		t.Fatalf("openProject0 failed, reason: %v", err)
	}
	content, _ := io.ReadAll(rc)
	rc.Close()
	if string(content) != "<KNX></KNX>" {
		t.Errorf("project 0.xml content assertion failed, got %q", content)
	}
}

func TestOpenArchiveNoSignature(t *testing.T) {

	data := buildZip(t, map[string]string{
		"knx_master.xml": testMasterXML,
	})

	_, err := openArchive(data, "")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestOpenArchiveNoNamespace(t *testing.T) {

	data := buildZip(t, map[string]string{
		"P-01.signature": "sig",
		"knx_master.xml": "<KnxMaster>\n</KnxMaster>",
	})

	_, err := openArchive(data, "")
	if !errors.Is(err, ErrUnexpectedFileContent) {
		t.Errorf("expected ErrUnexpectedFileContent, got %v", err)
	}
}

func TestOpenArchiveProtected(t *testing.T) {

	inner := buildEncryptedZip(t, map[string]string{
		"0.xml":       "<KNX></KNX>",
		"project.xml": "<KNX></KNX>",
	}, "secret", zip.StandardEncryption)

	data := buildZip(t, map[string]string{
		"P-02.signature": "sig",
		"knx_master.xml": testMasterXML,
		"P-02.zip":       string(inner),
	})

	a, err := openArchive(data, "secret")
	if err != nil {
		t.Fatalf("openArchive failed, reason: %v", err)
	}
	if !a.protected {
		t.Fatalf("archive not classified as protected")
	}

	rc, err := a.openProject0()
	if err != nil {
		t.Fatalf("openProject0 failed, reason: %v", err)
	}
	content, _ := io.ReadAll(rc)
	rc.Close()
	if string(content) != "<KNX></KNX>" {
		t.Errorf("project 0.xml content assertion failed, got %q", content)
	}

	if _, err := openArchive(data, ""); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword for missing password, got %v", err)
	}
	if _, err := openArchive(data, "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword for wrong password, got %v", err)
	}
}

func TestOpenArchiveProtectedETS6(t *testing.T) {

	derived, err := GenerateETS6ZipPassword("test")
	if err != nil {
		t.Fatalf("GenerateETS6ZipPassword failed, reason: %v", err)
	}

	inner := buildEncryptedZip(t, map[string]string{
		"0.xml":       "<KNX></KNX>",
		"project.xml": "<KNX></KNX>",
	}, derived, zip.AES256Encryption)

	data := buildZip(t, map[string]string{
		"P-03.signature": "sig",
		"knx_master.xml": testMasterXMLETS6,
		"P-03.zip":       string(inner),
	})

	a, err := openArchive(data, "test")
	if err != nil {
		t.Fatalf("openArchive failed, reason: %v", err)
	}
	if a.schemaVersion != 21 {
		t.Errorf("schema version assertion failed, got %v, want 21", a.schemaVersion)
	}

	rc, err := a.openProject0()
	if err != nil {
		t.Fatalf("openProject0 failed, reason: %v", err)
	}
	content, _ := io.ReadAll(rc)
	rc.Close()
	if string(content) != "<KNX></KNX>" {
		t.Errorf("project 0.xml content assertion failed, got %q", content)
	}

	if _, err := openArchive(data, "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword for wrong password, got %v", err)
	}
}
