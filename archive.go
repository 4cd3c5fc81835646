// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yeka/zip"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/encoding/unicode"
)

// ets6KeySalt is the fixed PBKDF2 salt for ETS6 protected archives.
const ets6KeySalt = "21.project.ets.knx.org"

// ets6KeyIterations is the PBKDF2 iteration count for ETS6 protected archives.
const ets6KeyIterations = 65536

// schemaNamespace extracts the schema version from the project XML namespace.
var schemaNamespace = regexp.MustCompile(`http://knx\.org/xml/project/(\d+)`)

// GenerateETS6ZipPassword derives the inner archive password of an ETS6
// protected project: base64 of PBKDF2-HMAC-SHA256 over the UTF-16LE encoded
// user password with a fixed salt.
func GenerateETS6ZipPassword(password string) (string, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	encoded, err := encoder.Bytes([]byte(password))
	if err != nil {
		return "", fmt.Errorf("%w: password encoding: %v", ErrInvalidPassword, err)
	}
	key := pbkdf2.Key(encoded, []byte(ets6KeySalt), ets6KeyIterations, 32, sha256.New)
	return base64.StdEncoding.EncodeToString(key), nil
}

// archive gives access to the contents of a .knxproj compound container. The
// outer ZIP always comes from the caller's byte buffer; password protected
// projects additionally carry an inner ZIP holding the project XML.
type archive struct {
	outer *zip.Reader
	inner *zip.Reader

	projectID     string
	schemaVersion int
	protected     bool
	innerPassword string
}

// openArchive probes the outer container, classifies the project and, for
// protected projects, opens the inner archive and verifies the password.
func openArchive(data []byte, password string) (*archive, error) {
	outer, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: outer archive: %v", ErrUnexpectedFileContent, err)
	}
	a := &archive{outer: outer}

	for _, f := range outer.File {
		name := f.Name
		if strings.HasPrefix(name, "P-") && strings.HasSuffix(name, ".signature") &&
			!strings.ContainsRune(name, '/') {
			a.projectID = strings.TrimSuffix(name, ".signature")
			break
		}
	}
	if a.projectID == "" {
		return nil, ErrProjectNotFound
	}

	if a.schemaVersion, err = a.readSchemaVersion(); err != nil {
		return nil, err
	}

	if a.findOuter(a.projectID+".zip") != nil {
		a.protected = true
		if err := a.openInner(password); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// readSchemaVersion scans the first two lines of knx_master.xml for the
// project XML namespace.
func (a *archive) readSchemaVersion() (int, error) {
	f := a.findOuter("knx_master.xml")
	if f == nil {
		return 0, fmt.Errorf("%w: knx_master.xml missing", ErrUnexpectedFileContent)
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for i := 0; i < 2 && scanner.Scan(); i++ {
		if m := schemaNamespace.FindStringSubmatch(scanner.Text()); m != nil {
			return parseInt(m[1]), nil
		}
	}
	return 0, fmt.Errorf("%w: schema namespace not found in knx_master.xml",
		ErrUnexpectedFileContent)
}

// openInner opens the password protected project archive. Below schema 21 the
// inner ZIP uses the UTF-8 user password; from 21 on it is WinZip-AES with a
// derived key.
func (a *archive) openInner(password string) error {
	if password == "" {
		return ErrInvalidPassword
	}
	a.innerPassword = password
	if a.schemaVersion >= SchemaETS6 {
		derived, err := GenerateETS6ZipPassword(password)
		if err != nil {
			return err
		}
		a.innerPassword = derived
	}

	f := a.findOuter(a.projectID + ".zip")
	rc, err := f.Open()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return err
	}
	if a.inner, err = zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("%w: inner archive: %v", ErrUnexpectedFileContent, err)
	}

	// Probe the project file so a wrong password surfaces here and not in
	// the middle of the XML stream.
	probe, err := a.openProject0()
	if err != nil {
		return err
	}
	buf := make([]byte, 64)
	if _, err = probe.Read(buf); err != nil && err != io.EOF {
		probe.Close()
		return fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return probe.Close()
}

func (a *archive) findOuter(name string) *zip.File {
	for _, f := range a.outer.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (a *archive) findInner(name string) *zip.File {
	if a.inner == nil {
		return nil
	}
	for _, f := range a.inner.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// openInnerFile opens a file of the inner archive with the inner password.
func (a *archive) openInnerFile(name string) (io.ReadCloser, error) {
	f := a.findInner(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s missing from inner archive", ErrProjectNotFound, name)
	}
	if f.IsEncrypted() {
		f.SetPassword(a.innerPassword)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return rc, nil
}

// openProject0 opens the project XML stream (0.xml).
func (a *archive) openProject0() (io.ReadCloser, error) {
	if a.protected {
		return a.openInnerFile("0.xml")
	}
	f := a.findOuter(a.projectID + "/0.xml")
	if f == nil {
		return nil, fmt.Errorf("%w: %s/0.xml missing", ErrProjectNotFound, a.projectID)
	}
	return f.Open()
}

// openProjectMeta opens the project metadata stream. ETS 4 archives spell the
// file Project.xml, later versions project.xml; both are accepted.
func (a *archive) openProjectMeta() (io.ReadCloser, error) {
	names := []string{"project.xml", "Project.xml"}
	if a.schemaVersion < SchemaETS56 {
		names = []string{"Project.xml", "project.xml"}
	}
	for _, name := range names {
		if a.protected {
			if a.findInner(name) != nil {
				return a.openInnerFile(name)
			}
			continue
		}
		if f := a.findOuter(a.projectID + "/" + name); f != nil {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("%w: project.xml missing", ErrProjectNotFound)
}

// hardwareFiles lists all M-XXXX/Hardware.xml catalogs of the outer archive.
func (a *archive) hardwareFiles() []string {
	var names []string
	for _, f := range a.outer.File {
		parts := strings.Split(f.Name, "/")
		if len(parts) == 2 && strings.HasPrefix(parts[0], "M-") && parts[1] == "Hardware.xml" {
			names = append(names, f.Name)
		}
	}
	return names
}

// openFile opens an arbitrary file of the outer archive by name, e.g. an
// application program XML.
func (a *archive) openFile(name string) (io.ReadCloser, error) {
	f := a.findOuter(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s missing from archive", ErrUnexpectedData, name)
	}
	return f.Open()
}
