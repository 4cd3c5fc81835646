// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/knxsuite/knxproj/log"
)

// A File represents an open .knxproj archive.
type File struct {
	// Document holds the resolved project after a successful Parse.
	Document *Document `json:"document,omitempty"`

	data   mmap.MMap
	f      *os.File
	opts   *Options
	logger *log.Helper
}

// Options for parsing.
type Options struct {

	// Password of a protected project archive.
	Password string

	// Preferred language for translated texts, e.g. "de-DE", "De" or "en".
	Language string

	// A custom logger.
	Logger log.Logger
}

// New instantiates a file instance with options given a file name.
func New(name string, opts *Options) (*File, error) {

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	// Memory map the file instead of using read/write.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.f = f
	return &file, nil
}

// NewBytes instantiates a file instance with options given a memory buffer.
func NewBytes(data []byte, opts *Options) (*File, error) {

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	return &file, nil
}

// Close closes the File.
func (kp *File) Close() error {
	if kp.f != nil {
		if kp.data != nil {
			_ = kp.data.Unmap()
		}
		return kp.f.Close()
	}
	return nil
}

// Parse performs the archive parsing and reference resolution. On success
// the resolved project is available in kp.Document; on failure no partial
// document is kept.
func (kp *File) Parse() error {

	arch, err := openArchive(kp.data, kp.opts.Password)
	if err != nil {
		return err
	}

	// Project metadata first: the group address style governs formatting
	// during the main project pass.
	metaStream, err := arch.openProjectMeta()
	if err != nil {
		return err
	}
	info, err := loadProjectInfo(metaStream)
	metaStream.Close()
	if err != nil {
		return err
	}
	if info.ProjectID == "" {
		info.ProjectID = arch.projectID
	}
	info.SchemaVersion = arch.schemaVersion

	// Master data.
	masterFile := arch.findOuter("knx_master.xml")
	masterStream, err := masterFile.Open()
	if err != nil {
		return err
	}
	master, err := loadMasterData(masterStream, arch.schemaVersion, kp.opts.Language, kp.logger)
	masterStream.Close()
	if err != nil {
		return err
	}

	// Hardware catalogs.
	catalog := newHardwareCatalog()
	for _, name := range arch.hardwareFiles() {
		stream, err := arch.openFile(name)
		if err != nil {
			return err
		}
		err = catalog.load(stream, master.LanguageCode)
		stream.Close()
		if err != nil {
			return err
		}
	}

	// Project graph.
	parser := newProjectParser(info, master, kp.logger)
	projectStream, err := arch.openProject0()
	if err != nil {
		return err
	}
	err = parser.parse(projectStream)
	projectStream.Close()
	if err != nil {
		return err
	}

	kp.resolveCatalogReferences(parser, catalog, master)
	if err := parser.resolveFunctionAddresses(); err != nil {
		return err
	}

	// Application programs, each file parsed exactly once.
	if err := kp.resolveApplicationPrograms(arch, parser, master.LanguageCode); err != nil {
		return err
	}

	kp.Document = kp.transform(parser, info, master)
	return nil
}

// resolveCatalogReferences fills devices with product, hardware and
// application program data from the hardware catalogs. A device missing from
// every catalog is passed through with a warning.
func (kp *File) resolveCatalogReferences(parser *projectParser, catalog *hardwareCatalog, master *masterData) {
	for _, device := range parser.devices {
		device.ManufacturerName = master.Manufacturers[device.Manufacturer]

		if p, ok := catalog.Products[device.ProductRef]; ok {
			device.ProductName = p.Text
			device.HardwareName = p.HardwareName
			device.OrderNumber = p.OrderNumber
		} else {
			kp.logger.Warnf("device %s: product %s not found in any hardware catalog",
				device.individualAddress(), device.ProductRef)
		}

		if appRef, ok := catalog.ApplicationPrograms[device.HardwareProgramRef]; ok {
			device.ApplicationProgramRef = appRef
		} else {
			kp.logger.Warnf("device %s: hardware program %s not found in any hardware catalog",
				device.individualAddress(), device.HardwareProgramRef)
		}

		// Shorten instance ref ids and qualify them with the application
		// program. ETS 4 style archives carry fully qualified ids already.
		for _, ref := range device.ComObjectInstanceRefs {
			if parser.schemaVersion >= SchemaETS57 {
				ref.ComObjectRefID = device.ApplicationProgramRef + "_" +
					StripModuleInstance(ref.RefID, "O")
			} else {
				ref.ComObjectRefID = ref.RefID
			}
		}
	}
}
