// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package knxproj

// Version is the library version. It is reported in the output document so
// consumers can tell which parser produced a dump.
const Version = "0.1.0"
