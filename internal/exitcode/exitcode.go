// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package exitcode names the sysexits-style process exit codes this
// bridge uses, mirroring the <sysexits.h> values the original coupler
// bridge returns.
package exitcode

const (
	OK          = 0
	Usage       = 64
	Unavailable = 69
	Software    = 70
	OSErr       = 71
	TempFail    = 75
)
