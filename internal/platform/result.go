// Package platform models the console networking SDK the online subsystem
// drives: result codes, completion handles, the SDK call surface, and an
// in-memory simulated SDK.
package platform

import "fmt"

// Result is a raw SDK return or completion code.
type Result uint32

const (
	Success Result = 0
	Fail    Result = 0xFFFFFFFF

	IOPending          Result = 997
	InsufficientBuffer Result = 122
	NotImplemented     Result = 0x80004001
	NoMoreFiles        Result = 0x80070012
	Cancelled          Result = 0x800704C7
	WrongState         Result = 0x80155206
	NotSignedIn        Result = 0x80151802
	ConnectionLost     Result = 0x80151904
)

// Succeeded reports whether a call was accepted: done or still in flight.
func Succeeded(r Result) bool {
	return r == Success || r == IOPending
}

// String formats the code the way the SDK documents it.
func (r Result) String() string {
	switch r {
	case Success:
		return "S_OK"
	case IOPending:
		return "ERROR_IO_PENDING"
	case NoMoreFiles:
		return "ERROR_NO_MORE_FILES"
	}
	return fmt.Sprintf("0x%08X", uint32(r))
}
