package register

import "fmt"

// AlStatusCode is the 16 bit error code latched at 0x0134 when a SubDevice
// refuses or drops out of a state. Unknown values still format, they are
// not a parse error.
type AlStatusCode uint16

const (
	NoError                     AlStatusCode = 0x0000
	UnspecifiedError            AlStatusCode = 0x0001
	NoMemory                    AlStatusCode = 0x0002
	InvalidRequestedStateChange AlStatusCode = 0x0011
	UnknownRequestedState       AlStatusCode = 0x0012
	BootstrapNotSupported       AlStatusCode = 0x0013
	NoValidFirmware             AlStatusCode = 0x0014
	InvalidMailboxConfiguration AlStatusCode = 0x0016
	InvalidSyncManagerConfig    AlStatusCode = 0x0017
	NoValidInputsAvailable      AlStatusCode = 0x0018
	NoValidOutputs              AlStatusCode = 0x0019
	SynchronizationError        AlStatusCode = 0x001A
	SyncManagerWatchdogExpired  AlStatusCode = 0x001B
	InvalidSyncManagerTypes     AlStatusCode = 0x001C
	InvalidOutputConfiguration  AlStatusCode = 0x001D
	InvalidInputConfiguration   AlStatusCode = 0x001E
	InvalidWatchdogConfig       AlStatusCode = 0x001F
	NeedsColdStart              AlStatusCode = 0x0020
	NeedsInit                   AlStatusCode = 0x0021
	NeedsPreOp                  AlStatusCode = 0x0022
	NeedsSafeOp                 AlStatusCode = 0x0023
	InvalidInputMapping         AlStatusCode = 0x0024
	InvalidOutputMapping        AlStatusCode = 0x0025
	InconsistentSettings        AlStatusCode = 0x0026
	FreeRunNotSupported         AlStatusCode = 0x0027
	SyncModeNotSupported        AlStatusCode = 0x0028
	FreeRunNeeds3BufferMode     AlStatusCode = 0x0029
	BackgroundWatchdog          AlStatusCode = 0x002A
	NoValidInputsAndOutputs     AlStatusCode = 0x002B
	FatalSyncError              AlStatusCode = 0x002C
	NoSyncError                 AlStatusCode = 0x002D
	InvalidDcSyncConfiguration  AlStatusCode = 0x0030
	InvalidDcLatchConfiguration AlStatusCode = 0x0031
	PllError                    AlStatusCode = 0x0032
	DcSyncIoError               AlStatusCode = 0x0033
	DcSyncTimeoutError          AlStatusCode = 0x0034
	DcInvalidSyncCycleTime      AlStatusCode = 0x0035
	EepromNoAccess              AlStatusCode = 0x0050
	EepromError                 AlStatusCode = 0x0051
	RestartedLocally            AlStatusCode = 0x0060
)

var alStatusCodeDescriptions = map[AlStatusCode]string{
	NoError:                     "No error",
	UnspecifiedError:            "Unspecified error",
	NoMemory:                    "No memory",
	InvalidRequestedStateChange: "Invalid requested state change",
	UnknownRequestedState:       "Unknown requested state",
	BootstrapNotSupported:       "Bootstrap not supported",
	NoValidFirmware:             "No valid firmware",
	InvalidMailboxConfiguration: "Invalid mailbox configuration",
	InvalidSyncManagerConfig:    "Invalid sync manager configuration",
	NoValidInputsAvailable:      "No valid inputs available",
	NoValidOutputs:              "No valid outputs",
	SynchronizationError:        "Synchronization error",
	SyncManagerWatchdogExpired:  "Sync manager watchdog",
	InvalidSyncManagerTypes:     "Invalid sync manager types",
	InvalidOutputConfiguration:  "Invalid output configuration",
	InvalidInputConfiguration:   "Invalid input configuration",
	InvalidWatchdogConfig:       "Invalid watchdog configuration",
	NeedsColdStart:              "SubDevice needs cold start",
	NeedsInit:                   "SubDevice needs INIT",
	NeedsPreOp:                  "SubDevice needs PRE-OP",
	NeedsSafeOp:                 "SubDevice needs SAFE-OP",
	InvalidInputMapping:         "Invalid input mapping",
	InvalidOutputMapping:        "Invalid output mapping",
	InconsistentSettings:        "Inconsistent settings",
	FreeRunNotSupported:         "Free run not supported",
	SyncModeNotSupported:        "Sync mode not supported",
	FreeRunNeeds3BufferMode:     "Free run needs 3 buffer mode",
	BackgroundWatchdog:          "Background watchdog",
	NoValidInputsAndOutputs:     "No valid inputs and outputs",
	FatalSyncError:              "Fatal sync error",
	NoSyncError:                 "No sync error",
	InvalidDcSyncConfiguration:  "Invalid DC sync configuration",
	InvalidDcLatchConfiguration: "Invalid DC latch configuration",
	PllError:                    "PLL error",
	DcSyncIoError:               "DC sync IO error",
	DcSyncTimeoutError:          "DC sync timeout error",
	DcInvalidSyncCycleTime:      "DC invalid sync cycle time",
	EepromNoAccess:              "EEPROM no access",
	EepromError:                 "EEPROM error",
	RestartedLocally:            "SubDevice restarted locally",
}

func (c AlStatusCode) String() string {
	if s, ok := alStatusCodeDescriptions[c]; ok {
		return s
	}
	return fmt.Sprintf("AL status code 0x%04x", uint16(c))
}

// AlStatusCodeError wraps a nonzero AL status code together with the
// configured address of the SubDevice that raised it.
type AlStatusCodeError struct {
	Address uint16
	Code    AlStatusCode
}

func (e *AlStatusCodeError) Error() string {
	return fmt.Sprintf("SubDevice x%x AL status : %v (0x%04x)", e.Address, e.Code, uint16(e.Code))
}
