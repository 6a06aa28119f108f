// Package rtc reads wall-clock time from the MC146818 Real-Time Clock
// over its CMOS index/data port pair. It does not use shrike/hpet or any
// other timer: a read that straddles the RTC's once-a-second update cycle
// is retried with no elapsed-time budget and no bound on the number of
// retries.
package rtc

import "shrike/cpu"

// CMOS index/data ports.
const (
	portIndex = 0x70
	portData  = 0x71
)

// CMOS register indices.
const (
	regSeconds = 0x00
	regMinutes = 0x02
	regHours   = 0x04
	regDay     = 0x07
	regMonth   = 0x08
	regYear    = 0x09
	regStatusA = 0x0A
	regStatusB = 0x0B
)

const statusAUpdateInProgress = 1 << 7

// Status Register B mode bits.
const (
	statusBBinaryMode = 1 << 2
	statusB24Hour     = 1 << 1
)

var (
	inByte  = cpu.InByte
	outByte = cpu.OutByte
)

func readReg(reg uint8) uint8 {
	outByte(portIndex, reg)
	return inByte(portData)
}

// waitForUpdateComplete busy-waits while Status Register A reports an
// update cycle in progress, so a read doesn't begin just as the RTC
// starts rewriting its registers.
func waitForUpdateComplete() {
	for readReg(regStatusA)&statusAUpdateInProgress != 0 {
	}
}

// Time is a wall-clock reading. Month is 1-12, Year is the full
// four-digit year assuming the 21st century (the RTC only stores two
// digits).
type Time struct {
	Second, Minute, Hour uint8
	Day, Month           uint8
	Year                 uint16
}

func bcdToBinary(v uint8) uint8 {
	return (v & 0x0F) + (v>>4)*10
}

// read performs one unsynchronized read of every RTC register.
func read() Time {
	return Time{
		Second: readReg(regSeconds),
		Minute: readReg(regMinutes),
		Hour:   readReg(regHours),
		Day:    readReg(regDay),
		Month:  readReg(regMonth),
		Year:   uint16(readReg(regYear)),
	}
}

func (t Time) equal(o Time) bool {
	return t == o
}

// Now reads the current wall-clock time. It waits out any in-progress
// update cycle and then takes two consecutive readings, retrying until
// they agree: a read that starts just after the update-in-progress flag
// clears can still straddle the instant the RTC latches new values, and
// comparing two reads catches that without needing a second wait for
// UIP (which could itself race against the very update it's waiting
// for).
func Now() Time {
	waitForUpdateComplete()
	for {
		first := read()
		second := read()
		if first.equal(second) {
			return decode(second)
		}
	}
}

// decode converts a raw register reading into binary, 24-hour form,
// consulting Status Register B for the data and hour-count mode the
// registers were actually written in.
func decode(t Time) Time {
	statusB := readReg(regStatusB)
	if statusB&statusBBinaryMode == 0 {
		t.Second = bcdToBinary(t.Second)
		t.Minute = bcdToBinary(t.Minute)
		pm := t.Hour&0x80 != 0
		t.Hour = bcdToBinary(t.Hour & 0x7F)
		if pm {
			t.Hour |= 0x80
		}
		t.Day = bcdToBinary(t.Day)
		t.Month = bcdToBinary(t.Month)
		t.Year = uint16(bcdToBinary(uint8(t.Year)))
	}

	if statusB&statusB24Hour == 0 {
		pm := t.Hour&0x80 != 0
		t.Hour &= 0x7F
		if t.Hour == 12 {
			t.Hour = 0
		}
		if pm {
			t.Hour += 12
		}
	}

	t.Year += 2000
	return t
}
