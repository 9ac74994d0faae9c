package models

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Wire layout of a ProcessSample. Every sender must produce exactly
// SampleSize bytes in little-endian order with no padding.
const (
	ExeSize    = 128
	SampleSize = 4 + 4 + ExeSize + 3*8 + 2*8 + 4 + 6*8
)

const (
	offOrigin  = 0
	offPid     = 4
	offExe     = 8
	offUtime   = offExe + ExeSize
	offStime   = offUtime + 8
	offIowait  = offStime + 8
	offVM      = offIowait + 8
	offRSS     = offVM + 8
	offThreads = offRSS + 8
	offBread   = offThreads + 4
	offBwrite  = offBread + 8
	offRchar   = offBwrite + 8
	offWchar   = offRchar + 8
	offSyscr   = offWchar + 8
	offSyscw   = offSyscr + 8
)

// ProcessSample is the resource usage of one process at a point in time
type ProcessSample struct {
	// Origin identifies the producing host; the local value is configurable
	Origin     uint32
	Pid        int32
	Exe        string
	Utime      float64
	Stime      float64
	Iowait     float64
	VM         uint64
	RSS        uint64
	Threads    int32
	ReadBytes  uint64
	WriteBytes uint64
	Rchar      uint64
	Wchar      uint64
	Syscr      uint64
	Syscw      uint64
}

// MarshalBinary encodes the sample into its fixed wire layout. Executable
// names longer than ExeSize-1 bytes are truncated so the field stays
// NUL-terminated.
func (s ProcessSample) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SampleSize)
	le := binary.LittleEndian

	le.PutUint32(buf[offOrigin:], s.Origin)
	le.PutUint32(buf[offPid:], uint32(s.Pid))
	exe := s.Exe
	if len(exe) > ExeSize-1 {
		exe = exe[:ExeSize-1]
	}
	copy(buf[offExe:offExe+ExeSize], exe)
	le.PutUint64(buf[offUtime:], math.Float64bits(s.Utime))
	le.PutUint64(buf[offStime:], math.Float64bits(s.Stime))
	le.PutUint64(buf[offIowait:], math.Float64bits(s.Iowait))
	le.PutUint64(buf[offVM:], s.VM)
	le.PutUint64(buf[offRSS:], s.RSS)
	le.PutUint32(buf[offThreads:], uint32(s.Threads))
	le.PutUint64(buf[offBread:], s.ReadBytes)
	le.PutUint64(buf[offBwrite:], s.WriteBytes)
	le.PutUint64(buf[offRchar:], s.Rchar)
	le.PutUint64(buf[offWchar:], s.Wchar)
	le.PutUint64(buf[offSyscr:], s.Syscr)
	le.PutUint64(buf[offSyscw:], s.Syscw)

	return buf, nil
}

// UnmarshalBinary decodes a sample. The only validation is the length.
func (s *ProcessSample) UnmarshalBinary(data []byte) error {
	if len(data) != SampleSize {
		return fmt.Errorf("invalid sample size: got %d bytes, want %d", len(data), SampleSize)
	}
	le := binary.LittleEndian

	exe := data[offExe : offExe+ExeSize]
	if i := bytes.IndexByte(exe, 0); i >= 0 {
		exe = exe[:i]
	}

	*s = ProcessSample{
		Origin:     le.Uint32(data[offOrigin:]),
		Pid:        int32(le.Uint32(data[offPid:])),
		Exe:        string(exe),
		Utime:      math.Float64frombits(le.Uint64(data[offUtime:])),
		Stime:      math.Float64frombits(le.Uint64(data[offStime:])),
		Iowait:     math.Float64frombits(le.Uint64(data[offIowait:])),
		VM:         le.Uint64(data[offVM:]),
		RSS:        le.Uint64(data[offRSS:]),
		Threads:    int32(le.Uint32(data[offThreads:])),
		ReadBytes:  le.Uint64(data[offBread:]),
		WriteBytes: le.Uint64(data[offBwrite:]),
		Rchar:      le.Uint64(data[offRchar:]),
		Wchar:      le.Uint64(data[offWchar:]),
		Syscr:      le.Uint64(data[offSyscr:]),
		Syscw:      le.Uint64(data[offSyscw:]),
	}
	return nil
}
