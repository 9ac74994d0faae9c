package models

// Accumulator holds the samples collected during one reporting interval.
// It is owned by a single goroutine and does no locking.
type Accumulator struct {
	local   []ProcessSample
	inbound []ProcessSample
}

// NewAccumulator returns an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append records a sample received from an instrumented child or a peer
func (a *Accumulator) Append(s ProcessSample) {
	a.inbound = append(a.inbound, s)
}

// ReplaceLocal swaps the local process-tree snapshot for a fresh one.
// Inbound samples are kept.
func (a *Accumulator) ReplaceLocal(samples []ProcessSample) {
	a.local = append(a.local[:0], samples...)
}

// Len returns the number of samples held
func (a *Accumulator) Len() int {
	return len(a.local) + len(a.inbound)
}

// Samples returns the local snapshot followed by inbound samples in
// arrival order
func (a *Accumulator) Samples() []ProcessSample {
	out := make([]ProcessSample, 0, a.Len())
	out = append(out, a.local...)
	return append(out, a.inbound...)
}

// Reset drops every sample
func (a *Accumulator) Reset() {
	a.local = nil
	a.inbound = nil
}

// MergedReport is the single record published for an interval
type MergedReport struct {
	ProcessSample
	// Samples is how many entries were merged
	Samples int
}

// Merge sums every field across the held samples. Pid and Exe come from
// the most recently recorded sample. ok is false when there is nothing
// to merge.
func (a *Accumulator) Merge() (report MergedReport, ok bool) {
	samples := a.Samples()
	if len(samples) == 0 {
		return MergedReport{}, false
	}

	var m ProcessSample
	for _, s := range samples {
		m.Utime += s.Utime
		m.Stime += s.Stime
		m.Iowait += s.Iowait
		m.VM += s.VM
		m.RSS += s.RSS
		m.Threads += s.Threads
		m.ReadBytes += s.ReadBytes
		m.WriteBytes += s.WriteBytes
		m.Rchar += s.Rchar
		m.Wchar += s.Wchar
		m.Syscr += s.Syscr
		m.Syscw += s.Syscw
	}
	last := samples[len(samples)-1]
	m.Origin = last.Origin
	m.Pid = last.Pid
	m.Exe = last.Exe

	return MergedReport{ProcessSample: m, Samples: len(samples)}, true
}
