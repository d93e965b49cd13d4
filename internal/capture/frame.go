package capture

import "github.com/cmeissl/gst-wlr-screencopy-src/wlproto"

// frameState tracks one capture request through its handshake. Every
// transition is driven by an inbound protocol event validated against the
// single tracked request.
type frameState int

const (
	// stateRequested: capture requested, request not yet acknowledged.
	stateRequested frameState = iota
	// stateAccumulating: candidate formats are arriving.
	stateAccumulating
	// stateReadyToCopy: the compositor sent all candidates.
	stateReadyToCopy
	// stateCopying: a copy into a caller-supplied buffer is in flight.
	stateCopying
	// stateReady: terminal, the copy succeeded.
	stateReady
	// stateFailed: terminal, the compositor reported failure.
	stateFailed
)

func (s frameState) String() string {
	switch s {
	case stateRequested:
		return "requested"
	case stateAccumulating:
		return "accumulating-formats"
	case stateReadyToCopy:
		return "ready-to-copy"
	case stateCopying:
		return "copying"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// ShmCandidate is one advertised shared-memory layout for a frame.
type ShmCandidate struct {
	Format wlproto.ShmFormat
	Width  uint32
	Height uint32
	Stride uint32
}

// DmabufCandidate is one advertised zero-copy format for a frame.
type DmabufCandidate struct {
	Format wlproto.Fourcc
	Width  uint32
	Height uint32
}

// frameRequest is the per-frame handshake state. Candidates are kept in
// arrival order and not deduplicated; order carries no meaning. Once a
// terminal state is reached the request is immutable and must be
// destroyed before the next one is created.
type frameRequest struct {
	handle           wlproto.Frame
	output           wlproto.Output
	state            frameState
	shmCandidates    []ShmCandidate
	dmabufCandidates []DmabufCandidate
	readyAt          wlproto.Timestamp
}

func (r *frameRequest) terminal() bool {
	return r.state == stateReady || r.state == stateFailed
}

func (r *frameRequest) formatsDone() bool {
	return r.state >= stateReadyToCopy
}

// armed marks the request acknowledged by the transport; candidate
// accumulation begins.
func (r *frameRequest) armed() {
	if r.state != stateRequested {
		panic("capture: arm in state " + r.state.String())
	}
	r.state = stateAccumulating
}

func (r *frameRequest) addShmCandidate(ev wlproto.ShmFormatEvent) {
	r.requireAccumulating("shm format")
	r.state = stateAccumulating
	r.shmCandidates = append(r.shmCandidates, ShmCandidate{
		Format: ev.Format,
		Width:  ev.Width,
		Height: ev.Height,
		Stride: ev.Stride,
	})
}

func (r *frameRequest) addDmabufCandidate(ev wlproto.DmabufFormatEvent) {
	r.requireAccumulating("dmabuf format")
	r.state = stateAccumulating
	r.dmabufCandidates = append(r.dmabufCandidates, DmabufCandidate{
		Format: ev.Format,
		Width:  ev.Width,
		Height: ev.Height,
	})
}

// allFormatsSent transitions to ready-to-copy. The signal arrives exactly
// once per request.
func (r *frameRequest) allFormatsSent() {
	r.requireAccumulating("buffer-done")
	r.state = stateReadyToCopy
}

// beginCopy is called by the session when it issues the copy request.
func (r *frameRequest) beginCopy() {
	if r.state != stateReadyToCopy {
		panic("capture: copy issued in state " + r.state.String())
	}
	r.state = stateCopying
}

// finishReady records the terminal success signal. Ready is only valid
// while a copy is in flight.
func (r *frameRequest) finishReady(ts wlproto.Timestamp) {
	if r.state != stateCopying {
		panic("capture: ready signal in state " + r.state.String())
	}
	r.state = stateReady
	r.readyAt = ts
}

// finishFailed records the terminal failure signal. The compositor may
// fail a request at any point before completion.
func (r *frameRequest) finishFailed() {
	if r.terminal() {
		panic("capture: failed signal after terminal state")
	}
	r.state = stateFailed
}

func (r *frameRequest) requireAccumulating(event string) {
	if r.state != stateRequested && r.state != stateAccumulating {
		panic("capture: " + event + " event in state " + r.state.String())
	}
}
