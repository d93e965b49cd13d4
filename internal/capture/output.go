// Package capture drives the per-frame protocol handshake against the
// compositor: output discovery, candidate format accumulation, the copy
// request and the terminal ready/failed signal. All protocol state is
// advanced by the session's blocking dispatch loop; nothing here spawns
// goroutines.
package capture

import (
	"fmt"
	"log/slog"

	"github.com/cmeissl/gst-wlr-screencopy-src/wlproto"
)

// wl_output version 4 added the name and description events; older
// compositors cannot satisfy output selection by name, so registration
// fails the whole session rather than degrading.
const (
	minOutputVersion = 4
	maxOutputVersion = 4
)

// OutputMode is the retained current mode of an output. Refresh is in
// mHz as delivered on the wire.
type OutputMode struct {
	Width   int32
	Height  int32
	Refresh int32
}

// OutputInfo accumulates discovery events for one output. It is mutated
// incrementally until InfoComplete is set, after which it is read-only;
// name and mode must not be consumed before completion.
type OutputInfo struct {
	Name         string
	Description  string
	Mode         OutputMode
	InfoComplete bool
}

type outputEntry struct {
	handle wlproto.Output
	info   OutputInfo
}

// OutputRegistry tracks every bound output and resolves capture targets
// by name or registry position.
type OutputRegistry struct {
	entries  []*outputEntry
	byHandle map[wlproto.Output]*outputEntry
}

// NewOutputRegistry binds every wl_output global within the supported
// version range. A compositor advertising an output below the minimum
// version fails the session; there is no partial fallback.
func NewOutputRegistry(conn wlproto.Conn) (*OutputRegistry, error) {
	r := &OutputRegistry{byHandle: make(map[wlproto.Output]*outputEntry)}

	for _, g := range conn.Globals() {
		if g.Interface != wlproto.OutputInterface {
			continue
		}
		if g.Version < minOutputVersion {
			return nil, fmt.Errorf(
				"capture: wl_output version %d too old, need %d for name and description",
				g.Version, minOutputVersion,
			)
		}
		version := g.Version
		if version > maxOutputVersion {
			version = maxOutputVersion
		}
		handle, err := conn.BindOutput(g, version, r)
		if err != nil {
			return nil, fmt.Errorf("capture: bind wl_output %d: %w", g.Name, err)
		}
		entry := &outputEntry{handle: handle}
		r.entries = append(r.entries, entry)
		r.byHandle[handle] = entry
	}

	slog.Debug("capture: output registry bound", "outputs", len(r.entries))
	return r, nil
}

func (r *OutputRegistry) entryFor(o wlproto.Output) *outputEntry {
	entry, ok := r.byHandle[o]
	if !ok {
		panic("capture: event for untracked output")
	}
	return entry
}

// HandleGeometry implements wlproto.OutputHandler. Geometry carries no
// state this registry retains.
func (r *OutputRegistry) HandleGeometry(o wlproto.Output, ev wlproto.OutputGeometry) {
	r.entryFor(o)
}

// HandleMode implements wlproto.OutputHandler. Multiple tentative modes
// may be announced; only the current one is retained.
func (r *OutputRegistry) HandleMode(o wlproto.Output, ev wlproto.OutputMode) {
	entry := r.entryFor(o)
	if entry.info.InfoComplete {
		return
	}
	if ev.Flags&wlproto.OutputModeCurrent == 0 {
		return
	}
	entry.info.Mode = OutputMode{Width: ev.Width, Height: ev.Height, Refresh: ev.Refresh}
}

// HandleName implements wlproto.OutputHandler.
func (r *OutputRegistry) HandleName(o wlproto.Output, name string) {
	entry := r.entryFor(o)
	if entry.info.InfoComplete {
		return
	}
	entry.info.Name = name
}

// HandleDescription implements wlproto.OutputHandler.
func (r *OutputRegistry) HandleDescription(o wlproto.Output, description string) {
	entry := r.entryFor(o)
	if entry.info.InfoComplete {
		return
	}
	entry.info.Description = description
}

// HandleDone implements wlproto.OutputHandler and freezes the entry.
func (r *OutputRegistry) HandleDone(o wlproto.Output) {
	entry := r.entryFor(o)
	entry.info.InfoComplete = true
	slog.Debug("capture: output discovered",
		"name", entry.info.Name,
		"width", entry.info.Mode.Width,
		"height", entry.info.Mode.Height,
		"refresh_mhz", entry.info.Mode.Refresh,
	)
}

// AllComplete reports whether every bound output finished discovery.
func (r *OutputRegistry) AllComplete() bool {
	for _, entry := range r.entries {
		if !entry.info.InfoComplete {
			return false
		}
	}
	return true
}

// Infos returns a snapshot of every completed output.
func (r *OutputRegistry) Infos() []OutputInfo {
	infos := make([]OutputInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.info.InfoComplete {
			infos = append(infos, entry.info)
		}
	}
	return infos
}

// Resolve selects the capture target: exact name match when a name is
// given, registry position 0 otherwise. No outputs is a hard failure.
func (r *OutputRegistry) Resolve(name string) (wlproto.Output, OutputInfo, error) {
	if len(r.entries) == 0 {
		return nil, OutputInfo{}, fmt.Errorf("capture: no outputs available")
	}

	if name == "" {
		entry := r.entries[0]
		if !entry.info.InfoComplete {
			return nil, OutputInfo{}, fmt.Errorf("capture: output discovery incomplete")
		}
		return entry.handle, entry.info, nil
	}

	for _, entry := range r.entries {
		if entry.info.InfoComplete && entry.info.Name == name {
			return entry.handle, entry.info, nil
		}
	}
	return nil, OutputInfo{}, fmt.Errorf("capture: no output named %q", name)
}

// Release releases every bound output.
func (r *OutputRegistry) Release() {
	for _, entry := range r.entries {
		entry.handle.Release()
	}
	r.entries = nil
	r.byHandle = map[wlproto.Output]*outputEntry{}
}
