// Package wlproto defines the capture core's view of the compositor
// protocol: the wire constants, event payloads and object interfaces the
// core needs to negotiate frames and import buffers.
//
// The package deliberately contains no transport. Connection setup, global
// discovery and the message codec belong to the transport collaborator,
// which implements Conn and the object interfaces below. Tests implement
// them with in-process fakes.
//
// Interface shapes follow the wayland object model: requests are
// fire-and-forget (errors surface through Dispatch), events are delivered
// through handler callbacks registered at bind/capture time, and every
// event carries the object it is tagged for so the receiver can validate
// it against its tracked state.
package wlproto
