// Package machine provides an in-process virtual machine model used by
// the vmsnap CLI: a RAM image, a run state, an optional framebuffer and
// the guest window title.
//
// Machine implements the collaborator interfaces of the snapshot
// service (service.Machine, service.FramebufferSource and
// service.TitleSource).
package machine
