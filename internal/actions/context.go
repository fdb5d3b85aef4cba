// Package actions provides the action registry and invocation system.
// Actions are the flow cards a user can run against a device.
package actions

import (
	"context"

	"github.com/dokzlo13/moodcycler/internal/cycler"
)

// Devices resolves a device by id
type Devices interface {
	Get(id string) (*cycler.Device, error)
}

// Context is the capability interface provided to actions
type Context struct {
	ctx      context.Context
	devices  Devices
	deviceID string
	source   string
}

// NewContext creates an action context for one invocation
func NewContext(ctx context.Context, devices Devices, deviceID, source string) *Context {
	return &Context{ctx: ctx, devices: devices, deviceID: deviceID, source: source}
}

// Ctx returns the Go context for cancellation
func (c *Context) Ctx() context.Context {
	return c.ctx
}

// DeviceID returns the target device id
func (c *Context) DeviceID() string {
	return c.deviceID
}

// Source returns the transport that requested the action
func (c *Context) Source() string {
	return c.source
}

// Device resolves the target device
func (c *Context) Device() (*cycler.Device, error) {
	return c.devices.Get(c.deviceID)
}
