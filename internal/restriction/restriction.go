// Package restriction defines the named protections the orchestrators apply
// and remove, and the device authority they all depend on.
package restriction

import (
	"context"
	"errors"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/domain"
)

// Layer names. They double as keys in LayerError lists and as the agent's
// restriction identifiers.
const (
	UninstallBlock     = "uninstall_block"
	HideApps           = "hide_apps"
	SuspendApps        = "suspend_apps"
	AutoTime           = "auto_time"
	ContentFilter      = "content_filter"
	FilterDNS          = "content_filter.dns"
	FilterBrowser      = "content_filter.managed_browser"
	FilterSuspension   = "content_filter.browser_suspension"
	FilterService      = "content_filter.service"
	DeviceRestrictions = "device_restrictions"
)

// Device-level behavioural restrictions set by the hardening layer.
var deviceRestrictionKeys = []string{
	"no_factory_reset",
	"no_safe_boot",
	"no_debugging_features",
	"no_install_unknown_sources",
}

// Params carries everything a layer may need. Each layer reads only its own
// fields, so one value serves the whole sequence.
type Params struct {
	DeviceID       string
	SelfPackage    string
	Hidden         []string
	Suspended      []string
	Browsers       []string
	ManagedBrowser string
	DNSHost        string
}

// Layer is one idempotent protection. Apply on an applied layer and Remove
// on a removed one are no-ops.
type Layer interface {
	Name() string
	Apply(ctx context.Context, p Params) error
	Remove(ctx context.Context, p Params) error
}

// Authority is the elevated device permission every layer needs.
type Authority interface {
	IsHeld(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Command is the payload a Driver sends for one layer.
type Command struct {
	DeviceID       string   `json:"device_id"`
	Packages       []string `json:"packages,omitempty"`
	DNSHost        string   `json:"dns_host,omitempty"`
	ManagedBrowser string   `json:"managed_browser,omitempty"`
	Restrictions   []string `json:"restrictions,omitempty"`
}

// Driver executes layer commands on the device.
type Driver interface {
	Apply(ctx context.Context, layer string, cmd Command) error
	Remove(ctx context.Context, layer string, cmd Command) error
}

type driverLayer struct {
	name    string
	driver  Driver
	command func(Params) Command
}

func (l *driverLayer) Name() string { return l.name }

func (l *driverLayer) Apply(ctx context.Context, p Params) error {
	return l.driver.Apply(ctx, l.name, l.command(p))
}

func (l *driverLayer) Remove(ctx context.Context, p Params) error {
	return l.driver.Remove(ctx, l.name, l.command(p))
}

// NewLayer adapts a Driver into a named Layer. command picks the layer's
// fields out of Params.
func NewLayer(name string, d Driver, command func(Params) Command) Layer {
	return &driverLayer{name: name, driver: d, command: command}
}

// Composite runs its sub-layers in order and does not stop on failure. Each
// failing sub-layer is reported under its own name.
type Composite struct {
	name string
	subs []Layer
}

func NewComposite(name string, subs ...Layer) *Composite {
	return &Composite{name: name, subs: subs}
}

func (c *Composite) Name() string { return c.name }

func (c *Composite) Layers() []Layer { return c.subs }

func (c *Composite) Apply(ctx context.Context, p Params) error {
	return c.each(ctx, p, Layer.Apply)
}

func (c *Composite) Remove(ctx context.Context, p Params) error {
	return c.each(ctx, p, Layer.Remove)
}

func (c *Composite) each(ctx context.Context, p Params, op func(Layer, context.Context, Params) error) error {
	var errs domain.LayerErrors
	for _, l := range c.subs {
		if err := op(l, ctx, p); err != nil {
			errs = append(errs, Flatten(l.Name(), err)...)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Flatten turns an error returned by a layer into LayerErrors, expanding the
// per-sub-layer failures of a Composite.
func Flatten(name string, err error) domain.LayerErrors {
	if err == nil {
		return nil
	}
	var nested domain.LayerErrors
	if errors.As(err, &nested) {
		return nested
	}
	return domain.LayerErrors{{Layer: name, Err: err}}
}

// Set is the full collection of layers the orchestrators use.
type Set struct {
	UninstallBlock     Layer
	HideApps           Layer
	SuspendApps        Layer
	AutoTime           Layer
	ContentFilter      Layer
	DNS                Layer
	ManagedBrowser     Layer
	FilterService      Layer
	DeviceRestrictions Layer
}

// NewSet builds every layer on top of one Driver.
func NewSet(d Driver) Set {
	dns := NewLayer(FilterDNS, d, func(p Params) Command {
		return Command{DeviceID: p.DeviceID, DNSHost: p.DNSHost}
	})
	browser := NewLayer(FilterBrowser, d, func(p Params) Command {
		return Command{DeviceID: p.DeviceID, ManagedBrowser: p.ManagedBrowser, Packages: nonEmpty(p.ManagedBrowser)}
	})
	suspension := NewLayer(FilterSuspension, d, func(p Params) Command {
		return Command{DeviceID: p.DeviceID, Packages: p.Browsers}
	})

	return Set{
		UninstallBlock: NewLayer(UninstallBlock, d, func(p Params) Command {
			return Command{DeviceID: p.DeviceID, Packages: nonEmpty(p.SelfPackage)}
		}),
		HideApps: NewLayer(HideApps, d, func(p Params) Command {
			return Command{DeviceID: p.DeviceID, Packages: p.Hidden}
		}),
		SuspendApps: NewLayer(SuspendApps, d, func(p Params) Command {
			return Command{DeviceID: p.DeviceID, Packages: p.Suspended}
		}),
		AutoTime: NewLayer(AutoTime, d, func(p Params) Command {
			return Command{DeviceID: p.DeviceID}
		}),
		ContentFilter:  NewComposite(ContentFilter, dns, browser, suspension),
		DNS:            dns,
		ManagedBrowser: browser,
		FilterService: NewLayer(FilterService, d, func(p Params) Command {
			return Command{DeviceID: p.DeviceID}
		}),
		DeviceRestrictions: NewLayer(DeviceRestrictions, d, func(p Params) Command {
			return Command{DeviceID: p.DeviceID, Restrictions: deviceRestrictionKeys}
		}),
	}
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
