package devices

import (
	"context"

	"github.com/unklstewy/skycapture/pkg/alpaca"
)

// DeviceStatus is the outcome of probing one bound Alpaca device.
type DeviceStatus struct {
	Role   string
	Number int
	Name   string
	Err    error
}

type surveyable interface {
	connector
	Name(ctx context.Context) (string, error)
}

// Survey connects to each bound device in turn, reads its driver name and
// disconnects again. Unbound roles are skipped. Survey does not need Open
// and leaves no device connected.
func (b *Bridge) Survey(ctx context.Context) []DeviceStatus {
	roles := []struct {
		role   string
		number int
		client func(n int) surveyable
	}{
		{"camera", b.cfg.CameraDeviceNumber, func(n int) surveyable { return alpaca.NewCamera(b.transport, n) }},
		{"filter wheel", b.cfg.FilterWheelDeviceNumber, func(n int) surveyable { return alpaca.NewFilterWheel(b.transport, n) }},
		{"telescope", b.cfg.TelescopeDeviceNumber, func(n int) surveyable { return alpaca.NewTelescope(b.transport, n) }},
		{"dome", b.cfg.DomeDeviceNumber, func(n int) surveyable { return alpaca.NewDome(b.transport, n) }},
		{"cover calibrator", b.cfg.CoverCalibratorDeviceNumber, func(n int) surveyable { return alpaca.NewCoverCalibrator(b.transport, n) }},
		{"rotator", b.cfg.RotatorDeviceNumber, func(n int) surveyable { return alpaca.NewRotator(b.transport, n) }},
		{"focuser", b.cfg.FocuserDeviceNumber, func(n int) surveyable { return alpaca.NewFocuser(b.transport, n) }},
	}

	var out []DeviceStatus
	for _, r := range roles {
		if r.number < 0 {
			continue
		}
		out = append(out, b.checkDevice(ctx, r.role, r.number, r.client(r.number)))
	}
	return out
}

func (b *Bridge) checkDevice(ctx context.Context, role string, number int, dev surveyable) DeviceStatus {
	st := DeviceStatus{Role: role, Number: number}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := dev.Connect(ctx); err != nil {
		st.Err = err
		return st
	}
	name, err := dev.Name(ctx)
	if alpaca.IsNotImplemented(err) {
		err = nil
	}
	st.Name, st.Err = name, err
	if err := dev.Disconnect(ctx); err != nil && st.Err == nil {
		st.Err = err
	}
	b.log.Debug("checked device", "role", role, "number", number, "name", st.Name, "error", st.Err)
	return st
}
