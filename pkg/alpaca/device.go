package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Device types as they appear in Alpaca URLs.
const (
	TypeCamera          = "camera"
	TypeFilterWheel     = "filterwheel"
	TypeTelescope       = "telescope"
	TypeDome            = "dome"
	TypeCoverCalibrator = "covercalibrator"
	TypeFocuser         = "focuser"
	TypeRotator         = "rotator"
)

// device holds the members common to every Alpaca device interface.
type device struct {
	t          *Transport
	deviceType string
	number     int
}

func newDevice(t *Transport, deviceType string, number int) device {
	return device{t: t, deviceType: deviceType, number: number}
}

// Number returns the device number on the Alpaca server.
func (d *device) Number() int { return d.number }

// Connect sets Connected=true.
// Implements: PUT /api/v1/{device_type}/{device_number}/connected
func (d *device) Connect(ctx context.Context) error {
	if err := d.setBool(ctx, "connected", "Connected", true); err != nil {
		return fmt.Errorf("failed to connect to %s %d: %w", d.deviceType, d.number, err)
	}
	return nil
}

// Disconnect sets Connected=false.
func (d *device) Disconnect(ctx context.Context) error {
	if err := d.setBool(ctx, "connected", "Connected", false); err != nil {
		return fmt.Errorf("failed to disconnect from %s %d: %w", d.deviceType, d.number, err)
	}
	return nil
}

// IsConnected returns the current connection status.
func (d *device) IsConnected(ctx context.Context) (bool, error) {
	return d.getBool(ctx, "connected")
}

// Name returns the device's display name.
func (d *device) Name(ctx context.Context) (string, error) {
	return d.getString(ctx, "name")
}

func (d *device) get(ctx context.Context, endpoint string, v any) error {
	resp, err := d.t.get(ctx, d.deviceType, d.number, endpoint, nil)
	if err != nil {
		return err
	}
	if err := resp.decode(v); err != nil {
		return fmt.Errorf("%s %s: %w", d.deviceType, endpoint, err)
	}
	return nil
}

func (d *device) getBool(ctx context.Context, endpoint string) (bool, error) {
	var v bool
	err := d.get(ctx, endpoint, &v)
	return v, err
}

func (d *device) getFloat(ctx context.Context, endpoint string) (float64, error) {
	var v float64
	err := d.get(ctx, endpoint, &v)
	return v, err
}

func (d *device) getInt(ctx context.Context, endpoint string) (int, error) {
	var v int
	err := d.get(ctx, endpoint, &v)
	return v, err
}

func (d *device) getString(ctx context.Context, endpoint string) (string, error) {
	var v string
	err := d.get(ctx, endpoint, &v)
	return v, err
}

func (d *device) getStrings(ctx context.Context, endpoint string) ([]string, error) {
	var v []string
	err := d.get(ctx, endpoint, &v)
	return v, err
}

// call issues a PUT and discards the returned value.
func (d *device) call(ctx context.Context, endpoint string, params url.Values) error {
	_, err := d.t.put(ctx, d.deviceType, d.number, endpoint, params)
	return err
}

func (d *device) setBool(ctx context.Context, endpoint, name string, v bool) error {
	return d.call(ctx, endpoint, url.Values{name: {strconv.FormatBool(v)}})
}

func (d *device) setFloat(ctx context.Context, endpoint, name string, v float64) error {
	return d.call(ctx, endpoint, url.Values{name: {formatFloat(v)}})
}

func (d *device) setInt(ctx context.Context, endpoint, name string, v int) error {
	return d.call(ctx, endpoint, url.Values{name: {strconv.Itoa(v)}})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
