package chirpstack

import (
	"context"
	"fmt"
	"log/slog"

	"nodedash/device_manager/apperr"
)

type Provisioning struct {
	Name   string
	DevEui string
	AppEui string
	AppKey string
	Region string
	ClassC bool
}

// Provision registers a device and its OTAA keys on the network server. If the
// keys cannot be set the half created remote device is removed again.
func Provision(ctx context.Context, ns NetworkServer, cfg Config, d Provisioning) error {
	profileId, err := cfg.ProfileFor(d.Region, d.ClassC)
	if err != nil {
		return err
	}

	device := Device{
		ApplicationId:   cfg.ApplicationId,
		DeviceProfileId: profileId,
		Name:            d.Name,
		Description:     d.Name,
		DevEui:          d.DevEui,
		JoinEui:         d.AppEui,
	}
	if err := ns.CreateDevice(ctx, device); err != nil {
		return apperr.Wrap(apperr.ExternalService, fmt.Errorf("Failed to create device in ChirpStack: %w", err))
	}

	if err := ns.CreateDeviceKeys(ctx, d.DevEui, d.AppKey); err != nil {
		if derr := ns.DeleteDevice(ctx, d.DevEui); derr != nil {
			slog.Error("error removing partially provisioned device", "dev_eui", d.DevEui, "error", derr)
		}
		return apperr.Wrap(apperr.ExternalService, fmt.Errorf("Failed to create device in ChirpStack: %w", err))
	}

	return nil
}
