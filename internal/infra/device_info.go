package infra

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// HostDeviceInfo describes the host via gopsutil. Battery level is not
// exposed by gopsutil and is always reported unknown.
type HostDeviceInfo struct{}

// NewHostDeviceInfo creates a device info provider.
func NewHostDeviceInfo() *HostDeviceInfo {
	return &HostDeviceInfo{}
}

// Info returns host name, platform and OS version.
func (HostDeviceInfo) Info(ctx context.Context) (domain.DeviceInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return domain.DeviceInfo{BatteryLevel: -1}, fmt.Errorf("failed to read host info: %w", err)
	}
	return domain.DeviceInfo{
		Hostname:     info.Hostname,
		Platform:     info.Platform,
		OSVersion:    info.PlatformVersion,
		BatteryLevel: -1,
	}, nil
}

var _ domain.DeviceInfoProvider = HostDeviceInfo{}
