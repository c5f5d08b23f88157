//go:build !asi

package main

import (
	"fmt"

	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/config"
)

func driver(name string) (camera.Driver, error) {
	switch name {
	case config.DeviceAuto, config.DeviceSim:
		return simDriver(), nil
	case config.DeviceASI:
		return nil, fmt.Errorf("device %q requested but asicam was built without the asi tag", name)
	}
	return nil, fmt.Errorf("unknown device %q", name)
}
