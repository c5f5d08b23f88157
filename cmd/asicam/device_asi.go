//go:build asi

package main

import (
	"fmt"

	"github.com/nasa-jpl/asicam/asi"
	"github.com/nasa-jpl/asicam/camera"
	"github.com/nasa-jpl/asicam/config"
)

func driver(name string) (camera.Driver, error) {
	switch name {
	case config.DeviceAuto, config.DeviceASI:
		return asi.Driver{}, nil
	case config.DeviceSim:
		return simDriver(), nil
	}
	return nil, fmt.Errorf("unknown device %q", name)
}
