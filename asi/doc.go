/*
Package asi exposes control of ZWO ASI cameras in Go via the ASICamera2 SDK.

Only the subset of the SDK needed for cooled still imaging is wrapped: camera
enumeration and properties, exposure, gain, ROI and binning, image format,
the TEC, and single-frame snap mode.  Video mode, triggers, guiding and color
processing are not supported, and only square binning is exposed.

The cgo bindings are built only with the asi build tag, since they need
libASICamera2 and its headers installed:

	go build -tags asi ./cmd/asicam

The error code table in this package is always compiled so that it can be
tested without hardware.
*/
package asi
