package lpr

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/technosupport/ts-lpr/internal/data"
)

// NamedValue is one coerced setting as it appears in the lpr_settings
// payload.
type NamedValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// CameraSettings groups a camera's coerced settings.
type CameraSettings struct {
	CameraID int64        `json:"camera_id"`
	Settings []NamedValue `json:"settings"`
}

// SettingsPayload is the device configuration pushed after authentication.
// The shape and ordering are fixed: settings by name, cameras by id, so the
// payload (and therefore its HMAC) is deterministic for a given DB state.
type SettingsPayload struct {
	LPRID       int64            `json:"lpr_id"`
	Settings    []NamedValue     `json:"settings"`
	CamerasData []CameraSettings `json:"cameras_data"`
}

// Assembler composes the configuration payload for a device from the
// repository.
type Assembler struct {
	Devices DeviceStore
	Cameras CameraStore
}

func (a *Assembler) Assemble(ctx context.Context, lprID int64) (*SettingsPayload, error) {
	if _, err := a.Devices.GetByID(ctx, lprID); err != nil {
		return nil, fmt.Errorf("assemble settings for lpr %d: %w", lprID, err)
	}

	deviceSettings, err := a.Devices.ListSettings(ctx, lprID)
	if err != nil {
		return nil, fmt.Errorf("assemble settings for lpr %d: %w", lprID, err)
	}

	cams, err := a.Cameras.ListByLPR(ctx, lprID)
	if err != nil {
		return nil, fmt.Errorf("assemble settings for lpr %d: %w", lprID, err)
	}

	payload := &SettingsPayload{
		LPRID:       lprID,
		Settings:    coerceAll(deviceSettings),
		CamerasData: make([]CameraSettings, 0, len(cams)),
	}
	for _, cam := range cams {
		payload.CamerasData = append(payload.CamerasData, CameraSettings{
			CameraID: cam.ID,
			Settings: coerceAll(cam.Settings),
		})
	}
	sort.Slice(payload.CamerasData, func(i, j int) bool {
		return payload.CamerasData[i].CameraID < payload.CamerasData[j].CameraID
	})
	return payload, nil
}

func coerceAll(entries []data.SettingEntry) []NamedValue {
	out := make([]NamedValue, 0, len(entries))
	for _, e := range entries {
		out = append(out, NamedValue{Name: e.Name, Value: CoerceSetting(e)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CoerceSetting converts the stored text value to the entry's declared type.
// Unknown types and unparseable values pass through as strings.
func CoerceSetting(e data.SettingEntry) any {
	switch e.Type {
	case "int":
		if v, err := strconv.ParseInt(e.Value, 10, 64); err == nil {
			return v
		}
	case "float":
		if v, err := strconv.ParseFloat(e.Value, 64); err == nil {
			return v
		}
	case "bool":
		if v, err := strconv.ParseBool(e.Value); err == nil {
			return v
		}
	}
	return e.Value
}
