package message

// TelemetryDataPoint is a single car sample. Every channel is optional.
type TelemetryDataPoint struct {
	Timestamp    string   `json:"timestamp"`
	Speed        *float64 `json:"speed,omitempty"`
	Throttle     *float64 `json:"throttle,omitempty"`
	Brake        *float64 `json:"brake,omitempty"`
	Gear         *int     `json:"gear,omitempty"`
	RPM          *float64 `json:"rpm,omitempty"`
	DRS          *int     `json:"drs,omitempty"`
	PositionX    *float64 `json:"position_x,omitempty"`
	PositionY    *float64 `json:"position_y,omitempty"`
	PositionZ    *float64 `json:"position_z,omitempty"`
	TireCompound string   `json:"tire_compound,omitempty"`
	TireLife     *float64 `json:"tire_life,omitempty"`
	Sector       *int     `json:"sector,omitempty"`
	Lap          *int     `json:"lap,omitempty"`
}

// TelemetryResponse is the payload of telemetry_update and cached_data frames
// and of the live REST endpoint.
type TelemetryResponse struct {
	SessionID  string               `json:"session_id"`
	DriverID   string               `json:"driver_id,omitempty"`
	Data       []TelemetryDataPoint `json:"data"`
	LapCount   *int                 `json:"lap_count,omitempty"`
	CurrentLap *int                 `json:"current_lap,omitempty"`
	LastUpdate string               `json:"last_update,omitempty"`
}

// Sender identifies who pushed a broadcast.
type Sender struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// BroadcastData is the payload of broadcast frames.
type BroadcastData struct {
	Message string  `json:"message"`
	Sender  *Sender `json:"sender,omitempty"`
}

// Telemetry decodes a telemetry_update or cached_data frame.
func (m Inbound) Telemetry() (TelemetryResponse, error) {
	var resp TelemetryResponse
	err := m.Decode(&resp)
	return resp, err
}

// BroadcastPayload decodes a broadcast frame.
func (m Inbound) BroadcastPayload() (BroadcastData, error) {
	var data BroadcastData
	err := m.Decode(&data)
	return data, err
}
