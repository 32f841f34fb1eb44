package envoy

import "encoding/xml"

// Response shapes of the gateway's JSON endpoints. The surface is
// undocumented and firmware-dependent; fields not present on a given
// firmware simply decode to their zero value.

type TokenResponse struct {
	GenerationTime int64  `json:"generation_time"`
	Token          string `json:"token"`
	ExpiresAt      int64  `json:"expires_at"`
}

// ProductionResponse is the body of /production.json?details=1.
type ProductionResponse struct {
	Production  []Measurement `json:"production"`
	Consumption []Measurement `json:"consumption"`
	Storage     []Storage     `json:"storage"`
}

type Measurement struct {
	Type             string  `json:"type"`
	ActiveCount      int     `json:"activeCount"`
	ReadingTime      int64   `json:"readingTime"`
	WNow             float64 `json:"wNow"`
	WhLifetime       float64 `json:"whLifetime"`
	MeasurementType  string  `json:"measurementType,omitempty"`
	VarhLeadLifetime float64 `json:"varhLeadLifetime,omitempty"`
	VarhLagLifetime  float64 `json:"varhLagLifetime,omitempty"`
	VahLifetime      float64 `json:"vahLifetime,omitempty"`
	RmsCurrent       float64 `json:"rmsCurrent,omitempty"`
	RmsVoltage       float64 `json:"rmsVoltage,omitempty"`
	ReactPwr         float64 `json:"reactPwr,omitempty"`
	ApprntPwr        float64 `json:"apprntPwr,omitempty"`
	PwrFactor        float64 `json:"pwrFactor,omitempty"`
	WhToday          float64 `json:"whToday,omitempty"`
	WhLastSevenDays  float64 `json:"whLastSevenDays,omitempty"`
	VahToday         float64 `json:"vahToday,omitempty"`
	VarhLeadToday    float64 `json:"varhLeadToday,omitempty"`
	VarhLagToday     float64 `json:"varhLagToday,omitempty"`
	Lines            []Line  `json:"lines,omitempty"`
}

type Line struct {
	WNow             float64 `json:"wNow"`
	WhLifetime       float64 `json:"whLifetime"`
	VarhLeadLifetime float64 `json:"varhLeadLifetime"`
	VarhLagLifetime  float64 `json:"varhLagLifetime"`
	VahLifetime      float64 `json:"vahLifetime"`
	RmsCurrent       float64 `json:"rmsCurrent"`
	RmsVoltage       float64 `json:"rmsVoltage"`
	ReactPwr         float64 `json:"reactPwr"`
	ApprntPwr        float64 `json:"apprntPwr"`
	PwrFactor        float64 `json:"pwrFactor"`
	WhToday          float64 `json:"whToday"`
	WhLastSevenDays  float64 `json:"whLastSevenDays"`
	VahToday         float64 `json:"vahToday"`
	VarhLeadToday    float64 `json:"varhLeadToday"`
	VarhLagToday     float64 `json:"varhLagToday"`
}

// Storage is the AC battery block inside production.json. PercentFull
// is a pointer because its absence is how the gateway signals that no
// AC batteries are installed.
type Storage struct {
	Type        string  `json:"type"`
	ActiveCount int     `json:"activeCount"`
	ReadingTime int64   `json:"readingTime"`
	WNow        float64 `json:"wNow"`
	WhNow       float64 `json:"whNow"`
	State       string  `json:"state"`
	PercentFull *int    `json:"percentFull,omitempty"`
}

// V1Production is the body of /api/v1/production.
type V1Production struct {
	WattHoursToday     float64 `json:"wattHoursToday"`
	WattHoursSevenDays float64 `json:"wattHoursSevenDays"`
	WattHoursLifetime  float64 `json:"wattHoursLifetime"`
	WattsNow           float64 `json:"wattsNow"`
}

// MeterConfig is one entry of the /ivp/meters array. Index 0 describes
// the production CT, index 1 the consumption CT, but entries are
// matched by measurementType since index order varies across firmware.
type MeterConfig struct {
	EID             int64    `json:"eid"`
	State           string   `json:"state"`
	MeasurementType string   `json:"measurementType"`
	PhaseMode       string   `json:"phaseMode"`
	PhaseCount      int      `json:"phaseCount"`
	MeteringStatus  string   `json:"meteringStatus"`
	StatusFlags     []string `json:"statusFlags"`
}

const (
	meterStateEnabled           = "enabled"
	measurementProduction       = "production"
	measurementNetConsumption   = "net-consumption"
	measurementTotalConsumption = "total-consumption"
)

// MeterReading is one entry of /ivp/meters/readings: cumulative energy
// registers plus instantaneous electrical values, with one channel per
// wired phase.
type MeterReading struct {
	EID           int64          `json:"eid"`
	Timestamp     int64          `json:"timestamp"`
	ActEnergyDlvd float64        `json:"actEnergyDlvd"`
	ActEnergyRcvd float64        `json:"actEnergyRcvd"`
	ActivePower   float64        `json:"activePower"`
	ApparentPower float64        `json:"apparentPower"`
	ReactivePower float64        `json:"reactivePower"`
	Voltage       float64        `json:"voltage"`
	Current       float64        `json:"current"`
	Freq          float64        `json:"freq"`
	PwrFactor     float64        `json:"pwrFactor"`
	Channels      []MeterChannel `json:"channels"`
}

type MeterChannel struct {
	EID           int64   `json:"eid"`
	Timestamp     int64   `json:"timestamp"`
	ActEnergyDlvd float64 `json:"actEnergyDlvd"`
	ActEnergyRcvd float64 `json:"actEnergyRcvd"`
	ActivePower   float64 `json:"activePower"`
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	Freq          float64 `json:"freq"`
	PwrFactor     float64 `json:"pwrFactor"`
}

// InventoryResponse is the body of /ivp/ensemble/inventory.
type InventoryResponse []struct {
	Type      string    `json:"type"`
	Batteries []Battery `json:"devices"`
}

type Battery struct {
	EnchgGridMode        string   `json:"Enchg_grid_mode,omitempty"`
	EnpwrCurrStateID     int      `json:"Enpwr_curr_state_id,omitempty"`
	EnpwrGridMode        string   `json:"Enpwr_grid_mode,omitempty"`
	EnpwrRelayStateBm    int      `json:"Enpwr_relay_state_bm,omitempty"`
	AdminState           int      `json:"admin_state"`
	AdminStateStr        string   `json:"admin_state_str"`
	BmuFwVersion         string   `json:"bmu_fw_version,omitempty"`
	CommLevel24Ghz       int      `json:"comm_level_2_4_ghz"`
	CommLevelSubGhz      int      `json:"comm_level_sub_ghz"`
	Communicating        bool     `json:"communicating"`
	CreatedDate          int      `json:"created_date"`
	DcSwitchOff          bool     `json:"dc_switch_off"`
	DerIndex             int      `json:"der_index,omitempty"`
	DeviceStatus         []string `json:"device_status"`
	EnchargeCapacity     int      `json:"encharge_capacity,omitempty"`
	EnchargeRev          int      `json:"encharge_rev,omitempty"`
	ImgLoadDate          int      `json:"img_load_date"`
	ImgPnumRunning       string   `json:"img_pnum_running"`
	Installed            int      `json:"installed"`
	LastRptDate          int      `json:"last_rpt_date"`
	LedStatus            int      `json:"led_status,omitempty"`
	MainsAdminState      string   `json:"mains_admin_state,omitempty"`
	MainsOperState       string   `json:"mains_oper_state,omitempty"`
	MaxCellTemp          int      `json:"maxCellTemp,omitempty"`
	PartNum              string   `json:"part_num"`
	PercentFull          int      `json:"percentFull,omitempty"`
	Phase                string   `json:"phase,omitempty"`
	ReportedEncGridState string   `json:"reported_enc_grid_state,omitempty"`
	SerialNum            string   `json:"serial_num"`
	SleepEnabled         bool     `json:"sleep_enabled"`
	Temperature          int      `json:"temperature"`
}

// HomeResponse is the subset of /home.json the reader consumes. Enpower
// is a pointer: firmware without an Enpower unit omits the key, which
// permanently disables grid-status fetching.
type HomeResponse struct {
	Enpower *EnpowerStatus `json:"enpower,omitempty"`
}

type EnpowerStatus struct {
	GridStatus string `json:"grid_status"`
}

// Inverter is one entry of /api/v1/production/inverters.
type Inverter struct {
	SerialNumber    string `json:"serialNumber"`
	LastReportDate  int64  `json:"lastReportDate"`
	DevType         int    `json:"devType"`
	LastReportWatts int    `json:"lastReportWatts"`
	MaxReportWatts  int    `json:"maxReportWatts"`
}

// InverterProduction is the per-serial inverter detail exposed to
// consumers.
type InverterProduction struct {
	Watts      int    `json:"watts"`
	ReportTime string `json:"report_time"`
}

// deviceInfo is the parsed /info.xml document.
type deviceInfo struct {
	XMLName xml.Name `xml:"envoy_info"`
	Time    int64    `xml:"time"`
	Device  struct {
		Serial   string `xml:"sn"`
		PartNum  string `xml:"pn"`
		Software string `xml:"software"`
		Imeter   bool   `xml:"imeter"`
	} `xml:"device"`
}

// DiscoverResponse describes a gateway found via mDNS.
type DiscoverResponse struct {
	IPV4         string
	IPV6         string
	Serial       string
	ProtoVersion string
}
