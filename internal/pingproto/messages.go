package pingproto

import "encoding/binary"

// DeviceInformation is the common reply to GetDeviceInformation. DeviceType
// distinguishes Ping1D (1) from Ping360 (2); 0 means "common" — protocol
// compatible but not one of the recognized specialized kinds.
type DeviceInformation struct {
	DeviceType     byte
	DeviceRevision byte
	FirmwareMajor  byte
	FirmwareMinor  byte
	FirmwarePatch  byte
}

func (d DeviceInformation) Encode() []byte {
	return []byte{d.DeviceType, d.DeviceRevision, d.FirmwareMajor, d.FirmwareMinor, d.FirmwarePatch}
}

func DecodeDeviceInformation(p []byte) (DeviceInformation, error) {
	if len(p) < 5 {
		return DeviceInformation{}, ErrShortPayload
	}
	return DeviceInformation{
		DeviceType:     p[0],
		DeviceRevision: p[1],
		FirmwareMajor:  p[2],
		FirmwareMinor:  p[3],
		FirmwarePatch:  p[4],
	}, nil
}

// DistanceSimple is the Ping1D lightweight distance reply.
type DistanceSimple struct {
	DistanceMM uint32
	Confidence byte
}

func (d DistanceSimple) Encode() []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf[0:4], d.DistanceMM)
	buf[4] = d.Confidence
	return buf
}

func DecodeDistanceSimple(p []byte) (DistanceSimple, error) {
	if len(p) < 5 {
		return DistanceSimple{}, ErrShortPayload
	}
	return DistanceSimple{
		DistanceMM: binary.LittleEndian.Uint32(p[0:4]),
		Confidence: p[4],
	}, nil
}

// Profile is the Ping1D full-profile reply: a distance/confidence summary
// plus the raw intensity samples.
type Profile struct {
	DistanceMM     uint32
	Confidence     byte
	PingNumber     uint32
	ScanStart      uint32
	ScanLength     uint32
	GainSetting    uint32
	NumberOfPoints uint16
	Data           []byte
}

func (p Profile) Encode() []byte {
	buf := make([]byte, 19+len(p.Data))
	binary.LittleEndian.PutUint32(buf[0:4], p.DistanceMM)
	buf[4] = p.Confidence
	binary.LittleEndian.PutUint32(buf[5:9], p.PingNumber)
	binary.LittleEndian.PutUint32(buf[9:13], p.ScanStart)
	binary.LittleEndian.PutUint32(buf[13:17], p.ScanLength)
	binary.LittleEndian.PutUint16(buf[17:19], p.NumberOfPoints)
	copy(buf[19:], p.Data)
	return buf
}

func DecodeProfile(p []byte) (Profile, error) {
	if len(p) < 19 {
		return Profile{}, ErrShortPayload
	}
	data := make([]byte, len(p)-19)
	copy(data, p[19:])
	return Profile{
		DistanceMM:     binary.LittleEndian.Uint32(p[0:4]),
		Confidence:     p[4],
		PingNumber:     binary.LittleEndian.Uint32(p[5:9]),
		ScanStart:      binary.LittleEndian.Uint32(p[9:13]),
		ScanLength:     binary.LittleEndian.Uint32(p[13:17]),
		NumberOfPoints: binary.LittleEndian.Uint16(p[17:19]),
		Data:           data,
	}, nil
}

// TransducerRequest commands one Ping360 scan step: transmit at Angle with
// the given gain/transmit settings.
type TransducerRequest struct {
	Mode              byte
	GainSetting       byte
	AngleRequested    uint16 // 0..399
	TransmitDuration  uint16
	SamplePeriod      uint16
	TransmitFrequency uint16
	NumberOfSamples   uint16
}

func (t TransducerRequest) Encode() []byte {
	buf := make([]byte, 11)
	buf[0] = t.Mode
	buf[1] = t.GainSetting
	binary.LittleEndian.PutUint16(buf[2:4], t.AngleRequested)
	binary.LittleEndian.PutUint16(buf[4:6], t.TransmitDuration)
	binary.LittleEndian.PutUint16(buf[6:8], t.SamplePeriod)
	binary.LittleEndian.PutUint16(buf[8:10], t.TransmitFrequency)
	buf[10] = byte(t.NumberOfSamples)
	return buf
}

func DecodeTransducerRequest(p []byte) (TransducerRequest, error) {
	if len(p) < 11 {
		return TransducerRequest{}, ErrShortPayload
	}
	return TransducerRequest{
		Mode:              p[0],
		GainSetting:       p[1],
		AngleRequested:    binary.LittleEndian.Uint16(p[2:4]),
		TransmitDuration:  binary.LittleEndian.Uint16(p[4:6]),
		SamplePeriod:      binary.LittleEndian.Uint16(p[6:8]),
		TransmitFrequency: binary.LittleEndian.Uint16(p[8:10]),
		NumberOfSamples:   uint16(p[10]),
	}, nil
}

// DeviceData is the Ping360 reply to a single TransducerRequest: the
// authoritative Angle is whatever the device reports, even if it disagrees
// with the commanded AngleRequested.
type DeviceData struct {
	Mode              byte
	GainSetting       byte
	Angle             uint16
	TransmitDuration  uint16
	SamplePeriod      uint16
	TransmitFrequency uint16
	NumberOfSamples   uint16
	Data              []byte
}

func (d DeviceData) Encode() []byte {
	buf := make([]byte, 11+len(d.Data))
	buf[0] = d.Mode
	buf[1] = d.GainSetting
	binary.LittleEndian.PutUint16(buf[2:4], d.Angle)
	binary.LittleEndian.PutUint16(buf[4:6], d.TransmitDuration)
	binary.LittleEndian.PutUint16(buf[6:8], d.SamplePeriod)
	binary.LittleEndian.PutUint16(buf[8:10], d.TransmitFrequency)
	buf[10] = byte(d.NumberOfSamples)
	copy(buf[11:], d.Data)
	return buf
}

func DecodeDeviceData(p []byte) (DeviceData, error) {
	if len(p) < 11 {
		return DeviceData{}, ErrShortPayload
	}
	data := make([]byte, len(p)-11)
	copy(data, p[11:])
	return DeviceData{
		Mode:              p[0],
		GainSetting:       p[1],
		Angle:             binary.LittleEndian.Uint16(p[2:4]),
		TransmitDuration:  binary.LittleEndian.Uint16(p[4:6]),
		SamplePeriod:      binary.LittleEndian.Uint16(p[6:8]),
		TransmitFrequency: binary.LittleEndian.Uint16(p[8:10]),
		NumberOfSamples:   uint16(p[10]),
		Data:              data,
	}, nil
}

// AutoDeviceData is one step of a Ping360 auto-scan: a DeviceData reply
// annotated with the scan-range parameters that produced it.
type AutoDeviceData struct {
	Mode              byte
	GainSetting       byte
	Angle             uint16
	TransmitDuration  uint16
	SamplePeriod      uint16
	TransmitFrequency uint16
	StartAngle        uint16
	StopAngle         uint16
	NumSteps          uint16
	Delay             uint16
	NumberOfSamples   uint16
	DataLength        uint16
	Data              []byte
}

func (a AutoDeviceData) Encode() []byte {
	buf := make([]byte, 19+len(a.Data))
	buf[0] = a.Mode
	buf[1] = a.GainSetting
	binary.LittleEndian.PutUint16(buf[2:4], a.Angle)
	binary.LittleEndian.PutUint16(buf[4:6], a.TransmitDuration)
	binary.LittleEndian.PutUint16(buf[6:8], a.SamplePeriod)
	binary.LittleEndian.PutUint16(buf[8:10], a.TransmitFrequency)
	binary.LittleEndian.PutUint16(buf[10:12], a.StartAngle)
	binary.LittleEndian.PutUint16(buf[12:14], a.StopAngle)
	binary.LittleEndian.PutUint16(buf[14:16], a.NumSteps)
	binary.LittleEndian.PutUint16(buf[16:18], a.Delay)
	buf[18] = byte(a.NumberOfSamples)
	copy(buf[19:], a.Data)
	return buf
}

func DecodeAutoDeviceData(p []byte) (AutoDeviceData, error) {
	if len(p) < 19 {
		return AutoDeviceData{}, ErrShortPayload
	}
	data := make([]byte, len(p)-19)
	copy(data, p[19:])
	numSamples := uint16(p[18])
	return AutoDeviceData{
		Mode:              p[0],
		GainSetting:       p[1],
		Angle:             binary.LittleEndian.Uint16(p[2:4]),
		TransmitDuration:  binary.LittleEndian.Uint16(p[4:6]),
		SamplePeriod:      binary.LittleEndian.Uint16(p[6:8]),
		TransmitFrequency: binary.LittleEndian.Uint16(p[8:10]),
		StartAngle:        binary.LittleEndian.Uint16(p[10:12]),
		StopAngle:         binary.LittleEndian.Uint16(p[12:14]),
		NumSteps:          binary.LittleEndian.Uint16(p[14:16]),
		Delay:             binary.LittleEndian.Uint16(p[16:18]),
		NumberOfSamples:   numSamples,
		DataLength:        numSamples,
		Data:              data,
	}, nil
}

// FromDeviceData synthesizes an AutoDeviceData from a single-step DeviceData
// reply, per the recording worker's contract: scan-range annotations are
// set to {0, 399, 1, 0} and data_length mirrors number_of_samples.
func FromDeviceData(d DeviceData) AutoDeviceData {
	return AutoDeviceData{
		Mode:              d.Mode,
		GainSetting:       d.GainSetting,
		Angle:             d.Angle,
		TransmitDuration:  d.TransmitDuration,
		SamplePeriod:      d.SamplePeriod,
		TransmitFrequency: d.TransmitFrequency,
		StartAngle:        0,
		StopAngle:         399,
		NumSteps:          1,
		Delay:             0,
		NumberOfSamples:   d.NumberOfSamples,
		DataLength:        d.NumberOfSamples,
		Data:              d.Data,
	}
}

// SetModeRequest switches a Ping1D device between its supported ranging
// modes (e.g. auto/manual gain).
type SetModeRequest struct {
	Mode byte
}

func (s SetModeRequest) Encode() []byte { return []byte{s.Mode} }

func DecodeSetModeRequest(p []byte) (SetModeRequest, error) {
	if len(p) < 1 {
		return SetModeRequest{}, ErrShortPayload
	}
	return SetModeRequest{Mode: p[0]}, nil
}

// ContinuousStartRequest asks the device to begin streaming the message
// identified by StreamID (e.g. MsgProfile or MsgDistanceSimple) without
// further requests.
type ContinuousStartRequest struct {
	StreamID MessageID
}

func (c ContinuousStartRequest) Encode() []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(c.StreamID))
	return buf
}

func DecodeContinuousStartRequest(p []byte) (ContinuousStartRequest, error) {
	if len(p) < 2 {
		return ContinuousStartRequest{}, ErrShortPayload
	}
	return ContinuousStartRequest{StreamID: MessageID(binary.LittleEndian.Uint16(p))}, nil
}

// Nack carries the reason a request was rejected.
type Nack struct {
	Reason string
}

func (n Nack) Encode() []byte { return []byte(n.Reason) }

func DecodeNack(p []byte) Nack { return Nack{Reason: string(p)} }
