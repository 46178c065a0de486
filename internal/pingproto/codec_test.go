package pingproto

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		ID:          MsgProfile,
		SrcDeviceID: 1,
		DstDeviceID: 0,
		Payload:     []byte{1, 2, 3, 4, 5},
	}
	encoded := Encode(f)

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != f.ID || got.SrcDeviceID != f.SrcDeviceID || got.DstDeviceID != f.DstDeviceID {
		t.Fatalf("Decode header mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("Decode payload mismatch: got %v, want %v", got.Payload, f.Payload)
	}
}

func TestFindFrameWaitsForMoreBytes(t *testing.T) {
	full := Encode(Frame{ID: MsgAck, Payload: []byte{9}})
	_, _, ok, err := FindFrame(full[:headerLen])
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on a truncated frame")
	}
}

func TestFindFrameDetectsBadChecksum(t *testing.T) {
	full := Encode(Frame{ID: MsgAck, Payload: []byte{9}})
	full[len(full)-1] ^= 0xFF

	_, n, ok, err := FindFrame(full)
	if ok {
		t.Fatalf("expected ok=false for a corrupted checksum")
	}
	if err != ErrBadChecksum {
		t.Fatalf("got err=%v, want ErrBadChecksum", err)
	}
	if n != len(full) {
		t.Fatalf("expected caller to skip the whole bad frame (n=%d), got n=%d", len(full), n)
	}
}

func TestFindFrameResyncsAfterNoise(t *testing.T) {
	good := Encode(Frame{ID: MsgAck, Payload: []byte{1}})
	noisy := append([]byte{0xDE, 0xAD, 0xBE, 0xEF}, good...)

	skipped := 0
	for {
		_, n, ok, err := FindFrame(noisy[skipped:])
		if ok {
			f, _, _, _ := FindFrame(noisy[skipped:])
			if f.ID != MsgAck {
				t.Fatalf("recovered wrong frame: %+v", f)
			}
			return
		}
		if err == ErrNoSOF {
			skipped++
			continue
		}
		t.Fatalf("unexpected state n=%d ok=%v err=%v", n, ok, err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	p := Profile{
		DistanceMM:     2500,
		Confidence:     97,
		PingNumber:     42,
		ScanStart:      100,
		ScanLength:     5000,
		NumberOfPoints: 4,
		Data:           []byte{10, 20, 30, 40},
	}
	got, err := DecodeProfile(p.Encode())
	if err != nil {
		t.Fatalf("DecodeProfile: %v", err)
	}
	if got.DistanceMM != p.DistanceMM || got.Confidence != p.Confidence ||
		got.PingNumber != p.PingNumber || got.ScanStart != p.ScanStart ||
		got.ScanLength != p.ScanLength || got.NumberOfPoints != p.NumberOfPoints ||
		!bytes.Equal(got.Data, p.Data) {
		t.Fatalf("Profile round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDeviceDataRoundTrip(t *testing.T) {
	d := DeviceData{
		Mode:              1,
		GainSetting:       2,
		Angle:             137,
		TransmitDuration:  20,
		SamplePeriod:      80,
		TransmitFrequency: 740,
		NumberOfSamples:   200,
		Data:              bytes.Repeat([]byte{0x5A}, 200),
	}
	got, err := DecodeDeviceData(d.Encode())
	if err != nil {
		t.Fatalf("DecodeDeviceData: %v", err)
	}
	if got.Angle != d.Angle {
		t.Fatalf("Angle mismatch: got %d, want %d", got.Angle, d.Angle)
	}
	if got.NumberOfSamples != d.NumberOfSamples {
		t.Fatalf("NumberOfSamples mismatch: got %d, want %d", got.NumberOfSamples, d.NumberOfSamples)
	}
	if !bytes.Equal(got.Data, d.Data) {
		t.Fatalf("Data mismatch")
	}
}

// TestAutoDeviceDataSynthesis verifies that DeviceData promoted into an
// auto-scan step via FromDeviceData preserves data, number_of_samples, and
// angle exactly, and always reports scan-range {0, 399, 1, 0} since a single
// DeviceData reply carries no scan-range annotation of its own.
func TestAutoDeviceDataSynthesis(t *testing.T) {
	d := DeviceData{
		Mode:            1,
		GainSetting:     1,
		Angle:           215,
		NumberOfSamples: 3,
		Data:            []byte{7, 8, 9},
	}

	auto := FromDeviceData(d)
	if auto.Angle != d.Angle {
		t.Fatalf("Angle not preserved: got %d, want %d", auto.Angle, d.Angle)
	}
	if auto.NumberOfSamples != d.NumberOfSamples {
		t.Fatalf("NumberOfSamples not preserved: got %d, want %d", auto.NumberOfSamples, d.NumberOfSamples)
	}
	if !bytes.Equal(auto.Data, d.Data) {
		t.Fatalf("Data not preserved")
	}
	if auto.StartAngle != 0 || auto.StopAngle != 399 || auto.NumSteps != 1 || auto.Delay != 0 {
		t.Fatalf("scan-range mismatch: got {%d,%d,%d,%d}, want {0,399,1,0}",
			auto.StartAngle, auto.StopAngle, auto.NumSteps, auto.Delay)
	}

	got, err := DecodeAutoDeviceData(auto.Encode())
	if err != nil {
		t.Fatalf("DecodeAutoDeviceData: %v", err)
	}
	if got.Angle != d.Angle || got.NumberOfSamples != d.NumberOfSamples || !bytes.Equal(got.Data, d.Data) {
		t.Fatalf("AutoDeviceData round trip mismatch: got %+v", got)
	}
}

func TestDeviceInformationRoundTrip(t *testing.T) {
	info := DeviceInformation{DeviceType: 2, DeviceRevision: 1, FirmwareMajor: 3, FirmwareMinor: 2, FirmwarePatch: 0}
	got, err := DecodeDeviceInformation(info.Encode())
	if err != nil {
		t.Fatalf("DecodeDeviceInformation: %v", err)
	}
	if got != info {
		t.Fatalf("got %+v, want %+v", got, info)
	}
}

func TestDecodeShortPayloadErrors(t *testing.T) {
	if _, err := DecodeDistanceSimple([]byte{1, 2}); err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	if _, err := DecodeProfile(nil); err != ErrShortPayload {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}
