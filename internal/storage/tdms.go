// Package storage implements the waveform snapshot service: a TDMS
// binary writer/reader and the timer-driven service that captures
// device ring-buffer snapshots and enforces month-granular retention.
//
// No available library speaks National Instruments' TDMS format, so
// the segment layout is implemented directly on encoding/binary — see
// DESIGN.md for why no third-party dependency could serve this
// concern.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/towerwatch/shm/internal/shmerr"
)

const (
	tdmsTag     = "TDSm"
	tdmsVersion = 4713

	tocMetaData = 1 << 1
	tocRawData  = 1 << 3

	tdsTypeDoubleFloat = 0x0A
	tdsTypeString      = 0x20
	tdsTypeTimestamp   = 0x44
)

// ChannelProperties is the fixed property set every TDMS channel
// object carries.
type ChannelProperties struct {
	SampleRate          float64
	EffectiveSampleRate float64
	Unit                string
	Remark              string
	Sensitivity         float64
	Coupling            string
	Type                string
	IEPE                bool
	WfIncrement         float64 // 1/fs_eff
	WfStartTime         time.Time
}

// ChannelSegment is one physical channel's samples plus properties for
// one TDMS segment.
type ChannelSegment struct {
	Name       string
	Properties ChannelProperties
	Samples    []float64
}

// WriteSegment writes one TDMS segment containing group "Data" and one
// channel object per entry in channels, to path.
func WriteSegment(path string, channels []ChannelSegment) error {
	var meta bytes.Buffer

	// Object count: root "/", group "/'Data'", plus one per channel.
	binary.Write(&meta, binary.LittleEndian, uint32(2+len(channels)))

	writeObjectNoData(&meta, "/")
	writeObjectNoData(&meta, "/'Data'")

	var raw bytes.Buffer
	for _, ch := range channels {
		objPath := fmt.Sprintf("/'Data'/'%s'", ch.Name)
		writeObjectWithData(&meta, objPath, ch.Properties, len(ch.Samples))
		for _, v := range ch.Samples {
			binary.Write(&raw, binary.LittleEndian, v)
		}
	}

	leadIn := make([]byte, 28)
	copy(leadIn[0:4], tdmsTag)
	binary.LittleEndian.PutUint32(leadIn[4:8], tocMetaData|tocRawData)
	binary.LittleEndian.PutUint32(leadIn[8:12], tdmsVersion)
	nextSegmentOffset := uint64(meta.Len() + raw.Len())
	rawDataOffset := uint64(meta.Len())
	binary.LittleEndian.PutUint64(leadIn[12:20], nextSegmentOffset)
	binary.LittleEndian.PutUint64(leadIn[20:28], rawDataOffset)

	f, err := os.Create(path)
	if err != nil {
		return shmerr.New(shmerr.PersistenceError, "tdms.write", err)
	}
	defer f.Close()

	for _, chunk := range [][]byte{leadIn, meta.Bytes(), raw.Bytes()} {
		if _, err := f.Write(chunk); err != nil {
			return shmerr.New(shmerr.PersistenceError, "tdms.write", err)
		}
	}
	return nil
}

func writeObjectNoData(buf *bytes.Buffer, path string) {
	writeString(buf, path)
	binary.Write(buf, binary.LittleEndian, uint32(0xFFFFFFFF)) // no raw data
	binary.Write(buf, binary.LittleEndian, uint32(0))          // no properties
}

func writeObjectWithData(buf *bytes.Buffer, path string, p ChannelProperties, numSamples int) {
	writeString(buf, path)

	binary.Write(buf, binary.LittleEndian, uint32(tdsTypeDoubleFloat))
	binary.Write(buf, binary.LittleEndian, uint32(1)) // array dimension
	binary.Write(buf, binary.LittleEndian, uint64(numSamples))

	props := []struct {
		name string
		kind uint32
		val  any
	}{
		{"sample_rate", tdsTypeDoubleFloat, p.SampleRate},
		{"effective_sample_rate", tdsTypeDoubleFloat, p.EffectiveSampleRate},
		{"unit", tdsTypeString, p.Unit},
		{"remark", tdsTypeString, p.Remark},
		{"sensitivity", tdsTypeDoubleFloat, p.Sensitivity},
		{"coupling", tdsTypeString, p.Coupling},
		{"type", tdsTypeString, p.Type},
		{"iepe", tdsTypeDoubleFloat, boolToFloat(p.IEPE)},
		{"wf_increment", tdsTypeDoubleFloat, p.WfIncrement},
		{"wf_start_time", tdsTypeTimestamp, p.WfStartTime},
		{"wf_start_offset", tdsTypeDoubleFloat, 0.0},
		{"wf_start_index", tdsTypeDoubleFloat, 0.0},
		{"wf_samples", tdsTypeDoubleFloat, float64(numSamples)},
		{"wf_xname", tdsTypeString, "Time"},
		{"wf_xunit_string", tdsTypeString, "s"},
		{"wf_time_reference", tdsTypeString, "absolute"},
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(props)))
	for _, pr := range props {
		writeString(buf, pr.name)
		binary.Write(buf, binary.LittleEndian, pr.kind)
		switch pr.kind {
		case tdsTypeDoubleFloat:
			binary.Write(buf, binary.LittleEndian, pr.val.(float64))
		case tdsTypeString:
			writeString(buf, pr.val.(string))
		case tdsTypeTimestamp:
			binary.Write(buf, binary.LittleEndian, pr.val.(time.Time).UnixNano())
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

// ReadSegment parses a TDMS segment written by WriteSegment back into
// its channel objects, in the order written.
func ReadSegment(path string) ([]ChannelSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shmerr.New(shmerr.PersistenceError, "tdms.read", err)
	}
	if len(data) < 28 || string(data[0:4]) != tdmsTag {
		return nil, shmerr.New(shmerr.DecoderError, "tdms.read", nil)
	}

	rawDataOffset := binary.LittleEndian.Uint64(data[20:28])
	metaBytes := data[28 : 28+rawDataOffset]
	rawBytes := data[28+rawDataOffset:]

	r := bytes.NewReader(metaBytes)
	var objCount uint32
	if err := binary.Read(r, binary.LittleEndian, &objCount); err != nil {
		return nil, shmerr.New(shmerr.DecoderError, "tdms.read", err)
	}

	var channels []ChannelSegment
	rawOff := 0
	for i := uint32(0); i < objCount; i++ {
		path, err := readString(r)
		if err != nil {
			return nil, shmerr.New(shmerr.DecoderError, "tdms.read", err)
		}

		var dataType uint32
		if err := binary.Read(r, binary.LittleEndian, &dataType); err != nil {
			return nil, shmerr.New(shmerr.DecoderError, "tdms.read", err)
		}

		var numSamples uint64
		hasData := dataType != 0xFFFFFFFF
		if hasData {
			var dim uint32
			binary.Read(r, binary.LittleEndian, &dim)
			binary.Read(r, binary.LittleEndian, &numSamples)
		}

		var propCount uint32
		if err := binary.Read(r, binary.LittleEndian, &propCount); err != nil {
			return nil, shmerr.New(shmerr.DecoderError, "tdms.read", err)
		}

		props := ChannelProperties{}
		for p := uint32(0); p < propCount; p++ {
			name, err := readString(r)
			if err != nil {
				return nil, shmerr.New(shmerr.DecoderError, "tdms.read", err)
			}
			var kind uint32
			binary.Read(r, binary.LittleEndian, &kind)
			if err := applyProperty(r, &props, name, kind); err != nil {
				return nil, err
			}
		}

		if hasData {
			n := int(numSamples)
			samples := make([]float64, n)
			for s := 0; s < n; s++ {
				samples[s] = readFloat64At(rawBytes, rawOff)
				rawOff += 8
			}
			channels = append(channels, ChannelSegment{Name: channelName(path), Properties: props, Samples: samples})
		}
	}
	return channels, nil
}

func readFloat64At(buf []byte, off int) float64 {
	bits := binary.LittleEndian.Uint64(buf[off : off+8])
	return math.Float64frombits(bits)
}

func applyProperty(r io.Reader, props *ChannelProperties, name string, kind uint32) error {
	switch kind {
	case tdsTypeDoubleFloat:
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return shmerr.New(shmerr.DecoderError, "tdms.read", err)
		}
		switch name {
		case "sample_rate":
			props.SampleRate = v
		case "effective_sample_rate":
			props.EffectiveSampleRate = v
		case "sensitivity":
			props.Sensitivity = v
		case "iepe":
			props.IEPE = v != 0
		case "wf_increment":
			props.WfIncrement = v
		}
	case tdsTypeString:
		s, err := readStringReader(r)
		if err != nil {
			return shmerr.New(shmerr.DecoderError, "tdms.read", err)
		}
		switch name {
		case "unit":
			props.Unit = s
		case "remark":
			props.Remark = s
		case "coupling":
			props.Coupling = s
		case "type":
			props.Type = s
		}
	case tdsTypeTimestamp:
		var nanos int64
		if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
			return shmerr.New(shmerr.DecoderError, "tdms.read", err)
		}
		props.WfStartTime = time.Unix(0, nanos).UTC()
	}
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readStringReader(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func channelName(path string) string {
	// path is /'Data'/'<name>'; strip the TDMS group quoting.
	const prefix = "/'Data'/'"
	if len(path) > len(prefix)+1 && path[:len(prefix)] == prefix {
		return path[len(prefix) : len(path)-1]
	}
	return path
}
