package wind

import (
	"io"
	"time"

	"github.com/pkg/term"

	"github.com/towerwatch/shm/internal/shmerr"
)

// functionReadHoldingRegisters is Modbus function code 0x03.
const functionReadHoldingRegisters = 0x03

// RS485Config carries the serial parameters for an RS485Sensor.
type RS485Config struct {
	Port          string
	Baudrate      int
	SlaveID       byte
	TimeoutSec    float64
	StartRegister uint16
	RegisterCount uint16
}

// RS485Sensor drives a Modbus-RTU wind transducer over a serial link
// using github.com/pkg/term as a request/response Modbus transaction.
// Function code 0x03, CRC-16 polynomial 0xA001, little-endian CRC
// suffix; speed and angle registers are scaled by 1/10.
type RS485Sensor struct {
	cfg  RS485Config
	conn *term.Term
}

// NewRS485Sensor builds an unconnected sensor for cfg.
func NewRS485Sensor(cfg RS485Config) *RS485Sensor {
	if cfg.RegisterCount == 0 {
		cfg.RegisterCount = 5
	}
	return &RS485Sensor{cfg: cfg}
}

// Connect opens the serial port if not already open.
func (s *RS485Sensor) Connect() error {
	if s.conn != nil {
		return nil
	}
	t, err := term.Open(s.cfg.Port, term.RawMode)
	if err != nil {
		return shmerr.New(shmerr.HardwareUnavailable, "rs485.connect", err)
	}
	if s.cfg.Baudrate > 0 {
		_ = t.SetSpeed(s.cfg.Baudrate)
	}
	s.conn = t
	return nil
}

// Close releases the serial port.
func (s *RS485Sensor) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Read performs one Modbus-RTU read-holding-registers transaction and
// decodes speed (register 0) and direction (register 3, matching the
// original driver's 7th/8th data byte) scaled by 1/10.
func (s *RS485Sensor) Read() (Sample, error) {
	if s.conn == nil {
		if err := s.Connect(); err != nil {
			return Sample{}, err
		}
	}

	req := buildReadRequest(s.cfg.SlaveID, s.cfg.StartRegister, s.cfg.RegisterCount)
	if _, err := s.conn.Write(req); err != nil {
		return Sample{}, shmerr.New(shmerr.ProtocolError, "rs485.write", err)
	}

	header := make([]byte, 3)
	if _, err := io.ReadFull(s.conn, header); err != nil {
		return Sample{}, shmerr.New(shmerr.ProtocolError, "rs485.header", err)
	}
	dataLen := int(header[2])

	payload := make([]byte, dataLen+2)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return Sample{}, shmerr.New(shmerr.ProtocolError, "rs485.payload", err)
	}

	response := append(header, payload...)
	if response[1] != functionReadHoldingRegisters {
		return Sample{}, shmerr.New(shmerr.ProtocolError, "rs485.function", nil)
	}

	data := response[3 : 3+dataLen]
	crcGot := response[3+dataLen:]
	if !crc16Equal(response[:3+dataLen], crcGot) {
		return Sample{}, shmerr.New(shmerr.ProtocolError, "rs485.crc", nil)
	}
	if len(data) < 10 {
		return Sample{}, shmerr.New(shmerr.ProtocolError, "rs485.short_response", nil)
	}

	speedRaw := uint16(data[0])<<8 | uint16(data[1])
	angleRaw := uint16(data[6])<<8 | uint16(data[7])

	return Sample{
		Timestamp:    time.Now(),
		SpeedMPS:     float64(speedRaw) / 10.0,
		DirectionDeg: wrapDeg(float64(angleRaw) / 10.0),
	}, nil
}

func buildReadRequest(slaveID byte, startReg, regCount uint16) []byte {
	payload := []byte{
		slaveID,
		functionReadHoldingRegisters,
		byte(startReg >> 8), byte(startReg),
		byte(regCount >> 8), byte(regCount),
	}
	return append(payload, crc16(payload)...)
}

// crc16 computes the Modbus CRC-16 (polynomial 0xA001), returned
// little-endian.
func crc16(data []byte) []byte {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return []byte{byte(crc), byte(crc >> 8)}
}

func crc16Equal(data, suffix []byte) bool {
	want := crc16(data)
	return len(suffix) == 2 && suffix[0] == want[0] && suffix[1] == want[1]
}
