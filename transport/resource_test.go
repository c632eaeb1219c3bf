package transport

import (
	"errors"
	"testing"

	"github.com/tarm/serial"
)

func TestParseResource(t *testing.T) {
	tests := []struct {
		in   string
		want Resource
	}{
		{"tcp://192.168.1.10", Resource{Kind: KindTCP, Host: "192.168.1.10", Port: 5025}},
		{"tcp://scope.lab:5555", Resource{Kind: KindTCP, Host: "scope.lab", Port: 5555}},
		{"vxi11://10.0.0.5", Resource{Kind: KindVXI11, Host: "10.0.0.5", Device: "inst0"}},
		{"vxi11://10.0.0.5:1111/gpib0,5", Resource{Kind: KindVXI11, Host: "10.0.0.5", Port: 1111, Device: "gpib0,5"}},
		{"serial:///dev/ttyUSB0", Resource{Kind: KindSerial, Device: "/dev/ttyUSB0", Baud: 9600, DataBits: 8,
			Parity: serial.ParityNone, StopBits: serial.Stop1}},
		{"serial:///dev/ttyS1?baud=115200&parity=E&databits=7&stopbits=2", Resource{Kind: KindSerial,
			Device: "/dev/ttyS1", Baud: 115200, DataBits: 7, Parity: serial.ParityEven, StopBits: serial.Stop2}},
		{"TCPIP0::192.168.1.10::5025::SOCKET", Resource{Kind: KindTCP, Host: "192.168.1.10", Port: 5025}},
		{"TCPIP::192.168.1.10::INSTR", Resource{Kind: KindVXI11, Host: "192.168.1.10", Device: "inst0"}},
		{"TCPIP0::192.168.1.10::inst1::INSTR", Resource{Kind: KindVXI11, Host: "192.168.1.10", Device: "inst1"}},
		{"ASRL/dev/ttyACM0::INSTR", Resource{Kind: KindSerial, Device: "/dev/ttyACM0", Baud: 9600, DataBits: 8,
			Parity: serial.ParityNone, StopBits: serial.Stop1}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseResource(tt.in)
			if err != nil {
				t.Fatalf("ParseResource failed: %v", err)
			}
			if *got != tt.want {
				t.Errorf("resource = %+v, want %+v", *got, tt.want)
			}

			// String 的结果可以再次解析
			again, err := ParseResource(got.String())
			if err != nil {
				t.Fatalf("ParseResource(%q) failed: %v", got.String(), err)
			}
			if *again != *got {
				t.Errorf("reparsed = %+v, want %+v", *again, *got)
			}
		})
	}
}

func TestParseResource_Invalid(t *testing.T) {
	tests := []string{
		"",
		"http://example.com",
		"tcp://",
		"tcp://host:99999",
		"vxi11:///inst0",
		"serial://?baud=9600",
		"serial:///dev/ttyUSB0?baud=fast",
		"serial:///dev/ttyUSB0?parity=Q",
		"serial:///dev/ttyUSB0?stopbits=3",
		"TCPIP0::host::hislip0::INSTR",
		"TCPIP0::host::notaport::SOCKET",
		"GPIB0::5::INSTR",
	}
	for _, in := range tests {
		if _, err := ParseResource(in); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("ParseResource(%q) error = %v, want ErrInvalidResource", in, err)
		}
	}
}
