package driver

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// Kind 后端类型
type Kind string

const (
	KindSim       Kind = "sim"
	KindVirtual   Kind = "virtual"
	KindSocketCAN Kind = "socketcan"
	KindSLCAN     Kind = "slcan"
	KindToomoss   Kind = "toomoss"
)

const defaultSerialBaud = 115200

// Descriptor 描述一个后端，文本形式为 "backend:parameter"
type Descriptor struct {
	Kind  Kind
	Param string
	// Baud 仅用于 slcan，形如 "slcan:/dev/ttyACM0@115200"
	Baud int
	// Index 仅用于 toomoss
	Index int
}

func (d Descriptor) String() string {
	if d.Kind == KindSLCAN && d.Baud != 0 && d.Baud != defaultSerialBaud {
		return fmt.Sprintf("%s:%s@%d", d.Kind, d.Param, d.Baud)
	}
	return fmt.Sprintf("%s:%s", d.Kind, d.Param)
}

// ParseDescriptor 解析后端描述字符串
func ParseDescriptor(s string) (Descriptor, error) {
	const op = "parse descriptor"
	kind, param, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Descriptor{}, diagerr.InvalidArgument(op, "%q: expected backend:parameter", s)
	}
	d := Descriptor{Kind: Kind(strings.ToLower(kind)), Param: param}
	switch d.Kind {
	case KindSim:
		// 参数只是标签，可以为空
	case KindVirtual, KindSocketCAN:
		if param == "" {
			return Descriptor{}, diagerr.InvalidArgument(op, "%q: %s needs a name", s, d.Kind)
		}
	case KindSLCAN:
		port, baud, hasBaud := strings.Cut(param, "@")
		if port == "" {
			return Descriptor{}, diagerr.InvalidArgument(op, "%q: slcan needs a serial port", s)
		}
		d.Param, d.Baud = port, defaultSerialBaud
		if hasBaud {
			n, err := strconv.Atoi(baud)
			if err != nil || n <= 0 {
				return Descriptor{}, diagerr.InvalidArgument(op, "%q: bad baud rate %q", s, baud)
			}
			d.Baud = n
		}
	case KindToomoss:
		if param == "" {
			param = "0"
			d.Param = param
		}
		n, err := strconv.Atoi(param)
		if err != nil || n < 0 || n >= maxToomossDevices {
			return Descriptor{}, diagerr.InvalidArgument(op, "%q: bad device index", s)
		}
		d.Index = n
	default:
		return Descriptor{}, diagerr.InvalidArgument(op, "%q: unknown backend %q", s, kind)
	}
	return d, nil
}

// Options 控制后端的打开方式
type Options struct {
	Logger *log.Logger
	// Trace 打印每一帧
	Trace bool
	CanFD bool
	// Bitrate 为 slcan 的 CAN 波特率 (bit/s)，0 表示 500k
	Bitrate int
	// VirtualBuses 提供 "virtual:<name>" 使用的总线
	VirtualBuses map[string]*VirtualBus
	// Sim 配置 "sim:" 后端的模拟ECU
	Sim SimConfig
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Open 打开描述符指定的后端。失败时返回 *ConnectionError，且不会泄漏已申请的资源。
func Open(desc Descriptor, opts Options) (*Conn, error) {
	conn, err := open(desc, opts)
	if err != nil {
		return nil, &ConnectionError{Descriptor: desc.String(), Err: err}
	}
	return conn, nil
}

func open(desc Descriptor, opts Options) (*Conn, error) {
	switch desc.Kind {
	case KindSim:
		return openSim(opts)
	case KindVirtual:
		bus, ok := opts.VirtualBuses[desc.Param]
		if !ok {
			return nil, fmt.Errorf("no virtual bus named %q", desc.Param)
		}
		return NewConn(bus.Attach(opts.CanFD), opts)
	case KindSocketCAN:
		dev, err := NewSocketCAN(desc.Param, opts.CanFD, opts.logger())
		if err != nil {
			return nil, err
		}
		return NewConn(dev, opts)
	case KindSLCAN:
		return NewConn(NewSLCAN(desc.Param, desc.Baud, opts.Bitrate, opts.logger()), opts)
	case KindToomoss:
		ct := CAN
		if opts.CanFD {
			ct = CANFD
		}
		dev, err := NewToomoss(desc.Index, ct)
		if err != nil {
			return nil, err
		}
		return NewConn(dev, opts)
	default:
		return nil, fmt.Errorf("unknown backend %q", desc.Kind)
	}
}

func openSim(opts Options) (*Conn, error) {
	bus := NewVirtualBus()
	ecu, err := NewSimECU(bus, opts.CanFD, opts.Sim)
	if err != nil {
		return nil, err
	}
	ecu.Start()
	conn, err := NewConn(bus.Attach(opts.CanFD), opts)
	if err != nil {
		ecu.Stop()
		return nil, err
	}
	conn.sim = ecu
	conn.onClose = append(conn.onClose, func() error {
		ecu.Stop()
		return nil
	})
	return conn, nil
}
