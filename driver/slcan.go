package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LoveWonYoung/udsdiag/tp"
	"go.bug.st/serial"
)

// SLCAN 驱动 Lawicel 协议的串口CAN适配器
type SLCAN struct {
	port     string
	baud     int
	bitrate  int
	logger   *log.Logger
	sp       serial.Port
	openPort func(string, *serial.Mode) (serial.Port, error)

	rxChan chan UnifiedCANMessage
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var slcanBitrates = map[int]string{
	10_000:    "S0",
	20_000:    "S1",
	50_000:    "S2",
	100_000:   "S3",
	125_000:   "S4",
	250_000:   "S5",
	500_000:   "S6",
	800_000:   "S7",
	1_000_000: "S8",
}

func NewSLCAN(port string, baud, bitrate int, logger *log.Logger) *SLCAN {
	if logger == nil {
		logger = log.Default()
	}
	if bitrate == 0 {
		bitrate = 500_000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SLCAN{
		port:     port,
		baud:     baud,
		bitrate:  bitrate,
		logger:   logger,
		openPort: serial.Open,
		rxChan:   make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Init 打开串口并配置波特率，然后打开CAN通道
func (s *SLCAN) Init() error {
	speed, ok := slcanBitrates[s.bitrate]
	if !ok {
		return fmt.Errorf("unsupported slcan bitrate %d", s.bitrate)
	}
	sp, err := s.openPort(s.port, &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.port, err)
	}
	s.sp = sp
	if err := sp.SetReadTimeout(5 * time.Millisecond); err != nil {
		return err
	}
	// 先关闭通道，忽略适配器残留的状态
	for _, cmd := range []string{"C", speed, "O"} {
		if err := s.command(cmd); err != nil {
			return err
		}
	}
	time.Sleep(InitDelay)
	if err := sp.ResetInputBuffer(); err != nil {
		s.logger.Printf("slcan reset input buffer: %v", err)
	}
	return nil
}

func (s *SLCAN) command(cmd string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.sp.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("slcan command %q: %w", cmd, err)
	}
	return nil
}

func (s *SLCAN) Start() {
	go func() {
		defer close(s.done)
		s.run()
	}()
}

func (s *SLCAN) run() {
	defer close(s.rxChan)
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := s.sp.Read(buf)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Printf("slcan %s read error: %v", s.port, err)
			return
		}
		for _, b := range buf[:n] {
			switch b {
			case '\r':
				if msg, ok := parseSLCANFrame(string(line)); ok {
					select {
					case s.rxChan <- msg:
					default:
						s.logger.Println("警告: slcan接收channel已满，消息被丢弃")
					}
				}
				line = line[:0]
			case 0x07:
				s.logger.Println("slcan adapter reported an error")
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
	}
}

// Stop 关闭CAN通道和串口
func (s *SLCAN) Stop() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.sp == nil {
			return
		}
		if err := s.command("C"); err != nil {
			s.logger.Println(err)
		}
		s.closeErr = s.sp.Close()
	})
	return s.closeErr
}

func (s *SLCAN) Write(msg UnifiedCANMessage) error {
	if s.sp == nil {
		return errors.New("设备未启动")
	}
	frame, err := encodeSLCANFrame(msg)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.sp.Write([]byte(frame)); err != nil {
		return fmt.Errorf("slcan write: %w", err)
	}
	return nil
}

func (s *SLCAN) RxChan() <-chan UnifiedCANMessage { return s.rxChan }

func (s *SLCAN) Context() context.Context { return s.ctx }

// encodeSLCANFrame 生成 t/T (CAN) 或 d/D/b/B (CAN FD) 命令
func encodeSLCANFrame(msg UnifiedCANMessage) (string, error) {
	payload := msg.Payload()
	var cmd byte
	switch {
	case msg.IsFD && msg.BRS:
		cmd = 'b'
	case msg.IsFD:
		cmd = 'd'
	default:
		if len(payload) > 8 {
			return "", fmt.Errorf("数据长度 %d 超过CAN最大长度8", len(payload))
		}
		cmd = 't'
	}
	var b strings.Builder
	if msg.IsExtended {
		b.WriteByte(cmd - 'a' + 'A')
		fmt.Fprintf(&b, "%08X", msg.ID&0x1FFFFFFF)
	} else {
		b.WriteByte(cmd)
		fmt.Fprintf(&b, "%03X", msg.ID&0x7FF)
	}
	dlc := tp.DataLengthToDLC(len(payload))
	if tp.DLCToDataLength(dlc) != len(payload) {
		return "", fmt.Errorf("数据长度 %d 不是合法的CAN FD长度", len(payload))
	}
	fmt.Fprintf(&b, "%X", dlc)
	b.WriteString(strings.ToUpper(hex.EncodeToString(payload)))
	b.WriteByte('\r')
	return b.String(), nil
}

// parseSLCANFrame 解析一行接收数据，应答和未知命令返回 false
func parseSLCANFrame(line string) (UnifiedCANMessage, bool) {
	if line == "" {
		return UnifiedCANMessage{}, false
	}
	var msg UnifiedCANMessage
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		msg.IsExtended, idLen = true, 8
	case 'd':
		msg.IsFD = true
	case 'D':
		msg.IsFD, msg.IsExtended, idLen = true, true, 8
	case 'b':
		msg.IsFD, msg.BRS = true, true
	case 'B':
		msg.IsFD, msg.BRS, msg.IsExtended, idLen = true, true, true, 8
	default:
		return UnifiedCANMessage{}, false
	}
	if len(line) < 1+idLen+1 {
		return UnifiedCANMessage{}, false
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return UnifiedCANMessage{}, false
	}
	dlc, err := strconv.ParseUint(line[1+idLen:2+idLen], 16, 8)
	if err != nil {
		return UnifiedCANMessage{}, false
	}
	if !msg.IsFD && dlc > 8 {
		return UnifiedCANMessage{}, false
	}
	n := tp.DLCToDataLength(byte(dlc))
	data := line[2+idLen:]
	// 数据后面可能跟着4位时间戳
	if len(data) < 2*n {
		return UnifiedCANMessage{}, false
	}
	raw, err := hex.DecodeString(data[:2*n])
	if err != nil {
		return UnifiedCANMessage{}, false
	}
	msg.ID = uint32(id)
	msg.DLC = byte(n)
	copy(msg.Data[:], raw)
	msg.Timestamp = time.Now()
	return msg, true
}
