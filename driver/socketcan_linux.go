//go:build linux

package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	canRaw          = 1
	canFrameSize    = 16 // struct can_frame
	canFDFrameSize  = 72 // struct canfd_frame
	canFDFlagBRS    = 0x01
	socketReadLimit = 100 * time.Millisecond
)

// SocketCAN 通过 Linux AF_CAN 原始套接字收发
type SocketCAN struct {
	socket int
	ifname string
	canFD  bool
	logger *log.Logger

	rxChan chan UnifiedCANMessage
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// NewSocketCAN 打开并绑定接口，失败时关闭已创建的套接字
func NewSocketCAN(ifname string, canFD bool, logger *log.Logger) (*SocketCAN, error) {
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	fail := func(format string, err error) (*SocketCAN, error) {
		unix.Close(socket)
		return nil, fmt.Errorf(format, err)
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		return fail("failed to create ifreq: %w", err)
	}
	if err := unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq); err != nil {
		return fail("failed to get interface index: %w", err)
	}
	if canFD {
		if err := unix.SetsockoptInt(socket, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			return fail("failed to enable CAN FD frames: %w", err)
		}
	}
	tv := unix.NsecToTimeval(socketReadLimit.Nanoseconds())
	if err := unix.SetsockoptTimeval(socket, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fail("failed to set read timeout: %w", err)
	}
	if err := unix.Bind(socket, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		return fail("failed to bind socket: %w", err)
	}

	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketCAN{
		socket: socket,
		ifname: ifname,
		canFD:  canFD,
		logger: logger,
		rxChan: make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

func (s *SocketCAN) Init() error { return nil }

func (s *SocketCAN) Start() {
	go func() {
		defer close(s.done)
		s.readLoop()
	}()
}

// Stop 停止读取循环并关闭套接字
func (s *SocketCAN) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(2 * socketReadLimit):
		}
		s.stopErr = unix.Close(s.socket)
	})
	return s.stopErr
}

func (s *SocketCAN) readLoop() {
	defer close(s.rxChan)
	buf := make([]byte, canFDFrameSize)
	for {
		if s.ctx.Err() != nil {
			return
		}
		n, err := unix.Read(s.socket, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if s.ctx.Err() == nil {
				s.logger.Printf("socketcan %s read error: %v", s.ifname, err)
			}
			return
		}
		msg, ok := decodeSocketCANFrame(buf[:n])
		if !ok {
			continue
		}
		select {
		case s.rxChan <- msg:
		default:
			s.logger.Println("警告: socketcan接收channel已满，消息被丢弃")
		}
	}
}

// decodeSocketCANFrame 解析 can_frame 或 canfd_frame，错误帧和远程帧被忽略
func decodeSocketCANFrame(buf []byte) (UnifiedCANMessage, bool) {
	if len(buf) != canFrameSize && len(buf) != canFDFrameSize {
		return UnifiedCANMessage{}, false
	}
	rawID := binary.LittleEndian.Uint32(buf[0:4])
	if rawID&(unix.CAN_ERR_FLAG|unix.CAN_RTR_FLAG) != 0 {
		return UnifiedCANMessage{}, false
	}
	msg := UnifiedCANMessage{
		DLC:       buf[4],
		IsFD:      len(buf) == canFDFrameSize,
		Timestamp: time.Now(),
	}
	if rawID&unix.CAN_EFF_FLAG != 0 {
		msg.ID = rawID & unix.CAN_EFF_MASK
		msg.IsExtended = true
	} else {
		msg.ID = rawID & unix.CAN_SFF_MASK
	}
	if msg.IsFD {
		msg.BRS = buf[5]&canFDFlagBRS != 0
	}
	if int(msg.DLC) > len(buf)-8 {
		return UnifiedCANMessage{}, false
	}
	copy(msg.Data[:], buf[8:8+int(msg.DLC)])
	return msg, true
}

func encodeSocketCANFrame(msg UnifiedCANMessage) []byte {
	size := canFrameSize
	if msg.IsFD {
		size = canFDFrameSize
	}
	buf := make([]byte, size)
	id := msg.ID
	if msg.IsExtended {
		id = (id & unix.CAN_EFF_MASK) | unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = msg.DLC
	if msg.IsFD && msg.BRS {
		buf[5] = canFDFlagBRS
	}
	copy(buf[8:], msg.Payload())
	return buf
}

func (s *SocketCAN) Write(msg UnifiedCANMessage) error {
	if msg.IsFD && !s.canFD {
		return errors.New("CAN FD frames are not enabled on this socket")
	}
	frame := encodeSocketCANFrame(msg)
	n, err := unix.Write(s.socket, frame)
	if err != nil {
		return fmt.Errorf("write %s: %w", s.ifname, err)
	}
	if n != len(frame) {
		return fmt.Errorf("write %s: short write %d/%d", s.ifname, n, len(frame))
	}
	return nil
}

func (s *SocketCAN) RxChan() <-chan UnifiedCANMessage { return s.rxChan }

func (s *SocketCAN) Context() context.Context { return s.ctx }
