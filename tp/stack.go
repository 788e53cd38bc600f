package tp

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	rxResultBufferSize = 16
	txRequestQueueSize = 4
	errorChanSize      = 32
	defaultPaddingByte = 0xCC
)

type rxResult struct {
	data []byte
	err  error
}

type txRequest struct {
	data     []byte
	addrType AddressType
	done     chan error
}

// Transport 是ISOTP协议栈的核心结构。
// 所有状态只在 Run 所在的 goroutine 中修改，Send/Recv 通过 channel 与其交互。
type Transport struct {
	address       *Address
	config        Config
	maxDataLength int
	logger        *log.Logger

	rxState  State
	txState  State
	rxBuffer []byte
	txBuffer []byte
	txReq    *txRequest

	rxDataChan chan rxResult
	txDataChan chan *txRequest

	rxFrameLen      int
	rxSeqNum        int
	rxBlockCounter  int
	txSeqNum        int
	txBlockCounter  int
	remoteBlocksize int
	remoteStmin     time.Duration
	wftCounter      int

	// Native timers
	timerRxCF    *time.Timer
	timerRxFC    *time.Timer
	timerTxSTmin *time.Timer

	loopCtx context.Context
	txChan  chan<- CanMessage
	stopped chan struct{}

	// ErrorChan 报告不影响当前报文结果的告警 (如被打断的接收、无法解析的帧)。
	ErrorChan chan error
}

// NewTransport 创建协议栈，需调用 Run 启动事件循环。
func NewTransport(address *Address, cfg Config, logger *log.Logger) (*Transport, error) {
	if address == nil {
		return nil, fmt.Errorf("address must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ISO-TP config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	t := &Transport{
		address:       address,
		config:        cfg,
		maxDataLength: 8,
		logger:        logger,
		rxDataChan:    make(chan rxResult, rxResultBufferSize),
		txDataChan:    make(chan *txRequest, txRequestQueueSize),
		timerRxCF:     time.NewTimer(time.Hour),
		timerRxFC:     time.NewTimer(time.Hour),
		timerTxSTmin:  time.NewTimer(time.Hour),
		stopped:       make(chan struct{}),
		ErrorChan:     make(chan error, errorChanSize),
	}
	if cfg.CanFD {
		t.maxDataLength = 64
	}
	stopTimer(t.timerRxCF)
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)
	t.stopReceiving()
	t.stopSending()
	return t, nil
}

// MaxFrameSize 返回单个 ISO-TP 报文允许的最大长度。
func (t *Transport) MaxFrameSize() int { return t.config.MaxFrameSize }

// Address returns the addressing this transport was built with.
func (t *Transport) Address() *Address { return t.address }

// Send 以物理寻址发送一条报文，阻塞直到发送完成、被拒绝或失败。
func (t *Transport) Send(ctx context.Context, data []byte) error {
	return t.SendTo(ctx, data, Physical)
}

// SendTo 与 Send 相同，可指定功能寻址。功能寻址只允许单帧。
func (t *Transport) SendTo(ctx context.Context, data []byte, addrType AddressType) error {
	if len(data) > t.config.MaxFrameSize {
		return MessageTooLongError{
			IsoTpError: NewIsoTpError(fmt.Sprintf("message of %d bytes exceeds maximum frame size %d", len(data), t.config.MaxFrameSize)),
			Size:       len(data),
			Max:        t.config.MaxFrameSize,
		}
	}
	if addrType == Functional && len(data) > t.singleFrameCapacity() {
		return MessageTooLongError{
			IsoTpError: NewIsoTpError("functional requests must fit in a single frame"),
			Size:       len(data),
			Max:        t.singleFrameCapacity(),
		}
	}
	req := &txRequest{
		data:     append([]byte(nil), data...),
		addrType: addrType,
		done:     make(chan error, 1),
	}
	select {
	case t.txDataChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return BlockingSendFailure{NewIsoTpError("transport stopped")}
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return BlockingSendFailure{NewIsoTpError("transport stopped while sending")}
	}
}

// Recv 等待下一条完整报文。超时返回 RxTimeoutError，重组失败返回对应的类型化错误。
func (t *Transport) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-t.rxDataChan:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, RxTimeoutError{NewIsoTpError(fmt.Sprintf("no message within %v", timeout))}
	case <-t.stopped:
		return nil, BlockingSendFailure{NewIsoTpError("transport stopped")}
	}
}

// Flush 丢弃尚未被读取的报文和错误。
func (t *Transport) Flush() {
	for {
		select {
		case <-t.rxDataChan:
		default:
			return
		}
	}
}

// Run starts the protocol stack event loop. It returns when ctx is done.
func (t *Transport) Run(ctx context.Context, rxChan <-chan CanMessage, txChan chan<- CanMessage) {
	t.loopCtx = ctx
	t.txChan = txChan
	defer t.cleanup()

	for {
		// 只有空闲时才接受新的发送请求 (nil channel 屏蔽该分支)
		var txDataEnable <-chan *txRequest
		if t.txState == StateIdle {
			txDataEnable = t.txDataChan
		}

		select {
		case <-ctx.Done():
			return

		case msg, ok := <-rxChan:
			if !ok {
				return
			}
			t.ProcessRx(msg)

		case req := <-txDataEnable:
			t.initiateTx(req)

		case <-t.timerRxCF.C:
			if t.rxState == StateWaitCF {
				t.deliverErr(ConsecutiveFrameTimeoutError{NewIsoTpError(
					fmt.Sprintf("reassembly discarded after %d/%d bytes, no CF within %v", len(t.rxBuffer), t.rxFrameLen, t.config.TimeoutN_Cr))})
				t.stopReceiving()
			}

		case <-t.timerRxFC.C:
			if t.txState == StateWaitFC {
				t.completeTx(FlowControlTimeoutError{NewIsoTpError(
					fmt.Sprintf("no flow control within %v", t.config.TimeoutN_Bs))})
			}

		case <-t.timerTxSTmin.C:
			if t.txState == StateTransmit {
				t.transmitConsecutiveFrames()
			}
		}
	}
}

func (t *Transport) cleanup() {
	stopTimer(t.timerRxCF)
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)
	if t.txReq != nil {
		t.completeTx(BlockingSendFailure{NewIsoTpError("transport stopped while sending")})
	}
	close(t.stopped)
}

// Internal helpers
func (t *Transport) stopReceiving() {
	t.rxState = StateIdle
	t.rxBuffer = nil
	t.rxFrameLen = 0
	t.rxSeqNum = 0
	t.rxBlockCounter = 0
	stopTimer(t.timerRxCF)
}

func (t *Transport) stopSending() {
	t.txState = StateIdle
	t.txBuffer = nil
	t.txReq = nil
	t.txSeqNum = 0
	t.txBlockCounter = 0
	t.wftCounter = 0
	stopTimer(t.timerRxFC)
	stopTimer(t.timerTxSTmin)
}

func stopTimer(tm *time.Timer) {
	if !tm.Stop() {
		select {
		case <-tm.C:
		default:
		}
	}
}

func resetTimer(tm *time.Timer, d time.Duration) {
	stopTimer(tm)
	tm.Reset(d)
}

// payloadCapacity 是去掉地址前缀后每帧可用的字节数。
func (t *Transport) payloadCapacity() int {
	return t.maxDataLength - len(t.address.TxPayloadPrefix)
}

func (t *Transport) singleFrameCapacity() int {
	c := t.payloadCapacity()
	if t.config.CanFD && c > 8 {
		return c - 2
	}
	return c - 1
}

func (t *Transport) makeTxMsg(data []byte, addrType AddressType) CanMessage {
	fullPayload := make([]byte, 0, t.maxDataLength)
	fullPayload = append(fullPayload, t.address.TxPayloadPrefix...)
	fullPayload = append(fullPayload, data...)

	targetLen := len(fullPayload)
	if t.config.CanFD {
		// FD 帧长度必须是合法 DLC 长度
		targetLen = nearestCanFdSize(targetLen)
	}
	if t.config.PaddingByte != nil && targetLen < 8 {
		targetLen = 8
	}
	if t.config.TxDataMinLength > targetLen {
		targetLen = t.config.TxDataMinLength
	}

	if len(fullPayload) < targetLen {
		pad := byte(defaultPaddingByte)
		if t.config.PaddingByte != nil {
			pad = *t.config.PaddingByte
		}
		for len(fullPayload) < targetLen {
			fullPayload = append(fullPayload, pad)
		}
	}

	return CanMessage{
		ArbitrationID: t.address.GetTxArbitrationID(addrType),
		Data:          fullPayload,
		IsExtendedID:  t.address.Is29Bit(),
		IsFD:          t.config.CanFD,
		BitrateSwitch: t.config.BitrateSwitch,
		Timestamp:     time.Now(),
	}
}

// emit 把一帧交给总线发送通道，总线繁忙时阻塞。
func (t *Transport) emit(msg CanMessage) error {
	select {
	case t.txChan <- msg:
		return nil
	case <-t.loopCtx.Done():
		return BlockingSendFailure{NewIsoTpError("transport stopped while sending frame")}
	}
}

// deliver 把完整报文交给上层；缓冲区满时丢弃并告警。
func (t *Transport) deliver(data []byte) {
	select {
	case t.rxDataChan <- rxResult{data: data}:
	default:
		t.fireError(fmt.Errorf("rx buffer full, dropping %d byte message", len(data)))
	}
}

func (t *Transport) deliverErr(err error) {
	select {
	case t.rxDataChan <- rxResult{err: err}:
	default:
		t.fireError(err)
	}
}

// fireError sends an error to the ErrorChan. Non-blocking.
func (t *Transport) fireError(err error) {
	select {
	case t.ErrorChan <- err:
	default:
		t.logger.Printf("ISO-TP error (chan full): %v", err)
	}
}
