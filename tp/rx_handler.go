package tp

import "fmt"

// ProcessRx 处理接收到的单个CAN报文
func (t *Transport) ProcessRx(msg CanMessage) {
	if !t.address.IsForMe(&msg) {
		return
	}

	frame, err := ParseFrame(&msg, t.address.RxPrefixSize)
	if err != nil {
		if t.rxState == StateWaitCF {
			// 重组过程中收到损坏的帧，丢弃整个报文
			t.deliverErr(err)
			t.stopReceiving()
			return
		}
		t.fireError(fmt.Errorf("frame parse failed: %w", err))
		return
	}

	switch f := frame.(type) {
	case *FlowControlFrame:
		// 收到流控帧说明我方是发送方
		t.handleTxFlowControl(f)

	case *SingleFrame:
		t.handleRxSingleFrame(f)

	case *FirstFrame:
		t.handleRxFirstFrame(f)

	case *ConsecutiveFrame:
		t.handleRxConsecutiveFrame(f)
	}
}

func (t *Transport) handleRxSingleFrame(f *SingleFrame) {
	if t.rxState != StateIdle {
		t.fireError(ReceptionInterruptedWithSingleFrameError{})
	}
	t.stopReceiving()
	t.deliver(append([]byte(nil), f.Data...))
}

func (t *Transport) handleRxFirstFrame(f *FirstFrame) {
	if t.rxState != StateIdle {
		t.fireError(ReceptionInterruptedWithFirstFrameError{})
	}
	t.stopReceiving()

	if f.TotalSize > t.config.MaxFrameSize {
		// 声明长度超出能力，回复溢出并直接拒绝
		t.sendFlowControl(FlowStatusOverflow)
		t.deliverErr(FrameTooLongError{NewIsoTpError(
			fmt.Sprintf("first frame declares %d bytes, maximum is %d", f.TotalSize, t.config.MaxFrameSize))})
		return
	}

	t.rxFrameLen = f.TotalSize
	t.rxBuffer = make([]byte, 0, f.TotalSize)
	t.rxBuffer = append(t.rxBuffer, f.Data...)

	if len(t.rxBuffer) >= t.rxFrameLen {
		t.deliver(t.rxBuffer[:t.rxFrameLen])
		t.stopReceiving()
		return
	}

	t.rxState = StateWaitCF
	t.rxSeqNum = 1
	t.sendFlowControl(FlowStatusContinueToSend)
	resetTimer(t.timerRxCF, t.config.TimeoutN_Cr)
}

func (t *Transport) handleRxConsecutiveFrame(f *ConsecutiveFrame) {
	if t.rxState != StateWaitCF {
		t.fireError(UnexpectedConsecutiveFrameError{})
		return
	}

	if f.SequenceNumber != t.rxSeqNum {
		t.deliverErr(WrongSequenceNumberError{
			IsoTpError: NewIsoTpError(fmt.Sprintf("wrong sequence number: expected %d, received %d", t.rxSeqNum, f.SequenceNumber)),
			Expected:   t.rxSeqNum,
			Received:   f.SequenceNumber,
		})
		t.stopReceiving()
		return
	}

	resetTimer(t.timerRxCF, t.config.TimeoutN_Cr)
	t.rxSeqNum = (t.rxSeqNum + 1) % 16

	bytesToReceive := t.rxFrameLen - len(t.rxBuffer)
	if len(f.Data) > bytesToReceive {
		t.rxBuffer = append(t.rxBuffer, f.Data[:bytesToReceive]...)
	} else {
		t.rxBuffer = append(t.rxBuffer, f.Data...)
	}

	if len(t.rxBuffer) >= t.rxFrameLen {
		completed := t.rxBuffer
		t.stopReceiving()
		t.deliver(completed)
		return
	}

	t.rxBlockCounter++
	if t.config.BlockSize > 0 && t.rxBlockCounter >= t.config.BlockSize {
		t.rxBlockCounter = 0
		t.sendFlowControl(FlowStatusContinueToSend)
		resetTimer(t.timerRxCF, t.config.TimeoutN_Cr)
	}
}

func (t *Transport) sendFlowControl(status FlowStatus) {
	payload := createFlowControlPayload(status, t.config.BlockSize, t.config.StMin)
	if err := t.emit(t.makeTxMsg(payload, Physical)); err != nil {
		t.fireError(err)
	}
}
