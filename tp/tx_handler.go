package tp

import "fmt"

// initiateTx starts the transmission of a new message.
// It is called when a request arrives on txDataChan and state is Idle.
func (t *Transport) initiateTx(req *txRequest) {
	t.txReq = req
	payload := req.data

	if len(payload) <= t.singleFrameCapacity() {
		data, err := createSingleFramePayload(payload, t.payloadCapacity())
		if err != nil {
			t.completeTx(BlockingSendFailure{NewIsoTpError(fmt.Sprintf("creating SF: %v", err))})
			return
		}
		t.completeTx(t.emit(t.makeTxMsg(data, req.addrType)))
		return
	}

	// 作为多帧发送，先发送首帧
	ffPciSize := 2
	if len(payload) > MaxClassicFrameSize {
		ffPciSize = 6
	}
	chunkSize := t.payloadCapacity() - ffPciSize

	data, err := createFirstFramePayload(payload[:chunkSize], len(payload), t.payloadCapacity())
	if err != nil {
		t.completeTx(BlockingSendFailure{NewIsoTpError(fmt.Sprintf("creating FF: %v", err))})
		return
	}
	t.txBuffer = payload[chunkSize:]
	t.txSeqNum = 1
	t.txState = StateWaitFC
	t.wftCounter = 0

	if err := t.emit(t.makeTxMsg(data, Physical)); err != nil {
		t.completeTx(err)
		return
	}
	resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)
}

func (t *Transport) handleTxFlowControl(fc *FlowControlFrame) {
	if t.txState != StateWaitFC {
		// 迟到或非请求的流控帧，忽略
		return
	}
	stopTimer(t.timerRxFC)

	switch fc.FlowStatus {
	case FlowStatusContinueToSend:
		t.wftCounter = 0
		t.remoteBlocksize = fc.BlockSize
		t.remoteStmin = fc.STmin
		t.txState = StateTransmit
		t.txBlockCounter = 0
		t.transmitConsecutiveFrames()

	case FlowStatusWait:
		t.wftCounter++
		if t.wftCounter > t.config.MaxWaitFrame {
			t.completeTx(MaximumWaitFrameReachedError{NewIsoTpError(
				fmt.Sprintf("received %d FC.WAIT frames, limit is %d", t.wftCounter, t.config.MaxWaitFrame))})
			return
		}
		resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)

	case FlowStatusOverflow:
		t.completeTx(OverflowError{})
	}
}

// transmitConsecutiveFrames 发送连续帧，直到报文结束、块结束或需要等待 STmin。
func (t *Transport) transmitConsecutiveFrames() {
	chunkSize := t.payloadCapacity() - 1 // CF PCI=1
	for {
		var chunk []byte
		if len(t.txBuffer) > chunkSize {
			chunk = t.txBuffer[:chunkSize]
			t.txBuffer = t.txBuffer[chunkSize:]
		} else {
			chunk = t.txBuffer
			t.txBuffer = nil
		}

		data, err := createConsecutiveFramePayload(chunk, t.txSeqNum)
		if err != nil {
			t.completeTx(BlockingSendFailure{NewIsoTpError(fmt.Sprintf("creating CF: %v", err))})
			return
		}
		if err := t.emit(t.makeTxMsg(data, Physical)); err != nil {
			t.completeTx(err)
			return
		}
		t.txSeqNum = (t.txSeqNum + 1) % 16
		t.txBlockCounter++

		if len(t.txBuffer) == 0 {
			t.completeTx(nil)
			return
		}

		if t.remoteBlocksize > 0 && t.txBlockCounter >= t.remoteBlocksize {
			t.txState = StateWaitFC
			t.txBlockCounter = 0
			resetTimer(t.timerRxFC, t.config.TimeoutN_Bs)
			return
		}
		if t.remoteStmin > 0 {
			resetTimer(t.timerTxSTmin, t.remoteStmin)
			return
		}
	}
}

// completeTx 结束当前发送并通知等待中的调用者。
func (t *Transport) completeTx(err error) {
	if t.txReq != nil {
		t.txReq.done <- err
	}
	t.stopSending()
}
