package isotp

import (
	"fmt"
	"time"

	"github.com/canio/cantp/can"
)

// RxState is the reception state machine's current state.
type RxState int

const (
	RxStateIdle RxState = iota
	RxStateWaitCF
)

// TxState is the transmission state machine's current state.
type TxState int

const (
	TxStateIdle TxState = iota
	TxStateWaitFC
	TxStateTransmitCF
)

// ReceiveFunc pulls the next inbound frame addressed to this endpoint's CAN
// identifiers. It returns ok=false when no frame is currently available;
// Transport.Process drains it to empty on every call.
type ReceiveFunc func() (can.Frame, bool)

// TransmitFunc sends one outbound frame. A non-nil error aborts the
// in-progress transmission and is reported to the configured ErrorHandler.
type TransmitFunc func(can.Frame) error

type txRequest struct {
	data   []byte
	target TargetAddressType
}

// Transport is a single CAN-TP session: one reception state machine and one
// transmission state machine, driven cooperatively by repeated calls to
// Process. It is not safe for concurrent use.
type Transport struct {
	receive  ReceiveFunc
	transmit TransmitFunc
	address  *Address
	params   Params
	errors   ErrorHandler

	txQueue *queue[txRequest]
	rxQueue *queue[[]byte]

	rxState        RxState
	rxBuffer       []byte
	rxFrameLength  uint32
	rxBlockCounter int
	lastSeqNum     uint8
	actualRxDL     int // 0 means not yet established for this reception
	timerRxCF      *Timer

	txState              TxState
	txBuffer             []byte
	txFrameLength        uint32
	txTargetAddressType  TargetAddressType
	txBlockCounter       int
	txSeqNum             uint8
	wftCounter           uint32
	pendingFlowControlTx bool
	pendingFlowStatus    FlowStatus
	lastFlowControlFrame *PDU
	remoteBlockSize      uint8
	remoteStMin          time.Duration
	timerTxStMin         *Timer
	timerRxFC            *Timer
}

// NewTransport builds a Transport bound to the given address and parameters.
// receive and transmit are the only points of contact with a CAN bus; the
// engine itself never imports a bus implementation.
func NewTransport(receive ReceiveFunc, transmit TransmitFunc, address *Address, params Params, errors ErrorHandler) (*Transport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if address == nil {
		return nil, configErrorf("address must not be nil")
	}
	t := &Transport{
		receive:  receive,
		transmit: transmit,
		address:  address,
		params:   params,
		errors:   errors,

		txQueue: newQueue[txRequest](0),
		rxQueue: newQueue[[]byte](0),

		timerRxCF:    NewTimer(time.Duration(params.RxConsecutiveFrameTimeoutMs) * time.Millisecond),
		timerTxStMin: NewTimer(0),
		timerRxFC:    NewTimer(time.Duration(params.RxFlowControlTimeoutMs) * time.Millisecond),
	}
	t.warnIfSpecialArbitrationID(address.TxArbitrationID(Physical))
	t.warnIfSpecialArbitrationID(address.TxArbitrationID(Functional))
	t.warnIfSpecialArbitrationID(address.rxArbIDPhysical)
	return t, nil
}

// warnIfSpecialArbitrationID reports (via the ErrorHandler, as a diagnostic
// rather than a protocol error) that an arbitration ID falls within the
// ISO 15765-2 reserved functional addressing range, where behavior may
// collide with other diagnostic tooling on the bus.
func (t *Transport) warnIfSpecialArbitrationID(id uint32) {
	if (id > 0x7F4 && id < 0x7F6) || (id > 0x7FA && id < 0x7FB) {
		t.reportError(newProtocolError(ErrInvalidCanData,
			fmt.Sprintf("arbitration id 0x%X falls within the ISO 15765-2 reserved diagnostic range", id)))
	}
}

func (t *Transport) reportError(err *ProtocolError) {
	if t.errors != nil {
		t.errors.Handle(err.Kind, err)
	}
}

// Send enqueues a complete application message for transmission. It returns
// before any frame is put on the wire; Process performs the actual
// segmentation and flow-controlled sending. Input validation failures
// (including a Functional send that would require more than one frame,
// since 1-to-N delivery forbids multi-frame) are synchronous errors to the
// caller, distinct from the protocol anomalies dispatched to the
// ErrorHandler once a transfer is underway.
func (t *Transport) Send(data []byte, target TargetAddressType) error {
	if uint32(len(data)) > t.params.MaxFrameSize {
		return configErrorf("message length %d exceeds max_frame_size %d", len(data), t.params.MaxFrameSize)
	}
	if target == Functional {
		if smallCap := SingleSmallCap(t.params.TxDataLength, len(t.address.TxPayloadPrefix())); len(data) > smallCap {
			return configErrorf(
				"functional send of %d bytes exceeds the single-frame capacity of %d", len(data), smallCap)
		}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if !t.txQueue.Push(txRequest{data: buf, target: target}) {
		return newProtocolError(ErrOverflow, "transmit queue is full")
	}
	return nil
}

// Receive pops the oldest fully reassembled inbound message, if any.
func (t *Transport) Receive() ([]byte, bool) {
	return t.rxQueue.Pop()
}

// IsAvailable reports whether Receive would return a message.
func (t *Transport) IsAvailable() bool {
	return t.rxQueue.Len() > 0
}

// IsTransmitting reports whether a message is mid-flight or still queued.
func (t *Transport) IsTransmitting() bool {
	return t.txState != TxStateIdle || t.txQueue.Len() > 0
}

// Reset clears both state machines, all buffers and queues, and stops every
// timer, as if the Transport had just been constructed.
func (t *Transport) Reset() {
	t.rxState = RxStateIdle
	t.rxBuffer = nil
	t.rxFrameLength = 0
	t.rxBlockCounter = 0
	t.lastSeqNum = 0
	t.actualRxDL = 0
	t.timerRxCF.Stop()

	t.txState = TxStateIdle
	t.txBuffer = nil
	t.txFrameLength = 0
	t.txBlockCounter = 0
	t.txSeqNum = 0
	t.wftCounter = 0
	t.pendingFlowControlTx = false
	t.lastFlowControlFrame = nil
	t.remoteBlockSize = 0
	t.remoteStMin = 0
	t.timerTxStMin.Stop()
	t.timerRxFC.Stop()

	t.txQueue.Clear()
	t.rxQueue.Clear()
}

// SleepTime recommends how long a caller's scheduling loop may sleep before
// calling Process again without missing a time-sensitive transition: a
// relaxed interval while both sub-FSMs are idle, a medium one while only
// waiting on a peer's Flow Control, and a tight one whenever either FSM is
// mid-transfer and STmin/timeout precision matters.
func (t *Transport) SleepTime() time.Duration {
	switch {
	case t.rxState == RxStateIdle && t.txState == TxStateIdle:
		return 50 * time.Millisecond
	case t.rxState == RxStateIdle && t.txState == TxStateWaitFC:
		return 10 * time.Millisecond
	default:
		return time.Millisecond
	}
}

// Process drains every currently available inbound frame through the
// reception state machine, then advances the transmission state machine by
// one step. Call it repeatedly from a cooperative scheduling loop.
func (t *Transport) Process() {
	for {
		frame, ok := t.receive()
		if !ok {
			break
		}
		t.processRx(frame)
	}
	t.processTx()
}

// --- Reception ---

func (t *Transport) processRx(frame can.Frame) {
	if !t.address.Accepts(frame) {
		return
	}
	pdu, err := DecodePDU(frame.Data, t.address.RxPrefixSize())
	if err != nil {
		if pe, ok := err.(*ProtocolError); ok {
			t.reportError(pe)
			if pe.Kind == ErrInvalidCanFdFirstFrameRXDL {
				t.stopReceiving()
			}
		}
		return
	}

	if t.rxState == RxStateWaitCF && t.timerRxCF.IsTimedOut() {
		t.reportError(newProtocolError(ErrConsecutiveFrameTimeout, "no consecutive frame received in time"))
		t.stopReceiving()
	}

	if pdu.Type == PDUFlowControl {
		t.lastFlowControlFrame = pdu
		if t.rxState == RxStateWaitCF && (pdu.FlowStatus == FlowStatusWait || pdu.FlowStatus == FlowStatusContinueToSend) {
			t.timerRxCF.Start()
		}
		return
	}

	switch t.rxState {
	case RxStateIdle:
		t.processRxIdle(pdu)
	case RxStateWaitCF:
		t.processRxWaitCF(pdu)
	}
}

func (t *Transport) processRxIdle(pdu *PDU) {
	switch pdu.Type {
	case PDUSingleFrame:
		t.deliverRx(pdu.Data)
	case PDUFirstFrame:
		t.startReceptionAfterFirstFrame(pdu)
	case PDUConsecutiveFrame:
		t.reportError(newProtocolError(ErrUnexpectedConsecutiveFrame, "consecutive frame received while idle"))
	}
}

func (t *Transport) processRxWaitCF(pdu *PDU) {
	switch pdu.Type {
	case PDUSingleFrame:
		t.reportError(newProtocolError(ErrReceptionInterruptedWithSingleFrame,
			"single frame received while reassembling a multi-frame message"))
		t.stopReceiving()
		t.deliverRx(pdu.Data)
	case PDUFirstFrame:
		t.reportError(newProtocolError(ErrReceptionInterruptedWithFirstFrame,
			"first frame received while reassembling a multi-frame message"))
		t.stopReceiving()
		t.startReceptionAfterFirstFrame(pdu)
	case PDUConsecutiveFrame:
		t.processRxConsecutiveFrame(pdu)
	}
}

func (t *Transport) startReceptionAfterFirstFrame(pdu *PDU) {
	if pdu.Length > t.params.MaxFrameSize {
		t.reportError(newProtocolError(ErrFrameTooLong, fmt.Sprintf(
			"first frame announces length %d exceeding max_frame_size %d", pdu.Length, t.params.MaxFrameSize)))
		t.requestFlowControl(FlowStatusOverflow)
		return
	}
	t.rxState = RxStateWaitCF
	t.rxFrameLength = pdu.Length
	t.actualRxDL = pdu.RxDL
	t.rxBuffer = append([]byte(nil), pdu.Data...)
	t.lastSeqNum = 0
	t.rxBlockCounter = 0
	t.timerRxCF.Start()
	t.requestFlowControl(FlowStatusContinueToSend)
}

func (t *Transport) processRxConsecutiveFrame(pdu *PDU) {
	expected := (t.lastSeqNum + 1) & 0xF
	if pdu.SeqNum != expected {
		t.reportError(newProtocolError(ErrWrongSequenceNumber, fmt.Sprintf(
			"expected sequence number %d, got %d", expected, pdu.SeqNum)))
		t.stopReceiving()
		return
	}

	remaining := int(t.rxFrameLength) - len(t.rxBuffer)
	if pdu.RxDL != t.actualRxDL && pdu.RxDL < remaining {
		t.reportError(newProtocolError(ErrChangingInvalidRXDL, fmt.Sprintf(
			"consecutive frame RXDL %d cannot complete the remaining %d bytes", pdu.RxDL, remaining)))
		return // drop the frame: stay in WAIT_CF, no buffer update, sequence not advanced
	}
	t.lastSeqNum = pdu.SeqNum

	chunk := pdu.Data
	if len(chunk) > remaining {
		chunk = chunk[:remaining]
	}
	t.rxBuffer = append(t.rxBuffer, chunk...)
	t.timerRxCF.Start()

	if len(t.rxBuffer) >= int(t.rxFrameLength) {
		data := t.rxBuffer[:t.rxFrameLength]
		t.stopReceiving()
		t.deliverRx(data)
		return
	}

	t.rxBlockCounter++
	if t.params.BlockSize != 0 && t.rxBlockCounter >= int(t.params.BlockSize) {
		t.rxBlockCounter = 0
		t.requestFlowControl(FlowStatusContinueToSend)
		t.timerRxCF.Stop()
	}
}

func (t *Transport) deliverRx(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if !t.rxQueue.Push(buf) {
		t.reportError(newProtocolError(ErrOverflow, "receive queue is full, dropping reassembled message"))
	}
}

func (t *Transport) stopReceiving() {
	t.rxState = RxStateIdle
	t.rxBuffer = nil
	t.rxFrameLength = 0
	t.rxBlockCounter = 0
	t.lastSeqNum = 0
	t.actualRxDL = 0
	t.timerRxCF.Stop()
}

// requestFlowControl queues a FlowControl frame with the given status to be
// sent on the next processTx pass, superseding any still-pending one.
func (t *Transport) requestFlowControl(status FlowStatus) {
	t.pendingFlowControlTx = true
	t.pendingFlowStatus = status
}

// --- Transmission ---

func (t *Transport) processTx() {
	if t.pendingFlowControlTx {
		t.sendFlowControl(t.pendingFlowStatus)
		t.pendingFlowControlTx = false
		return
	}

	if t.lastFlowControlFrame != nil {
		fc := t.lastFlowControlFrame
		t.lastFlowControlFrame = nil
		if !t.handleFlowControlFrame(fc) {
			return
		}
	}

	if t.txState == TxStateWaitFC && t.timerRxFC.IsTimedOut() {
		t.reportError(newProtocolError(ErrFlowControlTimeout, "no flow control frame received in time"))
		t.stopSending()
		return
	}

	if t.txState != TxStateIdle && len(t.txBuffer) == 0 {
		t.stopSending()
		return
	}

	switch t.txState {
	case TxStateIdle:
		t.pumpTxIdle()
	case TxStateWaitFC:
		// Nothing to do: waiting on handleFlowControlFrame or the timeout above.
	case TxStateTransmitCF:
		t.pumpTxTransmitCF()
	}
}

// handleFlowControlFrame applies a buffered FlowControl PDU to the
// transmission state machine. It returns false when processTx should stop
// for this cycle (the frame ended the transmission, one way or another).
func (t *Transport) handleFlowControlFrame(fc *PDU) bool {
	if fc.FlowStatus == FlowStatusOverflow {
		t.reportError(newProtocolError(ErrOverflow, "peer reported overflow"))
		t.stopSending()
		return false
	}
	if t.txState == TxStateIdle {
		t.reportError(newProtocolError(ErrUnexpectedFlowControl, "flow control frame received while not transmitting"))
		return true
	}

	switch fc.FlowStatus {
	case FlowStatusWait:
		if t.params.WftMax == 0 {
			t.reportError(newProtocolError(ErrUnsupportedWaitFrame, "peer sent a wait frame but wft_max is 0"))
			t.stopSending()
			return false
		}
		if t.wftCounter >= t.params.WftMax {
			t.reportError(newProtocolError(ErrMaximumWaitFrameReached, "peer sent too many wait frames"))
			t.stopSending()
			return false
		}
		t.wftCounter++
		t.txState = TxStateWaitFC
		t.timerRxFC.Start()
		return true
	case FlowStatusContinueToSend:
		if t.timerRxFC.IsTimedOut() {
			return true // the timeout check below will raise FlowControlTimeout instead
		}
		t.wftCounter = 0
		t.timerRxFC.Stop()
		t.remoteBlockSize = fc.BlockSize
		t.remoteStMin = stMinToDuration(fc)
		if t.txState == TxStateWaitFC {
			t.txBlockCounter = 0
			t.timerTxStMin.StartWithTimeout(t.remoteStMin)
		}
		t.txState = TxStateTransmitCF
		return true
	default:
		t.reportError(newProtocolError(ErrInvalidCanData, "unknown flow status in flow control frame"))
		t.stopSending()
		return false
	}
}

func stMinToDuration(fc *PDU) time.Duration {
	return time.Duration(fc.StMinSeconds * float64(time.Second))
}

func (t *Transport) pumpTxIdle() {
	if len(t.txBuffer) == 0 {
		req, ok := t.txQueue.Pop()
		if !ok {
			return
		}
		t.beginTx(req)
		if len(t.txBuffer) == 0 {
			// An empty message is accepted by Send but never reaches the
			// wire: a zero-length payload has no Single frame encoding, and
			// the original's TX pump drops an empty popped message before
			// ever building a frame.
			t.txFrameLength = 0
			return
		}
	}

	smallCap := SingleSmallCap(t.params.TxDataLength, len(t.address.TxPayloadPrefix()))
	if len(t.txBuffer) <= smallCap {
		payload := EncodeSingleFrame(t.address.TxPayloadPrefix(), t.txBuffer)
		if t.emit(payload, t.txTargetAddressType) {
			t.txBuffer = nil
			t.txFrameLength = 0
		}
		return
	}

	firstChunk, rest := t.splitFirstFrameChunk(t.txBuffer)
	payload := EncodeFirstFrame(t.address.TxPayloadPrefix(), uint32(len(t.txBuffer)), firstChunk)
	if t.emit(payload, t.txTargetAddressType) {
		t.txFrameLength = uint32(len(t.txBuffer))
		t.txBuffer = rest
		t.txSeqNum = 1
		t.txState = TxStateWaitFC
		t.timerRxFC.Start()
	}
}

// splitFirstFrameChunk returns the portion of data that fits in a First
// Frame given the configured tx_data_length, and the remainder still to be
// sent as Consecutive Frames.
func (t *Transport) splitFirstFrameChunk(data []byte) (chunk, rest []byte) {
	prefixLen := len(t.address.TxPayloadPrefix())
	headerLen := 2
	if len(data) > 0xFFF {
		headerLen = 6
	}
	n := t.params.TxDataLength - prefixLen - headerLen
	if n < 0 {
		n = 0
	}
	if n > len(data) {
		n = len(data)
	}
	return data[:n], data[n:]
}

func (t *Transport) pumpTxTransmitCF() {
	if !t.params.SquashStMinRequirement && !t.timerTxStMin.IsTimedOut() {
		return
	}

	prefixLen := len(t.address.TxPayloadPrefix())
	chunkSize := t.params.TxDataLength - prefixLen - 1
	if chunkSize < 0 {
		chunkSize = 0
	}
	if chunkSize > len(t.txBuffer) {
		chunkSize = len(t.txBuffer)
	}
	chunk := t.txBuffer[:chunkSize]

	payload := EncodeConsecutiveFrame(t.address.TxPayloadPrefix(), t.txSeqNum, chunk)
	if !t.emit(payload, t.txTargetAddressType) {
		return
	}
	t.txBuffer = t.txBuffer[chunkSize:]
	t.txSeqNum = (t.txSeqNum + 1) & 0xF
	t.txBlockCounter++
	t.timerTxStMin.StartWithTimeout(t.remoteStMin)

	if len(t.txBuffer) == 0 {
		t.stopSending()
		return
	}
	if t.remoteBlockSize != 0 && t.txBlockCounter >= int(t.remoteBlockSize) {
		t.txState = TxStateWaitFC
		t.timerRxFC.Start()
	}
}

func (t *Transport) sendFlowControl(status FlowStatus) {
	payload := EncodeFlowControl(t.address.TxPayloadPrefix(), status, t.params.BlockSize, t.params.StMin)
	t.emit(payload, Physical)
}

// beginTx transitions from idle into carrying req, resetting all
// per-message transmission state.
func (t *Transport) beginTx(req txRequest) {
	t.txBuffer = req.data
	t.txTargetAddressType = req.target
	t.txFrameLength = uint32(len(req.data))
	t.txSeqNum = 1
	t.txBlockCounter = 0
	t.wftCounter = 0
	t.remoteBlockSize = 0
	t.remoteStMin = 0
}

// emit pads, frames, and transmits payload to the given target, reporting
// any transport error to the ErrorHandler. It returns whether the send
// succeeded.
func (t *Transport) emit(payload []byte, target TargetAddressType) bool {
	padded := PadPayload(payload, t.params.TxDataLength, t.params.TxPadding, t.params.TxDataMinLength)
	dlc, err := Len2DLC(len(padded))
	if err != nil {
		t.reportError(err.(*ProtocolError))
		t.stopSending()
		return false
	}
	frame := can.Frame{
		ArbitrationID: t.address.TxArbitrationID(target),
		IsExtendedID:  t.address.Is29Bits(),
		IsFD:          t.params.CanFD,
		DLC:           dlc,
		Data:          padded,
	}
	if err := t.transmit(frame); err != nil {
		t.reportError(newProtocolError(ErrInvalidCanData, fmt.Sprintf("transmit failed: %v", err)))
		t.stopSending()
		return false
	}
	return true
}

func (t *Transport) stopSending() {
	t.txState = TxStateIdle
	t.txBuffer = nil
	t.txFrameLength = 0
	t.txBlockCounter = 0
	t.txSeqNum = 0
	t.wftCounter = 0
	t.remoteBlockSize = 0
	t.remoteStMin = 0
	t.timerTxStMin.Stop()
	t.timerRxFC.Stop()
}
