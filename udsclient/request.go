package udsclient

import "fmt"

// ServiceID UDS 服务标识
type ServiceID byte

const (
	SIDDiagnosticSessionControl ServiceID = 0x10
	SIDECUReset                 ServiceID = 0x11
	SIDClearDTC                 ServiceID = 0x14
	SIDReadDTCInformation       ServiceID = 0x19
	SIDReadDataByIdentifier     ServiceID = 0x22
	SIDReadMemoryByAddress      ServiceID = 0x23
	SIDSecurityAccess           ServiceID = 0x27
	SIDWriteDataByIdentifier    ServiceID = 0x2E
	SIDRoutineControl           ServiceID = 0x31
	SIDRequestDownload          ServiceID = 0x34
	SIDTransferData             ServiceID = 0x36
	SIDRequestTransferExit      ServiceID = 0x37
	SIDWriteMemoryByAddress     ServiceID = 0x3D
	SIDTesterPresent            ServiceID = 0x3E
)

const (
	// PositiveResponseOffset 正响应 SID = 请求 SID + 0x40
	PositiveResponseOffset = 0x40
	// NegativeResponseSID 负响应首字节
	NegativeResponseSID = 0x7F
	// SuppressPositiveResponse 子功能最高位，置位时 ECU 不回正响应
	SuppressPositiveResponse = 0x80
)

// PositiveResponse 返回该服务的正响应 SID
func (s ServiceID) PositiveResponse() byte { return byte(s) + PositiveResponseOffset }

func (s ServiceID) String() string {
	return fmt.Sprintf("0x%02X", byte(s))
}

// Request 是一条 UDS 请求
type Request struct {
	Service        ServiceID
	SubFunction    byte
	HasSubFunction bool
	Params         []byte
}

// NewRequest 创建不带子功能的请求
func NewRequest(sid ServiceID, params ...byte) Request {
	return Request{Service: sid, Params: params}
}

// NewSubRequest 创建带子功能的请求
func NewSubRequest(sid ServiceID, sub byte, params ...byte) Request {
	return Request{Service: sid, SubFunction: sub, HasSubFunction: true, Params: params}
}

// Encode 编码为 ISO-TP 负载
func (r Request) Encode() []byte {
	out := make([]byte, 0, 2+len(r.Params))
	out = append(out, byte(r.Service))
	if r.HasSubFunction {
		out = append(out, r.SubFunction)
	}
	return append(out, r.Params...)
}

// SuppressesPositiveResponse reports whether the ECU is asked not to answer.
func (r Request) SuppressesPositiveResponse() bool {
	return r.HasSubFunction && r.SubFunction&SuppressPositiveResponse != 0
}

// Response 是正响应，Data 不含响应 SID
type Response struct {
	Service ServiceID
	Data    []byte
}
