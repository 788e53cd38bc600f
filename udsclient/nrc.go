package udsclient

import (
	"fmt"

	"github.com/LoveWonYoung/udsdiag/diagerr"
)

// NRC 负响应码 (Negative Response Code)
type NRC byte

const (
	NRCGeneralReject                          NRC = 0x10 // 一般拒绝
	NRCServiceNotSupported                    NRC = 0x11 // 服务不支持
	NRCSubFunctionNotSupported                NRC = 0x12 // 子功能不支持
	NRCIncorrectMessageLength                 NRC = 0x13 // 消息长度错误
	NRCResponseTooLong                        NRC = 0x14 // 响应过长
	NRCBusyRepeatRequest                      NRC = 0x21 // 忙，请重复请求
	NRCConditionsNotCorrect                   NRC = 0x22 // 条件不满足
	NRCRequestSequenceError                   NRC = 0x24 // 请求顺序错误
	NRCNoResponseFromSubnetComponent          NRC = 0x25 // 子网组件无响应
	NRCFailurePreventsExecution               NRC = 0x26 // 故障阻止执行
	NRCRequestOutOfRange                      NRC = 0x31 // 请求超出范围
	NRCSecurityAccessDenied                   NRC = 0x33 // 安全访问被拒绝
	NRCInvalidKey                             NRC = 0x35 // 无效密钥
	NRCExceedNumberOfAttempts                 NRC = 0x36 // 超过尝试次数
	NRCRequiredTimeDelayNotExpired            NRC = 0x37 // 所需时间延迟未过期
	NRCUploadDownloadNotAccepted              NRC = 0x70 // 上传/下载不接受
	NRCTransferDataSuspended                  NRC = 0x71 // 传输数据暂停
	NRCGeneralProgrammingFailure              NRC = 0x72 // 一般编程失败
	NRCWrongBlockSequenceCounter              NRC = 0x73 // 块序号计数器错误
	NRCResponsePending                        NRC = 0x78 // 响应挂起
	NRCSubFunctionNotSupportedInActiveSession NRC = 0x7E // 子功能在当前会话不支持
	NRCServiceNotSupportedInActiveSession     NRC = 0x7F // 服务在当前会话不支持
)

var nrcDescriptions = map[NRC]string{
	NRCGeneralReject:                          "一般拒绝",
	NRCServiceNotSupported:                    "服务不支持",
	NRCSubFunctionNotSupported:                "子功能不支持",
	NRCIncorrectMessageLength:                 "消息长度错误",
	NRCResponseTooLong:                        "响应过长",
	NRCBusyRepeatRequest:                      "忙，请重复请求",
	NRCConditionsNotCorrect:                   "条件不满足",
	NRCRequestSequenceError:                   "请求顺序错误",
	NRCNoResponseFromSubnetComponent:          "子网组件无响应",
	NRCFailurePreventsExecution:               "故障阻止执行",
	NRCRequestOutOfRange:                      "请求超出范围",
	NRCSecurityAccessDenied:                   "安全访问被拒绝",
	NRCInvalidKey:                             "无效密钥",
	NRCExceedNumberOfAttempts:                 "超过尝试次数",
	NRCRequiredTimeDelayNotExpired:            "所需时间延迟未过期",
	NRCUploadDownloadNotAccepted:              "上传/下载不接受",
	NRCTransferDataSuspended:                  "传输数据暂停",
	NRCGeneralProgrammingFailure:              "一般编程失败",
	NRCWrongBlockSequenceCounter:              "块序号计数器错误",
	NRCResponsePending:                        "响应挂起",
	NRCSubFunctionNotSupportedInActiveSession: "子功能在当前会话不支持",
	NRCServiceNotSupportedInActiveSession:     "服务在当前会话不支持",
}

// Description 返回 NRC 的中文描述
func (n NRC) Description() string {
	if desc, ok := nrcDescriptions[n]; ok {
		return desc
	}
	return "未知错误"
}

func (n NRC) String() string {
	return fmt.Sprintf("0x%02X (%s)", byte(n), n.Description())
}

// Category 把 NRC 归入固定的分类。厂商自定义和未知的码归为 GeneralReject，原始值仍保留在 NRC 中。
func (n NRC) Category() NRC {
	switch n {
	case NRCServiceNotSupportedInActiveSession:
		return NRCServiceNotSupported
	case NRCSubFunctionNotSupportedInActiveSession:
		return NRCSubFunctionNotSupported
	case NRCServiceNotSupported, NRCSubFunctionNotSupported, NRCIncorrectMessageLength,
		NRCConditionsNotCorrect, NRCRequestSequenceError, NRCRequestOutOfRange,
		NRCSecurityAccessDenied, NRCInvalidKey, NRCExceedNumberOfAttempts,
		NRCRequiredTimeDelayNotExpired, NRCBusyRepeatRequest, NRCResponsePending,
		NRCUploadDownloadNotAccepted, NRCTransferDataSuspended,
		NRCGeneralProgrammingFailure, NRCWrongBlockSequenceCounter:
		return n
	}
	return NRCGeneralReject
}

// NegativeResponseError 表示 UDS 负响应
type NegativeResponseError struct {
	ServiceID ServiceID // 原始服务 ID
	Code      NRC       // 负响应码
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("UDS 负响应: SID=0x%02X, NRC=%s", byte(e.ServiceID), e.Code)
}

func (e *NegativeResponseError) Unwrap() error { return diagerr.ErrNegativeResponse }

// IsNRC reports whether err is a negative response with the given code.
func IsNRC(err error, code NRC) bool {
	nr, ok := asNegativeResponse(err)
	return ok && nr.Code == code
}
