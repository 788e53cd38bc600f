package tp

import "fmt"

// AddressingMode 定义了ISOTP支持的寻址模式
type AddressingMode int

const (
	Normal11Bit      AddressingMode = iota // 11位ID，无地址扩展
	Normal29Bit                            // 29位ID，无地址扩展
	NormalFixed29Bit                       // 29位ID，目标/源地址在ID中
	Extended11Bit                          // 11位ID，目标地址在数据负载第一字节
	Extended29Bit                          // 29位ID，目标地址在数据负载第一字节
	Mixed11Bit                             // 11位ID，地址扩展在数据负载第一字节
	Mixed29Bit                             // 29位ID，目标/源地址在ID中，地址扩展在数据负载第一字节
)

// AddressType 定义了寻址类型：物理或功能
type AddressType int

const (
	Physical AddressType = iota
	Functional
)

// Address 存储了所有与寻址相关的信息
type Address struct {
	AddressingMode AddressingMode

	// 用于 Normal, Extended, Mixed 模式
	TxID uint32
	RxID uint32
	// 功能寻址发送ID (如 0x7DF)，为0时使用 TxID
	FunctionalTxID uint32

	// 用于 NormalFixed, Mixed 模式
	TargetAddress byte // 目标ECU地址 (TA)
	SourceAddress byte // 源ECU地址 (SA)

	// 用于 Extended, Mixed 模式
	AddressExtension byte // 地址扩展字节

	// 自动计算的字段
	TxPayloadPrefix []byte // 发送时附加到数据负载的前缀
	RxPrefixSize    int    // 接收时需跳过的负载前缀大小
	is29Bit         bool   // 缓存当前模式是否为29位
}

// AddressOption 配置 Address 的可选字段。
type AddressOption func(*Address)

// NewAddress 是一个灵活的构造函数，用于创建地址对象
func NewAddress(mode AddressingMode, opts ...AddressOption) (*Address, error) {
	addr := &Address{AddressingMode: mode}

	for _, opt := range opts {
		opt(addr)
	}

	switch mode {
	case Normal11Bit:
		addr.is29Bit = false
	case Normal29Bit, NormalFixed29Bit:
		addr.is29Bit = true
	case Extended11Bit:
		addr.is29Bit = false
		addr.TxPayloadPrefix = []byte{addr.TargetAddress}
		addr.RxPrefixSize = 1
	case Extended29Bit:
		addr.is29Bit = true
		addr.TxPayloadPrefix = []byte{addr.TargetAddress}
		addr.RxPrefixSize = 1
	case Mixed11Bit:
		addr.is29Bit = false
		addr.TxPayloadPrefix = []byte{addr.AddressExtension}
		addr.RxPrefixSize = 1
	case Mixed29Bit:
		addr.is29Bit = true
		addr.TxPayloadPrefix = []byte{addr.AddressExtension}
		addr.RxPrefixSize = 1
	default:
		return nil, fmt.Errorf("unsupported addressing mode: %d", mode)
	}

	if !addr.is29Bit {
		if addr.TxID > 0x7FF || addr.RxID > 0x7FF || addr.FunctionalTxID > 0x7FF {
			return nil, fmt.Errorf("11-bit addressing with an id above 0x7FF (tx=0x%X rx=0x%X)", addr.TxID, addr.RxID)
		}
	}
	switch mode {
	case Normal11Bit, Normal29Bit, Extended11Bit, Extended29Bit, Mixed11Bit:
		if addr.TxID == addr.RxID {
			return nil, fmt.Errorf("tx id and rx id must differ (0x%X)", addr.TxID)
		}
	}

	return addr, nil
}

func WithTxID(id uint32) AddressOption           { return func(a *Address) { a.TxID = id } }
func WithRxID(id uint32) AddressOption           { return func(a *Address) { a.RxID = id } }
func WithFunctionalTxID(id uint32) AddressOption { return func(a *Address) { a.FunctionalTxID = id } }
func WithTargetAddress(ta byte) AddressOption    { return func(a *Address) { a.TargetAddress = ta } }
func WithSourceAddress(sa byte) AddressOption    { return func(a *Address) { a.SourceAddress = sa } }
func WithAddressExtension(ae byte) AddressOption {
	return func(a *Address) { a.AddressExtension = ae }
}

// GetTxArbitrationID 根据寻址模式和类型（物理/功能）动态计算发送ID
func (a *Address) GetTxArbitrationID(addrType AddressType) uint32 {
	switch a.AddressingMode {
	case NormalFixed29Bit:
		// 18DA[TA][SA] 物理, 18DB[TA][SA] 功能
		prefix := uint32(0x18DA0000)
		if addrType == Functional {
			prefix = 0x18DB0000
		}
		return prefix | (uint32(a.TargetAddress) << 8) | uint32(a.SourceAddress)
	case Mixed29Bit:
		// 18CE[TA][SA] 物理, 18CD[TA][SA] 功能
		prefix := uint32(0x18CE0000)
		if addrType == Functional {
			prefix = 0x18CD0000
		}
		return prefix | (uint32(a.TargetAddress) << 8) | uint32(a.SourceAddress)
	}
	if addrType == Functional && a.FunctionalTxID != 0 {
		return a.FunctionalTxID
	}
	return a.TxID
}

// IsForMe 检查收到的CAN报文是否是发给本节点的
func (a *Address) IsForMe(msg *CanMessage) bool {
	if msg.IsExtendedID != a.is29Bit {
		return false // 11/29位不匹配
	}

	switch a.AddressingMode {
	case Normal11Bit, Normal29Bit:
		return msg.ArbitrationID == a.RxID
	case NormalFixed29Bit:
		// 对端发来的报文 TA 为我方 SA
		want := uint32(0x18DA0000) | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
		return msg.ArbitrationID == want
	case Extended11Bit, Extended29Bit:
		if msg.ArbitrationID != a.RxID || len(msg.Data) < 1 {
			return false
		}
		return msg.Data[0] == a.SourceAddress
	case Mixed11Bit:
		if msg.ArbitrationID != a.RxID || len(msg.Data) < 1 {
			return false
		}
		return msg.Data[0] == a.AddressExtension
	case Mixed29Bit:
		want := uint32(0x18CE0000) | uint32(a.SourceAddress)<<8 | uint32(a.TargetAddress)
		if msg.ArbitrationID != want || len(msg.Data) < 1 {
			return false
		}
		return msg.Data[0] == a.AddressExtension
	}
	return false
}

// Is29Bit 返回当前模式是否为29位
func (a *Address) Is29Bit() bool {
	return a.is29Bit
}

// Reversed 返回对端视角的地址，用于仿真 ECU 或回环测试。
func (a *Address) Reversed() *Address {
	r := *a
	r.TxID, r.RxID = a.RxID, a.TxID
	r.FunctionalTxID = 0
	r.TargetAddress, r.SourceAddress = a.SourceAddress, a.TargetAddress
	switch a.AddressingMode {
	case Extended11Bit, Extended29Bit:
		r.TxPayloadPrefix = []byte{r.TargetAddress}
	}
	return &r
}
