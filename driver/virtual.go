package driver

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// VirtualBus 是进程内的CAN总线，每个节点写入的帧会广播给其它节点
type VirtualBus struct {
	mu    sync.Mutex
	nodes []*VirtualNode
}

func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

// Attach 在总线上创建一个新节点
func (b *VirtualBus) Attach(canFD bool) *VirtualNode {
	ctx, cancel := context.WithCancel(context.Background())
	ct := CAN
	if canFD {
		ct = CANFD
	}
	n := &VirtualNode{
		bus:     b,
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		canType: ct,
	}
	b.mu.Lock()
	b.nodes = append(b.nodes, n)
	b.mu.Unlock()
	return n
}

func (b *VirtualBus) detach(n *VirtualNode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, node := range b.nodes {
		if node == n {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			break
		}
	}
	close(n.rxChan)
}

func (b *VirtualBus) broadcast(from *VirtualNode, msg UnifiedCANMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range b.nodes {
		if n == from {
			continue
		}
		select {
		case n.rxChan <- msg:
		default:
			log.Println("警告: 虚拟总线接收channel已满，消息被丢弃")
		}
	}
}

// VirtualNode 是 VirtualBus 上的一个 CANDriver
type VirtualNode struct {
	bus     *VirtualBus
	rxChan  chan UnifiedCANMessage
	ctx     context.Context
	cancel  context.CancelFunc
	canType CanType

	mu      sync.Mutex
	running bool
	stopped bool
}

func (n *VirtualNode) Init() error { return nil }

func (n *VirtualNode) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.stopped {
		n.running = true
	}
}

// Stop 把节点从总线上移除并关闭接收通道
func (n *VirtualNode) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return nil
	}
	n.stopped = true
	n.running = false
	n.cancel()
	n.bus.detach(n)
	return nil
}

func (n *VirtualNode) Write(msg UnifiedCANMessage) error {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()
	if !running {
		return errors.New("设备未启动")
	}
	if msg.IsFD && n.canType != CANFD {
		return errors.New("CAN FD frame on a classic node")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	n.bus.broadcast(n, msg)
	return nil
}

func (n *VirtualNode) RxChan() <-chan UnifiedCANMessage { return n.rxChan }

func (n *VirtualNode) Context() context.Context { return n.ctx }
