// Package seedkey 实现 UDS 0x27 安全访问的种子到密钥计算。
//
// 密钥为 AES-CMAC(secret, seed) 的前 keyLen 个字节。
package seedkey

import (
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/chmike/cmac-go"
)

// KeyFunc 由种子计算密钥。实现必须是确定性的。
type KeyFunc func(seed []byte) ([]byte, error)

var (
	ErrMissingSecret   = fmt.Errorf("%w: missing secret", diagerr.ErrSecurity)
	ErrMalformedSecret = fmt.Errorf("%w: malformed secret", diagerr.ErrSecurity)
	ErrEmptySeed       = fmt.Errorf("%w: empty seed", diagerr.ErrSecurity)
	ErrKeyLength       = fmt.Errorf("%w: invalid key length", diagerr.ErrSecurity)
)

// 单个 AES 块即为 CMAC 输出的最大长度
const maxKeyLen = aes.BlockSize

// ComputeKey 计算 AES-CMAC 并截取前 keyLen 个字节。
// keyLen 为 0 时使用种子长度 (最多 16)。
func ComputeKey(seed, secret []byte, keyLen int) ([]byte, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	if keyLen == 0 {
		keyLen = min(len(seed), maxKeyLen)
	}
	if keyLen < 0 || keyLen > maxKeyLen {
		return nil, fmt.Errorf("%w: %d (must be 1..%d)", ErrKeyLength, keyLen, maxKeyLen)
	}

	mac, err := cmac.New(aes.NewCipher, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:keyLen], nil
}

func checkSecret(secret []byte) error {
	switch len(secret) {
	case 0:
		return ErrMissingSecret
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w: %d bytes, AES needs 16, 24 or 32", ErrMalformedSecret, len(secret))
	}
}

type options struct {
	keyLen int
}

// Option 配置 New 返回的 KeyFunc。
type Option func(*options)

// WithKeyLength 固定输出密钥长度，默认与种子等长。
func WithKeyLength(n int) Option {
	return func(o *options) { o.keyLen = n }
}

// New 校验密钥材料并返回对应的 KeyFunc。
func New(secret []byte, opts ...Option) (KeyFunc, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.keyLen < 0 || o.keyLen > maxKeyLen {
		return nil, fmt.Errorf("%w: %d", ErrKeyLength, o.keyLen)
	}
	secret = bytes.Clone(secret)
	return func(seed []byte) ([]byte, error) {
		return ComputeKey(seed, secret, o.keyLen)
	}, nil
}

// ParseSecret 解析十六进制密钥，允许空格分隔 ("2B 7E 15 ...") 或紧凑格式。
func ParseSecret(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return nil, ErrMissingSecret
	}
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	if err := checkSecret(b); err != nil {
		return nil, err
	}
	return b, nil
}

// IsZeroSeed 判断种子是否全零，全零表示该等级已解锁。
func IsZeroSeed(seed []byte) bool {
	if len(seed) == 0 {
		return false
	}
	for _, b := range seed {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsSecurityError reports whether err came from this package or any other
// security access failure.
func IsSecurityError(err error) bool {
	return errors.Is(err, diagerr.ErrSecurity)
}
