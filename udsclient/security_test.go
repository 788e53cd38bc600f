package udsclient

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LoveWonYoung/udsdiag/diagerr"
	"github.com/LoveWonYoung/udsdiag/seedkey"
)

var testSecret = []byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}

// fakeSecurityECU 应答 0x10 和 0x27，种子固定为 11 22 33 44
type fakeSecurityECU struct {
	seed        []byte
	unlocked    bool
	keyNRC      byte // 非零时对发送密钥回复该 NRC
	seedNRC     byte
	keyRequests int
}

func (e *fakeSecurityECU) handle(req []byte) [][]byte {
	switch req[0] {
	case 0x10:
		e.unlocked = false
		return [][]byte{{0x50, req[1], 0x00, 0x32, 0x01, 0xF4}}
	case 0x27:
		if req[1]%2 == 1 {
			if e.seedNRC != 0 {
				return [][]byte{{0x7F, 0x27, e.seedNRC}}
			}
			if e.unlocked {
				return [][]byte{{0x67, req[1], 0, 0, 0, 0}}
			}
			return [][]byte{append([]byte{0x67, req[1]}, e.seed...)}
		}
		e.keyRequests++
		if e.keyNRC != 0 {
			return [][]byte{{0x7F, 0x27, e.keyNRC}}
		}
		want, _ := seedkey.ComputeKey(e.seed, testSecret, 4)
		if !bytes.Equal(req[2:], want) {
			return [][]byte{{0x7F, 0x27, 0x35}}
		}
		e.unlocked = true
		return [][]byte{{0x67, req[1]}}
	}
	return [][]byte{{0x7F, req[0], 0x11}}
}

func newSecurityClient(t *testing.T, opts Options) (*Client, *fakeSecurityECU, *scriptedLink) {
	t.Helper()
	ecu := &fakeSecurityECU{seed: []byte{0x11, 0x22, 0x33, 0x44}}
	link := newScriptedLink(ecu.handle)
	return newTestClient(t, link, opts), ecu, link
}

func mustKeyFunc(t *testing.T, secret []byte) seedkey.KeyFunc {
	t.Helper()
	fn, err := seedkey.New(secret, seedkey.WithKeyLength(4))
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestSecurityAccess_Granted(t *testing.T) {
	c, _, link := newSecurityClient(t, fastOptions())
	res, err := c.SecurityAccess(context.Background(), 0x01, mustKeyFunc(t, testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if res.Level != 1 || res.AlreadyUnlocked {
		t.Errorf("result %+v", res)
	}
	if c.Session().SecurityLevel != 1 {
		t.Errorf("level not granted: %v", c.Session())
	}
	reqs := link.requests()
	if !bytes.Equal(reqs[1], []byte{0x27, 0x02, 0x86, 0x14, 0x35, 0xD0}) {
		t.Errorf("send key request % X", reqs[1])
	}
}

func TestSecurityAccess_WrongKey(t *testing.T) {
	c, _, _ := newSecurityClient(t, fastOptions())
	wrong := bytes.Clone(testSecret)
	wrong[0] ^= 0xFF

	_, err := c.SecurityAccess(context.Background(), 0x01, mustKeyFunc(t, wrong))
	var secErr *SecurityError
	if !errors.As(err, &secErr) || secErr.Attempts != 1 {
		t.Fatalf("expected SecurityError attempt 1, got %v", err)
	}
	if diagerr.Kind(err) != diagerr.ErrSecurity {
		t.Errorf("kind %v", diagerr.Kind(err))
	}
	if !IsNRC(err, NRCInvalidKey) {
		t.Error("the negative response should stay reachable")
	}
	if c.Session().SecurityLevel != 0 {
		t.Error("a rejected key must not change the granted level")
	}
}

func TestSecurityAccess_ZeroSeedSkipsKey(t *testing.T) {
	c, ecu, _ := newSecurityClient(t, fastOptions())
	ecu.unlocked = true
	called := false
	res, err := c.SecurityAccess(context.Background(), 0x01, func(seed []byte) ([]byte, error) {
		called = true
		return nil, errors.New("should not be called")
	})
	if err != nil {
		t.Fatal(err)
	}
	if called || !res.AlreadyUnlocked || ecu.keyRequests != 0 {
		t.Errorf("called=%v result=%+v keyRequests=%d", called, res, ecu.keyRequests)
	}
	if c.Session().SecurityLevel != 1 {
		t.Error("zero seed should grant the level")
	}
}

func TestSecurityAccess_KeyFuncErrors(t *testing.T) {
	c, ecu, _ := newSecurityClient(t, fastOptions())
	_, err := c.SecurityAccess(context.Background(), 0x01, func([]byte) ([]byte, error) { return nil, nil })
	if !errors.Is(err, diagerr.ErrSecurity) {
		t.Fatalf("empty key: got %v", err)
	}
	_, err = c.SecurityAccess(context.Background(), 0x01, nil)
	if !errors.Is(err, seedkey.ErrMissingSecret) {
		t.Fatalf("nil key func: got %v", err)
	}
	if ecu.keyRequests != 0 {
		t.Error("no key should reach the ECU")
	}
}

func TestSecurityAccess_EvenLevel(t *testing.T) {
	c, _, link := newSecurityClient(t, fastOptions())
	_, err := c.SecurityAccess(context.Background(), 0x02, mustKeyFunc(t, testSecret))
	if !errors.Is(err, diagerr.ErrInvalidArgument) {
		t.Fatalf("got %v", err)
	}
	if len(link.requests()) != 0 {
		t.Error("request sent for an invalid level")
	}
}

func TestSecurityAccess_Cooldown(t *testing.T) {
	opts := fastOptions()
	opts.MaxKeyAttempts = 2
	opts.Cooldown = time.Minute
	c, _, link := newSecurityClient(t, opts)
	wrong := bytes.Clone(testSecret)
	wrong[1] ^= 0x01
	key := mustKeyFunc(t, wrong)

	for i := 0; i < 2; i++ {
		if _, err := c.SecurityAccess(context.Background(), 0x01, key); err == nil {
			t.Fatal("wrong key accepted")
		}
	}
	before := len(link.requests())

	_, err := c.SecurityAccess(context.Background(), 0x01, mustKeyFunc(t, testSecret))
	var cd *CooldownError
	if !errors.As(err, &cd) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cd.Remaining <= 0 || cd.Remaining > time.Minute {
		t.Errorf("remaining %v", cd.Remaining)
	}
	if !errors.Is(err, diagerr.ErrSecurity) {
		t.Error("cooldown must be a security error")
	}
	if len(link.requests()) != before {
		t.Error("cooldown must not touch the bus")
	}

	// 其它等级不受影响
	if _, err := c.SecurityAccess(context.Background(), 0x03, mustKeyFunc(t, testSecret)); err != nil {
		t.Errorf("level 3 should not be locked: %v", err)
	}
}

func TestSecurityAccess_LevelPolicy(t *testing.T) {
	opts := fastOptions()
	opts.LevelPolicies = map[byte]LevelPolicy{0x01: {MaxAttempts: 1, Cooldown: time.Hour}}
	c, _, _ := newSecurityClient(t, opts)
	wrong := bytes.Clone(testSecret)
	wrong[0] ^= 0xFF
	if _, err := c.SecurityAccess(context.Background(), 0x01, mustKeyFunc(t, wrong)); err == nil {
		t.Fatal("wrong key accepted")
	}
	if d := c.Cooldown(0x01); d <= time.Minute {
		t.Errorf("level 1 cooldown %v, want the per-level hour", d)
	}
	if c.Cooldown(0x03) != 0 {
		t.Error("level 3 should not be locked")
	}
}

func TestSecurityAccess_ExceededAttemptsArmsCooldown(t *testing.T) {
	for _, nrc := range []byte{0x36, 0x37} {
		c, ecu, _ := newSecurityClient(t, fastOptions())
		ecu.keyNRC = nrc
		_, err := c.SecurityAccess(context.Background(), 0x01, mustKeyFunc(t, testSecret))
		if !IsCooldown(err) {
			t.Fatalf("NRC 0x%02X: expected cooldown, got %v", nrc, err)
		}
		if c.Cooldown(0x01) <= 0 {
			t.Errorf("NRC 0x%02X: cooldown not armed", nrc)
		}
	}

	c, ecu, _ := newSecurityClient(t, fastOptions())
	ecu.seedNRC = 0x37
	if _, err := c.SecurityAccess(context.Background(), 0x01, mustKeyFunc(t, testSecret)); !IsCooldown(err) {
		t.Fatalf("0x37 on request seed: got %v", err)
	}
}

func TestStartSession_ClearsSecurity(t *testing.T) {
	c, _, _ := newSecurityClient(t, fastOptions())
	ctx := context.Background()
	if err := c.StartSession(ctx, ExtendedSession); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SecurityAccess(ctx, 0x01, mustKeyFunc(t, testSecret)); err != nil {
		t.Fatal(err)
	}
	if err := c.StartSession(ctx, ProgrammingSession); err != nil {
		t.Fatal(err)
	}
	s := c.Session()
	if s.Type != ProgrammingSession || s.SecurityLevel != 0 {
		t.Errorf("session after change: %v", s)
	}
}

func TestStartSession_NegativeLeavesState(t *testing.T) {
	link := newScriptedLink(func(req []byte) [][]byte { return [][]byte{{0x7F, 0x10, 0x22}} })
	c := newTestClient(t, link, fastOptions())
	before := c.Session()
	if err := c.StartSession(context.Background(), ProgrammingSession); !IsNRC(err, NRCConditionsNotCorrect) {
		t.Fatalf("got %v", err)
	}
	if after := c.Session(); after.Type != before.Type || after.SecurityLevel != before.SecurityLevel {
		t.Errorf("state changed: %v -> %v", before, after)
	}
}
