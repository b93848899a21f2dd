package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	goGate "github.com/MrEthical07/goGate"
)

// Op names an injectable backend operation.
type Op string

const (
	OpGetUser        Op = "get_user"
	OpSignIn         Op = "sign_in"
	OpSignUp         Op = "sign_up"
	OpSignOut        Op = "sign_out"
	OpPasswordReset  Op = "password_reset"
	OpAssuranceLevel Op = "assurance_level"
	OpListFactors    Op = "list_factors"
	OpEnroll         Op = "enroll"
	OpUnenroll       Op = "unenroll"
	OpChallenge      Op = "challenge"
	OpVerify         Op = "verify"
	OpEvents         Op = "events"
)

// ErrAborted is a ready-made abort-class failure.
var ErrAborted = goGate.NewProviderError(goGate.KindAborted, errors.New("signal is aborted without reason"))

type faultTable struct {
	mu     sync.Mutex
	errs   map[Op][]error
	delays map[Op][]time.Duration
	calls  map[Op]int
}

func (t *faultTable) init() {
	t.errs = make(map[Op][]error)
	t.delays = make(map[Op][]time.Duration)
	t.calls = make(map[Op]int)
}

// before counts the call, applies a queued delay and returns a queued error.
func (t *faultTable) before(ctx context.Context, op Op) error {
	t.mu.Lock()
	t.calls[op]++
	var delay time.Duration
	if q := t.delays[op]; len(q) > 0 {
		delay, t.delays[op] = q[0], q[1:]
	}
	var err error
	if q := t.errs[op]; len(q) > 0 {
		err, t.errs[op] = q[0], q[1:]
	}
	t.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// FailNext queues errs to be returned by the next calls to op, one each.
func (p *Provider) FailNext(op Op, errs ...error) {
	p.faults.mu.Lock()
	defer p.faults.mu.Unlock()
	p.faults.errs[op] = append(p.faults.errs[op], errs...)
}

// DelayNext queues delays applied to the next calls to op, one each.
func (p *Provider) DelayNext(op Op, delays ...time.Duration) {
	p.faults.mu.Lock()
	defer p.faults.mu.Unlock()
	p.faults.delays[op] = append(p.faults.delays[op], delays...)
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op Op) int {
	p.faults.mu.Lock()
	defer p.faults.mu.Unlock()
	return p.faults.calls[op]
}
