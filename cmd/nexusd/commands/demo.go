package commands

import (
	"fmt"
	"time"

	"github.com/marmos91/nexus/pkg/registry"
	"github.com/marmos91/nexus/pkg/rpcengine"
)

// incrementBytes returns a copy of b with every byte incremented by one
// (wrapping at 256), the "echo + 1" transform used by the nested-RPC demo
// (spec.md §8 scenario 3).
func incrementBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = v + 1
	}
	return out
}

// echoHandler returns req unchanged (spec.md §8 scenario 1).
func echoHandler(req []byte) ([]byte, error) {
	out := make([]byte, len(req))
	copy(out, req)
	return out, nil
}

// noOpHandler simulates a slow Background job that does not touch the
// event loop (spec.md §8 scenario 6).
func noOpHandler(req []byte) ([]byte, error) {
	time.Sleep(5 * time.Millisecond)
	return req, nil
}

const nestedRPCTimeout = 5 * time.Second

// backupEchoPlusOne is req_type=12: the backup side of the nested-RPC demo.
// It receives the primary's already-incremented payload and increments it
// again before replying.
func backupEchoPlusOne(req []byte) ([]byte, error) {
	return incrementBytes(req), nil
}

// nestedDemo wires req_type=11 on the primary instance: on receipt it
// increments the request once, forwards it to the backup instance as
// req_type=12, increments the backup's reply once more, and completes to
// the original client (spec.md §8 scenario 3: client sees original + 3).
type nestedDemo struct {
	backupClient *rpcengine.Instance
	backupSess   uint16
}

func (d *nestedDemo) forward(req []byte) ([]byte, error) {
	if d.backupClient == nil {
		return nil, fmt.Errorf("nested rpc: backup session not established yet")
	}

	type outcome struct {
		resp []byte
		err  error
	}
	done := make(chan outcome, 1)

	payload := incrementBytes(req)
	d.backupClient.Defer(func() {
		err := d.backupClient.EnqueueRequest(d.backupSess, 12, payload, func(resp []byte, _ any, err error) {
			done <- outcome{resp, err}
		}, nil)
		if err != nil {
			done <- outcome{nil, err}
		}
	})

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return incrementBytes(o.resp), nil
	case <-time.After(nestedRPCTimeout):
		return nil, fmt.Errorf("nested rpc: backup did not reply within %s", nestedRPCTimeout)
	}
}

// registerDemoHandlers installs the bundled demo handler set (SPEC_FULL.md
// §13): a small inline echo (req_type=1), a Background no-op
// (req_type=2), and the backup side of the nested-RPC pair
// (req_type=12), always available so any nexusd instance can serve as
// another's backup. When backup is non-nil, the primary side
// (req_type=11) is also registered, forwarding to it.
func registerDemoHandlers(n *rpcengine.Nexus, backup *nestedDemo) error {
	if err := n.RegisterHandler(1, registry.Inline, echoHandler); err != nil {
		return err
	}
	if err := n.RegisterHandler(2, registry.Background, noOpHandler); err != nil {
		return err
	}
	if err := n.RegisterHandler(12, registry.Inline, backupEchoPlusOne); err != nil {
		return err
	}
	if backup != nil {
		if err := n.RegisterHandler(11, registry.Background, backup.forward); err != nil {
			return err
		}
	}
	return nil
}
