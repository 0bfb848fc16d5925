package zwave

import (
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-drivers/internal/comm/commtest"
	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// fakeController answers the serial API on a commtest.Port.
type fakeController struct {
	mu       sync.Mutex
	port     *commtest.Port
	version  string
	txStatus byte
	reject   bool
	nakNext  int
	silent   bool
	sent     []sentData

	// reply returns the command bytes the node answers a SendData with.
	reply func(node byte, cmd []byte) [][]byte
}

type sentData struct {
	Node byte
	Cmd  []byte
}

func newFakeController() *fakeController {
	fc := &fakeController{port: commtest.NewPort(), version: "Z-Wave 6.07"}
	fc.port.SetResponder(fc.respond)
	return fc
}

func (fc *fakeController) respond(written []byte) []byte {
	if len(written) < 2 || written[0] != SOF {
		return nil
	}
	f, err := DecodeFrame(written[1:])
	if err != nil {
		return []byte{NAK}
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.nakNext > 0 {
		fc.nakNext--
		return []byte{NAK}
	}
	if fc.silent {
		return nil
	}

	out := []byte{ACK}
	switch f.Func {
	case FuncGetVersion:
		payload := append([]byte(fc.version), 0x00, 0x01)
		out = append(out, encode(Frame{Type: TypeResponse, Func: FuncGetVersion, Payload: payload})...)
	case FuncSendData:
		p := f.Payload
		node, n := p[0], int(p[1])
		cmd := append([]byte(nil), p[2:2+n]...)
		id := p[3+n]
		fc.sent = append(fc.sent, sentData{Node: node, Cmd: cmd})
		if fc.reject {
			return append(out, encode(Frame{Type: TypeResponse, Func: FuncSendData, Payload: []byte{0}})...)
		}
		out = append(out, encode(Frame{Type: TypeResponse, Func: FuncSendData, Payload: []byte{1}})...)
		out = append(out, encode(Frame{Type: TypeRequest, Func: FuncSendData, Payload: []byte{id, fc.txStatus}})...)
		if fc.reply != nil {
			for _, r := range fc.reply(node, cmd) {
				out = append(out, report(node, r)...)
			}
		}
	}
	return out
}

// inject queues an unsolicited report from node.
func (fc *fakeController) inject(node byte, cmd ...byte) {
	fc.port.Feed(report(node, cmd)...)
}

func (fc *fakeController) sentData() []sentData {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]sentData(nil), fc.sent...)
}

func encode(f Frame) []byte {
	b, err := f.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

func report(node byte, cmd []byte) []byte {
	payload := append([]byte{0x00, node, byte(len(cmd))}, cmd...)
	return encode(Frame{Type: TypeRequest, Func: FuncApplicationCommandHandler, Payload: payload})
}

// recorder collects emitted triggers.
type recorder struct {
	mu     sync.Mutex
	events []trigger.Event
}

func (r *recorder) Emit(ev trigger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []trigger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trigger.Event(nil), r.events...)
}

func newTestHost(t *testing.T) (*driver.Host, *recorder) {
	t.Helper()
	rec := &recorder{}
	return &driver.Host{
		Moniker:  "zw1",
		Fields:   field.NewRegistry(),
		Triggers: rec,
		Logger:   nopLogger{},
	}, rec
}

func mustLookup(t *testing.T, reg *field.Registry, name string) field.ID {
	t.Helper()
	id, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("field %q not registered", name)
	}
	return id
}

func readBool(t *testing.T, reg *field.Registry, id field.ID) bool {
	t.Helper()
	v, err := reg.Read(id)
	if err != nil {
		t.Fatalf("Read(%s) error = %v", id, err)
	}
	return v.AsBool()
}

func readCard(t *testing.T, reg *field.Registry, id field.ID) uint32 {
	t.Helper()
	v, err := reg.Read(id)
	if err != nil {
		t.Fatalf("Read(%s) error = %v", id, err)
	}
	return v.AsCard()
}
