package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartbox/internal/action"
)

func echo(ctx context.Context, req *action.Request) action.Outcome {
	return action.Ok(map[string]interface{}{"action": req.Action.String(), "payload": req.Payload})
}

func newTestBridge(t *testing.T, opts []Option, ds ...action.Descriptor) *Bridge {
	t.Helper()
	reg := action.NewRegistry()
	require.NoError(t, reg.RegisterAll(ds...))
	reg.Seal()
	return New(reg, zap.NewNop(), opts...)
}

func TestHandle_UnknownAction(t *testing.T) {
	b := newTestBridge(t, nil, action.Descriptor{Name: "ping", Handler: echo})

	r := b.Handle(context.Background(), Envelope{Type: "totallyUnknownAction"})
	assert.Equal(t, action.StatusRejected, r.Status)
	assert.Equal(t, action.ReasonUnknownAction, r.Reason)
	assert.Equal(t, "totallyunknownaction", r.Action)

	// the bridge keeps working
	r = b.Handle(context.Background(), Envelope{Type: "ping"})
	assert.True(t, r.IsOK())
}

func TestHandle_InvalidAction(t *testing.T) {
	b := newTestBridge(t, nil, action.Descriptor{Name: "ping", Handler: echo})
	r := b.Handle(context.Background(), Envelope{Type: " -_ "})
	assert.Equal(t, action.StatusRejected, r.Status)
	assert.Equal(t, action.ReasonInvalidAction, r.Reason)
}

func TestHandle_NameVariants(t *testing.T) {
	var calls atomic.Int32
	b := newTestBridge(t, nil, action.Descriptor{
		Name: "openSettings",
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			calls.Add(1)
			return action.Ok(nil)
		},
	})

	for _, v := range []string{"openSettings", "open-settings", "OPEN_SETTINGS", "opensettings", "Open Settings"} {
		r := b.Handle(context.Background(), Envelope{Type: v})
		assert.True(t, r.IsOK(), v)
		assert.Equal(t, "opensettings", r.Action)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestHandle_ReplyCarriesID(t *testing.T) {
	b := newTestBridge(t, nil, action.Descriptor{Name: "ping", Handler: echo})

	r := b.Handle(context.Background(), Envelope{ID: "42", Type: "ping"})
	assert.Equal(t, "42", r.ID)
	assert.Equal(t, "outcome", r.Type)

	r = b.Handle(context.Background(), Envelope{Type: "ping"})
	assert.Len(t, r.ID, 26, "generated ulid")
}

func TestHandle_Confirmation(t *testing.T) {
	var calls atomic.Int32
	b := newTestBridge(t, nil, action.Descriptor{
		Name:                 "resetSettings",
		RequiresConfirmation: true,
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			calls.Add(1)
			return action.Ok(nil)
		},
	})

	r := b.Handle(context.Background(), Envelope{Type: "reset-settings"})
	assert.Equal(t, action.StatusNeedsConfirmation, r.Status)
	assert.Zero(t, calls.Load(), "handler must not run without confirmation")

	r = b.Handle(context.Background(), Envelope{Type: "reset-settings", Confirmed: true})
	assert.True(t, r.IsOK())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandle_CollectFullForm(t *testing.T) {
	b := newTestBridge(t, nil, action.Descriptor{
		Name:       "saveSettings",
		FormData:   action.CollectFullForm,
		FormFields: []string{"pacs-host", "pacs-port", "pacs-enabled"},
		Handler:    echo,
	})

	r := b.Handle(context.Background(), Envelope{Type: "saveSettings", Data: map[string]interface{}{"pacs-port": "104"}})
	assert.Equal(t, action.ReasonIncompleteForm, r.Reason)
	assert.Contains(t, r.Message, "pacs-enabled, pacs-host")

	r = b.Handle(context.Background(), Envelope{Type: "saveSettings"})
	assert.Equal(t, action.ReasonIncompleteForm, r.Reason)

	r = b.Handle(context.Background(), Envelope{Type: "saveSettings", Data: map[string]interface{}{
		"pacs-port": "104", "pacs-host": "h", "pacs-enabled": nil, "extra": "ignored",
	}})
	assert.True(t, r.IsOK())
}

func TestHandle_GivenPayloadPassesThrough(t *testing.T) {
	b := newTestBridge(t, nil, action.Descriptor{Name: "capturePhoto", FormData: action.UseGivenPayload, Handler: echo})
	data := map[string]interface{}{"deviceId": "mock", "quality": 80.0}
	r := b.Handle(context.Background(), Envelope{Type: "capturePhoto", Data: data})
	require.True(t, r.IsOK())
	assert.Equal(t, data, r.Result["payload"])
}

type rejectAll struct{}

func (rejectAll) Validate(context.Context, map[string]interface{}, map[string]interface{}) error {
	return errors.New("deviceId is required")
}

func TestHandle_PayloadSchema(t *testing.T) {
	b := newTestBridge(t, []Option{WithPayloadValidator(rejectAll{})}, action.Descriptor{
		Name:          "capturePhoto",
		FormData:      action.UseGivenPayload,
		PayloadSchema: map[string]interface{}{"type": "object"},
		Handler:       echo,
	}, action.Descriptor{Name: "ping", Handler: echo})

	r := b.Handle(context.Background(), Envelope{Type: "capturePhoto"})
	assert.Equal(t, action.ReasonInvalidPayload, r.Reason)

	// descriptors without a schema are not validated
	assert.True(t, b.Handle(context.Background(), Envelope{Type: "ping"}).IsOK())
}

func TestHandle_PanicBecomesInternalError(t *testing.T) {
	b := newTestBridge(t, nil,
		action.Descriptor{Name: "boom", Handler: func(context.Context, *action.Request) action.Outcome {
			panic("nil map write")
		}},
		action.Descriptor{Name: "asyncBoom", Async: true, Handler: func(context.Context, *action.Request) action.Outcome {
			var m map[string]int
			m["x"] = 1
			return action.Ok(nil)
		}},
		action.Descriptor{Name: "empty", Handler: func(context.Context, *action.Request) action.Outcome {
			return action.Outcome{}
		}},
	)

	for _, name := range []string{"boom", "asyncBoom", "empty"} {
		r := b.Handle(context.Background(), Envelope{Type: name})
		assert.Equal(t, action.StatusFailed, r.Status, name)
		assert.Equal(t, action.ReasonInternal, r.Reason, name)
		assert.NotContains(t, r.Message, "goroutine", "no stack trace reaches the UI")
	}
}

func TestHandle_AsyncTimeout(t *testing.T) {
	released := make(chan struct{})
	b := newTestBridge(t, nil, action.Descriptor{
		Name:    "testPacsConnection",
		Async:   true,
		Timeout: 50 * time.Millisecond,
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			defer close(released)
			<-ctx.Done()
			return action.Ok(nil)
		},
	})

	start := time.Now()
	r := b.Handle(context.Background(), Envelope{Type: "testPacsConnection"})
	assert.Equal(t, action.StatusFailed, r.Status)
	assert.Equal(t, action.ReasonTimeout, r.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context was not cancelled on timeout")
	}
}

func TestDispatch_ExactlyOneReply(t *testing.T) {
	b := newTestBridge(t, nil,
		action.Descriptor{Name: "ping", Handler: echo},
		action.Descriptor{Name: "probe", Async: true, Timeout: 20 * time.Millisecond,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				time.Sleep(100 * time.Millisecond)
				return action.Ok(nil)
			}},
	)

	for _, name := range []string{"ping", "probe", "unknown"} {
		var n atomic.Int32
		b.Dispatch(context.Background(), Envelope{Type: name}, func(Reply) { n.Add(1) })
		b.Wait()
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), n.Load(), name)
	}
}

func TestDispatch_AsyncLimit(t *testing.T) {
	var running, peak atomic.Int32
	b := newTestBridge(t, []Option{WithAsyncLimit(2)}, action.Descriptor{
		Name:    "probe",
		Async:   true,
		Timeout: time.Second,
		Handler: func(ctx context.Context, req *action.Request) action.Outcome {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return action.Ok(nil)
		},
	})

	replies := make(chan Reply, 6)
	for i := 0; i < 6; i++ {
		b.Dispatch(context.Background(), Envelope{Type: "probe"}, func(r Reply) { replies <- r })
	}
	b.Wait()
	close(replies)
	for r := range replies {
		assert.True(t, r.IsOK())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestServe_SlowProbeDoesNotDelayOthers(t *testing.T) {
	b := newTestBridge(t, nil,
		action.Descriptor{Name: "ping", Handler: echo},
		action.Descriptor{
			Name:    "testPacsConnection",
			Async:   true,
			Timeout: 10 * time.Second,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				select {
				case <-time.After(5 * time.Second):
					return action.Ok(nil)
				case <-ctx.Done():
					return action.Failed(action.ReasonUnavailable, "cancelled")
				}
			},
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []byte, 10)
	replies := make(chan Reply, 10)
	served := make(chan error, 1)
	go func() { served <- b.Serve(ctx, in, func(r Reply) { replies <- r }) }()

	start := time.Now()
	in <- []byte(`{"id":"slow","type":"test-pacs-connection"}`)
	for i := 0; i < 9; i++ {
		in <- []byte(fmt.Sprintf(`{"id":"%d","type":"ping"}`, i))
	}

	for i := 0; i < 9; i++ {
		select {
		case r := <-replies:
			assert.NotEqual(t, "slow", r.ID)
			assert.True(t, r.IsOK())
		case <-time.After(time.Second):
			t.Fatalf("reply %d stalled behind the slow probe", i)
		}
	}
	assert.Less(t, time.Since(start), time.Second)

	cancel()
	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	r := <-replies
	assert.Equal(t, "slow", r.ID)
	assert.Equal(t, action.StatusFailed, r.Status)
}

func TestServe_SurvivesBadMessages(t *testing.T) {
	b := newTestBridge(t, nil,
		action.Descriptor{Name: "ping", Handler: echo},
		action.Descriptor{Name: "boom", Handler: func(context.Context, *action.Request) action.Outcome { panic("x") }},
	)

	in := make(chan []byte, 5)
	in <- []byte(`not json`)
	in <- []byte(`{"type":"boom"}`)
	in <- []byte(`{"type":"nope"}`)
	in <- []byte(`{"type":"ping","data":{"nested":{"a":1}}}`)
	in <- []byte(`{"type":"ping"}`)
	close(in)

	var got []Reply
	err := b.Serve(context.Background(), in, func(r Reply) { got = append(got, r) })
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, action.ReasonInvalidEnvelope, got[0].Reason)
	assert.Equal(t, action.ReasonInternal, got[1].Reason)
	assert.Equal(t, action.ReasonUnknownAction, got[2].Reason)
	assert.Equal(t, action.ReasonInvalidEnvelope, got[3].Reason)
	assert.True(t, got[4].IsOK())
}

func TestDecode(t *testing.T) {
	env, err := Decode(context.Background(), []byte(`{"id":"a","type":"saveSettings","data":{"p":1,"b":true,"s":"x","n":null},"confirmed":true}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", env.ID)
	assert.True(t, env.Confirmed)
	assert.Equal(t, 1.0, env.Data["p"])

	for _, raw := range []string{``, `{}`, `{"type":""}`, `{"type":1}`, `{"type":"x","data":[1]}`, `{"type":"x","data":{"a":[1]}}`} {
		_, err := Decode(context.Background(), []byte(raw), nil)
		assert.ErrorIs(t, err, ErrInvalidEnvelope, raw)
	}
}

type failingValidator struct{}

func (failingValidator) ValidateEnvelope(context.Context, []byte) error { return errors.New("schema") }

func TestDecode_Validator(t *testing.T) {
	_, err := Decode(context.Background(), []byte(`{"type":"ping"}`), failingValidator{})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}
