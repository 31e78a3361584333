package handlers

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/quicflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
)

type ping struct {
	Seq int `json:"seq"`
}

type pong struct {
	Seq int `json:"seq"`
}

func testResources(t *testing.T) Resources {
	t.Helper()
	c, err := codecpkg.Get(codecpkg.NameJSON)
	if err != nil {
		t.Fatal(err)
	}
	return Resources{
		Logger: loggingpkg.NewSlogServiceLogger(slog.Default()),
		Codec:  c,
	}
}

func inboundMessage(t *testing.T, payload any, md metadatapkg.Metadata) *message.Message {
	t.Helper()
	data, err := codecpkg.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	msg := message.NewMessage("test-id", data)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}

func TestTypedDecodesAndReplies(t *testing.T) {
	factory := Typed(func(ctx context.Context, msg MessageContext[*ping]) ([]MessageOutput, error) {
		if msg.Payload.Seq != 7 {
			t.Fatalf("payload seq = %d", msg.Payload.Seq)
		}
		return []MessageOutput{{
			Type:    "pong",
			Message: &pong{Seq: msg.Payload.Seq + 1},
		}}, nil
	})

	fn, err := factory(testResources(t))
	if err != nil {
		t.Fatal(err)
	}

	out, err := fn(inboundMessage(t, &ping{Seq: 7}, metadatapkg.Metadata{
		metadatapkg.KeyCorrelationID: "corr-1",
		metadatapkg.KeyConnID:        "conn-1",
		metadatapkg.KeyMessageType:   "ping",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}

	md := metadatapkg.FromWatermill(out[0].Metadata)
	if md.Get(metadatapkg.KeyMessageType) != "pong" {
		t.Fatalf("output type = %q", md.Get(metadatapkg.KeyMessageType))
	}
	if md.Get(metadatapkg.KeyCorrelationID) != "corr-1" {
		t.Fatalf("correlation id not inherited: %v", md)
	}
	if md.Get(metadatapkg.KeyConnID) != "conn-1" {
		t.Fatalf("connection routing not inherited: %v", md)
	}

	var reply pong
	if err := codecpkg.Unmarshal(out[0].Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Seq != 8 {
		t.Fatalf("reply seq = %d", reply.Seq)
	}
}

func TestTypedHonorsPerMessageCodec(t *testing.T) {
	factory := Typed(func(ctx context.Context, msg MessageContext[*ping]) ([]MessageOutput, error) {
		return []MessageOutput{{Type: "pong", Message: &pong{Seq: msg.Payload.Seq}}}, nil
	})

	fn, err := factory(testResources(t))
	if err != nil {
		t.Fatal(err)
	}

	// Payload arrives CBOR encoded even though the session default is JSON.
	cborCodec, err := codecpkg.Get(codecpkg.NameCBOR)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := cborCodec.Marshal(&ping{Seq: 3})
	if err != nil {
		t.Fatal(err)
	}
	msg := message.NewMessage("id", payload)
	msg.Metadata = metadatapkg.ToWatermill(metadatapkg.Metadata{
		metadatapkg.KeyCodec: codecpkg.NameCBOR,
	})

	out, err := fn(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}

	// Replies use the session default codec and say so in metadata.
	if got := out[0].Metadata.Get(metadatapkg.KeyCodec); got != codecpkg.NameJSON {
		t.Fatalf("reply codec = %q", got)
	}
	var reply pong
	if err := codecpkg.Unmarshal(out[0].Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Seq != 3 {
		t.Fatalf("reply seq = %d", reply.Seq)
	}
}

func TestTypedOutputMetadataOverrides(t *testing.T) {
	factory := Typed(func(ctx context.Context, msg MessageContext[*ping]) ([]MessageOutput, error) {
		return []MessageOutput{{
			Type:     "pong",
			Message:  &pong{},
			Metadata: msg.CloneMetadata().With(metadatapkg.KeyConnID, "other-conn"),
		}}, nil
	})

	fn, err := factory(testResources(t))
	if err != nil {
		t.Fatal(err)
	}

	out, err := fn(inboundMessage(t, &ping{}, metadatapkg.Metadata{metadatapkg.KeyConnID: "conn-1"}))
	if err != nil {
		t.Fatal(err)
	}
	if got := out[0].Metadata.Get(metadatapkg.KeyConnID); got != "other-conn" {
		t.Fatalf("expected output metadata to win, got %q", got)
	}
}

func TestTypedRequiresPointerPrototype(t *testing.T) {
	factory := Typed(func(ctx context.Context, msg MessageContext[ping]) ([]MessageOutput, error) {
		return nil, nil
	})
	if _, err := factory(testResources(t)); !errors.Is(err, errspkg.ErrPointerNeeded) {
		t.Fatalf("expected ErrPointerNeeded, got %v", err)
	}
}

func TestTypedRequiresHandler(t *testing.T) {
	factory := Typed[*ping](nil)
	if _, err := factory(testResources(t)); !errors.Is(err, errspkg.ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
}

func TestTypedRejectsUntypedOutput(t *testing.T) {
	factory := Typed(func(ctx context.Context, msg MessageContext[*ping]) ([]MessageOutput, error) {
		return []MessageOutput{{Message: &pong{}}}, nil
	})
	fn, err := factory(testResources(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn(inboundMessage(t, &ping{}, nil)); err == nil {
		t.Fatalf("expected error for output without type")
	}
}

func TestTypedHandlerErrorPropagates(t *testing.T) {
	boom := errors.New("handler exploded")
	factory := Typed(func(ctx context.Context, msg MessageContext[*ping]) ([]MessageOutput, error) {
		return nil, boom
	})
	fn, err := factory(testResources(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn(inboundMessage(t, &ping{}, nil)); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestRawFactory(t *testing.T) {
	called := false
	factory := Raw(func(msg *message.Message) ([]*message.Message, error) {
		called = true
		return nil, nil
	})
	fn, err := factory(Resources{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fn(message.NewMessage("id", nil)); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatalf("raw handler not invoked")
	}
}

func TestRawRequiresHandler(t *testing.T) {
	if _, err := Raw(nil)(Resources{}); !errors.Is(err, errspkg.ErrHandlerRequired) {
		t.Fatalf("expected ErrHandlerRequired, got %v", err)
	}
}
