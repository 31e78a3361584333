package handlers

import (
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	codecpkg "github.com/drblury/quicflow/internal/runtime/codec"
	errspkg "github.com/drblury/quicflow/internal/runtime/errors"
	idspkg "github.com/drblury/quicflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/quicflow/internal/runtime/metadata"
)

// Typed converts a typed message handler into a Factory. T must be a
// pointer to the bound message struct; each delivery decodes into a fresh
// instance.
func Typed[T any](handler MessageHandler[T]) Factory {
	return func(res Resources) (message.HandlerFunc, error) {
		if handler == nil {
			return nil, errspkg.ErrHandlerRequired
		}

		prototypeFactory, err := prototypeFactory[T]()
		if err != nil {
			return nil, err
		}

		return func(msg *message.Message) ([]*message.Message, error) {
			typed := prototypeFactory()

			dec, err := messageCodec(msg, res.Codec)
			if err != nil {
				return nil, err
			}
			// A payload that cannot decode will never decode; mark it
			// permanent so the retry middleware passes it through.
			if err := dec.Unmarshal(msg.Payload, typed); err != nil {
				typeName := msg.Metadata.Get(metadatapkg.KeyMessageType)
				return nil, NewUnprocessableMessageError(typeName,
					fmt.Errorf("failed to unmarshal %s payload: %w", dec.Name(), err))
			}

			inbound := metadatapkg.FromWatermill(msg.Metadata)
			outgoing, err := handler(msg.Context(), MessageContext[T]{
				MessageContextBase: MessageContextBase{
					Metadata: inbound,
					Logger:   res.Logger,
				},
				Payload: typed,
			})
			if err != nil {
				return nil, err
			}

			return convertOutputs(outgoing, inbound, res.Codec)
		}, nil
	}
}

// messageCodec picks the codec for one delivery: the codec named in the
// message's metadata when present, the session default otherwise.
func messageCodec(msg *message.Message, fallback codecpkg.Codec) (codecpkg.Codec, error) {
	name := msg.Metadata.Get(metadatapkg.KeyCodec)
	if name == "" || (fallback != nil && name == fallback.Name()) {
		if fallback == nil {
			return nil, fmt.Errorf("no codec available for message %s", msg.UUID)
		}
		return fallback, nil
	}
	return codecpkg.Get(name)
}

func prototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrTypeNameRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}

func convertOutputs(outputs []MessageOutput, inbound metadatapkg.Metadata, enc codecpkg.Codec) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, len(outputs))
	for i, out := range outputs {
		if out.Type == "" {
			return nil, fmt.Errorf("handler output %d has no message type", i)
		}
		if out.Message == nil {
			return nil, fmt.Errorf("handler output %d (%s) has no message", i, out.Type)
		}

		payload, err := enc.Marshal(out.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s output: %w", out.Type, err)
		}

		md := inbound.Clone().WithAll(out.Metadata)
		md[metadatapkg.KeyMessageType] = out.Type
		md[metadatapkg.KeyCodec] = enc.Name()

		msg := message.NewMessage(idspkg.CreateULID(), payload)
		msg.Metadata = metadatapkg.ToWatermill(md)
		result[i] = msg
	}

	return result, nil
}
