package serializer

import (
	"reflect"
	"testing"

	"github.com/aspendb/aspen/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Insert request
		{
			MsgType:    common.MsgTObjInsert,
			Collection: "users",
			Value:      []byte("encoded-record"),
		},

		// Get response
		{
			MsgType: common.MsgTObjGet,
			Value:   []byte("encoded-record"),
			Ok:      true,
		},

		// Changes request
		{
			MsgType:    common.MsgTObjChanges,
			Collection: "users",
			Since:      42,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},

		// Message with all fields filled
		{
			MsgType:    common.MsgTObjDelete,
			Collection: "users",
			Key:        []byte(`"u001"`),
			Since:      17,
			Value:      []byte("payload"),
			Ok:         true,
			Err:        "",
			Meta:       []byte("test-meta-data"),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTCustom; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinaryRejectsTruncated tests that the binary serializer rejects cut-off data
func TestBinaryRejectsTruncated(t *testing.T) {
	serializer := NewBinarySerializer()

	msg := common.Message{
		MsgType:    common.MsgTObjUpsert,
		Collection: "users",
		Value:      []byte("encoded-record"),
	}

	data, err := serializer.Serialize(msg)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	// Header alone announces fields the data no longer carries
	var result common.Message
	if err := serializer.Deserialize(data[:2], &result); err == nil {
		t.Error("expected error for truncated message")
	}

	// One byte is not even a header
	if err := serializer.Deserialize(data[:1], &result); err == nil {
		t.Error("expected error for missing flags byte")
	}

	// Cut inside the length-prefixed collection field
	if err := serializer.Deserialize(data[:4], &result); err == nil {
		t.Error("expected error for cut length prefix")
	}
}
