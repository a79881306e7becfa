package serializer

import (
	"testing"

	"github.com/aspendb/aspen/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	return map[string]common.Message{
		"Empty": {
			MsgType: common.MsgTSuccess,
		},
		"GetRequest": {
			MsgType:    common.MsgTObjGet,
			Collection: "users",
			Key:        []byte(`"u001"`),
		},
		"SmallRecord": {
			MsgType:    common.MsgTObjUpsert,
			Collection: "users",
			Value:      []byte("small encoded record"),
		},
		"LargeRecord": {
			MsgType:    common.MsgTObjUpsert,
			Collection: "users",
			Value:      make([]byte, 1024), // 1KB of data
		},
		"VeryLargeRecord": {
			MsgType:    common.MsgTObjUpsert,
			Collection: "users",
			Value:      make([]byte, 1024*16), // 16KB of data
		},
		"CompleteMessage": {
			MsgType:    common.MsgTObjChanges,
			Collection: "users",
			Key:        []byte(`"u001"`),
			Since:      10000,
			Value:      []byte("test-value-data"),
			Ok:         true,
			Err:        "This is a test error message",
			Meta:       []byte("test-meta-data-for-benchmarking"),
		},
		"ErrorMessage": {
			MsgType: common.MsgTError,
			Err:     "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize measures serialization speed per format and message shape
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkMessages()

	for serName, factory := range testSerializers {
		ser := factory()
		for msgName, msg := range messages {
			b.Run(serName+"/"+msgName, func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := ser.Serialize(msg); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize measures deserialization speed per format and message shape
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkMessages()

	for serName, factory := range testSerializers {
		ser := factory()
		for msgName, msg := range messages {
			data, err := ser.Serialize(msg)
			if err != nil {
				b.Fatal(err)
			}
			b.Run(serName+"/"+msgName, func(b *testing.B) {
				b.ReportAllocs()
				var out common.Message
				for i := 0; i < b.N; i++ {
					if err := ser.Deserialize(data, &out); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
