package docdb

import "sync"

// keyBytesPool backs KeyBuilder scratch buffers; 32KB matches Bolt's
// own key size ceiling so a builder almost never has to reallocate.
var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 32768)
	},
}

// valueBytesPool holds 64KB scratch buffers for encoded rows. Insert
// and Update do not draw from it; they write Codec.Encode's result
// directly.
var valueBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 65536)
	},
}

func releaseKeyBytes(b []byte) {
	keyBytesPool.Put(b[:0])
}

func releaseValueBytes(b []byte) {
	valueBytesPool.Put(b[:0])
}
