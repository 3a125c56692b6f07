package proxy

import "sync"

// relayChunkSize is the most a tunnel moves in a single read.
const relayChunkSize = 65535

// relayBuffers holds *[]byte so Put does not allocate.
var relayBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, relayChunkSize)
		return &b
	},
}

func getRelayBuffer() *[]byte {
	return relayBuffers.Get().(*[]byte)
}

func putRelayBuffer(b *[]byte) {
	relayBuffers.Put(b)
}
