package logpool

import "github.com/zeebo/blake3"

// checksumSize is the width of the BLAKE3 digest trailing every persisted
// record. Grounded on FocuswithJustin-JuniperBible's core/cas/blake3.go,
// which hashes a blob before trusting it back off disk; here the same
// discipline gives recovery (package recovery) a concrete corruption check
// for each ring slot instead of trusting the flags byte alone.
const checksumSize = 32

func checksum(body []byte) [32]byte {
	return blake3.Sum256(body)
}

func verifyChecksum(body, want []byte) bool {
	sum := checksum(body)
	if len(want) != len(sum) {
		return false
	}
	for i := range sum {
		if sum[i] != want[i] {
			return false
		}
	}
	return true
}
