package chainutil

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// BridgeTxHash derives the unique identifier for a cross-domain transfer
// from its immutable fields. The layout is fixed: 20-byte sender, 20-byte
// recipient, 32-byte big-endian amount, then 8-byte big-endian destDomain,
// unix timestamp, and nonce. Any replica hashing the same request produces
// the same identifier.
func BridgeTxHash(sender, recipient string, amount *big.Int, destDomain uint64, ts time.Time, nonce uint64) string {
	buf := make([]byte, 0, 20+20+32+8*3)
	buf = append(buf, common.HexToAddress(sender).Bytes()...)
	buf = append(buf, common.HexToAddress(recipient).Bytes()...)

	var amt [32]byte
	amount.FillBytes(amt[:])
	buf = append(buf, amt[:]...)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], destDomain)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], uint64(ts.Unix()))
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], nonce)
	buf = append(buf, u64[:]...)

	return hexutil.Encode(ethcrypto.Keccak256(buf))
}
