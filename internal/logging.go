package internal

import (
	"encoding/hex"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// CanonicalHash 将内容哈希转换为规范的二进制键
// 40位十六进制(BitTorrent v1)与64位十六进制(v2)的信息哈希被包装为 multihash,
// 这样大小写不同的同一哈希得到相同的键。其它形式按原样保留
// 参数:
//   - h: string 内容哈希
//
// 返回值:
//   - []byte 规范键
func CanonicalHash(h string) []byte {
	h = strings.TrimSpace(h)
	var code uint64
	switch len(h) {
	case 40:
		code = multihash.SHA1
	case 64:
		code = multihash.SHA2_256
	default:
		return []byte(h)
	}
	digest, err := hex.DecodeString(h)
	if err != nil {
		return []byte(h)
	}
	mh, err := multihash.Encode(digest, code)
	if err != nil {
		return []byte(h)
	}
	return mh
}

// multibaseB32Encode 使用Base32编码字节数组
// 参数:
//   - k: []byte 要编码的字节数组
//
// 返回值:
//   - string 编码后的字符串
func multibaseB32Encode(k []byte) string {
	res, err := multibase.Encode(multibase.Base32, k)
	if err != nil {
		// 不应该到达这里
		panic(err)
	}
	return res
}

// LoggableHash 可记录的内容哈希
type LoggableHash string

// String 实现Stringer接口。能识别为 multihash 的哈希以 base32 输出,其它原样输出
// 返回值:
//   - string 格式化后的哈希
func (lh LoggableHash) String() string {
	k := CanonicalHash(string(lh))
	if _, err := multihash.Cast(k); err == nil {
		return multibaseB32Encode(k)
	}
	return string(lh)
}
