package minerva

import "github.com/dep2p/minerva/wire"

const (
	// ProtocolHandshake 每次查询前交换的协议标识
	ProtocolHandshake = wire.Handshake
	// ProtocolSuffix 查询行的域后缀
	ProtocolSuffix = wire.Suffix
	// DefaultListenPort 默认的覆盖网络端口
	DefaultListenPort = 4568
)
